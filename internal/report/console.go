package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/engine"
	"firestige.xyz/strix/internal/topology"
	"firestige.xyz/strix/internal/traffic"
)

// ConsoleOptions configures the console sink.
type ConsoleOptions struct {
	// Sections trims the output to the named sections: summary, topics,
	// traffic, reliability, topology, diagnostics. Empty keeps them all.
	Sections []string `mapstructure:"sections"`
}

// ConsoleSink prints the result as indented text on stdout.
type ConsoleSink struct {
	out  io.Writer
	opts ConsoleOptions
}

// NewConsoleSink builds a console sink writing to stdout.
func NewConsoleSink(opts ConsoleOptions) *ConsoleSink {
	return &ConsoleSink{out: os.Stdout, opts: opts}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Close() error { return nil }

// Write prints the enabled sections in their fixed order.
func (s *ConsoleSink) Write(_ context.Context, res *engine.Result) error {
	w := &errWriter{w: s.out}
	if s.section("summary") {
		s.writeSummary(w, res)
	}
	if s.section("topics") {
		s.writeTopics(w, res)
	}
	if res.DiscoveryOnly() {
		w.printf("\nNo RTPS user frames with associated discovery data\n")
	}
	if s.section("traffic") && !res.Empty() && !res.DiscoveryOnly() {
		s.writeCounts(w, res)
		s.writeBytes(w, res)
	}
	if s.section("reliability") {
		s.writeReliability(w, res)
	}
	if s.section("topology") {
		s.writeTopology(w, res)
	}
	if s.section("diagnostics") {
		s.writeDiagnostics(w, res)
	}
	if res.Truncated {
		w.printf("\nAnalysis stopped early; totals cover the frames read before cancellation.\n")
	}
	return w.err
}

func (s *ConsoleSink) section(name string) bool {
	if len(s.opts.Sections) == 0 {
		return true
	}
	for _, enabled := range s.opts.Sections {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *ConsoleSink) writeSummary(w *errWriter, res *engine.Result) {
	if c := res.Capture; c != nil {
		w.printf("Capture: %s frames, %s bytes, %s\n",
			commas(c.Frames), commas(c.Bytes), c.Duration().Round(time.Millisecond))
	}
	w.printf("Total Frames: %d\n", res.Summary.Frames)
	w.printf("Total Participants: %d\n", res.Summary.Participants)
	w.printf("Total Writers: %d and Readers: %d\n", res.Summary.Writers, res.Summary.Readers)
	w.printf("Unique Topics: %d\n", res.Summary.Topics)
}

func (s *ConsoleSink) writeTopics(w *errWriter, res *engine.Result) {
	w.printf("Topics:\n")
	for _, topic := range res.Topics() {
		w.printf("  - %s\n", topic)
	}
}

func (s *ConsoleSink) writeCounts(w *errWriter, res *engine.Result) {
	var total uint64
	for _, row := range res.Traffic.Rows {
		total += row.Count
	}
	w.printf("\nTotal number of messages: %d\n", total)

	totals := append([]traffic.TopicTotal(nil), res.Traffic.Totals...)
	sort.SliceStable(totals, func(i, j int) bool { return totals[i].Count > totals[j].Count })
	w.printf("  Total messages by topic:\n")
	for _, t := range totals {
		w.printf("    %s: %d\n", t.Topic, t.Count)
	}

	w.printf("  Submessage counts:\n")
	forEachCombo(res.Traffic.Rows, func(row traffic.Bucket) uint64 { return row.Count },
		func(combo string, v uint64) {
			w.printf("    %s: %d\n", combo, v)
		})
}

func (s *ConsoleSink) writeBytes(w *errWriter, res *engine.Result) {
	w.printf("\nTotal message length: %s bytes\n", commas(res.Traffic.TotalBytes))

	w.printf("  Total message length by topic:\n")
	for _, t := range res.Traffic.Totals {
		w.printf("    %s: %s bytes\n", t.Topic, commas(t.Bytes))
	}

	w.printf("  Submessage lengths:\n")
	forEachCombo(res.Traffic.Rows, func(row traffic.Bucket) uint64 { return row.Bytes },
		func(combo string, v uint64) {
			w.printf("    %s: %s bytes\n", combo, commas(v))
		})
}

// forEachCombo sums the metric per submessage combination across topics
// and emits the declared combinations first, stragglers after, matching
// the stats ordering of the capture plots.
func forEachCombo(rows []traffic.Bucket, metric func(traffic.Bucket) uint64, emit func(string, uint64)) {
	byKind := make(map[core.Kind]uint64)
	for _, row := range rows {
		byKind[row.Kind] += metric(row)
	}
	for _, combo := range core.Combinations {
		if v, ok := byKind[combo]; ok {
			emit(combo.String(), v)
			delete(byKind, combo)
		}
	}
	stragglers := make([]core.Kind, 0, len(byKind))
	for k := range byKind {
		stragglers = append(stragglers, k)
	}
	sort.Slice(stragglers, func(i, j int) bool { return stragglers[i].String() < stragglers[j].String() })
	for _, k := range stragglers {
		emit(k.String(), byKind[k])
	}
}

func (s *ConsoleSink) writeReliability(w *errWriter, res *engine.Result) {
	rel := res.Reliability
	if len(rel.Sessions) == 0 && rel.Repairs == 0 && rel.AckNacksWithoutHeartbeat == 0 {
		return
	}
	caughtUp := 0
	var gaps uint64
	for _, sess := range rel.Sessions {
		if sess.CaughtUp {
			caughtUp++
		}
		gaps += sess.Gaps
	}
	w.printf("\nReliability:\n")
	w.printf("  Sessions: %d (caught up: %d)\n", len(rel.Sessions), caughtUp)
	w.printf("  Repairs: %d (durable: %d)\n", rel.Repairs, rel.DurableRepairs)
	if gaps > 0 {
		w.printf("  Gaps: %d\n", gaps)
	}
	if rel.AckNacksWithoutHeartbeat > 0 {
		w.printf("  AckNacks without heartbeat: %d\n", rel.AckNacksWithoutHeartbeat)
	}
	if rel.FragmentSubmessages > 0 {
		w.printf("  Fragment submessages: %d\n", rel.FragmentSubmessages)
	}
}

func (s *ConsoleSink) writeTopology(w *errWriter, res *engine.Result) {
	g := res.Graph
	if g == nil || (len(g.Edges) == 0 && len(g.Dropped) == 0) {
		return
	}
	w.printf("\nTopology:\n")
	labels := nodeLabels(g)
	lastTopic := ""
	for _, edge := range g.Edges {
		if edge.Topic != lastTopic {
			w.printf("  Topic: %s\n", edge.Topic)
			lastTopic = edge.Topic
		}
		detail := edge.ReliabilityStr
		if edge.Repairs > 0 {
			detail += fmt.Sprintf(", repairs: %d", edge.Repairs)
		}
		w.printf("    %s %s -> %s %s [%s]\n",
			labels[edge.Writer], edge.Writer, labels[edge.Reader], edge.Reader, detail)
	}
	if len(g.Dropped) > 0 {
		reasons := res.Diagnostics.DroppedPairs
		keys := make([]string, 0, len(reasons))
		for reason := range reasons {
			keys = append(keys, reason)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, reason := range keys {
			parts = append(parts, fmt.Sprintf("%s: %d", reason, reasons[reason]))
		}
		w.printf("  Dropped pairs: %d (%s)\n", len(g.Dropped), strings.Join(parts, ", "))
	}
}

// nodeLabels maps each graph node to the display label of the capture
// plots: DW for writers, DR for readers, RS when the endpoint belongs to
// a routing service participant.
func nodeLabels(g *topology.Graph) map[core.GUID]string {
	labels := make(map[core.GUID]string, len(g.Nodes))
	for _, node := range g.Nodes {
		switch {
		case node.RoutingService:
			labels[node.GUID] = "RS"
		case node.Role == core.RoleReader.String():
			labels[node.GUID] = "DR"
		default:
			labels[node.GUID] = "DW"
		}
	}
	return labels
}

func (s *ConsoleSink) writeDiagnostics(w *errWriter, res *engine.Result) {
	d := res.Diagnostics
	skipped := d.SkippedFrames.Total()
	if skipped == 0 && d.DiscoveryConflicts == 0 && d.FilteredRecords == 0 {
		return
	}
	w.printf("\nDiagnostics:\n")
	if skipped > 0 {
		var parts []string
		if d.SkippedFrames.Malformed > 0 {
			parts = append(parts, fmt.Sprintf("malformed: %d", d.SkippedFrames.Malformed))
		}
		if d.SkippedFrames.ServiceRequest > 0 {
			parts = append(parts, fmt.Sprintf("service request: %d", d.SkippedFrames.ServiceRequest))
		}
		if d.SkippedFrames.Routing > 0 {
			parts = append(parts, fmt.Sprintf("routing: %d", d.SkippedFrames.Routing))
		}
		if d.SkippedFrames.NoDiscovery > 0 {
			parts = append(parts, fmt.Sprintf("no discovery: %d", d.SkippedFrames.NoDiscovery))
		}
		w.printf("  Skipped frames: %d (%s)\n", skipped, strings.Join(parts, ", "))
	}
	if d.DiscoveryConflicts > 0 {
		w.printf("  Discovery conflicts: %d\n", d.DiscoveryConflicts)
	}
	if d.FilteredRecords > 0 {
		w.printf("  Records outside frame range: %d\n", d.FilteredRecords)
	}
}

// errWriter folds repeated Fprintf error checks into one sticky error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// commas renders n with thousands separators, 1234567 -> "1,234,567".
func commas(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
