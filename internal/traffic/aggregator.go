// Package traffic accumulates per-topic submessage counts and byte
// volumes from the record stream.
package traffic

import (
	"sort"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/metrics"
)

// Pseudo-topics for traffic that has no user topic by construction.
const (
	TopicDiscovery  = "DISCOVERY"
	TopicMetaData   = "META_DATA"
	TopicUnresolved = "(unresolved)"
)

// TopicResolver resolves a writer GUID to its discovered topic.
type TopicResolver interface {
	ResolveTopic(core.GUID) (string, bool)
}

// Bucket is one (topic, kind) accumulation row.
type Bucket struct {
	Topic string    `json:"topic" yaml:"topic"`
	Kind  core.Kind `json:"-" yaml:"-"`
	Combo string    `json:"kind" yaml:"kind"`
	Count uint64    `json:"count" yaml:"count"`
	Bytes uint64    `json:"bytes" yaml:"bytes"`
}

// TopicTotal sums a topic across all its kind combinations. The frame
// span covers the in-range records attributed to the topic; zero-filled
// topics that never saw a record have no span.
type TopicTotal struct {
	Topic      string `json:"topic" yaml:"topic"`
	Count      uint64 `json:"count" yaml:"count"`
	Bytes      uint64 `json:"bytes" yaml:"bytes"`
	FirstFrame uint64 `json:"firstFrame,omitempty" yaml:"firstFrame,omitempty"`
	LastFrame  uint64 `json:"lastFrame,omitempty" yaml:"lastFrame,omitempty"`
}

// UnresolvedEndpoint is traffic attributed to a writer GUID that never
// resolved to a topic. Attribution is final: a later binding starts
// filling the topic buckets but never moves these counts.
type UnresolvedEndpoint struct {
	Writer core.GUID `json:"writer" yaml:"writer"`
	Count  uint64    `json:"count" yaml:"count"`
	Bytes  uint64    `json:"bytes" yaml:"bytes"`
}

// Snapshot is the aggregated traffic view handed to reporting.
type Snapshot struct {
	Rows       []Bucket             `json:"rows" yaml:"rows"`
	Totals     []TopicTotal         `json:"totals" yaml:"totals"`
	Unresolved []UnresolvedEndpoint `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`

	Frames      uint64 `json:"frames" yaml:"frames"`
	TotalBytes  uint64 `json:"totalBytes" yaml:"totalBytes"`
	FirstFrame  uint64 `json:"firstFrame,omitempty" yaml:"firstFrame,omitempty"`
	LastFrame   uint64 `json:"lastFrame,omitempty" yaml:"lastFrame,omitempty"`
	UserRecords uint64 `json:"userRecords" yaml:"userRecords"`
	Filtered    uint64 `json:"filtered" yaml:"filtered"`
}

type key struct {
	topic string
	kind  core.Kind
}

type frameSpan struct {
	first uint64
	last  uint64
}

type unresolvedKey struct {
	writer core.GUID
	kind   core.Kind
}

// Aggregator buckets records by resolved topic and kind combination.
// The frame-range filter runs before any other consideration, so an
// out-of-range record touches nothing, the unresolved buckets included.
// Not safe for concurrent use.
type Aggregator struct {
	resolver TopicResolver
	rng      config.FrameRange

	buckets    map[key]*Bucket
	unresolved map[unresolvedKey]*Bucket
	spans      map[string]*frameSpan

	frames      uint64
	lastSeen    uint64
	firstFrame  uint64
	lastFrame   uint64
	totalBytes  uint64
	userRecords uint64
	filtered    uint64
}

func New(resolver TopicResolver, rng config.FrameRange) *Aggregator {
	return &Aggregator{
		resolver:   resolver,
		rng:        rng,
		buckets:    make(map[key]*Bucket),
		unresolved: make(map[unresolvedKey]*Bucket),
		spans:      make(map[string]*frameSpan),
	}
}

// Observe accounts one record. Attribution never fails and is never
// revisited; a writer that resolves to nothing lands in its own
// unresolved bucket under the writer GUID.
func (a *Aggregator) Observe(rec core.SubmessageRecord) {
	if !a.rng.Contains(rec.FrameNumber) {
		a.filtered++
		return
	}

	a.trackFrame(rec)
	metrics.RecordsTotal.WithLabelValues(rec.Class.String()).Inc()
	metrics.BytesTotal.WithLabelValues(rec.Class.String()).Add(float64(rec.Bytes))

	switch {
	case rec.Class.Is(core.FrameDiscovery):
		a.bump(TopicDiscovery, rec)
		return
	case rec.Class.Is(core.FrameMetaData):
		a.bump(TopicMetaData, rec)
		return
	}

	a.userRecords++
	if topic, ok := a.resolver.ResolveTopic(rec.Writer); ok {
		a.bump(topic, rec)
		return
	}
	if rec.Topic != "" {
		a.bump(rec.Topic, rec)
		return
	}

	uk := unresolvedKey{writer: rec.Writer, kind: rec.Kind}
	b := a.unresolved[uk]
	if b == nil {
		b = &Bucket{Topic: TopicUnresolved, Kind: rec.Kind}
		a.unresolved[uk] = b
	}
	b.Count++
	b.Bytes += rec.Bytes
	a.span(TopicUnresolved, rec.FrameNumber)
}

func (a *Aggregator) bump(topic string, rec core.SubmessageRecord) {
	k := key{topic: topic, kind: rec.Kind}
	b := a.buckets[k]
	if b == nil {
		b = &Bucket{Topic: topic, Kind: rec.Kind}
		a.buckets[k] = b
	}
	b.Count++
	b.Bytes += rec.Bytes
	a.span(topic, rec.FrameNumber)
}

func (a *Aggregator) span(topic string, frame uint64) {
	s := a.spans[topic]
	if s == nil {
		a.spans[topic] = &frameSpan{first: frame, last: frame}
		return
	}
	if frame < s.first {
		s.first = frame
	}
	if frame > s.last {
		s.last = frame
	}
}

func (a *Aggregator) trackFrame(rec core.SubmessageRecord) {
	if a.frames == 0 || rec.FrameNumber != a.lastSeen {
		a.frames++
		a.lastSeen = rec.FrameNumber
	}
	if a.firstFrame == 0 || rec.FrameNumber < a.firstFrame {
		a.firstFrame = rec.FrameNumber
	}
	if rec.FrameNumber > a.lastFrame {
		a.lastFrame = rec.FrameNumber
	}
	a.totalBytes += rec.Bytes
}

// Topics returns the sorted user topics observed so far, pseudo-topics
// excluded.
func (a *Aggregator) Topics() []string {
	seen := make(map[string]struct{})
	for k := range a.buckets {
		switch k.topic {
		case TopicDiscovery, TopicMetaData, TopicUnresolved:
		default:
			seen[k.topic] = struct{}{}
		}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Snapshot renders the aggregate. knownTopics (typically the registry's
// discovered topics) are zero-filled alongside observed ones, so a
// silent discovered topic still shows its empty rows the way the
// discovery pseudo-topic does.
func (a *Aggregator) Snapshot(knownTopics []string) Snapshot {
	snap := Snapshot{
		Frames:      a.frames,
		TotalBytes:  a.totalBytes,
		FirstFrame:  a.firstFrame,
		LastFrame:   a.lastFrame,
		UserRecords: a.userRecords,
		Filtered:    a.filtered,
	}
	if a.frames == 0 && len(a.unresolved) == 0 {
		return snap
	}

	rows := make(map[key]*Bucket, len(a.buckets))
	for k, b := range a.buckets {
		rows[k] = b
	}

	// Zero-fill: every discovery combination under the pseudo-topic,
	// every non-discovery combination under each user topic.
	for _, kind := range core.CombinationsWith(core.KindDiscovery, false) {
		ensureRow(rows, TopicDiscovery, kind)
	}
	topics := a.Topics()
	topics = mergeTopics(topics, knownTopics)
	for _, topic := range topics {
		for _, kind := range core.CombinationsWith(core.KindDiscovery, true) {
			ensureRow(rows, topic, kind)
		}
	}

	for _, b := range rows {
		out := *b
		out.Combo = out.Kind.String()
		snap.Rows = append(snap.Rows, out)
	}

	// The unresolved buckets surface twice: one aggregate row set and a
	// per-writer breakdown.
	perWriter := make(map[core.GUID]*UnresolvedEndpoint)
	unresolvedRows := make(map[core.Kind]*Bucket)
	for uk, b := range a.unresolved {
		r := unresolvedRows[uk.kind]
		if r == nil {
			r = &Bucket{Topic: TopicUnresolved, Kind: uk.kind}
			unresolvedRows[uk.kind] = r
		}
		r.Count += b.Count
		r.Bytes += b.Bytes

		e := perWriter[uk.writer]
		if e == nil {
			e = &UnresolvedEndpoint{Writer: uk.writer}
			perWriter[uk.writer] = e
		}
		e.Count += b.Count
		e.Bytes += b.Bytes
	}
	for _, r := range unresolvedRows {
		out := *r
		out.Combo = out.Kind.String()
		snap.Rows = append(snap.Rows, out)
	}
	for _, e := range perWriter {
		snap.Unresolved = append(snap.Unresolved, *e)
	}
	sort.Slice(snap.Unresolved, func(i, j int) bool {
		if snap.Unresolved[i].Bytes != snap.Unresolved[j].Bytes {
			return snap.Unresolved[i].Bytes > snap.Unresolved[j].Bytes
		}
		return snap.Unresolved[i].Writer.String() < snap.Unresolved[j].Writer.String()
	})

	sort.Slice(snap.Rows, func(i, j int) bool {
		if snap.Rows[i].Topic != snap.Rows[j].Topic {
			return snap.Rows[i].Topic < snap.Rows[j].Topic
		}
		ri, rj := core.CombinationRank(snap.Rows[i].Kind), core.CombinationRank(snap.Rows[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return snap.Rows[i].Kind < snap.Rows[j].Kind
	})

	totals := make(map[string]*TopicTotal)
	for _, row := range snap.Rows {
		t := totals[row.Topic]
		if t == nil {
			t = &TopicTotal{Topic: row.Topic}
			totals[row.Topic] = t
		}
		t.Count += row.Count
		t.Bytes += row.Bytes
	}
	for _, t := range totals {
		if s := a.spans[t.Topic]; s != nil {
			t.FirstFrame = s.first
			t.LastFrame = s.last
		}
		snap.Totals = append(snap.Totals, *t)
	}
	sort.Slice(snap.Totals, func(i, j int) bool {
		if snap.Totals[i].Bytes != snap.Totals[j].Bytes {
			return snap.Totals[i].Bytes > snap.Totals[j].Bytes
		}
		return snap.Totals[i].Topic < snap.Totals[j].Topic
	})
	return snap
}

func ensureRow(rows map[key]*Bucket, topic string, kind core.Kind) {
	k := key{topic: topic, kind: kind}
	if rows[k] == nil {
		rows[k] = &Bucket{Topic: topic, Kind: kind}
	}
}

func mergeTopics(observed, known []string) []string {
	seen := make(map[string]struct{}, len(observed)+len(known))
	out := make([]string, 0, len(observed)+len(known))
	for _, list := range [][]string{observed, known} {
		for _, t := range list {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
