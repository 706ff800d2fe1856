package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/dissect"
	"firestige.xyz/strix/internal/engine"
	"firestige.xyz/strix/internal/registry"
	"firestige.xyz/strix/internal/reliability"
	"firestige.xyz/strix/internal/topology"
	"firestige.xyz/strix/internal/traffic"
)

func guid(b byte, entity core.EntityID) core.GUID {
	var p core.Prefix
	for i := range p {
		p[i] = b
	}
	return core.GUID{Prefix: p, Entity: entity}
}

// makeResult builds a small but fully populated result: one user topic
// with an established edge, discovery rows, and one dropped pair.
func makeResult() *engine.Result {
	writer := guid(0xaa, 0x00000102)
	reader := guid(0xbb, 0x00000107)
	orphan := guid(0xcc, 0x00000202)

	return &engine.Result{
		Summary: engine.Summary{
			Frames:       6,
			Bytes:        1100,
			Participants: 2,
			Writers:      1,
			Readers:      1,
			Topics:       1,
			Edges:        1,
		},
		Registry: registry.Snapshot{
			Topics: []string{"Square"},
			Bindings: []registry.Binding{
				{GUID: writer, Topic: "Square", Role: core.RoleWriter, Reliability: core.Reliable, Frame: 1},
				{GUID: reader, Topic: "Square", Role: core.RoleReader, Reliability: core.Reliable, Frame: 2},
			},
		},
		Traffic: traffic.Snapshot{
			Rows: []traffic.Bucket{
				{Topic: traffic.TopicDiscovery, Kind: core.KindDiscovery | core.KindDataP, Combo: "DISCOVERY_DATA_P", Count: 2, Bytes: 400},
				{Topic: "Square", Kind: core.KindData, Combo: "DATA", Count: 3, Bytes: 600},
				{Topic: "Square", Kind: core.KindPiggyback | core.KindHeartbeat, Combo: "PIGGYBACK_HEARTBEAT", Count: 1, Bytes: 100},
			},
			Totals: []traffic.TopicTotal{
				{Topic: "Square", Count: 4, Bytes: 700},
				{Topic: traffic.TopicDiscovery, Count: 2, Bytes: 400},
			},
			Frames:      6,
			TotalBytes:  1100,
			UserRecords: 4,
		},
		Reliability: reliability.Snapshot{
			Sessions: []reliability.SessionInfo{
				{Writer: writer, Reader: reader, Heartbeats: 2, AckNacks: 1, Repairs: 2, CaughtUp: true, Eligible: true},
			},
			Repairs:        2,
			DurableRepairs: 1,
		},
		Graph: &topology.Graph{
			Nodes: []topology.Node{
				{GUID: writer, Topic: "Square", Role: "writer", Addr: "10.0.0.1"},
				{GUID: reader, Topic: "Square", Role: "reader", Addr: "10.0.0.2"},
			},
			Edges: []topology.Edge{
				{Writer: writer, Reader: reader, Topic: "Square", ReliabilityStr: "reliable", Heartbeats: 2, AckNacks: 1, Repairs: 2, CaughtUp: true},
			},
			Dropped: []topology.DroppedPair{
				{Writer: orphan, Reason: topology.ReasonUnresolvedReader},
			},
		},
		Diagnostics: engine.Diagnostics{
			SkippedFrames: dissect.SkipCounts{Malformed: 1},
			DroppedPairs:  map[string]int{topology.ReasonUnresolvedReader: 1},
		},
	}
}

func render(t *testing.T, res *engine.Result, opts ConsoleOptions) string {
	t.Helper()
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf, opts: opts}
	require.NoError(t, sink.Write(context.Background(), res))
	return buf.String()
}

func TestConsoleSummaryShape(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Total Frames: 6\n")
	assert.Contains(t, out, "Total Participants: 2\n")
	assert.Contains(t, out, "Total Writers: 1 and Readers: 1\n")
	assert.Contains(t, out, "Unique Topics: 1\n")
}

func TestConsoleCaptureLine(t *testing.T) {
	res := makeResult()
	res.Capture = &dissect.CaptureInfo{Frames: 6, Bytes: 1234567}
	out := render(t, res, ConsoleOptions{})

	assert.Contains(t, out, "Capture: 6 frames, 1,234,567 bytes")
}

func TestConsoleTopicsListed(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Topics:\n  - Square\n")
}

func TestConsoleCountsSection(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Total number of messages: 6\n")
	assert.Contains(t, out, "  Total messages by topic:\n")
	assert.Contains(t, out, "    Square: 4\n")
	assert.Contains(t, out, "    DISCOVERY: 2\n")
	assert.Contains(t, out, "    DATA: 3\n")

	// Declared combination order, DATA ahead of PIGGYBACK_HEARTBEAT.
	data := strings.Index(out, "    DATA: 3\n")
	piggyback := strings.Index(out, "    PIGGYBACK_HEARTBEAT: 1\n")
	require.GreaterOrEqual(t, data, 0)
	require.GreaterOrEqual(t, piggyback, 0)
	assert.Less(t, data, piggyback)
}

func TestConsoleBytesSectionUsesCommas(t *testing.T) {
	res := makeResult()
	res.Traffic.TotalBytes = 1234567
	out := render(t, res, ConsoleOptions{})

	assert.Contains(t, out, "Total message length: 1,234,567 bytes\n")
	assert.Contains(t, out, "    Square: 700 bytes\n")
	assert.Contains(t, out, "    DATA: 600 bytes\n")
}

func TestConsoleReliabilitySection(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Reliability:\n")
	assert.Contains(t, out, "  Sessions: 1 (caught up: 1)\n")
	assert.Contains(t, out, "  Repairs: 2 (durable: 1)\n")
}

func TestConsoleTopologySection(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Topology:\n")
	assert.Contains(t, out, "  Topic: Square\n")
	assert.Contains(t, out, "DW ")
	assert.Contains(t, out, "-> DR ")
	assert.Contains(t, out, "[reliable, repairs: 2]")
	assert.Contains(t, out, "Dropped pairs: 1 (unresolved-reader: 1)")
}

func TestConsoleRoutingServiceLabel(t *testing.T) {
	res := makeResult()
	res.Graph.Nodes[0].RoutingService = true
	out := render(t, res, ConsoleOptions{})

	assert.Contains(t, out, "RS ")
}

func TestConsoleDiagnosticsSection(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{})

	assert.Contains(t, out, "Diagnostics:\n")
	assert.Contains(t, out, "  Skipped frames: 1 (malformed: 1)\n")
}

func TestConsoleDiscoveryOnlyNotice(t *testing.T) {
	res := makeResult()
	res.Traffic.Rows = []traffic.Bucket{
		{Topic: traffic.TopicDiscovery, Kind: core.KindDiscovery | core.KindDataP, Combo: "DISCOVERY_DATA_P", Count: 2, Bytes: 400},
	}
	res.Traffic.Totals = []traffic.TopicTotal{
		{Topic: traffic.TopicDiscovery, Count: 2, Bytes: 400},
	}
	res.Traffic.UserRecords = 0
	out := render(t, res, ConsoleOptions{})

	assert.Contains(t, out, "No RTPS user frames with associated discovery data\n")
	assert.NotContains(t, out, "Total number of messages")
	assert.NotContains(t, out, "Total message length")
}

func TestConsoleSectionFilter(t *testing.T) {
	out := render(t, makeResult(), ConsoleOptions{Sections: []string{"summary"}})

	assert.Contains(t, out, "Total Frames: 6\n")
	assert.NotContains(t, out, "Topics:")
	assert.NotContains(t, out, "Submessage counts:")
	assert.NotContains(t, out, "Topology:")
}

func TestConsoleTruncatedNotice(t *testing.T) {
	res := makeResult()
	res.Truncated = true
	out := render(t, res, ConsoleOptions{})

	assert.Contains(t, out, "Analysis stopped early")
}

func TestConsoleEmptyResult(t *testing.T) {
	out := render(t, &engine.Result{}, ConsoleOptions{})

	assert.Contains(t, out, "Total Frames: 0\n")
	assert.NotContains(t, out, "Total number of messages")
	assert.NotContains(t, out, "No RTPS user frames")
}

func TestCommas(t *testing.T) {
	cases := map[uint64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		1234567:    "1,234,567",
		1000000000: "1,000,000,000",
	}
	for n, want := range cases {
		assert.Equal(t, want, commas(n), "commas(%d)", n)
	}
}
