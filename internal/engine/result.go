package engine

import (
	"sort"

	"firestige.xyz/strix/internal/dissect"
	"firestige.xyz/strix/internal/registry"
	"firestige.xyz/strix/internal/reliability"
	"firestige.xyz/strix/internal/topology"
	"firestige.xyz/strix/internal/traffic"
)

// Summary is the headline view of one analyzed capture.
type Summary struct {
	Frames       uint64 `json:"frames" yaml:"frames"`
	Bytes        uint64 `json:"bytes" yaml:"bytes"`
	Participants int    `json:"participants" yaml:"participants"`
	Writers      int    `json:"writers" yaml:"writers"`
	Readers      int    `json:"readers" yaml:"readers"`
	Topics       int    `json:"topics" yaml:"topics"`
	Edges        int    `json:"edges" yaml:"edges"`
}

// Diagnostics collects everything that went sideways without stopping
// the run.
type Diagnostics struct {
	SkippedFrames            dissect.SkipCounts `json:"skippedFrames" yaml:"skippedFrames"`
	DiscoveryConflicts       uint64             `json:"discoveryConflicts" yaml:"discoveryConflicts"`
	AckNacksWithoutHeartbeat uint64             `json:"acknacksWithoutHeartbeat" yaml:"acknacksWithoutHeartbeat"`
	DroppedPairs             map[string]int     `json:"droppedPairs,omitempty" yaml:"droppedPairs,omitempty"`
	FilteredRecords          uint64             `json:"filteredRecords" yaml:"filteredRecords"`
}

// Result is the complete outcome of one analysis pass. A truncated
// result comes from a cancelled run; its snapshots cover the stream up
// to the cancellation point and are fully consistent with each other.
type Result struct {
	Capture     *dissect.CaptureInfo `json:"capture,omitempty" yaml:"capture,omitempty"`
	Summary     Summary              `json:"summary" yaml:"summary"`
	Registry    registry.Snapshot    `json:"registry" yaml:"registry"`
	Traffic     traffic.Snapshot     `json:"traffic" yaml:"traffic"`
	Reliability reliability.Snapshot `json:"reliability" yaml:"reliability"`
	Graph       *topology.Graph      `json:"graph" yaml:"graph"`
	Diagnostics Diagnostics          `json:"diagnostics" yaml:"diagnostics"`
	Truncated   bool                 `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Empty reports whether the pass saw no analyzable traffic at all.
func (r *Result) Empty() bool {
	return r.Summary.Frames == 0
}

// DiscoveryOnly reports whether every observed submessage belonged to
// the discovery pseudo-topic. Zero-filled rows do not count as
// observations.
func (r *Result) DiscoveryOnly() bool {
	if r.Summary.Frames == 0 {
		return false
	}
	for _, row := range r.Traffic.Rows {
		if row.Count > 0 && row.Topic != traffic.TopicDiscovery {
			return false
		}
	}
	return true
}

// Topics returns the sorted union of topics announced via discovery and
// topics seen in resolved traffic rows. Pseudo topics are excluded.
func (r *Result) Topics() []string {
	seen := make(map[string]struct{}, len(r.Registry.Topics))
	for _, t := range r.Registry.Topics {
		seen[t] = struct{}{}
	}
	for _, total := range r.Traffic.Totals {
		switch total.Topic {
		case traffic.TopicDiscovery, traffic.TopicMetaData, traffic.TopicUnresolved:
			continue
		}
		seen[total.Topic] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
