// Package topology reconstructs the writer/reader dataflow graph from
// resolved discovery bindings and observed reliability sessions.
package topology

import (
	"fmt"
	"sort"

	"firestige.xyz/strix/internal/core"
)

// Drop reasons for pairs that could not become edges.
const (
	ReasonUnresolvedWriter = "unresolved-writer"
	ReasonUnresolvedReader = "unresolved-reader"
	ReasonTopicMismatch    = "topic-mismatch"
)

// Node is one resolved endpoint participating in at least one edge.
type Node struct {
	GUID           core.GUID `json:"guid" yaml:"guid"`
	Topic          string    `json:"topic" yaml:"topic"`
	Role           string    `json:"role" yaml:"role"`
	Addr           string    `json:"addr,omitempty" yaml:"addr,omitempty"`
	RoutingService bool      `json:"routingService,omitempty" yaml:"routingService,omitempty"`
}

// Edge is one proven writer-to-reader flow. Both endpoints resolved to
// the same topic and the pair exchanged acknack or gap traffic. The
// domain id deliberately plays no part in edge identity.
type Edge struct {
	Writer         core.GUID            `json:"writer" yaml:"writer"`
	Reader         core.GUID            `json:"reader" yaml:"reader"`
	Topic          string               `json:"topic" yaml:"topic"`
	TypeName       string               `json:"type,omitempty" yaml:"type,omitempty"`
	Reliability    core.ReliabilityKind `json:"-" yaml:"-"`
	ReliabilityStr string               `json:"reliability" yaml:"reliability"`
	Heartbeats     uint64               `json:"heartbeats" yaml:"heartbeats"`
	AckNacks       uint64               `json:"acknacks" yaml:"acknacks"`
	Gaps           uint64               `json:"gaps" yaml:"gaps"`
	Repairs        uint64               `json:"repairs" yaml:"repairs"`
	DurableRepairs uint64               `json:"durableRepairs" yaml:"durableRepairs"`
	CaughtUp       bool                 `json:"caughtUp" yaml:"caughtUp"`
}

// DroppedPair is an eligible pair that resolved to no edge.
type DroppedPair struct {
	Writer core.GUID `json:"writer" yaml:"writer"`
	Reader core.GUID `json:"reader" yaml:"reader"`
	Reason string    `json:"reason" yaml:"reason"`
}

// Err renders the drop as its taxonomy error.
func (d DroppedPair) Err() error {
	return fmt.Errorf("%w: %s -> %s: %s", core.ErrUnresolvableEdge, d.Writer, d.Reader, d.Reason)
}

// Graph is the reconstructed topology. Edges and nodes are sorted and
// safe to render directly.
type Graph struct {
	Nodes   []Node        `json:"nodes" yaml:"nodes"`
	Edges   []Edge        `json:"edges" yaml:"edges"`
	Dropped []DroppedPair `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// Topics lists the distinct topics carrying at least one edge, sorted.
func (g *Graph) Topics() []string {
	seen := make(map[string]struct{})
	for _, e := range g.Edges {
		seen[e.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// EdgesFor returns the edges of one topic, preserving graph order.
func (g *Graph) EdgesFor(topic string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// NodesFor returns the nodes of one topic, preserving graph order.
func (g *Graph) NodesFor(topic string) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Topic == topic {
			out = append(out, n)
		}
	}
	return out
}

// DroppedByReason tallies dropped pairs per reason.
func (g *Graph) DroppedByReason() map[string]int {
	out := make(map[string]int)
	for _, d := range g.Dropped {
		out[d.Reason]++
	}
	return out
}
