package topology

import (
	"log/slog"
	"sort"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/metrics"
	"firestige.xyz/strix/internal/registry"
	"firestige.xyz/strix/internal/reliability"
)

// Resolver resolves endpoint GUIDs to their discovered bindings.
type Resolver interface {
	Resolve(core.GUID) (registry.Binding, bool)
}

// Builder turns eligible reliability sessions into topology edges. It
// runs as a post-pass: all discovery has been observed by the time it
// consults the resolver, so resolution failures here are final.
type Builder struct {
	resolver Resolver
	routing  map[string]bool
	addrs    map[string]string
}

// NewBuilder prepares a builder. The participant list annotates nodes
// with addresses and routing-service labels.
func NewBuilder(resolver Resolver, participants []registry.Participant) *Builder {
	b := &Builder{
		resolver: resolver,
		routing:  make(map[string]bool, len(participants)),
		addrs:    make(map[string]string, len(participants)),
	}
	for _, p := range participants {
		b.routing[p.Prefix] = p.RoutingService
		b.addrs[p.Prefix] = p.Addr
	}
	return b
}

// Build reconstructs the graph from the observed sessions. Only
// eligible pairs are considered; a pair becomes an edge exactly when
// both endpoints resolve to the same topic, and is otherwise recorded
// as dropped with the blocking reason.
func (b *Builder) Build(sessions []reliability.SessionInfo) *Graph {
	g := &Graph{}
	nodes := make(map[core.GUID]Node)

	for _, s := range sessions {
		if !s.Eligible {
			continue
		}

		writer, wok := b.resolveEndpoint(s.Writer)
		if !wok {
			b.drop(g, s, ReasonUnresolvedWriter)
			continue
		}
		reader, rok := b.resolveEndpoint(s.Reader)
		if !rok {
			b.drop(g, s, ReasonUnresolvedReader)
			continue
		}
		if writer.Topic != reader.Topic {
			b.drop(g, s, ReasonTopicMismatch)
			continue
		}

		g.Edges = append(g.Edges, Edge{
			Writer:         s.Writer,
			Reader:         s.Reader,
			Topic:          writer.Topic,
			TypeName:       writer.TypeName,
			Reliability:    writer.Reliability,
			ReliabilityStr: writer.Reliability.String(),
			Heartbeats:     s.Heartbeats,
			AckNacks:       s.AckNacks,
			Gaps:           s.Gaps,
			Repairs:        s.Repairs,
			DurableRepairs: s.DurableRepairs,
			CaughtUp:       s.CaughtUp,
		})
		nodes[s.Writer] = b.node(s.Writer, writer)
		nodes[s.Reader] = b.node(s.Reader, reader)
	}

	for _, n := range nodes {
		g.Nodes = append(g.Nodes, n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		if g.Nodes[i].Topic != g.Nodes[j].Topic {
			return g.Nodes[i].Topic < g.Nodes[j].Topic
		}
		return g.Nodes[i].GUID.String() < g.Nodes[j].GUID.String()
	})
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Topic != g.Edges[j].Topic {
			return g.Edges[i].Topic < g.Edges[j].Topic
		}
		if g.Edges[i].Writer != g.Edges[j].Writer {
			return g.Edges[i].Writer.String() < g.Edges[j].Writer.String()
		}
		return g.Edges[i].Reader.String() < g.Edges[j].Reader.String()
	})
	sort.Slice(g.Dropped, func(i, j int) bool {
		if g.Dropped[i].Writer != g.Dropped[j].Writer {
			return g.Dropped[i].Writer.String() < g.Dropped[j].Writer.String()
		}
		return g.Dropped[i].Reader.String() < g.Dropped[j].Reader.String()
	})

	metrics.EdgesEmittedTotal.Add(float64(len(g.Edges)))
	return g
}

// resolveEndpoint returns the binding behind a GUID when it names a
// topic. Zero GUIDs never resolve.
func (b *Builder) resolveEndpoint(guid core.GUID) (registry.Binding, bool) {
	if guid.IsZero() {
		return registry.Binding{}, false
	}
	binding, ok := b.resolver.Resolve(guid)
	if !ok || binding.Topic == "" {
		return registry.Binding{}, false
	}
	return binding, true
}

func (b *Builder) drop(g *Graph, s reliability.SessionInfo, reason string) {
	d := DroppedPair{Writer: s.Writer, Reader: s.Reader, Reason: reason}
	g.Dropped = append(g.Dropped, d)
	metrics.PairsDroppedTotal.WithLabelValues(reason).Inc()
	slog.Debug("pair dropped from topology", "writer", s.Writer, "reader", s.Reader, "reason", reason)
}

func (b *Builder) node(guid core.GUID, binding registry.Binding) Node {
	prefix := guid.String()[:24]
	return Node{
		GUID:           guid,
		Topic:          binding.Topic,
		Role:           binding.Role.String(),
		Addr:           b.addrs[prefix],
		RoutingService: b.routing[prefix],
	}
}
