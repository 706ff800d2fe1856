package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/engine"
	"firestige.xyz/strix/internal/topology"
)

// GraphOptions configures the graph sink.
type GraphOptions struct {
	// Path receives the rendered graph. Empty or "-" writes stdout.
	Path string `mapstructure:"path"`
	// Format picks dot or json. Defaults to dot.
	Format string `mapstructure:"format"`
	// Topic restricts the output to one topic's subgraph.
	Topic string `mapstructure:"topic"`
}

// GraphSink renders the reconstructed topology as Graphviz dot or JSON.
type GraphSink struct {
	path   string
	format string
	topic  string
	out    io.Writer // used when path is stdout
}

// NewGraphSink builds a graph sink, validating the output format.
func NewGraphSink(opts GraphOptions) (*GraphSink, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "dot"
	}
	if format != "dot" && format != "json" {
		return nil, fmt.Errorf("%w: graph format %q (must be dot/json)", core.ErrConfigInvalid, opts.Format)
	}
	return &GraphSink{path: opts.Path, format: format, topic: opts.Topic, out: os.Stdout}, nil
}

func (s *GraphSink) Name() string { return "graph" }

func (s *GraphSink) Close() error { return nil }

// Write renders the graph, restricted to the configured topic if set.
func (s *GraphSink) Write(_ context.Context, res *engine.Result) error {
	g := res.Graph
	if g == nil {
		g = &topology.Graph{}
	}
	if s.topic != "" {
		edges := g.EdgesFor(s.topic)
		if len(edges) == 0 {
			slog.Warn("topic has no topology graph", "topic", s.topic)
		}
		g = &topology.Graph{Nodes: g.NodesFor(s.topic), Edges: edges}
	}

	var buf bytes.Buffer
	switch s.format {
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("graph encode failed: %w", err)
		}
	default:
		writeDot(&buf, g)
	}

	if s.path == "" || s.path == "-" {
		_, err := s.out.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("graph write failed: %w", err)
	}
	slog.Info("graph written", "path", s.path, "format", s.format,
		"nodes", len(g.Nodes), "edges", len(g.Edges))
	return nil
}

// writeDot renders one subgraph per topic. Node labels and fill colors
// follow the capture plots: DW lightblue, DR mistyrose, RS lightyellow.
func writeDot(buf *bytes.Buffer, g *topology.Graph) {
	fmt.Fprintln(buf, "digraph rtps {")
	fmt.Fprintln(buf, "  rankdir=LR;")
	fmt.Fprintln(buf, "  node [shape=ellipse, style=filled];")
	labels := nodeLabels(g)
	for _, topic := range g.Topics() {
		fmt.Fprintf(buf, "  subgraph \"cluster_%s\" {\n", dotEscape(topic))
		fmt.Fprintf(buf, "    label=\"%s\";\n", dotEscape(topic))
		for _, node := range g.NodesFor(topic) {
			label := labels[node.GUID]
			if node.Addr != "" {
				label += "\\n" + node.Addr
			}
			fmt.Fprintf(buf, "    \"%s\" [label=\"%s\", fillcolor=\"%s\"];\n",
				node.GUID, label, nodeColor(labels[node.GUID]))
		}
		for _, edge := range g.EdgesFor(topic) {
			label := edge.ReliabilityStr
			if edge.Repairs > 0 {
				label += fmt.Sprintf("\\nrepairs: %d", edge.Repairs)
			}
			fmt.Fprintf(buf, "    \"%s\" -> \"%s\" [label=\"%s\"];\n",
				edge.Writer, edge.Reader, label)
		}
		fmt.Fprintln(buf, "  }")
	}
	fmt.Fprintln(buf, "}")
}

func nodeColor(label string) string {
	switch label {
	case "RS":
		return "lightyellow"
	case "DR":
		return "mistyrose"
	default:
		return "lightblue"
	}
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
