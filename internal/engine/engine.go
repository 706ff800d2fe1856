// Package engine drives the single-pass capture analysis: discovery
// registration, reliability correlation and traffic aggregation over
// one record stream, followed by the topology post-pass.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/dissect"
	"firestige.xyz/strix/internal/registry"
	"firestige.xyz/strix/internal/reliability"
	"firestige.xyz/strix/internal/topology"
	"firestige.xyz/strix/internal/traffic"
)

// RecordSource is the stream the engine consumes. Next returns io.EOF
// at the end of the capture and the context error on cancellation.
type RecordSource interface {
	Next(ctx context.Context) (core.SubmessageRecord, error)
}

// SkipCounter is implemented by sources that reject frames upstream of
// the engine.
type SkipCounter interface {
	Skips() dissect.SkipCounts
}

// Engine holds the analysis stages of one run. Each stage sees every
// record exactly once, in frame order: the registry first so bindings
// exist before attribution, the correlator second so repair flags land
// on the record before the aggregator counts it.
type Engine struct {
	registry   *registry.Registry
	correlator *reliability.Correlator
	aggregator *traffic.Aggregator
}

// New builds an engine. The frame range restricts traffic accounting
// only; discovery and reliability observe the whole stream, so a
// binding established outside the range still resolves traffic inside
// it.
func New(rng config.FrameRange) *Engine {
	reg := registry.New()
	return &Engine{
		registry:   reg,
		correlator: reliability.New(),
		aggregator: traffic.New(reg, rng),
	}
}

// Run consumes the source to exhaustion and assembles the result. On
// cancellation the partial result is still returned, marked truncated,
// alongside the context error; every snapshot in it is internally
// consistent up to the last record observed. Only a stream failure
// yields a nil result.
func (e *Engine) Run(ctx context.Context, src RecordSource) (*Result, error) {
	var runErr error
	truncated := false

	for {
		rec, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				truncated = true
				runErr = err
				break
			}
			return nil, err
		}
		e.observe(rec)
	}

	res := e.collect(src)
	res.Truncated = truncated
	return res, runErr
}

func (e *Engine) observe(rec core.SubmessageRecord) {
	if err := e.registry.Observe(rec); err != nil {
		// Conflicts are counted inside the registry; nothing to do.
		slog.Debug("registry rejected announcement", "error", err)
	}
	rec.Kind = e.correlator.Observe(rec)
	e.aggregator.Observe(rec)
}

func (e *Engine) collect(src RecordSource) *Result {
	regSnap := e.registry.Snapshot()
	relSnap := e.correlator.Snapshot()
	trafSnap := e.aggregator.Snapshot(regSnap.Topics)
	graph := topology.NewBuilder(e.registry, regSnap.Participants).Build(relSnap.Sessions)

	res := &Result{
		Registry:    regSnap,
		Traffic:     trafSnap,
		Reliability: relSnap,
		Graph:       graph,
		Summary: Summary{
			Frames:       trafSnap.Frames,
			Bytes:        trafSnap.TotalBytes,
			Participants: len(regSnap.Participants),
			Writers:      e.registry.WritersSeen(),
			Readers:      e.registry.ReadersSeen(),
			Topics:       len(topicUnion(regSnap.Topics, e.aggregator.Topics())),
			Edges:        len(graph.Edges),
		},
		Diagnostics: Diagnostics{
			DiscoveryConflicts:       regSnap.Conflicts,
			AckNacksWithoutHeartbeat: relSnap.AckNacksWithoutHeartbeat,
			DroppedPairs:             graph.DroppedByReason(),
			FilteredRecords:          trafSnap.Filtered,
		},
	}
	if sc, ok := src.(SkipCounter); ok {
		res.Diagnostics.SkippedFrames = sc.Skips()
	}
	return res
}

func topicUnion(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
