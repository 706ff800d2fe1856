package report

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/strix/internal/engine"
)

// Render writes the result to every sink concurrently, so a slow sink
// never delays the console output. The first sink failure is returned;
// remaining writes are cancelled through the group context.
func Render(ctx context.Context, sinks []Sink, res *engine.Result) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(gctx, res); err != nil {
				slog.Error("sink write failed", "sink", sink.Name(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
