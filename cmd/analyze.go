package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/dissect"
	"firestige.xyz/strix/internal/engine"
	"firestige.xyz/strix/internal/metrics"
	"firestige.xyz/strix/internal/report"
)

var (
	analyzePcap      string
	analyzeRange     string
	analyzeFilter    string
	analyzeMaxFrames int
	analyzeOutput    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze an RTPS capture end to end",
	Long: `Analyze an RTPS capture: resolve topics from discovery announcements,
aggregate per-topic traffic statistics, correlate reliability sessions into
repair classifications, and rebuild the writer/reader topology.

Results go to the configured report sinks; without configuration the console
sink prints every section. Interrupting the run keeps the partial result.

Examples:
  strix analyze --pcap capture.pcapng
  strix analyze --pcap capture.pcapng --frame-range 1000:2000
  strix analyze --pcap capture.pcapng --output result.yaml
  strix analyze --pcap capture.pcapng --filter "udp.port == 7400"`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runAnalyze(); err != nil {
			exitWithError("analyze failed", err)
		}
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePcap, "pcap", "",
		"capture file to analyze (required)")
	analyzeCmd.MarkFlagRequired("pcap")
	analyzeCmd.Flags().StringVar(&analyzeRange, "frame-range", "",
		"restrict traffic accounting to START:FINISH frame numbers")
	analyzeCmd.Flags().StringVar(&analyzeFilter, "filter", "",
		"extra display filter ANDed with the rtps clause")
	analyzeCmd.Flags().IntVar(&analyzeMaxFrames, "max-frames", 0,
		"stop dissection after this many frames (0 = unlimited)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "",
		"also write a snapshot of the result to this file")
}

func runAnalyze() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyAnalyzeFlags(cfg)

	sinks, err := report.BuildSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks(sinks)

	res, runErr := runPass(cfg, analyzePcap)
	if res == nil {
		return runErr
	}

	// A truncated result still renders; the sinks mark it as partial.
	if err := report.Render(context.Background(), sinks, res); err != nil {
		return err
	}
	return ignoreCancel(runErr)
}

// applyAnalyzeFlags lets CLI flags override the static configuration for
// this run only.
func applyAnalyzeFlags(cfg *config.GlobalConfig) {
	if analyzeFilter != "" {
		cfg.Input.DisplayFilter = analyzeFilter
	}
	if analyzeMaxFrames > 0 {
		cfg.Input.MaxFrames = analyzeMaxFrames
	}
	if analyzeRange != "" {
		cfg.Analysis.FrameRange = analyzeRange
	}
	if analyzeOutput != "" {
		if len(cfg.Report.Sinks) == 0 {
			cfg.Report.Sinks = []config.SinkConfig{{Type: "console"}}
		}
		cfg.Report.Sinks = append(cfg.Report.Sinks, config.SinkConfig{
			Type:    "snapshot",
			Options: map[string]any{"path": analyzeOutput},
		})
	}
}

// runPass dissects the capture and drives one analysis pass over it.
// Interrupting the pass returns the partial result together with the
// context error.
func runPass(cfg *config.GlobalConfig, pcap string) (*engine.Result, error) {
	rng, err := cfg.Analysis.Range()
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var capture *dissect.CaptureInfo
	if cfg.Input.Preflight {
		info, err := dissect.Preflight(pcap)
		if err != nil {
			return nil, err
		}
		capture = &info
		slog.Info("capture preflight",
			"frames", info.Frames,
			"bytes", info.Bytes,
			"duration", info.Duration(),
		)
	}

	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics)
		if err := server.Start(ctx); err != nil {
			return nil, err
		}
		defer server.Stop(context.Background())
	}

	runner := dissect.Runner{
		Path:          cfg.Input.TsharkPath,
		PcapFile:      pcap,
		DisplayFilter: cfg.Input.DisplayFilter,
		Range:         rng,
		MaxFrames:     cfg.Input.MaxFrames,
	}
	banner, err := runner.Version(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("dissector ready", "tshark", banner)

	src := dissect.NewTsharkSource(runner)
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer src.Close()

	res, runErr := engine.New(rng).Run(ctx, src)
	if res != nil {
		res.Capture = capture
	}
	return res, runErr
}

// ignoreCancel turns an interrupt into a clean exit once the partial
// result has been rendered.
func ignoreCancel(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("analysis interrupted, partial results rendered")
		return nil
	}
	return err
}

func closeSinks(sinks []report.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			slog.Error("sink close failed", "sink", s.Name(), "error", err)
		}
	}
}
