// Package report renders analysis results to their configured sinks.
package report

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/engine"
)

// Sink renders one analysis result to a destination.
type Sink interface {
	// Name identifies the sink type in logs.
	Name() string
	// Write renders the result. Implementations must not retain res.
	Write(ctx context.Context, res *engine.Result) error
	// Close releases sink resources after the last Write.
	Close() error
}

// NewSink builds one sink from its configuration entry. Sink options are
// decoded into the per-type option structs with mapstructure, the same
// machinery viper uses for the global sections. Kafka sinks inherit the
// global kafka section for fields their options leave unset.
func NewSink(cfg config.SinkConfig, global *config.GlobalConfig) (Sink, error) {
	switch cfg.Type {
	case "console":
		var opts ConsoleOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewConsoleSink(opts), nil
	case "snapshot":
		var opts SnapshotOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewSnapshotSink(opts)
	case "graph":
		var opts GraphOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewGraphSink(opts)
	case "kafka":
		opts := kafkaOptionsFromGlobal(global)
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewKafkaSink(opts)
	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", core.ErrConfigInvalid, cfg.Type)
	}
}

// BuildSinks builds every configured sink. With no sinks configured the
// console sink runs alone.
func BuildSinks(global *config.GlobalConfig) ([]Sink, error) {
	entries := global.Report.Sinks
	if len(entries) == 0 {
		entries = []config.SinkConfig{{Type: "console"}}
	}
	sinks := make([]Sink, 0, len(entries))
	for i, entry := range entries {
		s, err := NewSink(entry, global)
		if err != nil {
			for _, built := range sinks {
				built.Close()
			}
			return nil, fmt.Errorf("report.sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// decodeOptions decodes a sink's option map into its typed options.
// Unknown keys are rejected so option typos surface at startup rather
// than as silently ignored settings.
func decodeOptions(options map[string]any, target any) error {
	if len(options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: sink options: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
