// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/strix/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `strix:` root key in YAML.
type GlobalConfig struct {
	Input    InputConfig       `mapstructure:"input"`
	Analysis AnalysisConfig    `mapstructure:"analysis"`
	Report   ReportConfig      `mapstructure:"report"`
	Kafka    KafkaConfig       `mapstructure:"kafka"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Log      LogConfig         `mapstructure:"log"`
}

// ─── Input / Dissection ───

// InputConfig controls the external dissection tool invocation.
type InputConfig struct {
	TsharkPath    string `mapstructure:"tshark_path"`    // empty = search PATH
	DisplayFilter string `mapstructure:"display_filter"` // ANDed with the rtps clause
	MaxFrames     int    `mapstructure:"max_frames"`     // 0 = unlimited
	Preflight     bool   `mapstructure:"preflight"`      // container-level capture scan before dissection
}

// ─── Analysis ───

// AnalysisConfig controls the analysis pass.
type AnalysisConfig struct {
	FrameRange string `mapstructure:"frame_range"` // "first:last", either side may be empty
}

// ─── Report ───

// ReportConfig lists the result sinks to run after the pass.
type ReportConfig struct {
	Sinks []SinkConfig `mapstructure:"sinks"`
}

// SinkConfig selects one sink by type with sink-specific options.
// Options are decoded by the sink factory, not here.
type SinkConfig struct {
	Type    string         `mapstructure:"type"` // console | snapshot | graph | kafka
	Options map[string]any `mapstructure:"options"`
}

// ─── Kafka ───

// KafkaConfig configures the result publisher. Sinks of type "kafka"
// inherit these fields when their options leave them empty.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchSize    int      `mapstructure:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout"`
	Compression  string   `mapstructure:"compression"` // none | gzip | snappy | lz4
	MaxAttempts  int      `mapstructure:"max_attempts"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level"`  // debug / info / warn / error
	Format string           `mapstructure:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Frame Range ───

// FrameRange is an inclusive frame-number filter. A zero bound leaves
// that side of the range open.
type FrameRange struct {
	First uint64
	Last  uint64
}

// Contains reports whether frame falls inside the range.
func (r FrameRange) Contains(frame uint64) bool {
	if r.First != 0 && frame < r.First {
		return false
	}
	if r.Last != 0 && frame > r.Last {
		return false
	}
	return true
}

// IsOpen reports whether the range imposes no filtering at all.
func (r FrameRange) IsOpen() bool { return r.First == 0 && r.Last == 0 }

func (r FrameRange) String() string {
	first, last := "", ""
	if r.First != 0 {
		first = strconv.FormatUint(r.First, 10)
	}
	if r.Last != 0 {
		last = strconv.FormatUint(r.Last, 10)
	}
	return first + ":" + last
}

// ParseFrameRange parses "first:last" with either side optional, e.g.
// "100:500", ":500", "100:". An empty string is the open range.
func ParseFrameRange(value string) (FrameRange, error) {
	var r FrameRange
	if value == "" {
		return r, nil
	}
	first, last, ok := strings.Cut(value, ":")
	if !ok {
		return r, fmt.Errorf("%w: frame range %q must be 'first:last'", core.ErrConfigInvalid, value)
	}

	parse := func(part string) (uint64, error) {
		if part == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: frame range bound %q", core.ErrConfigInvalid, part)
		}
		return n, nil
	}

	var err error
	if r.First, err = parse(first); err != nil {
		return FrameRange{}, err
	}
	if r.Last, err = parse(last); err != nil {
		return FrameRange{}, err
	}
	if r.First != 0 && r.Last != 0 && r.First > r.Last {
		return FrameRange{}, fmt.Errorf("%w: frame range %q first bound exceeds last", core.ErrConfigInvalid, value)
	}
	return r, nil
}

// Range parses the configured frame range.
func (c AnalysisConfig) Range() (FrameRange, error) {
	return ParseFrameRange(c.FrameRange)
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `strix: ...`.
type configRoot struct {
	Strix GlobalConfig `mapstructure:"strix"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `strix:` as root key; env vars override via the
// STRIX_ prefix (e.g. STRIX_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	// Environment variable overrides. The `strix.` key prefix maps to
	// STRIX_ env vars via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Strix

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "strix." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Input defaults
	v.SetDefault("strix.input.tshark_path", "")
	v.SetDefault("strix.input.display_filter", "")
	v.SetDefault("strix.input.max_frames", 0)
	v.SetDefault("strix.input.preflight", true)

	// Analysis defaults
	v.SetDefault("strix.analysis.frame_range", "")

	// Log defaults
	v.SetDefault("strix.log.level", "info")
	v.SetDefault("strix.log.format", "text")
	v.SetDefault("strix.log.file.enabled", false)
	v.SetDefault("strix.log.file.path", "/var/log/strix/strix.log")
	v.SetDefault("strix.log.file.rotation.max_size_mb", 100)
	v.SetDefault("strix.log.file.rotation.max_age_days", 30)
	v.SetDefault("strix.log.file.rotation.max_backups", 5)
	v.SetDefault("strix.log.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("strix.metrics.enabled", false)
	v.SetDefault("strix.metrics.listen", ":9092")
	v.SetDefault("strix.metrics.path", "/metrics")

	// Kafka publisher defaults
	v.SetDefault("strix.kafka.batch_size", 100)
	v.SetDefault("strix.kafka.batch_timeout", "100ms")
	v.SetDefault("strix.kafka.compression", "snappy")
	v.SetDefault("strix.kafka.max_attempts", 3)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Analysis validation ──
	if _, err := cfg.Analysis.Range(); err != nil {
		return err
	}
	if cfg.Input.MaxFrames < 0 {
		return fmt.Errorf("%w: input.max_frames must not be negative", core.ErrConfigInvalid)
	}

	// ── Report sink validation ──
	for i, sink := range cfg.Report.Sinks {
		switch sink.Type {
		case "console", "snapshot", "graph", "kafka":
		case "":
			return fmt.Errorf("%w: report.sinks[%d] missing type", core.ErrConfigInvalid, i)
		default:
			return fmt.Errorf("%w: report.sinks[%d] unknown type %q", core.ErrConfigInvalid, i, sink.Type)
		}
	}

	// ── Kafka inheritance ──
	// Sinks of type "kafka" without their own brokers/topic fall back to
	// the global section at build time; validate globals only when some
	// sink will need them.
	for _, sink := range cfg.Report.Sinks {
		if sink.Type != "kafka" {
			continue
		}
		if _, ok := sink.Options["brokers"]; ok {
			continue
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka sink configured but no brokers set", core.ErrConfigInvalid)
		}
	}

	return nil
}
