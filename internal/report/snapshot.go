package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/engine"
)

// SnapshotOptions configures the snapshot sink.
type SnapshotOptions struct {
	// Path receives the serialized result. Empty or "-" writes stdout.
	Path string `mapstructure:"path"`
	// Format picks json or yaml. Empty derives it from the path
	// extension, falling back to json.
	Format string `mapstructure:"format"`
}

// SnapshotSink serializes the whole result to a file or stdout.
type SnapshotSink struct {
	path   string
	format string
	out    io.Writer // used when path is stdout
}

// NewSnapshotSink builds a snapshot sink, resolving the output format.
func NewSnapshotSink(opts SnapshotOptions) (*SnapshotSink, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".yaml", ".yml":
			format = "yaml"
		default:
			format = "json"
		}
	}
	if format != "json" && format != "yaml" {
		return nil, fmt.Errorf("%w: snapshot format %q (must be json/yaml)", core.ErrConfigInvalid, opts.Format)
	}
	return &SnapshotSink{path: opts.Path, format: format, out: os.Stdout}, nil
}

func (s *SnapshotSink) Name() string { return "snapshot" }

func (s *SnapshotSink) Close() error { return nil }

// Write serializes the result in the configured format.
func (s *SnapshotSink) Write(_ context.Context, res *engine.Result) error {
	var buf bytes.Buffer
	switch s.format {
	case "yaml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("snapshot encode failed: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("snapshot encode failed: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("snapshot encode failed: %w", err)
		}
	}

	if s.path == "" || s.path == "-" {
		_, err := s.out.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot write failed: %w", err)
	}
	slog.Info("snapshot written", "path", s.path, "format", s.format, "bytes", buf.Len())
	return nil
}
