package dissect

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/metrics"
)

// Dissected frames for wide captures can carry hundreds of info tokens
// per row, so the default scanner buffer is not enough.
const maxLineBytes = 1024 * 1024

// SkipCounts tallies frames the builder refused, by reason. Skips are
// never fatal; they surface in the run diagnostics.
type SkipCounts struct {
	Malformed      uint64 `json:"malformed" yaml:"malformed"`
	ServiceRequest uint64 `json:"serviceRequest" yaml:"serviceRequest"`
	Routing        uint64 `json:"routing" yaml:"routing"`
	NoDiscovery    uint64 `json:"noDiscovery" yaml:"noDiscovery"`
}

// Total returns the number of skipped frames across all reasons.
func (s SkipCounts) Total() uint64 {
	return s.Malformed + s.ServiceRequest + s.Routing + s.NoDiscovery
}

// TsharkSource streams submessage records out of a running tshark
// process, one dissected frame at a time. It is not safe for
// concurrent use.
type TsharkSource struct {
	runner  Runner
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	scanner *bufio.Scanner
	pending []core.SubmessageRecord
	skips   SkipCounts
	waited  bool
}

func NewTsharkSource(runner Runner) *TsharkSource {
	return &TsharkSource{runner: runner}
}

// Open starts the tshark process. Cancelling ctx kills it, which in
// turn ends the record stream.
func (s *TsharkSource) Open(ctx context.Context) error {
	cmd := s.runner.Command(ctx)
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach tshark stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %q", core.ErrTsharkNotFound, cmd.Path)
		}
		return fmt.Errorf("start tshark: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.scanner = bufio.NewScanner(stdout)
	s.scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	slog.Info("tshark started", "pcap", s.runner.PcapFile, "filter", s.runner.filter())
	return nil
}

// Next returns the next submessage record, io.EOF once the capture is
// exhausted, or the context error if the run was cancelled. Frames the
// builder rejects are counted and skipped, never returned.
func (s *TsharkSource) Next(ctx context.Context) (core.SubmessageRecord, error) {
	if len(s.pending) > 0 {
		rec := s.pending[0]
		s.pending = s.pending[1:]
		return rec, nil
	}

	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return core.SubmessageRecord{}, err
		}
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		records, err := BuildFrame(line)
		if err != nil {
			s.countSkip(err)
			continue
		}
		s.pending = records[1:]
		return records[0], nil
	}

	if err := ctx.Err(); err != nil {
		return core.SubmessageRecord{}, err
	}
	if err := s.scanner.Err(); err != nil {
		return core.SubmessageRecord{}, fmt.Errorf("read tshark output: %w", err)
	}
	if err := s.wait(); err != nil {
		return core.SubmessageRecord{}, err
	}
	return core.SubmessageRecord{}, io.EOF
}

// Close reaps the tshark process, killing it if it is still running.
// Safe to call after Next returned io.EOF and on a source that was
// never opened.
func (s *TsharkSource) Close() error {
	if s.cmd == nil || s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	s.waited = true
	return nil
}

// Skips reports the per-reason skip counters accumulated so far.
func (s *TsharkSource) Skips() SkipCounts {
	return s.skips
}

func (s *TsharkSource) countSkip(err error) {
	var reason string
	switch {
	case errors.Is(err, core.ErrServiceRequestFrame):
		s.skips.ServiceRequest++
		reason = metrics.SkipReasonServiceRequest
	case errors.Is(err, core.ErrRoutingFrame):
		s.skips.Routing++
		reason = metrics.SkipReasonRouting
	case errors.Is(err, core.ErrNoDiscoveryData):
		s.skips.NoDiscovery++
		reason = metrics.SkipReasonNoDiscovery
	default:
		s.skips.Malformed++
		reason = metrics.SkipReasonMalformed
	}
	metrics.FramesSkippedTotal.WithLabelValues(reason).Inc()
	slog.Debug("frame skipped", "reason", reason, "error", err)
}

func (s *TsharkSource) wait() error {
	if s.cmd == nil || s.waited {
		return nil
	}
	err := s.cmd.Wait()
	s.waited = true

	var exit *exec.ExitError
	if errors.As(err, &exit) {
		msg := strings.TrimSpace(s.stderr.String())
		if msg != "" {
			return fmt.Errorf("tshark failed: %s", lastLine(msg))
		}
		return fmt.Errorf("tshark failed: %w", err)
	}
	return err
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// SliceSource replays an in-memory record list. Analysis stages take
// their input through the same interface as the live tshark stream, so
// fixtures plug straight in.
type SliceSource struct {
	records []core.SubmessageRecord
	next    int
}

func NewSliceSource(records ...core.SubmessageRecord) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (core.SubmessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.SubmessageRecord{}, err
	}
	if s.next >= len(s.records) {
		return core.SubmessageRecord{}, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}
