package dissect

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
)

const defaultTsharkPath = "tshark"

// Runner builds the tshark invocation that turns a capture file into
// the tab-separated field rows this package parses.
type Runner struct {
	Path          string
	PcapFile      string
	DisplayFilter string
	Range         config.FrameRange
	MaxFrames     int
}

// Command returns the ready-to-start tshark process. The -2 flag forces
// a two-pass dissection so reassembled and cross-referenced fields are
// populated before the field printer runs.
func (r Runner) Command(ctx context.Context) *exec.Cmd {
	args := []string{"-2", "-r", r.PcapFile, "-T", "fields"}
	for _, field := range Fields {
		args = append(args, "-e", field)
	}
	if filter := r.filter(); filter != "" {
		args = append(args, "-Y", filter)
	}
	if r.MaxFrames > 0 {
		args = append(args, "-c", strconv.Itoa(r.MaxFrames))
	}
	return exec.CommandContext(ctx, r.path(), args...)
}

// Version probes the tshark binary and returns the first line of its
// version banner.
func (r Runner) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.path(), "--version").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %q", core.ErrTsharkNotFound, r.path())
		}
		return "", fmt.Errorf("probe tshark version: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

func (r Runner) path() string {
	if r.Path != "" {
		return r.Path
	}
	return defaultTsharkPath
}

// filter joins the rtps base filter, the user's display filter and the
// frame range into one conjunction.
func (r Runner) filter() string {
	parts := []string{"(rtps)"}
	if r.DisplayFilter != "" {
		parts = append(parts, "("+r.DisplayFilter+")")
	}
	if r.Range.First > 0 {
		parts = append(parts, fmt.Sprintf("(frame.number >= %d)", r.Range.First))
	}
	if r.Range.Last > 0 {
		parts = append(parts, fmt.Sprintf("(frame.number <= %d)", r.Range.Last))
	}
	return strings.Join(parts, " && ")
}
