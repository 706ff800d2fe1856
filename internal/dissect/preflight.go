package dissect

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/strix/internal/core"
)

// pcapng section header block type; classic pcap magics differ in all
// four bytes, so this one check picks the container format.
const pcapNgMagic = 0x0A0D0D0A

// CaptureInfo summarizes a capture container without dissecting it.
type CaptureInfo struct {
	Frames   uint64          `json:"frames" yaml:"frames"`
	Bytes    uint64          `json:"bytes" yaml:"bytes"`
	Start    time.Time       `json:"start" yaml:"start"`
	End      time.Time       `json:"end" yaml:"end"`
	LinkType layers.LinkType `json:"linkType" yaml:"linkType"`
}

// Duration returns the captured time span.
func (c CaptureInfo) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Preflight walks the capture once at container level, so an empty or
// unreadable file is reported before the expensive tshark pass starts.
func Preflight(path string) (CaptureInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return CaptureInfo{}, fmt.Errorf("%w: %s", core.ErrEmptyCapture, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return CaptureInfo{}, fmt.Errorf("rewind capture: %w", err)
	}

	var (
		next func() ([]byte, gopacket.CaptureInfo, error)
		link layers.LinkType
	)
	if binary.LittleEndian.Uint32(magic[:]) == pcapNgMagic {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return CaptureInfo{}, fmt.Errorf("read pcapng header: %w", err)
		}
		next = r.ReadPacketData
		link = r.LinkType()
	} else {
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return CaptureInfo{}, fmt.Errorf("read pcap header: %w", err)
		}
		next = r.ReadPacketData
		link = r.LinkType()
	}

	info := CaptureInfo{LinkType: link}
	for {
		_, ci, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if info.Frames == 0 {
				return CaptureInfo{}, fmt.Errorf("%w: %s", core.ErrEmptyCapture, path)
			}
			// Truncated tail; the frames counted so far still stand.
			slog.Warn("capture truncated", "path", path, "frames", info.Frames, "error", err)
			break
		}
		if info.Frames == 0 {
			info.Start = ci.Timestamp
		}
		info.End = ci.Timestamp
		info.Frames++
		info.Bytes += uint64(ci.Length)
	}

	if info.Frames == 0 {
		return CaptureInfo{}, fmt.Errorf("%w: %s", core.ErrEmptyCapture, path)
	}
	return info, nil
}
