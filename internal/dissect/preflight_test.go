package dissect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/core"
)

func writeTestPcap(t *testing.T, lengths ...int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	for i, length := range lengths {
		payload := make([]byte, length)
		err := w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			CaptureLength: length,
			Length:        length,
		}, payload)
		require.NoError(t, err)
	}
	return path
}

func TestPreflightCountsFrames(t *testing.T) {
	path := writeTestPcap(t, 100, 100, 100)

	info, err := Preflight(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Frames)
	assert.Equal(t, uint64(300), info.Bytes)
	assert.Equal(t, 2*time.Second, info.Duration())
	assert.Equal(t, layers.LinkTypeEthernet, info.LinkType)
}

func TestPreflightEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := Preflight(path)
	assert.ErrorIs(t, err, core.ErrEmptyCapture)
}

func TestPreflightHeaderOnly(t *testing.T) {
	path := writeTestPcap(t)

	_, err := Preflight(path)
	assert.ErrorIs(t, err, core.ErrEmptyCapture, "a capture without frames is empty input")
}

func TestPreflightMissingFile(t *testing.T) {
	_, err := Preflight(filepath.Join(t.TempDir(), "nope.pcap"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrEmptyCapture)
}
