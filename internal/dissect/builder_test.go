package dissect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/core"
)

const (
	srcPrefixHex = "010f4437a3f3d41cbd1a9ebb"
	dstPrefixHex = "010f22f61b8ad0ad60f9d3d9"
)

// tsvRow builds a full tshark field row, overriding columns by index.
func tsvRow(overrides map[int]string) string {
	cols := make([]string, len(Fields))
	cols[colFrameNumber] = "1"
	cols[colFrameLen] = "100"
	cols[colIPSrc] = "192.168.1.10"
	cols[colIPDst] = "192.168.1.20"
	cols[colPrefixSrc] = srcPrefixHex
	cols[colWrEntityID] = "0x00000102"
	cols[colPrefixDst] = dstPrefixHex
	cols[colRdEntityID] = "0x00000107"
	cols[colSeqNumber] = "1"
	cols[colOctets] = "84"
	cols[colInfo] = "DATA -> Square"
	for i, v := range overrides {
		cols[i] = v
	}
	return strings.Join(cols, "\t")
}

func TestBuildFrameUserData(t *testing.T) {
	records, err := BuildFrame(tsvRow(nil))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, uint64(1), rec.FrameNumber)
	assert.Equal(t, uint64(100), rec.FrameLen)
	assert.Equal(t, uint64(100), rec.Bytes)
	assert.Equal(t, core.FrameUserData, rec.Class)
	assert.Equal(t, core.KindData, rec.Kind)
	assert.Equal(t, "Square", rec.Topic)
	assert.Equal(t, []int64{1}, rec.SeqNums)
	assert.Equal(t, srcPrefixHex+".00000102", rec.Writer.String())
	assert.Equal(t, dstPrefixHex+".00000107", rec.Reader.String())
	assert.Equal(t, "192.168.1.10", rec.SrcAddr.String())
}

func TestBuildFrameByteAttribution(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colFrameLen:  "200",
		colInfo:      "INFO_DST,DATA -> Square,HEARTBEAT",
		colOctets:    "12,84,28",
		colSeqNumber: "5,1,5",
	}))
	require.NoError(t, err)
	require.Len(t, records, 2)

	data, hb := records[0], records[1]
	assert.Equal(t, core.KindData, data.Kind)
	assert.Equal(t, uint64(172), data.Bytes, "first submessage absorbs the frame minus later octets")
	assert.Equal(t, []int64{5}, data.SeqNums)

	assert.Equal(t, core.KindPiggyback|core.KindHeartbeat, hb.Kind)
	assert.Equal(t, uint64(28), hb.Bytes)
	assert.Equal(t, []int64{1, 5}, hb.SeqNums)

	assert.Equal(t, uint64(200), data.Bytes+hb.Bytes, "per-frame byte sum matches frame.len")
}

func TestBuildFrameAckNackFlipsGUIDs(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colInfo:      "INFO_DST,ACKNACK -> Square",
		colOctets:    "12,24",
		colSeqNumber: "6",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, core.KindAckNack, rec.Kind)
	assert.Equal(t, dstPrefixHex+".00000102", rec.Writer.String(), "writer lives at the destination")
	assert.Equal(t, srcPrefixHex+".00000107", rec.Reader.String(), "reader lives at the source")
}

func TestBuildFrameDiscoveryPayload(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colWrEntityID:       "0x000003c2",
		colRdEntityID:       "0x000003c7",
		colInfo:             "DATA(w) -> Square",
		colParamGUID:        "0x" + srcPrefixHex + "00000102",
		colParamTopic:       "Square",
		colParamType:        "ShapeType",
		colParamReliability: "0x00000002",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, core.FrameDiscovery, rec.Class)
	assert.Equal(t, core.KindDiscovery|core.KindDataRW, rec.Kind)
	require.NotNil(t, rec.Discovery)
	assert.Equal(t, srcPrefixHex+".00000102", rec.Discovery.Endpoint.String())
	assert.Equal(t, "Square", rec.Discovery.TopicName)
	assert.Equal(t, "ShapeType", rec.Discovery.TypeName)
	assert.Equal(t, core.Reliable, rec.Discovery.Reliability)
}

func TestBuildFrameDiscoveryWithoutParamGUID(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colWrEntityID: "0x000004c2",
		colInfo:       "DATA(r) -> Circle",
		colParamTopic: "Circle",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Discovery, "announcement without endpoint guid binds nothing")
}

func TestBuildFrameMetaData(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colWrEntityID: "0x000200c2",
		colInfo:       "INFO_TS,DATA(m)",
		colOctets:     "8,44",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.FrameMetaData, records[0].Class)
	assert.Equal(t, core.KindLiveliness, records[0].Kind)
}

func TestBuildFrameRoutingServiceClass(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colWrEntityID:  "0x000100c2",
		colInfo:        "DATA(p)",
		colServiceKind: "0x00000003",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Class.Is(core.FrameDiscovery))
	assert.True(t, records[0].Class.Is(core.FrameRoutingService))
}

func TestBuildFrameSubmessageKinds(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want core.Kind
	}{
		{
			name: "batch data consumes two sequence numbers",
			row: tsvRow(map[int]string{
				colInfo:      "DATA_BATCH -> Tick",
				colSeqNumber: "3,4",
			}),
			want: core.KindData | core.KindBatch,
		},
		{
			name: "fragmented data",
			row:  tsvRow(map[int]string{colInfo: "DATA_FRAG -> Blob"}),
			want: core.KindData | core.KindFragment,
		},
		{
			name: "endpoint unregistration",
			row: tsvRow(map[int]string{
				colWrEntityID: "0x000003c2",
				colInfo:       "DATA(w[UD])",
			}),
			want: core.KindDiscovery | core.KindState,
		},
		{
			name: "gap consumes two sequence numbers",
			row: tsvRow(map[int]string{
				colInfo:      "GAP -> Tick",
				colSeqNumber: "7,9",
			}),
			want: core.KindGap,
		},
		{
			name: "fragment nack",
			row:  tsvRow(map[int]string{colInfo: "NACK_FRAG -> Blob"}),
			want: core.KindNack | core.KindFragment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := BuildFrame(tt.row)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].Kind)
		})
	}
}

func TestBuildFrameSkips(t *testing.T) {
	tests := []struct {
		name    string
		row     string
		wantErr error
	}{
		{
			name:    "missing source prefix",
			row:     tsvRow(map[int]string{colPrefixSrc: ""}),
			wantErr: core.ErrMalformedRecord,
		},
		{
			name:    "dissector flagged malformation",
			row:     tsvRow(map[int]string{colInfo: "DATA -> Square[Malformed Packet]"}),
			wantErr: core.ErrMalformedRecord,
		},
		{
			name:    "service request channel",
			row:     tsvRow(map[int]string{colWrEntityID: "0x00020082"}),
			wantErr: core.ErrServiceRequestFrame,
		},
		{
			name:    "routing service ping",
			row:     tsvRow(map[int]string{colInfo: "Ping"}),
			wantErr: core.ErrRoutingFrame,
		},
		{
			name:    "user data without resolvable topic",
			row:     tsvRow(map[int]string{colInfo: "DATA"}),
			wantErr: core.ErrNoDiscoveryData,
		},
		{
			name: "heartbeat starves the sequence number list",
			row: tsvRow(map[int]string{
				colInfo:      "HEARTBEAT -> Square",
				colSeqNumber: "1",
			}),
			wantErr: core.ErrMalformedRecord,
		},
		{
			name: "unrecognized submessage type",
			row: tsvRow(map[int]string{
				colWrEntityID: "0x000100c2",
				colInfo:       "FOOBAR",
			}),
			wantErr: core.ErrMalformedRecord,
		},
		{
			name:    "garbage frame number",
			row:     tsvRow(map[int]string{colFrameNumber: "abc"}),
			wantErr: core.ErrMalformedRecord,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := BuildFrame(tt.row)
			assert.Nil(t, records)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuildFrameShortRow(t *testing.T) {
	// A row with trailing columns cut off still parses; the missing
	// fields read as empty.
	row := "9\t60\t10.0.0.1\t10.0.0.2\t" + srcPrefixHex + "\t0x00000102\t" + dstPrefixHex + "\t0x00000107\t2\t40"
	records, err := BuildFrame(row + "\t\t\t\t\t\t\tDATA -> Square")
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = BuildFrame(row)
	assert.ErrorIs(t, err, core.ErrNoDiscoveryData, "empty info column leaves nothing to classify")
}

func TestBuildFrameAbsentReaderPrefix(t *testing.T) {
	records, err := BuildFrame(tsvRow(map[int]string{
		colPrefixDst:  "",
		colRdEntityID: "",
	}))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Reader.IsZero(), "multicast data has no addressed reader")
	assert.False(t, records[0].Writer.IsZero())
}

func TestParseParamGUID(t *testing.T) {
	g, err := parseParamGUID("0x" + srcPrefixHex + "000003c2")
	require.NoError(t, err)
	assert.Equal(t, srcPrefixHex+".000003c2", g.String())

	_, err = parseParamGUID("0xdeadbeef")
	assert.ErrorIs(t, err, core.ErrMalformedRecord)
}

func TestParseReliability(t *testing.T) {
	tests := []struct {
		in   string
		want core.ReliabilityKind
	}{
		{"", core.ReliabilityUnknown},
		{"BEST_EFFORT_RELIABILITY_QOS", core.BestEffort},
		{"RELIABLE_RELIABILITY_QOS", core.Reliable},
		{"0x00000001", core.BestEffort},
		{"0x00000002", core.Reliable},
		{"2", core.Reliable},
		{"7", core.ReliabilityUnknown},
		{"junk", core.ReliabilityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseReliability(tt.in), "input %q", tt.in)
	}
}
