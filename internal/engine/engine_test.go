package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/dissect"
	"firestige.xyz/strix/internal/topology"
	"firestige.xyz/strix/internal/traffic"
)

func guid(b byte, entity core.EntityID) core.GUID {
	var p core.Prefix
	for i := range p {
		p[i] = b
	}
	return core.GUID{Prefix: p, Entity: entity}
}

func announce(frame uint64, endpoint core.GUID, topic string) core.SubmessageRecord {
	builtin := core.EntitySEDPPublicationsWriter
	if endpoint.Entity.Role() == core.RoleReader {
		builtin = core.EntitySEDPSubscriptionsWriter
	}
	return core.SubmessageRecord{
		FrameNumber: frame,
		FrameLen:    120,
		Bytes:       120,
		Class:       core.FrameDiscovery,
		Kind:        core.KindDiscovery | core.KindDataRW,
		Writer:      core.GUID{Prefix: endpoint.Prefix, Entity: builtin},
		SeqNums:     []int64{int64(frame)},
		Discovery: &core.DiscoveryPayload{
			Endpoint:    endpoint,
			TopicName:   topic,
			TypeName:    topic + "Type",
			Reliability: core.Reliable,
		},
	}
}

func sample(frame uint64, w, r core.GUID, seq int64, bytes uint64) core.SubmessageRecord {
	return core.SubmessageRecord{
		FrameNumber: frame,
		FrameLen:    bytes,
		Bytes:       bytes,
		Class:       core.FrameUserData,
		Kind:        core.KindData,
		Writer:      w,
		Reader:      r,
		SeqNums:     []int64{seq},
	}
}

func heartbeat(frame uint64, w, r core.GUID, first, last int64) core.SubmessageRecord {
	return core.SubmessageRecord{
		FrameNumber: frame,
		FrameLen:    60,
		Bytes:       60,
		Class:       core.FrameUserData,
		Kind:        core.KindHeartbeat,
		Writer:      w,
		Reader:      r,
		SeqNums:     []int64{first, last},
	}
}

func acknack(frame uint64, w, r core.GUID, ack int64) core.SubmessageRecord {
	return core.SubmessageRecord{
		FrameNumber: frame,
		FrameLen:    56,
		Bytes:       56,
		Class:       core.FrameUserData,
		Kind:        core.KindAckNack,
		Writer:      w,
		Reader:      r,
		SeqNums:     []int64{ack},
	}
}

func run(t *testing.T, records ...core.SubmessageRecord) *Result {
	t.Helper()
	res, err := New(config.FrameRange{}).Run(context.Background(), dissect.NewSliceSource(records...))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func findRow(res *Result, topic string, kind core.Kind) (traffic.Bucket, bool) {
	for _, row := range res.Traffic.Rows {
		if row.Topic == topic && row.Kind == kind {
			return row, true
		}
	}
	return traffic.Bucket{}, false
}

func TestRunAccumulatesTopicTraffic(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)

	res := run(t,
		announce(1, w1, "Sensor"),
		sample(2, w1, core.GUID{}, 1, 100),
		sample(3, w1, core.GUID{}, 2, 100),
		sample(4, w1, core.GUID{}, 3, 100),
	)

	row, ok := findRow(res, "Sensor", core.KindData)
	require.True(t, ok)
	assert.Equal(t, uint64(3), row.Count)
	assert.Equal(t, uint64(300), row.Bytes)

	assert.Equal(t, uint64(4), res.Summary.Frames)
	assert.Equal(t, uint64(420), res.Summary.Bytes)
	assert.Equal(t, 1, res.Summary.Participants)
	assert.Equal(t, 1, res.Summary.Writers)
	assert.Equal(t, 1, res.Summary.Topics)
	assert.False(t, res.Empty())
	assert.False(t, res.Truncated)
}

func TestRunEstablishesEdge(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	r1 := guid(0xbb, 0x00000107)

	res := run(t,
		announce(1, w1, "Sensor"),
		announce(2, r1, "Sensor"),
		heartbeat(3, w1, r1, 1, 5),
		acknack(4, w1, r1, 6),
	)

	require.Len(t, res.Graph.Edges, 1)
	edge := res.Graph.Edges[0]
	assert.Equal(t, "Sensor", edge.Topic)
	assert.Equal(t, w1, edge.Writer)
	assert.Equal(t, r1, edge.Reader)
	assert.True(t, edge.CaughtUp)
	assert.Empty(t, res.Graph.Dropped)

	assert.Equal(t, 1, res.Summary.Edges)
	assert.Equal(t, 2, res.Summary.Participants)
	assert.Equal(t, 1, res.Summary.Writers)
	assert.Equal(t, 1, res.Summary.Readers)
}

func TestRunDropsPairWithoutDiscovery(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	r1 := guid(0xbb, 0x00000107)

	res := run(t,
		heartbeat(1, w1, r1, 1, 5),
		acknack(2, w1, r1, 3),
	)

	assert.Empty(t, res.Graph.Edges)
	require.Len(t, res.Graph.Dropped, 1)
	assert.Equal(t, topology.ReasonUnresolvedWriter, res.Graph.Dropped[0].Reason)
	assert.Equal(t, 1, res.Diagnostics.DroppedPairs[topology.ReasonUnresolvedWriter])
}

func TestRunReclassifiesRepairsBeforeCounting(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	r1 := guid(0xbb, 0x00000107)

	res := run(t,
		announce(1, w1, "Sensor"),
		announce(2, r1, "Sensor"),
		heartbeat(3, w1, r1, 1, 5),
		acknack(4, w1, r1, 3),
		sample(5, w1, r1, 3, 80),
	)

	row, ok := findRow(res, "Sensor", core.KindData|core.KindRepair)
	require.True(t, ok, "the repair flag must land before aggregation")
	assert.Equal(t, uint64(1), row.Count)

	assert.Equal(t, uint64(1), res.Reliability.Repairs)
	require.Len(t, res.Graph.Edges, 1)
	assert.Equal(t, uint64(1), res.Graph.Edges[0].Repairs)
}

type cancellingSource struct {
	records []core.SubmessageRecord
	after   int
	cancel  context.CancelFunc
	n       int
}

func (s *cancellingSource) Next(ctx context.Context) (core.SubmessageRecord, error) {
	if s.n >= s.after {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return core.SubmessageRecord{}, err
	}
	if s.n >= len(s.records) {
		return core.SubmessageRecord{}, io.EOF
	}
	rec := s.records[s.n]
	s.n++
	return rec, nil
}

func TestRunCancellationKeepsPartialResult(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	ctx, cancel := context.WithCancel(context.Background())
	src := &cancellingSource{
		records: []core.SubmessageRecord{
			announce(1, w1, "Sensor"),
			sample(2, w1, core.GUID{}, 1, 100),
			sample(3, w1, core.GUID{}, 2, 100),
			sample(4, w1, core.GUID{}, 3, 100),
		},
		after:  2,
		cancel: cancel,
	}

	res, err := New(config.FrameRange{}).Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "cancellation still yields the partial result")

	assert.True(t, res.Truncated)
	assert.Equal(t, uint64(2), res.Summary.Frames)
	row, ok := findRow(res, "Sensor", core.KindData)
	require.True(t, ok)
	assert.Equal(t, uint64(1), row.Count, "only records observed before cancellation count")
	assert.Len(t, res.Registry.Bindings, 1)
}

func TestRunEmptyStream(t *testing.T) {
	res := run(t)

	assert.True(t, res.Empty())
	assert.False(t, res.DiscoveryOnly())
	require.NotNil(t, res.Graph)
	assert.Empty(t, res.Graph.Edges)
	assert.Empty(t, res.Traffic.Rows)
}

func TestRunDiscoveryOnlyCapture(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	res := run(t, announce(1, w1, "Sensor"))

	assert.False(t, res.Empty())
	assert.True(t, res.DiscoveryOnly())
}

type skippingSource struct {
	*dissect.SliceSource
	skips dissect.SkipCounts
}

func (s *skippingSource) Skips() dissect.SkipCounts { return s.skips }

func TestRunCollectsSkipCounts(t *testing.T) {
	src := &skippingSource{
		SliceSource: dissect.NewSliceSource(),
		skips:       dissect.SkipCounts{Malformed: 2, Routing: 1},
	}
	res, err := New(config.FrameRange{}).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), res.Diagnostics.SkippedFrames.Malformed)
	assert.Equal(t, uint64(1), res.Diagnostics.SkippedFrames.Routing)
}

func TestRunRangeRestrictsAccountingOnly(t *testing.T) {
	w1 := guid(0xaa, 0x00000102)
	records := []core.SubmessageRecord{
		announce(1, w1, "Sensor"),
		sample(10, w1, core.GUID{}, 1, 100),
		sample(20, w1, core.GUID{}, 2, 100),
	}

	res, err := New(config.FrameRange{First: 15, Last: 25}).
		Run(context.Background(), dissect.NewSliceSource(records...))
	require.NoError(t, err)

	row, ok := findRow(res, "Sensor", core.KindData)
	require.True(t, ok)
	assert.Equal(t, uint64(1), row.Count, "only the in-range sample counts")
	assert.Len(t, res.Registry.Bindings, 1, "discovery outside the range still binds")
	assert.Equal(t, uint64(2), res.Diagnostics.FilteredRecords)
}
