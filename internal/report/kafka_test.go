package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/core"
)

func TestKafkaMessagesShape(t *testing.T) {
	sink := &KafkaSink{opts: KafkaOptions{Topic: "rtps-stats"}}

	msgs, err := sink.messages(makeResult())

	require.NoError(t, err)
	require.Len(t, msgs, 3) // summary plus one per topic total

	assert.Equal(t, "summary", string(msgs[0].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "schema", msgs[0].Headers[0].Key)
	assert.Equal(t, schemaSummary, string(msgs[0].Headers[0].Value))

	var summary map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &summary))
	assert.Equal(t, float64(6), summary["frames"])
	assert.Equal(t, float64(1), summary["edges"])

	assert.Equal(t, "Square", string(msgs[1].Key))
	assert.Equal(t, schemaTopic, string(msgs[1].Headers[0].Value))
	assert.Equal(t, "DISCOVERY", string(msgs[2].Key))
}

func TestKafkaTopicMessageFields(t *testing.T) {
	sink := &KafkaSink{}

	msgs, err := sink.messages(makeResult())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Value, &doc))

	assert.Equal(t, "Square", doc["topic"])
	assert.Equal(t, float64(4), doc["count"])
	assert.Equal(t, float64(700), doc["bytes"])
	assert.Equal(t, float64(1), doc["edges"])

	kinds := doc["kinds"].(map[string]any)
	data := kinds["DATA"].(map[string]any)
	assert.Equal(t, float64(3), data["count"])
	assert.Equal(t, float64(600), data["bytes"])
}

func TestKafkaZeroCountRowsExcluded(t *testing.T) {
	sink := &KafkaSink{}
	res := makeResult()
	res.Traffic.Rows[1].Count = 0

	msgs, err := sink.messages(res)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Value, &doc))
	kinds := doc["kinds"].(map[string]any)
	assert.NotContains(t, kinds, "DATA")
}

func TestNewKafkaSinkValidation(t *testing.T) {
	cases := []struct {
		name string
		opts KafkaOptions
	}{
		{"missing brokers", KafkaOptions{Topic: "t"}},
		{"missing topic", KafkaOptions{Brokers: []string{"b:9092"}}},
		{"bad compression", KafkaOptions{Brokers: []string{"b:9092"}, Topic: "t", Compression: "zstd"}},
		{"bad batch timeout", KafkaOptions{Brokers: []string{"b:9092"}, Topic: "t", BatchTimeout: "fast"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewKafkaSink(tc.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestNewKafkaSinkDefaults(t *testing.T) {
	sink, err := NewKafkaSink(KafkaOptions{
		Brokers: []string{"broker-1:9092"},
		Topic:   "rtps-stats",
	})

	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, sink.opts.BatchSize)
	assert.Equal(t, defaultCompression, sink.opts.Compression)
	assert.Equal(t, defaultMaxAttempts, sink.opts.MaxAttempts)
	require.NoError(t, sink.Close())
}
