package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
)

func TestBuildSinksDefaultsToConsole(t *testing.T) {
	sinks, err := BuildSinks(&config.GlobalConfig{})

	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "console", sinks[0].Name())
}

func TestNewSinkUnknownType(t *testing.T) {
	_, err := NewSink(config.SinkConfig{Type: "mqtt"}, &config.GlobalConfig{})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestNewSinkDecodesOptions(t *testing.T) {
	sink, err := NewSink(config.SinkConfig{
		Type: "graph",
		Options: map[string]any{
			"path":   "out.dot",
			"format": "dot",
			"topic":  "Square",
		},
	}, &config.GlobalConfig{})

	require.NoError(t, err)
	gs, ok := sink.(*GraphSink)
	require.True(t, ok)
	assert.Equal(t, "out.dot", gs.path)
	assert.Equal(t, "Square", gs.topic)
}

func TestNewSinkRejectsUnknownOptionKeys(t *testing.T) {
	_, err := NewSink(config.SinkConfig{
		Type:    "console",
		Options: map[string]any{"sectons": []string{"summary"}},
	}, &config.GlobalConfig{})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestKafkaSinkInheritsGlobalSection(t *testing.T) {
	global := &config.GlobalConfig{
		Kafka: config.KafkaConfig{
			Brokers: []string{"broker-1:9092"},
			Topic:   "rtps-stats",
		},
	}

	sink, err := NewSink(config.SinkConfig{Type: "kafka"}, global)

	require.NoError(t, err)
	ks, ok := sink.(*KafkaSink)
	require.True(t, ok)
	assert.Equal(t, []string{"broker-1:9092"}, ks.opts.Brokers)
	assert.Equal(t, "rtps-stats", ks.opts.Topic)
	require.NoError(t, ks.Close())
}

func TestKafkaSinkOptionsOverrideGlobals(t *testing.T) {
	global := &config.GlobalConfig{
		Kafka: config.KafkaConfig{
			Brokers: []string{"broker-1:9092"},
			Topic:   "rtps-stats",
		},
	}

	sink, err := NewSink(config.SinkConfig{
		Type:    "kafka",
		Options: map[string]any{"topic": "rtps-stats-test"},
	}, global)

	require.NoError(t, err)
	ks := sink.(*KafkaSink)
	assert.Equal(t, []string{"broker-1:9092"}, ks.opts.Brokers)
	assert.Equal(t, "rtps-stats-test", ks.opts.Topic)
	require.NoError(t, ks.Close())
}

func TestBuildSinksReportsEntryIndex(t *testing.T) {
	global := &config.GlobalConfig{
		Report: config.ReportConfig{
			Sinks: []config.SinkConfig{
				{Type: "console"},
				{Type: "snapshot", Options: map[string]any{"format": "xml"}},
			},
		},
	}

	_, err := BuildSinks(global)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.sinks[1]")
}
