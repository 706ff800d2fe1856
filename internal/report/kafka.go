package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/core"
	"firestige.xyz/strix/internal/engine"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3

	schemaSummary = "capture-summary"
	schemaTopic   = "topic-stats"
)

// KafkaOptions configures the kafka sink. Unset fields inherit the
// global kafka section before sink options are decoded over them.
type KafkaOptions struct {
	Brokers      []string `mapstructure:"brokers"`       // required
	Topic        string   `mapstructure:"topic"`         // required
	BatchSize    int      `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout string   `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string   `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int      `mapstructure:"max_attempts"`  // optional, default 3
}

func kafkaOptionsFromGlobal(global *config.GlobalConfig) KafkaOptions {
	if global == nil {
		return KafkaOptions{}
	}
	return KafkaOptions{
		Brokers:      global.Kafka.Brokers,
		Topic:        global.Kafka.Topic,
		BatchSize:    global.Kafka.BatchSize,
		BatchTimeout: global.Kafka.BatchTimeout,
		Compression:  global.Kafka.Compression,
		MaxAttempts:  global.Kafka.MaxAttempts,
	}
}

// KafkaSink publishes per-topic traffic statistics plus one capture
// summary message. Messages are keyed by DDS topic so one capture's
// statistics for a topic always land in the same partition.
type KafkaSink struct {
	writer *kafka.Writer
	opts   KafkaOptions

	// Statistics
	publishedCount atomic.Uint64
	errorCount     atomic.Uint64
}

// NewKafkaSink builds the writer from the merged options.
func NewKafkaSink(opts KafkaOptions) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka sink requires brokers", core.ErrConfigInvalid)
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("%w: kafka sink requires a topic", core.ErrConfigInvalid)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Compression == "" {
		opts.Compression = defaultCompression
	}

	batchTimeout := defaultBatchTimeout
	if opts.BatchTimeout != "" {
		timeout, err := time.ParseDuration(opts.BatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid batch_timeout: %v", core.ErrConfigInvalid, err)
		}
		batchTimeout = timeout
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      opts.Brokers,
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{}, // Use hash balancer for consistent routing
		BatchSize:    opts.BatchSize,
		BatchTimeout: batchTimeout,
		MaxAttempts:  opts.MaxAttempts,
		Async:        false, // Synchronous for error handling
	}

	// Set compression codec
	switch opts.Compression {
	case "none":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: invalid compression type %q", core.ErrConfigInvalid, opts.Compression)
	}

	s := &KafkaSink{
		writer: kafka.NewWriter(writerConfig),
		opts:   opts,
	}
	slog.Info("kafka sink ready",
		"brokers", opts.Brokers,
		"topic", opts.Topic,
		"batch_size", opts.BatchSize,
		"batch_timeout", batchTimeout,
		"compression", opts.Compression,
	)
	return s, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// Write publishes the result.
func (s *KafkaSink) Write(ctx context.Context, res *engine.Result) error {
	msgs, err := s.messages(res)
	if err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("serialize result failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.publishedCount.Add(uint64(len(msgs)))
	return nil
}

// Close flushes pending messages and logs the publish totals.
func (s *KafkaSink) Close() error {
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}
	slog.Info("kafka sink closed",
		"total_published", s.publishedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}

// messages builds the capture summary message followed by one message
// per topic total, all stamped with the capture end time when known.
func (s *KafkaSink) messages(res *engine.Result) ([]kafka.Message, error) {
	stamp := time.Now()
	if res.Capture != nil && !res.Capture.End.IsZero() {
		stamp = res.Capture.End
	}

	msgs := make([]kafka.Message, 0, len(res.Traffic.Totals)+1)

	value, err := json.Marshal(map[string]any{
		"frames":       res.Summary.Frames,
		"bytes":        res.Summary.Bytes,
		"participants": res.Summary.Participants,
		"writers":      res.Summary.Writers,
		"readers":      res.Summary.Readers,
		"topics":       res.Summary.Topics,
		"edges":        res.Summary.Edges,
		"truncated":    res.Truncated,
	})
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, kafka.Message{
		Key:     []byte("summary"),
		Value:   value,
		Time:    stamp,
		Headers: []kafka.Header{{Key: "schema", Value: []byte(schemaSummary)}},
	})

	for _, total := range res.Traffic.Totals {
		value, err := s.serializeTopic(res, total.Topic, total.Count, total.Bytes)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(total.Topic),
			Value:   value,
			Time:    stamp,
			Headers: []kafka.Header{{Key: "schema", Value: []byte(schemaTopic)}},
		})
	}
	return msgs, nil
}

// serializeTopic renders one topic's statistics as JSON.
func (s *KafkaSink) serializeTopic(res *engine.Result, topic string, count, bytes uint64) ([]byte, error) {
	kinds := make(map[string]map[string]uint64)
	for _, row := range res.Traffic.Rows {
		if row.Topic != topic || row.Count == 0 {
			continue
		}
		kinds[row.Combo] = map[string]uint64{"count": row.Count, "bytes": row.Bytes}
	}
	edges := 0
	if res.Graph != nil {
		edges = len(res.Graph.EdgesFor(topic))
	}
	return json.Marshal(map[string]any{
		"topic": topic,
		"count": count,
		"bytes": bytes,
		"kinds": kinds,
		"edges": edges,
	})
}
