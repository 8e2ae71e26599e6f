package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	produceDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formgate_audit_produce_duration_ms",
		Help:    "Latency of audit event delivery to the broker in milliseconds",
		Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250},
	})
)

// KafkaSink delivers audit events to a Kafka topic, keyed by session so a
// session's trail stays ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaOption configures a KafkaSink.
type KafkaOption func(*KafkaSink)

// WithKafkaLogger sets the logger.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(s *KafkaSink) { s.logger = logger }
}

// NewKafkaSink connects a producer to the given brokers.
func NewKafkaSink(brokers []string, topic string, opts ...KafkaOption) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	s := &KafkaSink{
		client: client,
		topic:  topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// EnsureTopic creates the audit topic if it does not exist yet. Called once
// at startup; an already existing topic is not an error.
func (s *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic: %w", resp.Err)
	}
	return nil
}

// Append produces the event synchronously so delivery failures surface to
// the worker.
func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	start := time.Now()
	defer func() {
		produceDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SessionID.String()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and releases the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}
