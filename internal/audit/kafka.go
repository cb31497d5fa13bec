package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// KafkaSink publishes events as JSON to a topic, keyed by subject so events
// about one account stay ordered within a partition. Publish failures are
// logged and dropped.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink wraps an existing producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

// DialKafka creates an idempotent sync producer for cfg.
func DialKafka(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("audit: kafka brokers and topic required")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V3_7_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("audit: create kafka producer: %w", err)
	}
	return NewKafkaSink(producer, cfg.Topic, logger), nil
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit: marshal event", "event_type", event.EventType, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if event.Subject != "" {
		msg.Key = sarama.StringEncoder(event.Subject)
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.Error("audit: kafka publish failed", "topic", s.topic, "event_type", event.EventType, "error", err)
	}
}

// Close closes the underlying producer.
func (s *KafkaSink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
