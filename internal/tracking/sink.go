package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink receives a copy of every event payload sent to the backend.
type Sink interface {
	Publish(ctx context.Context, payload *EventPayload) error
	Close() error
}

// KafkaConfig selects the event mirror topic.
type KafkaConfig struct {
	Topic   string   `mapstructure:"topic"`
	Brokers []string `mapstructure:"brokers"`
}

// Enabled reports whether a mirror is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// KafkaSink publishes event payloads to a Kafka topic keyed by SUID,
// so all events of one funnel land on the same partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing to the configured topic.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka sink needs brokers and a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// Publish writes one event.
func (k *KafkaSink) Publish(ctx context.Context, payload *EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(payload.SUID),
		Value: data,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
