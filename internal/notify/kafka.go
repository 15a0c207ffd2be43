package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"algotrader/internal/config"
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes workflow events to a Kafka topic, keyed by
// notification type.
type KafkaNotifier struct {
	writer  MessageWriter
	topic   string
	enabled bool
}

// NewKafkaNotifier creates a KafkaNotifier writing to cfg.Topic.
func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	topic := cfg.Topic
	if topic == "" {
		topic = "algotrader.events"
	}
	enabled := cfg.Enabled && len(cfg.Brokers) > 0

	var writer MessageWriter
	if enabled {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
			},
		}
	}
	return &KafkaNotifier{writer: writer, topic: topic, enabled: enabled}
}

// NewKafkaNotifierWithWriter wires an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic, enabled: w != nil}
}

// Name returns the name of the notifier.
func (k *KafkaNotifier) Name() string {
	return "kafka"
}

// IsEnabled returns whether the notifier is enabled.
func (k *KafkaNotifier) IsEnabled() bool {
	return k.enabled
}

// Send publishes n as a JSON message.
func (k *KafkaNotifier) Send(ctx context.Context, n Notification) error {
	if !k.enabled {
		return nil
	}

	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling kafka event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte("algotrader")},
		},
		Time: n.Timestamp,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
