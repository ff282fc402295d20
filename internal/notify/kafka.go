package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a topic, keyed by tenant so one tenant's
// events stay ordered within a partition.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink returns nil when no brokers are configured.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 {
		return nil
	}
	if topic == "" {
		topic = "messaging.events"
	}
	// Writers are safe for concurrent use
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.TenantID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

func (s *KafkaSink) Close() error { return s.w.Close() }
