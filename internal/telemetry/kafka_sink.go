package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSink forwards structured log Events to an external log aggregator
// over Kafka, the same event-bus instinct the teacher reaches for with
// kafka-go elsewhere in the pack — wired here as an optional telemetry.Sink
// rather than a hard dependency of the engine.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink constructs a Sink that publishes to topic on brokers. The
// writer uses the least-busy balancer and synchronous delivery, so
// Logger.Log waits for each write, then logs any publish error and moves on.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish serializes ev as JSON and writes it to the configured topic,
// keyed by session ID so per-session ordering is preserved within a
// partition.
func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(struct {
		SessionID string `json:"session_id"`
		ItemNo    int    `json:"item_no"`
		Level     string `json:"level"`
		Message   string `json:"message"`
		Monotonic int64  `json:"monotonic_unix_nano"`
	}{
		SessionID: ev.SessionID,
		ItemNo:    ev.ItemNo,
		Level:     ev.Level.String(),
		Message:   ev.Message,
		Monotonic: ev.Monotonic.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("telemetry: marshal event: %w", err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("telemetry: kafka publish: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying Kafka writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
