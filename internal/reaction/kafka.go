package reaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/ordermon/internal/events"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer that waits for all in-sync
// replicas to acknowledge.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaSink forwards every event as JSON. Messages are keyed by order ID or
// flag key, so all events of one entity land on one partition in order.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (r *KafkaSink) Handle(ctx context.Context, e events.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}

	msg := kafka.Message{
		Key:   MessageKey(e),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	if err := r.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", e.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (r *KafkaSink) Close() error {
	return r.w.Close()
}

// MessageKey returns the partitioning key of an event.
func MessageKey(e events.Event) []byte {
	switch {
	case e.Order != nil:
		return []byte("order:" + strconv.FormatInt(e.Order.Log.OrderID, 10))
	case e.Flag != nil:
		return []byte(e.Flag.Change.Key.String())
	case e.Added != nil:
		return []byte(e.Added.Flag.Key.String())
	}
	return []byte(e.ID)
}
