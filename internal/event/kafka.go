// Package event provides outbox.Dispatcher implementations used by the relay
// to fan committed domain events out to external channels.
package event

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/shoozy/storefront/internal/outbox"
)

// KafkaDispatcher publishes events to a Kafka topic. The event kind is the
// message key so consumers can partition and filter by kind.
type KafkaDispatcher struct {
	writer *kafka.Writer
}

var _ outbox.Dispatcher = (*KafkaDispatcher)(nil)

// NewKafkaDispatcher creates a dispatcher writing to the given brokers and
// topic.
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Dispatch publishes one event.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev outbox.Event) error {
	err := d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Kind),
		Value: ev.Payload,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s event", ev.Kind)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
