package backend

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/schemaforge/schemaforge/core"
)

// EventTopic is the Kafka topic all resource change events are written to.
const EventTopic = "schemaforge.events"

// KafkaNotifier delivers resource change events to Kafka. The resource
// path is the message key, hence all events for one resource land in the
// same partition and keep their relative order. The operation travels as
// a message header.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers.
func NewKafkaNotifier(brokers ...string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    EventTopic,
			Balancer: &kafka.Hash{},
			// the outbox delivers one event per write and waits for the
			// broker to acknowledge it
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Notify implements core.Notifier.
func (k *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) error {
	return k.writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(resource),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "operation", Value: []byte(operation)},
			},
		})
}

// Close flushes pending messages and releases the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
