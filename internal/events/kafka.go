package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes alert events to a topic, keyed by student so one student's
// alerts land on one partition in order.
type Kafka struct {
	writer Writer
}

// NewKafka builds a publisher writing to topic on the given brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// NewKafkaWithWriter injects a writer, typically a fake in tests.
func NewKafkaWithWriter(w Writer) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, ev AlertEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Alert.StudentID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Event)},
			{Key: "alert_type", Value: []byte(ev.Alert.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
