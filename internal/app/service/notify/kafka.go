package notify

import (
	"context"
	"encoding/json"
	"fmt"

	skafka "github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := skafka.Message{
		Key:   []byte(ev.IntentReference),
		Value: b,
		Headers: []skafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
