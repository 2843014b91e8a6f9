package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitPublisher struct {
	conn  *amqp.Connection
	chn   Channel
	queue string
}

// NewRabbitPublisher dials url and declares queue as durable.
func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := chn.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitPublisher{conn: conn, chn: chn, queue: queue}, nil
}

func NewRabbitPublisherWithChannel(chn Channel, queue string) *RabbitPublisher {
	return &RabbitPublisher{chn: chn, queue: queue}
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.chn.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.Type + ":" + ev.IntentReference,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() error {
	if err := p.chn.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
