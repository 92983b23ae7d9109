package kafka

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/segmentio/kafka-go"
)

type sender interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// EventPublisher puts lifecycle envelopes on Kafka.
type EventPublisher struct{ p sender }

var _ orders.EventPublisher = (*EventPublisher)(nil)

func NewEventPublisher(p *Producer) *EventPublisher { return &EventPublisher{p: p} }

func (e *EventPublisher) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.p.Publish(ctx, topic, key, b, headers(env)...)
}
