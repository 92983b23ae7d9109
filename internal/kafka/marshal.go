package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

func headers(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventID, Value: []byte(env.EventID)},
	}
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope at %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	return env, nil
}
