package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentUpdated     = "PaymentUpdated"
	EventNotificationRetry  = "PaymentNotificationRetry"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// EventPublisher delivers envelopes after the owning transaction committed.
// Delivery is best effort; a failed publish never undoes a committed change.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id"`
	Items       []ItemPrice `json:"items"`
	Total       string      `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	From        Status `json:"from"`
	To          Status `json:"to"`
	Reason      string `json:"reason,omitempty"`
}

type PaymentUpdatedPayload struct {
	OrderID           string        `json:"order_id"`
	OrderNumber       string        `json:"order_number"`
	TransactionID     string        `json:"transaction_id"`
	TransactionStatus PaymentStatus `json:"transaction_status"`
	PaymentType       string        `json:"payment_type,omitempty"`
}

// NotificationRetryPayload carries a notification whose processing failed
// transiently, for the reconciler worker to replay.
type NotificationRetryPayload struct {
	OrderNumber string          `json:"order_number"`
	Attempt     int             `json:"attempt"`
	Raw         json.RawMessage `json:"raw"`
}

// DecodePayload memudahkan decode payload spesifik.
func DecodePayload[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}
