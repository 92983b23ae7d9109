package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"go.uber.org/zap"
)

const retryProducer = "payment-webhook"

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) (bool, error)
}

// Retrier replays notifications whose reconciliation failed with a
// retryable error. Each attempt re-verifies with the gateway.
type Retrier struct {
	Reconciler  *Reconciler
	Events      orders.EventPublisher
	Dedup       Deduper
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Log         *zap.Logger
}

// ExpBackoff returns 1s, 2s, 4s ... capped at one minute.
func ExpBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return time.Minute
	}
	return time.Second << (attempt - 1)
}

func (r *Retrier) logger(ctx context.Context) *zap.Logger {
	base := r.Log
	if base == nil {
		base = zap.NewNop()
	}
	return logging.FromContext(ctx, base)
}

// Enqueue schedules another attempt for a notification.
func (r *Retrier) Enqueue(ctx context.Context, orderNumber string, raw []byte, attempt int) error {
	env, err := orders.NewEnvelope(orders.EventNotificationRetry, retryProducer, orderNumber, orders.NotificationRetryPayload{
		OrderNumber: orderNumber,
		Attempt:     attempt,
		Raw:         raw,
	})
	if err != nil {
		return err
	}
	return r.Events.Publish(ctx, orders.TopicNotificationRetry, orders.PartitionKey(orderNumber), env)
}

// Handle processes one retry envelope. A nil return means the message is
// done with, including when it was dropped; an error means it should be
// delivered again.
func (r *Retrier) Handle(ctx context.Context, env orders.Envelope) error {
	log := r.logger(ctx).With(zap.String("event_id", env.EventID))

	if r.Dedup != nil {
		seen, err := r.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			log.Warn("dedup_check_failed", zap.Error(err))
		} else if seen {
			log.Debug("notification_retry_duplicate")
			return nil
		}
	}

	p, err := orders.DecodePayload[orders.NotificationRetryPayload](env)
	if err != nil || p.OrderNumber == "" {
		log.Error("notification_retry_malformed", zap.Error(err))
		return nil
	}
	log = log.With(zap.String("order_number", p.OrderNumber), zap.Int("attempt", p.Attempt))

	if r.Backoff != nil {
		select {
		case <-time.After(r.Backoff(p.Attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err = r.Reconciler.Reconcile(ctx, p.OrderNumber)
	switch {
	case err == nil:
		log.Info("notification_retry_done")
	case apperr.Retryable(err) && p.Attempt < r.MaxAttempts:
		if err := r.Enqueue(ctx, p.OrderNumber, p.Raw, p.Attempt+1); err != nil {
			return err
		}
		log.Warn("notification_retry_requeued", zap.Error(err))
	case errors.Is(err, orders.ErrOrderNotFound):
		log.Warn("notification_retry_dropped", zap.Error(err))
	default:
		log.Error("notification_retry_dropped", zap.Error(err))
	}

	if r.Dedup != nil {
		if _, err := r.Dedup.Mark(ctx, env.EventID); err != nil {
			log.Warn("dedup_mark_failed", zap.Error(err))
		}
	}
	return nil
}
