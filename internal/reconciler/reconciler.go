// Package reconciler converges local order and payment state with the
// provider after a payment notification. Inbound payloads are only a hint:
// every run re-reads the status from the gateway.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/gateway"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-payments/internal/reconciler")

// sharedFetchTimeout bounds a coalesced gateway lookup; the client applies
// its own, usually shorter, HTTP timeout inside it.
const sharedFetchTimeout = 30 * time.Second

var ErrInvalidNotification = apperr.New(apperr.ErrValidation, "invalid_notification", "notification has no order reference")

type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderNumber string) (*gateway.VerifiedStatus, error)
}

// Outcome says what a reconciliation did to the order.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeNoop         Outcome = "noop"
	OutcomeUnmapped     Outcome = "unmapped"
)

type Result struct {
	Order    *orders.Order
	Payment  orders.Payment
	Verified *gateway.VerifiedStatus
	Outcome  Outcome
}

type Reconciler struct {
	store   orders.Store
	orders  *orders.Service
	gateway StatusFetcher
	log     *zap.Logger
	metrics *metrics.Metrics

	lookups singleflight.Group
}

func New(store orders.Store, svc *orders.Service, gw StatusFetcher, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:   store,
		orders:  svc,
		gateway: gw,
		log:     log.With(zap.String("component", "reconciler")),
		metrics: m,
	}
}

// OrderReference extracts order_id from a provider notification.
func OrderReference(raw []byte) (string, error) {
	var n struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	ref := strings.TrimSpace(n.OrderID)
	if ref == "" {
		return "", ErrInvalidNotification
	}
	if !orders.ValidOrderNumber(ref) {
		return "", fmt.Errorf("%w: malformed order reference", ErrInvalidNotification)
	}
	return ref, nil
}

// HandleNotification reconciles the order a raw notification points at.
func (r *Reconciler) HandleNotification(ctx context.Context, raw []byte) (*Result, error) {
	ref, err := OrderReference(raw)
	if err != nil {
		r.metrics.Notification("unknown", apperr.CodeOf(err))
		return nil, err
	}
	return r.Reconcile(ctx, ref)
}

// Reconcile verifies the payment state of orderNumber with the gateway and
// applies it in one transaction: payment upsert, order transition and any
// stock release commit together or not at all. Re-running with the same
// verified status is a no-op on the order.
func (r *Reconciler) Reconcile(ctx context.Context, orderNumber string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("order.number", orderNumber))
	log := logging.FromContext(ctx, r.log).With(zap.String("order_number", orderNumber))

	// never send a reference we could not have issued to the gateway
	if !orders.ValidOrderNumber(orderNumber) {
		r.metrics.Notification("unverified", apperr.CodeOf(orders.ErrOrderNotFound))
		return nil, orders.ErrOrderNotFound
	}

	vs, err := r.fetch(ctx, orderNumber)
	if err != nil {
		r.metrics.Notification("unverified", apperr.CodeOf(err))
		log.Warn("reconcile_verify_failed", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}
	log = log.With(
		zap.String("transaction_id", vs.TransactionID),
		zap.String("verified_status", string(vs.Status)),
	)

	res := &Result{Verified: vs}
	var change orders.StatusChange
	err = r.store.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.LockOrderByNumber(ctx, orderNumber, orders.LoadItems)
		if err != nil {
			return err
		}
		pay, err := upsertPayment(ctx, tx, o, vs)
		if err != nil {
			return err
		}
		change, res.Outcome, err = r.apply(ctx, tx, o, vs.Status)
		if err != nil {
			return err
		}
		res.Order = o
		res.Payment = *pay
		return nil
	})
	if err != nil {
		r.metrics.Notification(string(vs.Status), apperr.CodeOf(err))
		if errors.Is(err, orders.ErrOrderNotFound) {
			log.Warn("reconcile_order_not_found")
		} else {
			log.Error("reconcile_failed", zap.Error(err))
		}
		span.RecordError(err)
		return nil, err
	}

	r.metrics.Notification(string(vs.Status), string(res.Outcome))
	if res.Outcome == OutcomeUnmapped {
		log.Warn("reconcile_unmapped_status", zap.String("order_status", string(res.Order.Status)))
	} else {
		log.Info("reconcile_done",
			zap.String("outcome", string(res.Outcome)),
			zap.String("order_status", string(res.Order.Status)),
		)
	}

	r.orders.Committed(ctx, change)
	r.orders.Publish(ctx, orders.TopicPaymentUpdated, orders.EventPaymentUpdated, orderNumber, orders.PaymentUpdatedPayload{
		OrderID:           res.Order.ID.String(),
		OrderNumber:       orderNumber,
		TransactionID:     res.Payment.TransactionID,
		TransactionStatus: res.Payment.Status,
		PaymentType:       res.Payment.PaymentType,
	})
	return res, nil
}

// fetch coalesces concurrent lookups for the same order number. The shared
// call runs detached from any one caller's deadline; each caller still
// stops waiting when its own ctx is done.
func (r *Reconciler) fetch(ctx context.Context, orderNumber string) (*gateway.VerifiedStatus, error) {
	ch := r.lookups.DoChan(orderNumber, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return r.gateway.FetchStatus(fctx, orderNumber)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gateway.VerifiedStatus), nil
	}
}

// apply maps a verified payment status onto the order. It only moves along
// edges of the transition table and abstains when the order has already
// moved on, so a settlement that loses a race with a cancel stays CANCELED.
func (r *Reconciler) apply(ctx context.Context, tx orders.Tx, o *orders.Order, status orders.PaymentStatus) (orders.StatusChange, Outcome, error) {
	var to orders.Status
	switch status {
	case orders.PaymentSettlement, orders.PaymentCapture:
		if o.Status == orders.StatusPending || o.Status == orders.StatusPendingPayment {
			to = orders.StatusPaid
		}
	case orders.PaymentDeny, orders.PaymentCancel, orders.PaymentExpire, orders.PaymentFailure:
		if o.Status == orders.StatusPendingPayment {
			to = orders.StatusCanceled
		}
	case orders.PaymentPending:
		if o.Status == orders.StatusPending {
			to = orders.StatusPendingPayment
		}
	default:
		return orders.StatusChange{}, OutcomeUnmapped, nil
	}
	if to == "" {
		return orders.StatusChange{}, OutcomeNoop, nil
	}

	change, err := r.orders.Transition(ctx, tx, o, to, "payment_"+string(status))
	if err != nil {
		return orders.StatusChange{}, "", err
	}
	return change, OutcomeTransitioned, nil
}

// upsertPayment keeps one row per gateway transaction id. The row written at
// charge time is keyed by the order number until the provider assigns an id;
// the first verified status re-keys it instead of adding a second row.
func upsertPayment(ctx context.Context, tx orders.Tx, o *orders.Order, vs *gateway.VerifiedStatus) (*orders.Payment, error) {
	txID := vs.TransactionID
	if txID == "" {
		txID = o.Number
	}

	p, err := tx.PaymentByTransactionID(ctx, txID)
	if errors.Is(err, orders.ErrPaymentNotFound) && txID != o.Number {
		p, err = tx.PaymentByTransactionID(ctx, o.Number)
		if err == nil {
			p.TransactionID = txID
			fill(p, vs)
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrPaymentNotFound):
		p = &orders.Payment{OrderID: o.ID, TransactionID: txID, Amount: o.Total}
	default:
		return nil, err
	}

	fill(p, vs)
	if err := tx.UpsertPayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func fill(p *orders.Payment, vs *gateway.VerifiedStatus) {
	p.Status = vs.TransactionStatus
	if vs.PaymentType != "" {
		p.PaymentType = vs.PaymentType
	}
	if !vs.GrossAmount.IsZero() {
		p.Amount = vs.GrossAmount
	}
	p.RawPayload = vs.Raw
}
