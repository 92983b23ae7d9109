package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/gateway"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/reconciler"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-payments/internal/payments")

var (
	ErrInvalidOrderState = apperr.New(apperr.ErrConflict, "invalid_order_state", "order status does not allow payment")
	ErrDuplicatePayment  = apperr.New(apperr.ErrConflict, "duplicate_payment", "payment already exists for this order")
	ErrNoPayment         = apperr.New(apperr.ErrNotFound, "payment_not_found", "no payment found for this order")
)

const placeholderPaymentType = "snap"

type Charger interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
}

type Verifier interface {
	Reconcile(ctx context.Context, orderNumber string) (*reconciler.Result, error)
}

type Service struct {
	Store      orders.Store
	Orders     *orders.Service
	Gateway    Charger
	Reconciler Verifier
	Log        *zap.Logger
}

type ChargeResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Token       string    `json:"snap_token"`
	RedirectURL string    `json:"redirect_url"`
}

type StatusView struct {
	OrderID         uuid.UUID            `json:"order_id"`
	OrderNumber     string               `json:"order_number"`
	OrderStatus     orders.Status        `json:"order_status"`
	PaymentStatus   orders.PaymentStatus `json:"payment_status"`
	PaymentType     string               `json:"payment_type,omitempty"`
	Amount          decimal.Decimal      `json:"amount"`
	TransactionTime string               `json:"transaction_time,omitempty"`
	SettlementTime  string               `json:"settlement_time,omitempty"`
	Stale           bool                 `json:"stale"`
	Error           string               `json:"error,omitempty"`
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	base := s.Log
	if base == nil {
		base = zap.NewNop()
	}
	return logging.FromContext(ctx, base)
}

// chargeable rejects orders that cannot take a new charge.
func chargeable(o *orders.Order) error {
	if o.Status != orders.StatusPending && o.Status != orders.StatusPendingPayment {
		return fmt.Errorf("%w: order is %s", ErrInvalidOrderState, o.Status)
	}
	for _, p := range o.Payments {
		if p.Status.Open() {
			return fmt.Errorf("%w: %s is %s", ErrDuplicatePayment, p.TransactionID, p.Status)
		}
	}
	return nil
}

// CreateCharge opens a gateway transaction for the caller's order. The
// gateway call happens outside any transaction; local state is then
// re-checked under the order lock, so a concurrent charge or cancel that
// won the race makes this one fail without writing anything.
func (s *Service) CreateCharge(ctx context.Context, p orders.Principal, orderID uuid.UUID) (*ChargeResult, error) {
	ctx, span := tracer.Start(ctx, "payments.CreateCharge")
	defer span.End()
	log := s.logger(ctx).With(zap.String("order_id", orderID.String()))

	o, err := s.Store.Order(ctx, orderID, orders.LoadAll)
	if err != nil {
		return nil, err
	}
	if !p.Owns(o) {
		return nil, orders.ErrForbidden
	}
	if err := chargeable(o); err != nil {
		return nil, err
	}

	charge, err := s.Gateway.CreateCharge(ctx, gateway.ChargeRequest{
		OrderNumber: o.Number,
		GrossAmount: o.Total,
		Items:       o.Items,
		Customer:    gateway.Customer{Email: p.Email, Address: o.ShippingAddress},
	})
	if err != nil {
		log.Warn("charge_create_failed", zap.String("code", apperr.CodeOf(err)), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	var change orders.StatusChange
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		locked, err := tx.LockOrder(ctx, orderID, orders.LoadAll)
		if err != nil {
			return err
		}
		if err := chargeable(locked); err != nil {
			return err
		}
		if err := tx.UpsertPayment(ctx, &orders.Payment{
			OrderID:       locked.ID,
			TransactionID: locked.Number,
			PaymentType:   placeholderPaymentType,
			Status:        orders.PaymentPending,
			Amount:        locked.Total,
			RawPayload:    charge.Raw,
		}); err != nil {
			return err
		}
		if locked.Status == orders.StatusPending {
			change, err = s.Orders.Transition(ctx, tx, locked, orders.StatusPendingPayment, "charge_created")
		}
		return err
	})
	if err != nil {
		log.Warn("charge_record_failed", zap.String("code", apperr.CodeOf(err)), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}
	s.Orders.Committed(ctx, change)

	log.Info("charge_created", zap.String("order_number", o.Number))
	return &ChargeResult{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Token:       charge.Token,
		RedirectURL: charge.RedirectURL,
	}, nil
}

// Status re-verifies the order's payment through the reconciler. If the
// gateway cannot answer, the stored state is returned marked stale.
func (s *Service) Status(ctx context.Context, p orders.Principal, orderID uuid.UUID) (*StatusView, error) {
	ctx, span := tracer.Start(ctx, "payments.Status")
	defer span.End()

	o, err := s.Store.Order(ctx, orderID, orders.LoadPayments)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(o) {
		return nil, orders.ErrForbidden
	}
	latest := o.LatestPayment()
	if latest == nil {
		return nil, ErrNoPayment
	}

	res, err := s.Reconciler.Reconcile(ctx, o.Number)
	if err != nil {
		if !errors.Is(err, gateway.ErrUnavailable) && !errors.Is(err, gateway.ErrInvalidRequest) {
			return nil, err
		}
		s.logger(ctx).Warn("payment_status_stale",
			zap.String("order_number", o.Number),
			zap.String("code", apperr.CodeOf(err)),
		)
		return &StatusView{
			OrderID:       o.ID,
			OrderNumber:   o.Number,
			OrderStatus:   o.Status,
			PaymentStatus: latest.Status,
			PaymentType:   latest.PaymentType,
			Amount:        latest.Amount,
			Stale:         true,
			Error:         "could not fetch fresh status: " + apperr.CodeOf(err),
		}, nil
	}

	return &StatusView{
		OrderID:         res.Order.ID,
		OrderNumber:     res.Order.Number,
		OrderStatus:     res.Order.Status,
		PaymentStatus:   res.Payment.Status,
		PaymentType:     res.Payment.PaymentType,
		Amount:          res.Payment.Amount,
		TransactionTime: res.Verified.TransactionTime,
		SettlementTime:  res.Verified.SettlementTime,
	}, nil
}
