package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInsufficientStock = apperr.New(apperr.ErrConflict, "insufficient_stock", "insufficient stock")
	ErrInvalidQuantity   = apperr.New(apperr.ErrValidation, "invalid_quantity", "quantity must be greater than zero")
)

// StockTx is the part of a store transaction the ledger works on.
// LockStock must hold the product row until the transaction ends
// (SELECT ... FOR UPDATE), so read-check-write below is serialized per product.
type StockTx interface {
	LockStock(ctx context.Context, productID uuid.UUID) (int, error)
	SetStock(ctx context.Context, productID uuid.UUID, stock int) error
}

type Ledger struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLedger(log *zap.Logger, m *metrics.Metrics) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{log: log.With(zap.String("component", "inventory_ledger")), metrics: m}
}

// Reserve decrements stock by qty inside tx. On ErrInsufficientStock nothing
// was written; any error must roll the transaction back.
func (l *Ledger) Reserve(ctx context.Context, tx StockTx, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		l.metrics.Reservation("invalid")
		return fmt.Errorf("%w: product %s qty %d", ErrInvalidQuantity, productID, qty)
	}

	stock, err := tx.LockStock(ctx, productID)
	if err != nil {
		l.metrics.Reservation("error")
		return err
	}
	if stock < qty {
		l.metrics.Reservation("insufficient_stock")
		logging.FromContext(ctx, l.log).Debug("stock_reservation_rejected",
			zap.String("product_id", productID.String()),
			zap.Int("requested", qty),
			zap.Int("available", stock),
		)
		return fmt.Errorf("%w: product %s requested %d, available %d", ErrInsufficientStock, productID, qty, stock)
	}

	if err := tx.SetStock(ctx, productID, stock-qty); err != nil {
		l.metrics.Reservation("error")
		return fmt.Errorf("inventory: decrement stock: %w", err)
	}
	l.metrics.Reservation("ok")
	return nil
}

// Release adds qty back. A product that no longer exists is skipped with a
// warning; only persistence failures are returned.
func (l *Ledger) Release(ctx context.Context, tx StockTx, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	logger := logging.FromContext(ctx, l.log)

	stock, err := tx.LockStock(ctx, productID)
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Warn("stock_release_skipped",
			zap.String("product_id", productID.String()),
			zap.Int("qty", qty),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.SetStock(ctx, productID, stock+qty); err != nil {
		return fmt.Errorf("inventory: restore stock: %w", err)
	}
	logger.Debug("stock_released",
		zap.String("product_id", productID.String()),
		zap.Int("qty", qty),
		zap.Int("stock", stock+qty),
	)
	return nil
}
