package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(userID uuid.UUID, number string, created time.Time) *orders.Order {
	id := uuid.New()
	return &orders.Order{
		ID:        id,
		Number:    number,
		UserID:    userID,
		Status:    orders.StatusPending,
		Total:     decimal.NewFromInt(10),
		Items:     []orders.OrderItem{{ID: uuid.New(), OrderID: id, ProductID: uuid.New(), SKU: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	o := newOrder(uuid.New(), "ORD-20250101-AAAAAAAA", time.Now())

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		require.NoError(t, tx.InsertOrder(ctx, o))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Order(ctx, o.ID, orders.LoadNone)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestInsertOrder_NumberTaken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	user := uuid.New()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, newOrder(user, "ORD-20250101-AAAAAAAA", time.Now()))
	}))
	err := s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertOrder(ctx, newOrder(user, "ORD-20250101-AAAAAAAA", time.Now()))
	})
	assert.ErrorIs(t, err, orders.ErrOrderNumberTaken)
}

func TestUpsertPayment_KeyedByTransactionID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	o := newOrder(uuid.New(), "ORD-20250101-BBBBBBBB", time.Now())

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.UpsertPayment(ctx, &orders.Payment{OrderID: o.ID, TransactionID: "trx-1", Status: orders.PaymentPending, Amount: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		if err := tx.UpsertPayment(ctx, &orders.Payment{OrderID: o.ID, TransactionID: "trx-1", Status: orders.PaymentSettlement, Amount: decimal.NewFromInt(12), RawPayload: []byte(`{}`)}); err != nil {
			return err
		}
		// zero amount keeps what is stored
		return tx.UpsertPayment(ctx, &orders.Payment{OrderID: o.ID, TransactionID: "trx-1", Status: orders.PaymentSettlement})
	}))

	got, err := s.Order(ctx, o.ID, orders.LoadAll)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	assert.Equal(t, orders.PaymentSettlement, got.Payments[0].Status)
	assert.True(t, got.Payments[0].Amount.Equal(decimal.NewFromInt(12)), got.Payments[0].Amount.String())
	assert.Len(t, got.Items, 1)
}

func TestOrdersByUser_NewestFirstPaged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	user := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		for i, n := range []string{"ORD-20250101-00000001", "ORD-20250101-00000002", "ORD-20250101-00000003"} {
			if err := tx.InsertOrder(ctx, newOrder(user, n, base.Add(time.Duration(i)*time.Hour))); err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, newOrder(uuid.New(), "ORD-20250101-00000004", base))
	}))

	page, err := s.OrdersByUser(ctx, user, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ORD-20250101-00000003", page[0].Number)
	assert.Equal(t, "ORD-20250101-00000002", page[1].Number)

	rest, err := s.OrdersByUser(ctx, user, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "ORD-20250101-00000001", rest[0].Number)
}
