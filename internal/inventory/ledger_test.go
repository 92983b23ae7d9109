package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-order-payments/internal/inventory"
	"github.com/ariefcatur/go-order-payments/internal/memstore"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, stock int) (*memstore.Store, uuid.UUID) {
	t.Helper()
	st := memstore.New()
	id := uuid.New()
	st.PutProduct(orders.Product{ID: id, SKU: "SKU-1", Name: "Kopi", Price: decimal.NewFromInt(25000), Stock: stock, Published: true})
	return st, id
}

func stockOf(t *testing.T, st *memstore.Store, id uuid.UUID) int {
	t.Helper()
	p, err := st.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestLedger_ReserveNeverOversells(t *testing.T) {
	t.Parallel()

	const stock, buyers = 7, 25
	st, id := seed(t, stock)
	m := metrics.New(prometheus.NewRegistry())
	l := inventory.NewLedger(nil, m)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
				return l.Reserve(ctx, tx, id, 1)
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, inventory.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	assert.EqualValues(t, buyers-stock, rejected.Load())
	assert.Equal(t, 0, stockOf(t, st, id))
	assert.Equal(t, float64(stock), testutil.ToFloat64(m.StockReservations.WithLabelValues("ok")))
	assert.Equal(t, float64(buyers-stock), testutil.ToFloat64(m.StockReservations.WithLabelValues("insufficient_stock")))
}

func TestLedger_Reserve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		qty       int
		wantErr   error
		wantStock int
	}{
		{name: "exact stock", qty: 5, wantStock: 0},
		{name: "partial", qty: 2, wantStock: 3},
		{name: "too many", qty: 6, wantErr: inventory.ErrInsufficientStock, wantStock: 5},
		{name: "zero", qty: 0, wantErr: inventory.ErrInvalidQuantity, wantStock: 5},
		{name: "negative", qty: -1, wantErr: inventory.ErrInvalidQuantity, wantStock: 5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, id := seed(t, 5)
			l := inventory.NewLedger(nil, nil)

			err := st.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
				return l.Reserve(ctx, tx, id, tt.qty)
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, stockOf(t, st, id))
		})
	}
}

func TestLedger_ReservePersistenceFailureKeepsStock(t *testing.T) {
	t.Parallel()

	st, id := seed(t, 5)
	boom := errors.New("disk full")
	st.FailOn("SetStock", boom)
	l := inventory.NewLedger(nil, nil)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return l.Reserve(ctx, tx, id, 2)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, stockOf(t, st, id))
}

func TestLedger_Release(t *testing.T) {
	t.Parallel()

	st, id := seed(t, 3)
	l := inventory.NewLedger(nil, nil)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		if err := l.Release(ctx, tx, id, 4); err != nil {
			return err
		}
		// missing products are skipped, not failed
		return l.Release(ctx, tx, uuid.New(), 2)
	})
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, st, id))
}
