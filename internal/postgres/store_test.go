package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/inventory"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pgx5://u:p@db:5432/orders?sslmode=disable", migrateURL("postgres://u:p@db:5432/orders?sslmode=disable"))
	assert.Equal(t, "pgx5://db/orders", migrateURL("postgresql://db/orders"))
	assert.Equal(t, "pgx5://db/orders", migrateURL("pgx5://db/orders"))
}

func TestDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"0", "25000", "1999.99", "0.01", "-3.5"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(toDecimal(numeric(d))), s)
	}
}

// newIntegrationStore needs a disposable database; it drops every table.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	require.NoError(t, MigrateDown(dsn))
	require.NoError(t, Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, dsn, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &Store{DB: pool}
}

func TestStore_Integration(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	productID := uuid.New()
	require.NoError(t, s.UpsertProduct(ctx, orders.Product{
		ID: productID, SKU: "SKU-1", Name: "Kopi", Price: decimal.NewFromInt(25000), Stock: 10, Published: true,
	}))

	svc := &orders.Service{Store: s, Ledger: inventory.NewLedger(nil, nil)}

	t.Run("concurrent orders never oversell", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.CreateOrder(ctx, orders.Principal{UserID: uuid.New()}, orders.CreateOrderInput{
					Items: []orders.ItemInput{{ProductID: productID, Qty: 6}},
				})
			}(i)
		}
		wg.Wait()

		var failed int
		for _, err := range errs {
			if err != nil {
				require.True(t, errors.Is(err, inventory.ErrInsufficientStock), err)
				failed++
			}
		}
		assert.Equal(t, 1, failed)
		p, err := s.Product(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Stock)
	})

	t.Run("order round trip and payment upsert", func(t *testing.T) {
		user := orders.Principal{UserID: uuid.New()}
		o, err := svc.CreateOrder(ctx, user, orders.CreateOrderInput{
			Items:           []orders.ItemInput{{ProductID: productID, Qty: 2}},
			ShippingAddress: orders.ShippingAddress{FullName: "Budi", City: "Bandung"},
		})
		require.NoError(t, err)

		got, err := s.OrderByNumber(ctx, o.Number, orders.LoadAll)
		require.NoError(t, err)
		assert.Equal(t, "Bandung", got.ShippingAddress.City)
		assert.True(t, got.Total.Equal(decimal.NewFromInt(50000)))
		require.Len(t, got.Items, 1)

		verified := o.Total.Add(decimal.NewFromInt(1))
		for _, st := range []orders.PaymentStatus{orders.PaymentPending, orders.PaymentSettlement} {
			amount := o.Total
			if st == orders.PaymentSettlement {
				amount = verified
			}
			require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
				return tx.UpsertPayment(ctx, &orders.Payment{
					OrderID: o.ID, TransactionID: "trx-" + o.Number, Status: st, Amount: amount, RawPayload: []byte(`{"a":1}`),
				})
			}))
		}
		got, err = s.Order(ctx, o.ID, orders.LoadPayments)
		require.NoError(t, err)
		require.Len(t, got.Payments, 1)
		assert.Equal(t, orders.PaymentSettlement, got.Payments[0].Status)
		assert.True(t, got.Payments[0].Amount.Equal(verified))

		_, err = svc.CancelOrder(ctx, user, o.ID)
		require.NoError(t, err)
		p, err := s.Product(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Stock)
	})
}
