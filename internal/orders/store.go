package orders

import (
	"context"

	"github.com/ariefcatur/go-order-payments/internal/inventory"
	"github.com/google/uuid"
)

// Load declares which relations an order lookup fills in.
type Load uint8

const (
	LoadItems Load = 1 << iota
	LoadPayments

	LoadNone Load = 0
	LoadAll       = LoadItems | LoadPayments
)

func (l Load) Has(f Load) bool { return l&f != 0 }

// Tx is one durable transaction. Lock* methods hold the row until commit or
// rollback, so a second writer observes the committed state.
type Tx interface {
	inventory.StockTx

	Product(ctx context.Context, id uuid.UUID) (*Product, error)

	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id uuid.UUID, load Load) (*Order, error)
	LockOrderByNumber(ctx context.Context, number string, load Load) (*Order, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, s Status) error

	PaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	// UpsertPayment inserts or, on a transaction id conflict, updates status,
	// type and raw payload of the existing row.
	UpsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}

type Store interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Order(ctx context.Context, id uuid.UUID, load Load) (*Order, error)
	OrderByNumber(ctx context.Context, number string, load Load) (*Order, error)
	OrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error)
	Product(ctx context.Context, id uuid.UUID) (*Product, error)
	// Products lists published products ordered by SKU.
	Products(ctx context.Context) ([]Product, error)
}

// CachedStatus is what the status cache keeps per order number.
type CachedStatus struct {
	Status Status    `json:"status"`
	UserID uuid.UUID `json:"user_id"`
}

type StatusCache interface {
	Get(ctx context.Context, number string) (CachedStatus, bool, error)
	Set(ctx context.Context, number string, s CachedStatus) error
	Invalidate(ctx context.Context, number string) error
}
