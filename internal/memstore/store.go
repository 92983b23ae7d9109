// Package memstore is an in-memory orders.Store. Transactions are
// serialized by one mutex and work on a copy of the state that replaces the
// live state only on commit, which gives the same all-or-nothing and
// row-lock guarantees the Postgres store gets from FOR UPDATE.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/google/uuid"
)

var ErrNegativeStock = apperr.New(apperr.ErrInternal, "stock_check_violation", "stock must not be negative")

type state struct {
	products     map[uuid.UUID]orders.Product
	orders       map[uuid.UUID]orders.Order
	numbers      map[string]uuid.UUID
	items        map[uuid.UUID][]orders.OrderItem
	payments     map[uuid.UUID]orders.Payment
	paymentsByTx map[string]uuid.UUID
}

func newState() *state {
	return &state{
		products:     map[uuid.UUID]orders.Product{},
		orders:       map[uuid.UUID]orders.Order{},
		numbers:      map[string]uuid.UUID{},
		items:        map[uuid.UUID][]orders.OrderItem{},
		payments:     map[uuid.UUID]orders.Payment{},
		paymentsByTx: map[string]uuid.UUID{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]orders.OrderItem(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.paymentsByTx {
		c.paymentsByTx[k] = v
	}
	return c
}

func (s *state) assemble(o orders.Order, load orders.Load) *orders.Order {
	out := o
	out.Items = nil
	out.Payments = nil
	if load.Has(orders.LoadItems) {
		out.Items = append([]orders.OrderItem(nil), s.items[o.ID]...)
	}
	if load.Has(orders.LoadPayments) {
		for _, p := range s.payments {
			if p.OrderID == o.ID {
				out.Payments = append(out.Payments, p)
			}
		}
		sort.Slice(out.Payments, func(i, j int) bool {
			return out.Payments[i].CreatedAt.Before(out.Payments[j].CreatedAt)
		})
	}
	return &out
}

type Store struct {
	txMu sync.Mutex // one writer at a time

	mu    sync.RWMutex
	state *state

	faultMu sync.Mutex
	faults  map[string]error

	now func() time.Time
}

func New() *Store {
	return &Store{state: newState(), faults: map[string]error{}, now: time.Now}
}

var _ orders.Store = (*Store)(nil)

// PutProduct inserts or replaces a product outside any transaction.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	s.state.products[p.ID] = p
}

// FailOn makes the named Tx method return err until cleared with a nil err.
// Names are the method names, e.g. "SetStock" or "InsertOrder".
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[op]
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{store: s, st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Order(_ context.Context, id uuid.UUID, load orders.Load) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.state.assemble(o, load), nil
}

func (s *Store) OrderByNumber(ctx context.Context, number string, load orders.Load) (*orders.Order, error) {
	s.mu.RLock()
	id, ok := s.state.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.Order(ctx, id, load)
}

func (s *Store) OrdersByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []orders.Order
	for _, o := range s.state.orders {
		if o.UserID == userID {
			list = append(list, *s.state.assemble(o, orders.LoadItems))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if offset >= len(list) {
		return []orders.Order{}, nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *Store) Product(_ context.Context, id uuid.UUID) (*orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) Products(_ context.Context) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []orders.Product{}
	for _, p := range s.state.products {
		if p.Published {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

type tx struct {
	store *Store
	st    *state
}

func (t *tx) LockStock(_ context.Context, productID uuid.UUID) (int, error) {
	if err := t.store.fault("LockStock"); err != nil {
		return 0, err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return 0, orders.ErrProductNotFound
	}
	return p.Stock, nil
}

func (t *tx) SetStock(_ context.Context, productID uuid.UUID, stock int) error {
	if err := t.store.fault("SetStock"); err != nil {
		return err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return orders.ErrProductNotFound
	}
	if stock < 0 {
		return fmt.Errorf("%w: product %s", ErrNegativeStock, productID)
	}
	p.Stock = stock
	p.UpdatedAt = t.store.now().UTC()
	t.st.products[productID] = p
	return nil
}

func (t *tx) Product(_ context.Context, id uuid.UUID) (*orders.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.store.fault("InsertOrder"); err != nil {
		return err
	}
	if _, taken := t.st.numbers[o.Number]; taken {
		return orders.ErrOrderNumberTaken
	}
	row := *o
	row.Items = nil
	row.Payments = nil
	t.st.orders[o.ID] = row
	t.st.numbers[o.Number] = o.ID
	t.st.items[o.ID] = append([]orders.OrderItem(nil), o.Items...)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id uuid.UUID, load orders.Load) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return t.st.assemble(o, load), nil
}

func (t *tx) LockOrderByNumber(ctx context.Context, number string, load orders.Load) (*orders.Order, error) {
	id, ok := t.st.numbers[number]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return t.LockOrder(ctx, id, load)
}

func (t *tx) SetOrderStatus(_ context.Context, id uuid.UUID, s orders.Status) error {
	if err := t.store.fault("SetOrderStatus"); err != nil {
		return err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if !s.Valid() {
		return fmt.Errorf("%w: %q", orders.ErrInvalidStatus, s)
	}
	o.Status = s
	o.UpdatedAt = t.store.now().UTC()
	t.st.orders[id] = o
	return nil
}

func (t *tx) PaymentByTransactionID(_ context.Context, transactionID string) (*orders.Payment, error) {
	id, ok := t.st.paymentsByTx[transactionID]
	if !ok {
		return nil, orders.ErrPaymentNotFound
	}
	p := t.st.payments[id]
	return &p, nil
}

func (t *tx) UpsertPayment(_ context.Context, p *orders.Payment) error {
	if err := t.store.fault("UpsertPayment"); err != nil {
		return err
	}
	now := t.store.now().UTC()
	if id, ok := t.st.paymentsByTx[p.TransactionID]; ok {
		cur := t.st.payments[id]
		cur.Status = p.Status
		if p.PaymentType != "" {
			cur.PaymentType = p.PaymentType
		}
		if !p.Amount.IsZero() {
			cur.Amount = p.Amount
		}
		if p.RawPayload != nil {
			cur.RawPayload = p.RawPayload
		}
		cur.UpdatedAt = now
		t.st.payments[id] = cur
		*p = cur
		return nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	t.st.payments[p.ID] = *p
	t.st.paymentsByTx[p.TransactionID] = p.ID
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *orders.Payment) error {
	if err := t.store.fault("UpdatePayment"); err != nil {
		return err
	}
	cur, ok := t.st.payments[p.ID]
	if !ok {
		return orders.ErrPaymentNotFound
	}
	if owner, taken := t.st.paymentsByTx[p.TransactionID]; taken && owner != p.ID {
		return apperr.New(apperr.ErrConflict, "duplicate_transaction_id", "transaction id already recorded")
	}
	delete(t.st.paymentsByTx, cur.TransactionID)
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = t.store.now().UTC()
	t.st.payments[p.ID] = *p
	t.st.paymentsByTx[p.TransactionID] = p.ID
	return nil
}
