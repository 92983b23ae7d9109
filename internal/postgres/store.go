package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	productCols = `id, sku, name, price, stock, is_published, created_at, updated_at`
	orderCols   = `id, order_number, user_id, status, total_amount, shipping_address, notes, created_at, updated_at`
	itemCols    = `id, order_id, product_id, sku_snapshot, name_snapshot, price_snapshot, quantity`
	paymentCols = `id, order_id, transaction_id, payment_type, transaction_status, amount, raw_payload, created_at, updated_at`

	pgUniqueViolation = "23505"
)

var ErrDuplicateTransaction = apperr.New(apperr.ErrConflict, "duplicate_transaction_id", "transaction id already recorded")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &storeTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Order(ctx context.Context, id uuid.UUID, load orders.Load) (*orders.Order, error) {
	return getOrder(ctx, s.DB, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id, load)
}

func (s *Store) OrderByNumber(ctx context.Context, number string, load orders.Load) (*orders.Order, error) {
	return getOrder(ctx, s.DB, `SELECT `+orderCols+` FROM orders WHERE order_number=$1`, number, load)
}

func (s *Store) OrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderCols+` FROM orders
	                              WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.Order, error) {
		o, err := scanOrder(r)
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, err
	}
	ptrs := make([]*orders.Order, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	if err := loadRelations(ctx, s.DB, ptrs, orders.LoadItems); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) Product(ctx context.Context, id uuid.UUID) (*orders.Product, error) {
	return getProduct(ctx, s.DB, id)
}

func (s *Store) Products(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE is_published ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertProduct is used by seeding and tests; the catalog itself is owned
// elsewhere.
func (s *Store) UpsertProduct(ctx context.Context, p orders.Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, sku, name, price, stock, is_published)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET sku=EXCLUDED.sku, name=EXCLUDED.name, price=EXCLUDED.price,
		    stock=EXCLUDED.stock, is_published=EXCLUDED.is_published, updated_at=now()`,
		p.ID, p.SKU, p.Name, numeric(p.Price), p.Stock, p.Published)
	return err
}

type storeTx struct{ tx pgx.Tx }

// LockStock: lock baris product sampai commit/rollback.
func (t *storeTx) LockStock(ctx context.Context, productID uuid.UUID) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", orders.ErrProductNotFound, productID)
	}
	return stock, err
}

func (t *storeTx) SetStock(ctx context.Context, productID uuid.UUID, stock int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, productID)
	}
	return nil
}

func (t *storeTx) Product(ctx context.Context, id uuid.UUID) (*orders.Product, error) {
	return getProduct(ctx, t.tx, id)
}

// InsertOrder writes the order and its items under a savepoint, so a number
// collision leaves the outer transaction usable for another attempt.
func (t *storeTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	_, err = sp.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, total_amount, shipping_address, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.Number, o.UserID, string(o.Status), numeric(o.Total), o.ShippingAddress, o.Notes, o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err, "orders_order_number_key") {
		return orders.ErrOrderNumberTaken
	}
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := sp.Exec(ctx, `
			INSERT INTO order_items(`+itemCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, o.ID, it.ProductID, it.SKU, it.Name, numeric(it.UnitPrice), it.Quantity,
		); err != nil {
			return err
		}
	}
	return sp.Commit(ctx)
}

func (t *storeTx) LockOrder(ctx context.Context, id uuid.UUID, load orders.Load) (*orders.Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id, load)
}

func (t *storeTx) LockOrderByNumber(ctx context.Context, number string, load orders.Load) (*orders.Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderCols+` FROM orders WHERE order_number=$1 FOR UPDATE`, number, load)
}

func (t *storeTx) SetOrderStatus(ctx context.Context, id uuid.UUID, s orders.Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(s))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (t *storeTx) PaymentByTransactionID(ctx context.Context, transactionID string) (*orders.Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE transaction_id=$1 FOR UPDATE`, transactionID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrPaymentNotFound
	}
	return p, err
}

// UpsertPayment relies on the unique transaction_id: a concurrent duplicate
// delivery blocks on the conflicting row and then updates it.
func (t *storeTx) UpsertPayment(ctx context.Context, p *orders.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO payments(id, order_id, transaction_id, payment_type, transaction_status, amount, raw_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (transaction_id) DO UPDATE SET
		    transaction_status = EXCLUDED.transaction_status,
		    payment_type       = COALESCE(NULLIF(EXCLUDED.payment_type, ''), payments.payment_type),
		    amount             = CASE WHEN EXCLUDED.amount <> 0 THEN EXCLUDED.amount ELSE payments.amount END,
		    raw_payload        = COALESCE(EXCLUDED.raw_payload, payments.raw_payload),
		    updated_at         = now()
		RETURNING `+paymentCols,
		p.ID, p.OrderID, p.TransactionID, p.PaymentType, string(p.Status), numeric(p.Amount), rawJSON(p.RawPayload))
	got, err := scanPayment(row)
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

func (t *storeTx) UpdatePayment(ctx context.Context, p *orders.Payment) error {
	row := t.tx.QueryRow(ctx, `
		UPDATE payments SET transaction_id=$2, payment_type=$3, transaction_status=$4, amount=$5,
		    raw_payload=$6, updated_at=now()
		WHERE id=$1
		RETURNING `+paymentCols,
		p.ID, p.TransactionID, p.PaymentType, string(p.Status), numeric(p.Amount), rawJSON(p.RawPayload))
	got, err := scanPayment(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return orders.ErrPaymentNotFound
	case isUniqueViolation(err, "payments_transaction_id_key"):
		return ErrDuplicateTransaction
	case err != nil:
		return err
	}
	*p = *got
	return nil
}

func getProduct(ctx context.Context, q querier, id uuid.UUID) (*orders.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return p, err
}

func getOrder(ctx context.Context, q querier, sql string, arg any, load orders.Load) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadRelations(ctx, q, []*orders.Order{o}, load); err != nil {
		return nil, err
	}
	return o, nil
}

// loadRelations fills exactly the relations named by load, one query per
// relation for the whole batch.
func loadRelations(ctx context.Context, q querier, list []*orders.Order, load orders.Load) error {
	if len(list) == 0 || load == orders.LoadNone {
		return nil
	}
	ids := make([]uuid.UUID, len(list))
	byID := make(map[uuid.UUID]*orders.Order, len(list))
	for i, o := range list {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []orders.OrderItem{}
	}

	if load.Has(orders.LoadItems) {
		rows, err := q.Query(ctx, `SELECT `+itemCols+` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				it    orders.OrderItem
				price pgtype.Numeric
			)
			if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name, &price, &it.Quantity); err != nil {
				return err
			}
			it.UnitPrice = toDecimal(price)
			o := byID[it.OrderID]
			o.Items = append(o.Items, it)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
	}

	if load.Has(orders.LoadPayments) {
		rows, err := q.Query(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id = ANY($1) ORDER BY created_at`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPayment(rows)
			if err != nil {
				return err
			}
			o := byID[p.OrderID]
			o.Payments = append(o.Payments, *p)
		}
		return rows.Err()
	}
	return nil
}

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var (
		p     orders.Product
		price pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Stock, &p.Published, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Price = toDecimal(price)
	return &p, nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
		total  pgtype.Numeric
	)
	if err := row.Scan(&o.ID, &o.Number, &o.UserID, &status, &total, &o.ShippingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.Total = toDecimal(total)
	return &o, nil
}

func scanPayment(row pgx.Row) (*orders.Payment, error) {
	var (
		p      orders.Payment
		status string
		amount pgtype.Numeric
		raw    []byte
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.PaymentType, &status, &amount, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = orders.PaymentStatus(status)
	p.Amount = toDecimal(amount)
	p.RawPayload = raw
	return &p, nil
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func toDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// rawJSON keeps an absent payload NULL instead of the JSON literal null.
func rawJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}
