package orders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/inventory"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxNumberAttempts = 5
	defaultPageSize   = 20
	maxPageSize       = 100
	producerName      = "order-api"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-payments/internal/orders")

type ItemInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Qty       int       `json:"quantity"`
}

type CreateOrderInput struct {
	Items           []ItemInput     `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Notes           string          `json:"notes"`
}

// StatusChange describes a committed transition; it drives cache
// invalidation and the OrderStatusChanged event.
type StatusChange struct {
	OrderID uuid.UUID
	Number  string
	From    Status
	To      Status
	Reason  string
}

// Service is the order lifecycle manager. Store and Ledger are required;
// the rest are optional.
type Service struct {
	Store   Store
	Ledger  *inventory.Ledger
	Events  EventPublisher
	Cache   StatusCache
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	base := s.Log
	if base == nil {
		base = zap.NewNop()
	}
	return logging.FromContext(ctx, base)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) CreateOrder(ctx context.Context, p Principal, in CreateOrderInput) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if len(in.Items) == 0 {
		s.Metrics.OrderCreated(ErrEmptyCart.Code)
		return nil, ErrEmptyCart
	}
	for _, it := range in.Items {
		if it.ProductID == uuid.Nil || it.Qty <= 0 {
			s.Metrics.OrderCreated(ErrInvalidItem.Code)
			return nil, fmt.Errorf("%w: product %s qty %d", ErrInvalidItem, it.ProductID, it.Qty)
		}
	}

	var created *Order
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		o := &Order{
			ID:              uuid.New(),
			UserID:          p.UserID,
			Status:          StatusPending,
			ShippingAddress: in.ShippingAddress,
			Notes:           in.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		total := decimal.Zero
		for _, it := range in.Items {
			prod, err := tx.Product(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if !prod.Published {
				return fmt.Errorf("%w: %s", ErrProductUnpublished, prod.SKU)
			}
			item := OrderItem{
				ID:        uuid.New(),
				OrderID:   o.ID,
				ProductID: prod.ID,
				SKU:       prod.SKU,
				Name:      prod.Name,
				UnitPrice: prod.Price,
				Quantity:  it.Qty,
			}
			total = total.Add(item.LineTotal())
			o.Items = append(o.Items, item)
		}
		for _, r := range stockPlan(o.Items) {
			if err := s.Ledger.Reserve(ctx, tx, r.productID, r.qty); err != nil {
				return err
			}
		}
		o.Total = total

		for attempt := 1; ; attempt++ {
			num, err := NewOrderNumber(now)
			if err != nil {
				return fmt.Errorf("orders: generate number: %w", err)
			}
			o.Number = num
			err = tx.InsertOrder(ctx, o)
			if errors.Is(err, ErrOrderNumberTaken) && attempt < maxNumberAttempts {
				continue
			}
			if err != nil {
				return err
			}
			break
		}
		created = o
		return nil
	})
	if err != nil {
		s.Metrics.OrderCreated(apperr.CodeOf(err))
		span.RecordError(err)
		s.logger(ctx).Info("order_create_failed",
			zap.String("user_id", p.UserID.String()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.Metrics.OrderCreated("ok")
	span.SetAttributes(attribute.String("order.number", created.Number))
	s.logger(ctx).Info("order_created",
		zap.String("order_id", created.ID.String()),
		zap.String("order_number", created.Number),
		zap.Int("items", len(created.Items)),
		zap.String("total", created.Total.StringFixed(2)),
	)
	s.publishCreated(ctx, created)
	return created, nil
}

// CancelOrder releases every item's stock and marks the order CANCELED in
// one transaction. Only the owner or an admin may cancel, and only while the
// order is PENDING or PENDING_PAYMENT.
func (s *Service) CancelOrder(ctx context.Context, p Principal, id uuid.UUID) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	var (
		out    *Order
		change StatusChange
	)
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id, LoadItems)
		if err != nil {
			return err
		}
		if !p.CanAccess(o) {
			return ErrForbidden
		}
		if !o.Status.Cancelable() {
			return fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidState, o.Status)
		}
		change, err = s.Transition(ctx, tx, o, StatusCanceled, "canceled_by_user")
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.Committed(ctx, change)
	return out, nil
}

// UpdateStatus is the administrative status override. It still goes through
// the transition table, so a terminal order is never revived.
func (s *Service) UpdateStatus(ctx context.Context, p Principal, id uuid.UUID, raw string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateStatus", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	if !p.IsAdmin {
		return nil, ErrForbidden
	}
	to, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}

	var (
		out    *Order
		change StatusChange
	)
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id, LoadItems)
		if err != nil {
			return err
		}
		change, err = s.Transition(ctx, tx, o, to, "admin_update")
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.Committed(ctx, change)
	return out, nil
}

// Transition moves a locked order to `to` inside tx. Moving to the current
// status is a no-op and returns a zero StatusChange. A move to CANCELED
// releases every item's stock first; o must carry its items.
func (s *Service) Transition(ctx context.Context, tx Tx, o *Order, to Status, reason string) (StatusChange, error) {
	if o.Status == to {
		return StatusChange{}, nil
	}
	if !CanTransition(o.Status, to) {
		return StatusChange{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, o.Status, to)
	}
	if to == StatusCanceled {
		for _, r := range stockPlan(o.Items) {
			if err := s.Ledger.Release(ctx, tx, r.productID, r.qty); err != nil {
				return StatusChange{}, err
			}
		}
	}
	if err := tx.SetOrderStatus(ctx, o.ID, to); err != nil {
		return StatusChange{}, err
	}
	change := StatusChange{OrderID: o.ID, Number: o.Number, From: o.Status, To: to, Reason: reason}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	return change, nil
}

type stockLine struct {
	productID uuid.UUID
	qty       int
}

// stockPlan merges lines per product and sorts them by product id, so every
// transaction takes stock row locks in the same order.
func stockPlan(items []OrderItem) []stockLine {
	idx := make(map[uuid.UUID]int, len(items))
	out := make([]stockLine, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].qty += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, stockLine{productID: it.ProductID, qty: it.Quantity})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].productID[:], out[j].productID[:]) < 0
	})
	return out
}

// Committed runs the after-commit side effects of transitions. Failures are
// logged only.
func (s *Service) Committed(ctx context.Context, changes ...StatusChange) {
	for _, c := range changes {
		if c.To == "" {
			continue
		}
		log := s.logger(ctx).With(
			zap.String("order_id", c.OrderID.String()),
			zap.String("order_number", c.Number),
		)
		log.Info("order_status_changed",
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)),
			zap.String("reason", c.Reason),
		)
		if s.Cache != nil {
			if err := s.Cache.Invalidate(ctx, c.Number); err != nil {
				log.Warn("status_cache_invalidate_failed", zap.Error(err))
			}
		}
		s.Publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, c.Number, OrderStatusChangedPayload{
			OrderID:     c.OrderID.String(),
			OrderNumber: c.Number,
			From:        c.From,
			To:          c.To,
			Reason:      c.Reason,
		})
	}
}

func (s *Service) GetOrder(ctx context.Context, p Principal, id uuid.UUID) (*Order, error) {
	o, err := s.Store.Order(ctx, id, LoadAll)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(o) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) GetOrderByNumber(ctx context.Context, p Principal, number string) (*Order, error) {
	if !ValidOrderNumber(number) {
		return nil, ErrOrderNotFound
	}
	o, err := s.Store.OrderByNumber(ctx, number, LoadAll)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// OrderStatus reads through the status cache. A miss is filled while the
// order row is locked: a transition racing with the fill commits after it,
// and its invalidation then removes whatever the fill wrote.
func (s *Service) OrderStatus(ctx context.Context, p Principal, number string) (Status, error) {
	if s.Cache != nil {
		cs, ok, err := s.Cache.Get(ctx, number)
		if err != nil {
			s.logger(ctx).Warn("status_cache_get_failed", zap.String("order_number", number), zap.Error(err))
		}
		if ok {
			if !p.IsAdmin && cs.UserID != p.UserID {
				return "", ErrForbidden
			}
			return cs.Status, nil
		}
	}

	if !ValidOrderNumber(number) {
		return "", ErrOrderNotFound
	}
	if s.Cache == nil {
		o, err := s.Store.OrderByNumber(ctx, number, LoadNone)
		if err != nil {
			return "", err
		}
		if !p.CanAccess(o) {
			return "", ErrForbidden
		}
		return o.Status, nil
	}

	var st Status
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrderByNumber(ctx, number, LoadNone)
		if err != nil {
			return err
		}
		if !p.CanAccess(o) {
			return ErrForbidden
		}
		st = o.Status
		if err := s.Cache.Set(ctx, number, CachedStatus{Status: o.Status, UserID: o.UserID}); err != nil {
			s.logger(ctx).Warn("status_cache_set_failed", zap.String("order_number", number), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return st, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, p Principal, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.OrdersByUser(ctx, p.UserID, limit, offset)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.Products(ctx)
}

func (s *Service) publishCreated(ctx context.Context, o *Order) {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{
			ProductID: it.ProductID.String(),
			SKU:       it.SKU,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice.String(),
		})
	}
	s.Publish(ctx, TopicOrderCreated, EventOrderCreated, o.Number, OrderCreatedPayload{
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		UserID:      o.UserID.String(),
		Items:       items,
		Total:       o.Total.String(),
	})
}

// Publish sends a lifecycle event keyed by order number. Best effort.
func (s *Service) Publish(ctx context.Context, topic, eventType, number string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, producerName, number, payload)
	if err == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			env.TraceID = sc.TraceID().String()
		}
		err = s.Events.Publish(ctx, topic, PartitionKey(number), env)
	}
	if err != nil {
		s.logger(ctx).Warn("event_publish_failed",
			zap.String("topic", topic),
			zap.String("order_number", number),
			zap.Error(err),
		)
	}
}
