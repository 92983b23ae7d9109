package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        uuid.UUID       `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Published bool            `json:"is_published"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	Number          string          `json:"order_number"`
	UserID          uuid.UUID       `json:"user_id"`
	Status          Status          `json:"status"`
	Total           decimal.Decimal `json:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Notes           string          `json:"notes,omitempty"`
	Items           []OrderItem     `json:"items"`
	Payments        []Payment       `json:"payments,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem freezes the product as it was when the order was placed.
type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	SKU       string          `json:"sku_snapshot"`
	Name      string          `json:"name_snapshot"`
	UnitPrice decimal.Decimal `json:"price_snapshot"`
	Quantity  int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	PaymentType   string          `json:"payment_type,omitempty"`
	Status        PaymentStatus   `json:"transaction_status"`
	Amount        decimal.Decimal `json:"amount"`
	RawPayload    json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LatestPayment returns the most recently created payment, or nil.
func (o *Order) LatestPayment() *Payment {
	var latest *Payment
	for i := range o.Payments {
		if latest == nil || o.Payments[i].CreatedAt.After(latest.CreatedAt) {
			latest = &o.Payments[i]
		}
	}
	return latest
}

// Principal is the authenticated caller as supplied by the auth layer.
type Principal struct {
	UserID  uuid.UUID
	Email   string
	IsAdmin bool
}

func (p Principal) Owns(o *Order) bool { return o != nil && o.UserID == p.UserID }

func (p Principal) CanAccess(o *Order) bool { return p.IsAdmin || p.Owns(o) }
