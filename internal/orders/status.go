package orders

import "fmt"

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipping       Status = "SHIPPING"
	StatusCompleted      Status = "COMPLETED"
	StatusCanceled       Status = "CANCELED"
	StatusRefunded       Status = "REFUNDED"
)

// validNext is the single transition table for orders. Terminal states have
// no outgoing edges.
var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusPendingPayment: true, StatusPaid: true, StatusCanceled: true},
	StatusPendingPayment: {StatusPaid: true, StatusCanceled: true},
	StatusPaid:           {StatusShipping: true, StatusRefunded: true},
	StatusShipping:       {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted:      {},
	StatusCanceled:       {},
	StatusRefunded:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Cancelable reports whether the owner may still cancel.
func (s Status) Cancelable() bool {
	return s == StatusPending || s == StatusPendingPayment
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// PaymentStatus is the provider's transaction status vocabulary. Values
// outside it are kept verbatim on the payment row.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentSettlement    PaymentStatus = "settlement"
	PaymentCapture       PaymentStatus = "capture"
	PaymentDeny          PaymentStatus = "deny"
	PaymentCancel        PaymentStatus = "cancel"
	PaymentExpire        PaymentStatus = "expire"
	PaymentFailure       PaymentStatus = "failure"
	PaymentRefund        PaymentStatus = "refund"
	PaymentPartialRefund PaymentStatus = "partial_refund"
	PaymentAuthorize     PaymentStatus = "authorize"
)

func (p PaymentStatus) Known() bool {
	switch p {
	case PaymentPending, PaymentSettlement, PaymentCapture, PaymentDeny, PaymentCancel,
		PaymentExpire, PaymentFailure, PaymentRefund, PaymentPartialRefund, PaymentAuthorize:
		return true
	}
	return false
}

// Open reports whether a payment in this status blocks a new charge.
func (p PaymentStatus) Open() bool {
	return p == PaymentPending || p == PaymentSettlement
}
