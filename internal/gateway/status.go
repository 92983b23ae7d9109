package gateway

import (
	"encoding/json"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/shopspring/decimal"
)

const fraudAccept = "accept"

// VerifiedStatus is the provider's own answer to a status query. Status is
// the screened value the reconciler acts on; TransactionStatus is what the
// provider reported.
type VerifiedStatus struct {
	OrderNumber       string
	TransactionID     string
	PaymentType       string
	TransactionStatus orders.PaymentStatus
	FraudStatus       string
	Status            orders.PaymentStatus
	GrossAmount       decimal.Decimal
	TransactionTime   string
	SettlementTime    string
	Raw               json.RawMessage
}

type statusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
	TransactionTime   string `json:"transaction_time"`
	SettlementTime    string `json:"settlement_time"`
}

func (sr statusResponse) verified(orderNumber string, raw []byte) *VerifiedStatus {
	amount, err := decimal.NewFromString(sr.GrossAmount)
	if err != nil {
		amount = decimal.Zero
	}
	txStatus := orders.PaymentStatus(sr.TransactionStatus)
	return &VerifiedStatus{
		OrderNumber:       orderNumber,
		TransactionID:     sr.TransactionID,
		PaymentType:       sr.PaymentType,
		TransactionStatus: txStatus,
		FraudStatus:       sr.FraudStatus,
		Status:            Screen(txStatus, sr.FraudStatus),
		GrossAmount:       amount,
		TransactionTime:   sr.TransactionTime,
		SettlementTime:    sr.SettlementTime,
		Raw:               raw,
	}
}

// Screen downgrades settlement/capture to pending unless fraud screening
// accepted it. A missing fraud status counts as accepted.
func Screen(status orders.PaymentStatus, fraud string) orders.PaymentStatus {
	switch status {
	case orders.PaymentSettlement, orders.PaymentCapture:
		if fraud != "" && fraud != fraudAccept {
			return orders.PaymentPending
		}
	}
	return status
}
