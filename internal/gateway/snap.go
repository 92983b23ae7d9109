package gateway

import (
	"strings"
	"unicode/utf8"
)

type snapTransaction struct {
	TransactionDetails snapDetails    `json:"transaction_details"`
	CustomerDetails    snapCustomer   `json:"customer_details"`
	ItemDetails        []snapItem     `json:"item_details"`
	CreditCard         snapCreditCard `json:"credit_card"`
	Callbacks          *snapCallbacks `json:"callbacks,omitempty"`
}

type snapDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type snapAddress struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

type snapCustomer struct {
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Email           string      `json:"email,omitempty"`
	Phone           string      `json:"phone"`
	BillingAddress  snapAddress `json:"billing_address"`
	ShippingAddress snapAddress `json:"shipping_address"`
}

type snapItem struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type snapCreditCard struct {
	Secure bool `json:"secure"`
}

type snapCallbacks struct {
	Finish   string `json:"finish"`
	Unfinish string `json:"unfinish"`
	Error    string `json:"error"`
}

// snapRequest builds the charge body. Amounts are whole IDR.
func snapRequest(req ChargeRequest, frontendURL string) snapTransaction {
	items := make([]snapItem, 0, len(req.Items))
	for _, it := range req.Items {
		name := truncateName(it.Name, maxItemName)
		items = append(items, snapItem{
			ID:       it.SKU,
			Price:    it.UnitPrice.IntPart(),
			Quantity: it.Quantity,
			Name:     name,
		})
	}

	addr := req.Customer.Address
	first, last := splitName(addr.FullName)
	ship := snapAddress{
		FirstName:   first,
		LastName:    last,
		Email:       req.Customer.Email,
		Phone:       addr.Phone,
		Address:     addr.Address,
		City:        addr.City,
		PostalCode:  addr.PostalCode,
		CountryCode: "IDN",
	}
	cfirst, clast := req.Customer.FirstName, req.Customer.LastName
	if cfirst == "" {
		cfirst, clast = first, last
	}
	phone := req.Customer.Phone
	if phone == "" {
		phone = addr.Phone
	}

	tx := snapTransaction{
		TransactionDetails: snapDetails{OrderID: req.OrderNumber, GrossAmount: req.GrossAmount.IntPart()},
		CustomerDetails: snapCustomer{
			FirstName:       cfirst,
			LastName:        clast,
			Email:           req.Customer.Email,
			Phone:           phone,
			BillingAddress:  ship,
			ShippingAddress: ship,
		},
		ItemDetails: items,
		CreditCard:  snapCreditCard{Secure: true},
	}
	if base := strings.TrimRight(frontendURL, "/"); base != "" {
		tx.Callbacks = &snapCallbacks{
			Finish:   base + "/payment/success",
			Unfinish: base + "/payment/pending",
			Error:    base + "/payment/error",
		}
	}
	return tx
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "Customer", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// truncateName cuts s to at most n bytes without splitting a rune.
func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
