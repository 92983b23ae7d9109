package orders

import "github.com/ariefcatur/go-order-payments/internal/apperr"

var (
	ErrEmptyCart          = apperr.New(apperr.ErrValidation, "empty_cart", "order must have at least one item")
	ErrInvalidItem        = apperr.New(apperr.ErrValidation, "invalid_item", "each item needs a product id and a positive quantity")
	ErrInvalidStatus      = apperr.New(apperr.ErrValidation, "invalid_status", "unknown order status")
	ErrProductNotFound    = apperr.New(apperr.ErrNotFound, "product_not_found", "product not found")
	ErrProductUnpublished = apperr.New(apperr.ErrConflict, "product_unpublished", "product is not available")
	ErrOrderNotFound      = apperr.New(apperr.ErrNotFound, "order_not_found", "order not found")
	ErrPaymentNotFound    = apperr.New(apperr.ErrNotFound, "payment_not_found", "payment not found")
	ErrForbidden          = apperr.New(apperr.ErrForbidden, "forbidden", "not allowed to act on this order")
	ErrInvalidState       = apperr.New(apperr.ErrConflict, "invalid_state", "order status does not allow this operation")

	// ErrOrderNumberTaken is returned by Tx.InsertOrder on a number collision;
	// the transaction stays usable so a new number can be tried.
	ErrOrderNumberTaken = apperr.New(apperr.ErrConflict, "order_number_taken", "order number already exists")
)
