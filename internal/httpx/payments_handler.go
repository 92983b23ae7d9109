package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type PaymentsHandler struct {
	Payments *payments.Service
}

type createPaymentReq struct {
	OrderID string `json:"order_id"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.createPayment)
	r.Get("/payments/status/{order_id}", h.paymentStatus)
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req createPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		badRequest(w, "invalid order_id")
		return
	}

	// gateway round trip included
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := h.Payments.CreateCharge(ctx, p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentsHandler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		badRequest(w, "invalid order_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	view, err := h.Payments.Status(ctx, p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
