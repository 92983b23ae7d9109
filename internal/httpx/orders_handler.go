package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrdersHandler struct {
	Orders *orders.Service
}

type updateStatusReq struct {
	Status string `json:"status"`
}

type orderStatusResp struct {
	OrderNumber string        `json:"order_number"`
	Status      orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/number/{number}", h.getOrderByNumber)
	r.Get("/orders/number/{number}/status", h.orderStatus)
	r.Put("/orders/{id}/cancel", h.cancelOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, p, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrderByNumber(ctx, p, chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// orderStatus is the cached fast path for polling clients.
func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	number := chi.URLParam(r, "number")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Orders.OrderStatus(ctx, p, number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderNumber: number, Status: st})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CancelOrder(ctx, p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, p, id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
