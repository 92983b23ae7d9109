package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/auth"
	"github.com/ariefcatur/go-order-payments/internal/gateway"
	"github.com/ariefcatur/go-order-payments/internal/inventory"
	"github.com/ariefcatur/go-order-payments/internal/memstore"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/ariefcatur/go-order-payments/internal/reconciler"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type stubReconciler struct {
	res *reconciler.Result
	err error
}

func (s *stubReconciler) HandleNotification(context.Context, []byte) (*reconciler.Result, error) {
	return s.res, s.err
}

type queued struct {
	number  string
	attempt int
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queued
}

func (q *fakeQueue) Enqueue(_ context.Context, number string, _ []byte, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, queued{number: number, attempt: attempt})
	return nil
}

type server struct {
	h       http.Handler
	store   *memstore.Store
	product uuid.UUID
}

func newServer(t *testing.T, wh *WebhookHandler) *server {
	t.Helper()
	st := memstore.New()
	pid := uuid.New()
	st.PutProduct(orders.Product{ID: pid, SKU: "SKU-1", Name: "Kopi", Price: decimal.NewFromInt(25000), Stock: 10, Published: true})
	svc := &orders.Service{Store: st, Ledger: inventory.NewLedger(nil, nil)}
	h := NewRouter(RouterDeps{
		Auth:     auth.Verifier{Secret: testSecret},
		Gatherer: prometheus.NewRegistry(),
		Orders:   &OrdersHandler{Orders: svc},
		Webhooks: wh,
	})
	return &server{h: h, store: st, product: pid}
}

func token(t *testing.T, p orders.Principal) string {
	t.Helper()
	tok, err := auth.Verifier{Secret: testSecret}.Issue(p, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Code)
}

func TestOrders_CreateCancelFlow(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	user := orders.Principal{UserID: uuid.New()}
	tok := token(t, user)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", tok, map[string]any{
		"items": []map[string]any{{"product_id": s.product, "quantity": 6}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[orders.Order](t, rec)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(150000)))

	rec = s.do(t, http.MethodGet, "/api/v1/orders/number/"+o.Number+"/status", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPending, decode[orderStatusResp](t, rec).Status)

	// second order would oversell
	rec = s.do(t, http.MethodPost, "/api/v1/orders", tok, map[string]any{
		"items": []map[string]any{{"product_id": s.product, "quantity": 6}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decode[errorBody](t, rec).Code)

	stranger := token(t, orders.Principal{UserID: uuid.New()})
	rec = s.do(t, http.MethodPut, "/api/v1/orders/"+o.ID.String()+"/cancel", stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/orders/"+o.ID.String()+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCanceled, decode[orders.Order](t, rec).Status)

	p, err := s.store.Product(context.Background(), s.product)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)

	rec = s.do(t, http.MethodPut, "/api/v1/orders/"+o.ID.String()+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrders_ValidationErrors(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	tok := token(t, orders.Principal{UserID: uuid.New()})

	rec := s.do(t, http.MethodPost, "/api/v1/orders", tok, map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_cart", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders_UpdateStatusRequiresAdmin(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	user := orders.Principal{UserID: uuid.New()}
	tok := token(t, user)
	admin := token(t, orders.Principal{UserID: uuid.New(), IsAdmin: true})

	rec := s.do(t, http.MethodPost, "/api/v1/orders", tok, map[string]any{
		"items": []map[string]any{{"product_id": s.product, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decode[orders.Order](t, rec)
	path := "/api/v1/orders/" + o.ID.String() + "/status"

	rec = s.do(t, http.MethodPut, path, tok, map[string]string{"status": "PAID"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, path, admin, map[string]string{"status": "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, path, admin, map[string]string{"status": "PAID"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPaid, decode[orders.Order](t, rec).Status)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{orders.ErrEmptyCart, http.StatusBadRequest},
		{inventory.ErrInsufficientStock, http.StatusConflict},
		{orders.ErrOrderNotFound, http.StatusNotFound},
		{orders.ErrForbidden, http.StatusForbidden},
		{gateway.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), apperr.CodeOf(tt.err))
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("dial tcp 10.0.0.5:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	rec = httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), gateway.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "gateway_unavailable", decode[errorBody](t, rec).Code)
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantQueued int
	}{
		{name: "applied", wantStatus: "success"},
		{name: "invalid payload", err: reconciler.ErrInvalidNotification, wantStatus: "error"},
		{name: "unknown order", err: orders.ErrOrderNotFound, wantStatus: "error"},
		{name: "gateway down", err: gateway.ErrUnavailable, wantStatus: "error", wantQueued: 1},
		{name: "store failure", err: errors.New("deadlock detected"), wantStatus: "error", wantQueued: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := &fakeQueue{}
			stub := &stubReconciler{err: tt.err}
			if tt.err == nil {
				stub.res = &reconciler.Result{Outcome: reconciler.OutcomeTransitioned}
			}
			s := newServer(t, &WebhookHandler{Reconciler: stub, Retry: q})

			rec := s.do(t, http.MethodPost, "/api/v1/webhooks/payment-event", "", map[string]string{
				"order_id":           "ORD-20250101-ABCDEF01",
				"transaction_status": "settlement",
			})
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantStatus, decode[ackResp](t, rec).Status)
			require.Len(t, q.jobs, tt.wantQueued)
			if tt.wantQueued > 0 {
				assert.Equal(t, queued{number: "ORD-20250101-ABCDEF01", attempt: 1}, q.jobs[0])
			}
		})
	}
}
