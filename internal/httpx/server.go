package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Log      *zap.Logger
	Auth     PrincipalParser
	Gatherer prometheus.Gatherer

	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Webhooks *WebhookHandler
}

func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// provider callbacks carry no user token
		if d.Webhooks != nil {
			d.Webhooks.Register(r)
		}
		r.Group(func(r chi.Router) {
			r.Use(authenticate(d.Auth))
			if d.Orders != nil {
				d.Orders.Register(r)
			}
			if d.Payments != nil {
				d.Payments.Register(r)
			}
		})
	})
	return r
}
