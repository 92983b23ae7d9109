package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors of the order/payment core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OrdersCreated        *prometheus.CounterVec
	StockReservations    *prometheus.CounterVec
	GatewayRequests      *prometheus.CounterVec
	GatewayDuration      *prometheus.HistogramVec
	PaymentNotifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Order creation attempts by outcome.",
		}, []string{"outcome"}),
		StockReservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Stock reservation attempts by outcome.",
		}, []string{"outcome"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment gateway calls.",
		}, []string{"endpoint", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of outbound payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		PaymentNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Reconciled payment notifications by verified status and outcome.",
		}, []string{"verified_status", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersCreated, m.StockReservations, m.GatewayRequests, m.GatewayDuration, m.PaymentNotifications)
	}
	return m
}

func (m *Metrics) OrderCreated(outcome string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.StockReservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayCall(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	m.GatewayDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) Notification(verifiedStatus, outcome string) {
	if m == nil {
		return
	}
	m.PaymentNotifications.WithLabelValues(verifiedStatus, outcome).Inc()
}
