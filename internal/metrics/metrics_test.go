package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordsAndNilSafe(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.Reservation("ok")
	m.Reservation("ok")
	m.Reservation("insufficient_stock")
	m.GatewayCall("status", "ok", 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockReservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockReservations.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequests.WithLabelValues("status", "ok")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.OrderCreated("ok")
		nilMetrics.Notification("settlement", "applied")
	})
}
