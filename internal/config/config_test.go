package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("RECONCILER_WORKERS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 1, cfg.ReconcilerWorkers)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}
