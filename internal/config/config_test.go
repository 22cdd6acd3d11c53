package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupremind/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()
	require.Equal(t, "telegram", cfg.DeliveryDriver)
	require.Equal(t, 10*time.Second, cfg.SendCushion)
	require.Equal(t, 15*time.Minute, cfg.StaleClaimAfter)
	require.Equal(t, 8, cfg.FanoutConcurrency)
	require.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DELIVERY_DRIVER", "dummy")
	t.Setenv("DISPATCH_POLL_INTERVAL_MS", "5000")
	t.Setenv("DISPATCH_FANOUT_CONCURRENCY", "32")
	t.Setenv("DELIVERY_QPS", "2.5")

	cfg := config.Load()
	require.Equal(t, "dummy", cfg.DeliveryDriver)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 32, cfg.FanoutConcurrency)
	require.Equal(t, 2.5, cfg.DeliveryQPS)
}

func TestGetEnvFallsBack(t *testing.T) {
	t.Setenv("SOME_KEY", "")
	require.Equal(t, "fallback", config.GetEnv("SOME_KEY", "fallback"))
}
