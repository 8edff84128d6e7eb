package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheringest/internal/config"
	"weatheringest/internal/forecasts"
	"weatheringest/internal/health"
	"weatheringest/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestStartupGate(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("unreachable") }

	t.Run("healthy", func(t *testing.T) {
		err := startupGate(context.Background(), []health.Probe{
			health.NewProbe("weather_api", true, ok),
		}, discardLogger())
		assert.NoError(t, err)
	})

	t.Run("degraded starts", func(t *testing.T) {
		err := startupGate(context.Background(), []health.Probe{
			health.NewProbe("weather_api", true, ok),
			health.NewProbe("rabbitmq", false, fail),
		}, discardLogger())
		assert.NoError(t, err)
	})

	t.Run("unhealthy aborts", func(t *testing.T) {
		err := startupGate(context.Background(), []health.Probe{
			health.NewProbe("weather_api", true, fail),
		}, discardLogger())
		assert.ErrorIs(t, err, errUnhealthy)
	})
}

func TestNewCache_MemoryWithoutRedis(t *testing.T) {
	cache, probes, err := newCache(config.CacheConfig{})
	require.NoError(t, err)
	assert.IsType(t, &forecasts.MemoryCache{}, cache)
	assert.Empty(t, probes)
}

func TestNewCache_RedisAddsProbe(t *testing.T) {
	cache, probes, err := newCache(config.CacheConfig{RedisAddr: "localhost:6379"})
	require.NoError(t, err)
	assert.IsType(t, &forecasts.RedisCache{}, cache)
	require.Len(t, probes, 1)
	assert.Equal(t, "redis", probes[0].Name())
	assert.False(t, probes[0].Critical())
}

func TestNewRecorder_DisabledIsNoop(t *testing.T) {
	rec, err := newRecorder(context.Background(), config.ObservabilityConfig{}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, metrics.NoopRecorder{}, rec)
}
