// Package main is the entrypoint for the weather ingestion daemon.
//
// The daemon fetches forecasts for every registered farm on three fixed
// cadences and publishes them to the weather exchange. It also consumes farm
// lifecycle events so new and changed farms get data without waiting for the
// next batch.
//
// This file handles dependency wiring and process supervision. Business logic
// lives in internal/scheduler, internal/events and internal/ingest.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"weatheringest/internal/breaker"
	"weatheringest/internal/config"
	"weatheringest/internal/directory"
	"weatheringest/internal/events"
	"weatheringest/internal/external"
	"weatheringest/internal/forecasts"
	"weatheringest/internal/health"
	"weatheringest/internal/ingest"
	"weatheringest/internal/messaging"
	"weatheringest/internal/metrics"
	"weatheringest/internal/ops"
	"weatheringest/internal/scheduler"
	"weatheringest/internal/types"
)

// memoryCacheEntries bounds the in-process provider cache.
const memoryCacheEntries = 4096

// errUnhealthy aborts startup when a critical dependency fails its probe.
var errUnhealthy = errors.New("startup health check failed")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel).With(
		"service", cfg.Service,
		"env", cfg.Environment,
		"version", cfg.Build.Version,
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("weather ingestion stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("weather ingestion stopped")
}

// newLogger builds the JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("weather ingestion initializing")

	// Provider client with response cache.
	cache, cacheProbes, err := newCache(cfg.Cache)
	if err != nil {
		return err
	}
	baseClient := external.NewBaseClient(
		&http.Client{Timeout: cfg.Weather.Timeout},
		external.RetryPolicy{
			MaxAttempts: cfg.Weather.MaxAttempts,
			MinWait:     cfg.Weather.RetryMinWait,
			MaxWait:     cfg.Weather.RetryMaxWait,
		},
		cfg.Weather.UserAgent,
		external.WithLogger(logger),
	)
	forecastClient := forecasts.NewClient(forecasts.ClientConfig{
		APIURL:   cfg.Weather.APIURL,
		Timezone: cfg.Weather.Timezone,
		CacheTTL: cfg.Weather.CacheTTL,
		Cache:    cache,
		Logger:   logger,
	}, baseClient)

	recorder, err := newRecorder(ctx, cfg.Observability, logger)
	if err != nil {
		return err
	}

	providerBreaker := breaker.New(breaker.Config{
		Name:             "weather-api",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		Logger:           logger,
		OnStateChange: func(_, to breaker.State) {
			if to == breaker.StateOpen {
				go recorder.RecordBreakerTrip(context.Background())
			}
		},
	})

	// Broker connections: one for publishing, one for consuming, so a
	// consumer failure never takes the publisher down with it.
	publishConn := messaging.NewConnector(cfg.Broker.URL.Unmask(), cfg.Service+"-publisher", logger)
	defer publishConn.Close()
	consumeConn := messaging.NewConnector(cfg.Broker.URL.Unmask(), cfg.Service+"-consumer", logger)
	defer consumeConn.Close()

	publisher := messaging.NewPublisher(messaging.PublisherConfig{
		Exchange: cfg.Broker.WeatherExchange,
		AppID:    cfg.Service,
		Logger:   logger,
		Open:     publishConn.Channel,
	})
	defer publisher.Close()

	repo, err := directory.Connect(ctx, directory.Config{
		UsersURI:       cfg.Directory.UsersURI.Unmask(),
		FarmsURI:       cfg.Directory.FarmsURI.Unmask(),
		ConnectTimeout: cfg.Directory.ConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Close(closeCtx); err != nil {
			logger.Warn("failed to close directory", "error", err)
		}
	}()

	probes := append([]health.Probe{
		health.NewForecastProbe(forecastClient),
		health.NewProbe("rabbitmq", false, func(context.Context) error { return publishConn.Ping() }),
		health.NewProbe("mongodb", false, repo.Ping),
	}, cacheProbes...)

	if err := startupGate(ctx, probes, logger); err != nil {
		return err
	}

	processor := ingest.NewProcessor(ingest.Config{
		Fetcher:   forecastClient,
		Publisher: publisher,
		Metrics:   recorder,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Config{
		Repository: repo,
		Processor:  processor,
		Breaker:    providerBreaker,
		Metrics:    recorder,
		Logger:     logger,
		Periods: map[types.Cadence]time.Duration{
			types.CadenceCurrent: cfg.Schedule.CurrentEvery,
			types.CadenceHourly:  cfg.Schedule.HourlyEvery,
			types.CadenceDaily:   cfg.Schedule.DailyEvery,
		},
	})

	listener := events.New(events.Config{
		Open:             consumeConn.Channel,
		Exchange:         cfg.Broker.FarmExchange,
		CreatedQueue:     cfg.Broker.CreatedQueue,
		UpdatedQueue:     cfg.Broker.UpdatedQueue,
		Prefetch:         cfg.Broker.Prefetch,
		ReconnectBackoff: cfg.Broker.ReconnectBackoff,
		ConsumerTag:      cfg.Service,
		Processor:        processor,
		Breaker:          providerBreaker,
		Logger:           logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })

	if cfg.Ops.Addr != "" {
		opsServer, err := ops.NewServer(ops.Config{
			Addr:        cfg.Ops.Addr,
			Service:     cfg.Service,
			Environment: cfg.Environment,
			Build:       cfg.Build,
			Probes:      probes,
			Breaker:     providerBreaker,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return opsServer.Run(gctx) })
	}

	logger.Info("weather ingestion started",
		"weather_exchange", cfg.Broker.WeatherExchange,
		"farm_exchange", cfg.Broker.FarmExchange,
		"ops_addr", cfg.Ops.Addr,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startupGate runs the probes once. Only a critical failure aborts start.
func startupGate(ctx context.Context, probes []health.Probe, logger *slog.Logger) error {
	report := health.Check(ctx, health.DefaultTimeout, probes)
	switch report.Status {
	case health.StatusUnhealthy:
		logger.Error("startup health check unhealthy", "components", report.Components)
		return errUnhealthy
	case health.StatusDegraded:
		logger.Warn("startup health check degraded", "components", report.Components)
	default:
		logger.Info("startup health check passed")
	}
	return nil
}

// newCache selects Redis when an address is configured and process memory
// otherwise. The Redis probe is returned so health checks cover it.
func newCache(cfg config.CacheConfig) (forecasts.Cache, []health.Probe, error) {
	if cfg.RedisAddr == "" {
		return forecasts.NewMemoryCache(memoryCacheEntries), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword.Unmask(),
		DB:       cfg.RedisDB,
	})
	cache, err := forecasts.NewRedisCache(client, "weatheringest:")
	if err != nil {
		return nil, nil, err
	}
	return cache, []health.Probe{health.NewProbe("redis", false, cache.Ping)}, nil
}

// newRecorder returns the CloudWatch recorder when metrics are enabled.
func newRecorder(ctx context.Context, cfg config.ObservabilityConfig, logger *slog.Logger) (metrics.Recorder, error) {
	if !cfg.EnableMetrics {
		return metrics.NoopRecorder{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	return metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger), nil
}
