// Package forecasts acquires weather forecasts from the external provider and
// normalizes them into cadence-specific records.
//
// Each Fetch resolves one (location, cadence) pair. The provider is asked for
// every cadence block in one request; the raw body is cached per rounded
// location for CacheTTL so the three cadences of one farm cost at most one
// upstream call per window. The cache is an optimization only.
package forecasts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"weatheringest/internal/external"
	"weatheringest/internal/types"
)

// DefaultCacheTTL is how long a provider body is reused.
const DefaultCacheTTL = time.Hour

// ClientConfig holds the provider endpoint and cache settings.
type ClientConfig struct {
	APIURL   string
	Timezone string
	CacheTTL time.Duration
	Cache    Cache // nil disables caching
	Logger   *slog.Logger
}

// Client fetches forecasts through a retrying BaseClient.
type Client struct {
	http     *external.BaseClient
	apiURL   string
	timezone string
	cacheTTL time.Duration
	cache    Cache
	logger   *slog.Logger
}

// NewClient creates a forecast client using httpClient for transport.
func NewClient(cfg ClientConfig, httpClient *external.BaseClient) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Client{
		http:     httpClient,
		apiURL:   cfg.APIURL,
		timezone: cfg.Timezone,
		cacheTTL: ttl,
		cache:    cfg.Cache,
		logger:   logger,
	}
}

// Fetch returns the normalized records for one location and cadence.
//
// Errors are AppErrors:
//   - validation_invalid_cadence: unknown cadence, no network call made.
//   - validation_invalid_latitude / _longitude: out-of-range or non-finite input.
//   - upstream_retry_exhausted: transient failures on every attempt; wraps the last one.
//   - upstream_forecast_rejected: the provider refused the request (4xx).
//   - upstream_forecast_malformed: the body could not be normalized.
func (c *Client) Fetch(ctx context.Context, lat, lon float64, cadence types.Cadence) ([]types.ForecastRecord, error) {
	spec, err := cadence.Spec()
	if err != nil {
		return nil, err
	}
	if err := types.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	key := cacheKey(lat, lon, c.timezone)
	if body, ok := c.cacheGet(ctx, key); ok {
		records, err := parseForecast(body, spec)
		if err == nil {
			return records, nil
		}
		c.logger.Warn("discarding unreadable cached forecast", "key", key, "error", err)
	}

	body, err := c.http.GetBody(ctx, c.apiURL+"?"+buildQuery(lat, lon, c.timezone).Encode())
	if err != nil {
		return nil, c.mapError(err)
	}

	records, err := parseForecast(body, spec)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Warn("failed to cache forecast", "key", key, "error", err)
		}
	}
	return records, nil
}

func (c *Client) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(ctx, key)
}

// mapError translates transport failures into domain-level AppErrors.
func (c *Client) mapError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var statusErr *external.StatusError
	if errors.As(err, &statusErr) {
		msg := fmt.Sprintf("provider rejected request with status %d", statusErr.StatusCode)
		var pe providerError
		if json.Unmarshal(statusErr.Body, &pe) == nil && pe.Reason != "" {
			msg += ": " + pe.Reason
		}
		return types.NewAppError(types.ErrCodeUpstreamRejected, msg, err)
	}

	return types.NewAppError(types.ErrCodeUpstreamForecast, "forecast provider request failed", err)
}

// cacheKey rounds coordinates to 4 decimals (about 11 m).
func cacheKey(lat, lon float64, timezone string) string {
	return fmt.Sprintf("forecast:%.4f:%.4f:%s", lat, lon, timezone)
}
