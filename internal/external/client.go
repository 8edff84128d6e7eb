// Package external provides the anti-corruption layer between the ingestion
// pipeline and third-party HTTP APIs. Outbound calls go through BaseClient,
// which applies the retry policy, user agent and run-id propagation
// consistently. Circuit breaking happens one level up, around whole units of
// work (see package breaker).
package external

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"weatheringest/internal/types"
)

// maxBodyBytes bounds how much of a response body is buffered.
const maxBodyBytes = 16 << 20

// BaseClient wraps an *http.Client with the retry policy.
type BaseClient struct {
	client      *http.Client
	retryPolicy RetryPolicy
	userAgent   string
	logger      *slog.Logger
	sleepFn     func(time.Duration) // for testability; defaults to time.Sleep
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewBaseClient creates a BaseClient with the given http client, retry policy
// and user agent string.
func NewBaseClient(
	httpClient *http.Client,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	bc := &BaseClient{
		client:      httpClient,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		logger:      slog.Default(),
		sleepFn:     time.Sleep,
	}

	for _, opt := range opts {
		opt(bc)
	}

	return bc
}

// GetBody performs a GET and returns the full 2xx response body.
//
// Transport errors, body read errors, 429 and 5xx responses are retried per
// the policy. Any other non-2xx status fails at once with a *StatusError.
func (c *BaseClient) GetBody(ctx context.Context, url string) ([]byte, error) {
	attempt := 0
	return Retry(ctx, c.retryPolicy, c.sleepFn, func(ctx context.Context) ([]byte, error) {
		attempt++
		body, err := c.getOnce(ctx, url)
		if err != nil && IsTransient(err) {
			c.logger.Warn("upstream request failed",
				"attempt", attempt,
				"max_attempts", c.retryPolicy.MaxAttempts,
				"run_id", types.GetRunID(ctx),
				"error", err,
			)
		}
		return body, err
	})
}

func (c *BaseClient) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build upstream request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if runID := types.GetRunID(ctx); runID != "" {
		req.Header.Set("X-Request-Id", runID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream returned %d", resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	case err != nil:
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}
