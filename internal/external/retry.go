package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"weatheringest/internal/types"
)

// RetryPolicy configures bounded retries of transient upstream failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the forecast provider policy: two attempts,
// waiting between 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		MinWait:     2 * time.Second,
		MaxWait:     4 * time.Second,
	}
}

// Backoff returns the wait before the attempt following the given zero-based
// attempt: min(MaxWait, MinWait * 2^attempt).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := p.MinWait
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// TransientError marks a failure that may succeed when repeated: a transport
// error, a 5xx response or a 429.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient upstream failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is a non-retryable HTTP response (4xx other than 429).
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. Exhaustion yields an AppError with code
// upstream_retry_exhausted wrapping the last failure. Cancelling ctx stops
// further attempts but never interrupts one in flight.
func Retry[T any](ctx context.Context, policy RetryPolicy, sleep func(time.Duration), fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sleep(policy.Backoff(attempt - 1))
			if err := ctx.Err(); err != nil {
				return zero, types.NewAppError(
					types.ErrCodeUpstreamRetryExhausted,
					"retries abandoned: context done",
					errors.Join(err, lastErr),
				)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, types.NewAppError(
		types.ErrCodeUpstreamRetryExhausted,
		fmt.Sprintf("upstream still failing after %d attempts", attempts),
		lastErr,
	).WithDetails(map[string]any{"attempts": attempts})
}
