// Package breaker guards the forecast provider with a process-wide circuit
// breaker. One Breaker is constructed at startup and shared by the scheduler
// and the event listener; each guarded call is one unit of work (a batch job
// or one consumed event), not one HTTP request.
package breaker

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"weatheringest/internal/types"
)

// State is the breaker state as reported to operators.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config holds the breaker parameters.
type Config struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	Logger           *slog.Logger

	// OnStateChange, when set, is called after every transition.
	OnStateChange func(from, to State)
}

// Snapshot is a point-in-time view of the breaker for the status endpoint.
type Snapshot struct {
	Name                string     `json:"name"`
	State               State      `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// Breaker trips OPEN after FailureThreshold consecutive failures, rejects
// calls without invoking them for RecoveryTimeout, then admits exactly one
// trial call. It is safe for concurrent use.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]

	// gobreaker clears its counts on every state change; these survive
	// transitions and are reset only by a success.
	failures    atomic.Uint32
	lastFailure atomic.Int64 // unix nanos, 0 when never failed
}

// New builds a Breaker from cfg.
func New(cfg Config) *Breaker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	name := cfg.Name
	if name == "" {
		name = "forecast-provider"
	}

	b := &Breaker{}
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		// Counts are only cleared by a state change or a success.
		Interval: 0,
		Timeout:  cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", fromGobreaker(from),
				"state", fromGobreaker(to),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(fromGobreaker(from), fromGobreaker(to))
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return b
}

// Execute runs fn through the breaker. While OPEN (or while the single
// HALF_OPEN trial is in flight) fn is not invoked and an AppError with code
// upstream_circuit_open is returned. A panic in fn counts as a failure and
// is re-raised.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		defer func() {
			if r := recover(); r != nil {
				b.recordFailure()
				panic(r)
			}
		}()
		ferr := fn()
		if ferr != nil {
			b.recordFailure()
		} else {
			b.failures.Store(0)
		}
		return struct{}{}, ferr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamCircuitOpen,
			"circuit breaker is open; forecast provider call rejected",
			err,
		)
	}
	return err
}

// State returns the current state. An OPEN breaker whose recovery timeout has
// elapsed reports HALF_OPEN.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

func (b *Breaker) recordFailure() {
	b.failures.Add(1)
	b.lastFailure.Store(time.Now().UnixNano())
}

// ConsecutiveFailures returns the number of failed units of work since the
// last success. It keeps counting while OPEN and through HALF_OPEN trials.
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.failures.Load()
}

// Snapshot returns the breaker's observable state.
func (b *Breaker) Snapshot() Snapshot {
	s := Snapshot{
		Name:                b.cb.Name(),
		State:               b.State(),
		ConsecutiveFailures: b.ConsecutiveFailures(),
	}
	if ns := b.lastFailure.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastFailure = &t
	}
	return s
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	return types.IsCode(err, types.ErrCodeUpstreamCircuitOpen)
}
