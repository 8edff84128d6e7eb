// Package health probes the service's dependencies. The same check gates
// process start (an unhealthy report aborts startup) and backs the ops
// /health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weatheringest/internal/types"
)

// DefaultTimeout bounds a whole Check.
const DefaultTimeout = 15 * time.Second

// Reference location for the forecast probe (Vienna).
const (
	ProbeLatitude  = 48.2085
	ProbeLongitude = 16.3721
)

const probeVariable = "temperature_2m"

// Status is the aggregate health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"  // a non-critical dependency failed
	StatusUnhealthy Status = "unhealthy" // a critical dependency failed
)

// Probe checks one dependency. Check must respect ctx.
type Probe interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

type funcProbe struct {
	name     string
	critical bool
	fn       func(ctx context.Context) error
}

func (p funcProbe) Name() string                    { return p.name }
func (p funcProbe) Critical() bool                  { return p.critical }
func (p funcProbe) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe builds a Probe from a function.
func NewProbe(name string, critical bool, fn func(ctx context.Context) error) Probe {
	return funcProbe{name: name, critical: critical, fn: fn}
}

// Fetcher is the forecast client surface the provider probe needs.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, cadence types.Cadence) ([]types.ForecastRecord, error)
}

// NewForecastProbe returns the critical probe that fetches the current
// forecast for the reference location and expects a temperature reading.
func NewForecastProbe(f Fetcher) Probe {
	return NewProbe("weather_api", true, func(ctx context.Context) error {
		records, err := f.Fetch(ctx, ProbeLatitude, ProbeLongitude, types.CadenceCurrent)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("provider returned no current conditions")
		}
		if _, ok := records[0].Value(probeVariable); !ok {
			return fmt.Errorf("provider returned no current %s", probeVariable)
		}
		return nil
	})
}

// ComponentStatus is the outcome of one probe.
type ComponentStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report is the aggregate result of a Check.
type Report struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
}

// Check runs every probe concurrently within timeout (DefaultTimeout when
// zero). A probe that panics or does not finish in time counts as failed.
func Check(ctx context.Context, timeout time.Duration, probes []Probe) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type probeResult struct {
		err     error
		latency time.Duration
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			start := time.Now()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("probe panicked: %v", r)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = probeResult{err: err, latency: time.Since(start)}
			mu.Unlock()
		}(probe)
	}

	// Wait for all probes to complete or context to expire.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	report := Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentStatus, len(probes)),
	}
	for _, probe := range probes {
		name := probe.Name()
		cs := ComponentStatus{Status: "ok", Critical: probe.Critical()}
		result, ok := results[name]
		switch {
		case !ok:
			cs.Status = "error"
			cs.Message = "health check timed out"
		case result.err != nil:
			cs.Status = "error"
			cs.Message = result.err.Error()
		}
		if ok {
			cs.LatencyMs = result.latency.Milliseconds()
		}
		if cs.Status != "ok" {
			if cs.Critical {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
		report.Components[name] = cs
	}
	return report
}
