// Package scheduler drives periodic ingestion. Each cadence has its own job
// that walks the whole directory; every job run is guarded by the shared
// circuit breaker through safeExecute.
//
// On Run all three jobs execute once immediately (warm-up), in cadence
// order, before any periodic entry is registered. Periodic entries run on
// independent cron schedules and may overlap in wall-clock time; a job that
// is still running when its next tick fires skips that tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"weatheringest/internal/breaker"
	"weatheringest/internal/metrics"
	"weatheringest/internal/types"
)

// Repository enumerates ingestion targets.
type Repository interface {
	GetAllUsersWithFarms(ctx context.Context) ([]types.User, error)
}

// Processor ingests one farm for one cadence.
type Processor interface {
	Process(ctx context.Context, owner types.Owner, farm types.Farm, cadence types.Cadence) error
}

// Guard wraps a unit of work; normally the process-wide *breaker.Breaker.
type Guard interface {
	Execute(fn func() error) error
}

// DefaultPeriods are the job periods per cadence.
var DefaultPeriods = map[types.Cadence]time.Duration{
	types.CadenceCurrent: 5 * time.Minute,
	types.CadenceHourly:  time.Hour,
	types.CadenceDaily:   12 * time.Hour,
}

// Config holds the scheduler's collaborators.
type Config struct {
	Repository Repository
	Processor  Processor
	Breaker    Guard
	Metrics    metrics.Recorder
	Logger     *slog.Logger

	// Periods overrides DefaultPeriods per cadence.
	Periods map[types.Cadence]time.Duration
}

// Scheduler runs the three cadence jobs.
type Scheduler struct {
	repo      Repository
	processor Processor
	breaker   Guard
	metrics   metrics.Recorder
	logger    *slog.Logger
	periods   map[types.Cadence]time.Duration
	cron      *cron.Cron
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	periods := make(map[types.Cadence]time.Duration, len(DefaultPeriods))
	for c, d := range DefaultPeriods {
		periods[c] = d
	}
	for c, d := range cfg.Periods {
		if d > 0 {
			periods[c] = d
		}
	}

	guard := cfg.Breaker
	if guard == nil {
		guard = passthrough{}
	}

	cronLog := NewCronLogger(logger)
	return &Scheduler{
		repo:      cfg.Repository,
		processor: cfg.Processor,
		breaker:   guard,
		metrics:   rec,
		logger:    logger,
		periods:   periods,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.SkipIfStillRunning(cronLog)),
		),
	}
}

// Run performs the warm-up, starts the periodic jobs and blocks until ctx is
// cancelled. It waits for in-flight jobs before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started")
	s.WarmUp(ctx)

	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// WarmUp runs every cadence job once, synchronously, in cadence order.
func (s *Scheduler) WarmUp(ctx context.Context) {
	s.logger.Info("initial data fetch")
	for _, c := range types.Cadences {
		s.runJob(ctx, c)
	}
}

// Start registers one cron entry per cadence and starts the cron runner.
// Jobs use ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, c := range types.Cadences {
		cadence := c
		spec := fmt.Sprintf("@every %s", s.periods[cadence])
		if _, err := s.cron.AddFunc(spec, func() { s.runJob(ctx, cadence) }); err != nil {
			return fmt.Errorf("schedule %s job (%s): %w", cadence, spec, err)
		}
		s.logger.Info("job scheduled", "cadence", cadence, "every", s.periods[cadence].String())
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, cadence types.Cadence) {
	ctx = types.WithRunID(ctx, uuid.NewString())
	s.safeExecute(ctx, jobName(cadence), func() error {
		_, err := s.RunBatch(ctx, cadence)
		return err
	})
}

// safeExecute runs job through the breaker and logs the outcome. Nothing
// escapes: errors and panics are logged, and a panic also counts as a breaker
// failure.
func (s *Scheduler) safeExecute(ctx context.Context, name string, job func() error) {
	log := s.logger.With("job", name, "run_id", types.GetRunID(ctx))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	err := s.breaker.Execute(job)
	switch {
	case err == nil:
		log.Info("job executed successfully")
	case breaker.IsOpen(err):
		log.Warn("job skipped: circuit breaker open", "error", err)
	default:
		log.Error("job failed", "error", err)
	}
}

// passthrough runs work unguarded.
type passthrough struct{}

func (passthrough) Execute(fn func() error) error { return fn() }

func jobName(c types.Cadence) string {
	return "fetch_" + string(c) + "_weather_for_all"
}
