package scheduler

import (
	"context"
	"fmt"
	"time"

	"weatheringest/internal/types"
)

// BatchResult summarizes one pass over the directory for one cadence.
type BatchResult struct {
	Cadence        types.Cadence
	Users          int
	Farms          int
	Published      int
	Skipped        int // invalid or missing coordinates
	UpstreamFailed int
	OtherFailed    int // publish and unexpected failures
	Duration       time.Duration
	Interrupted    bool
}

// Attempted counts farms whose forecast was actually requested.
func (r BatchResult) Attempted() int {
	return r.Published + r.UpstreamFailed + r.OtherFailed
}

// Failed counts farms that were attempted and not published.
func (r BatchResult) Failed() int {
	return r.UpstreamFailed + r.OtherFailed
}

// RunBatch ingests cadence for every farm of every user in the directory.
// Per-farm failures are isolated. The batch itself fails when the directory
// cannot be read or when every attempted farm failed at the provider, which
// is what the breaker counts.
func (s *Scheduler) RunBatch(ctx context.Context, cadence types.Cadence) (BatchResult, error) {
	start := time.Now()
	res := BatchResult{Cadence: cadence}
	log := s.logger.With("cadence", cadence, "run_id", types.GetRunID(ctx))

	users, err := s.repo.GetAllUsersWithFarms(ctx)
	if err != nil {
		return res, err
	}
	res.Users = len(users)

	var lastUpstream error
farms:
	for _, user := range users {
		if len(user.Farms) == 0 {
			log.Info("user has no farms, skipping", "user_id", user.ID)
			continue
		}
		owner := user.Owner()
		for _, farm := range user.Farms {
			if ctx.Err() != nil {
				res.Interrupted = true
				break farms
			}
			res.Farms++
			err := s.processor.Process(ctx, owner, farm, cadence)
			switch {
			case err == nil:
				res.Published++
			case types.CodeOf(err).IsValidation():
				res.Skipped++
			case types.IsUpstream(err):
				res.UpstreamFailed++
				lastUpstream = err
			default:
				res.OtherFailed++
			}
		}
	}

	res.Duration = time.Since(start)
	s.metrics.RecordBatch(ctx, cadence, res.Farms, res.Failed(), res.Duration)
	log.Info("batch finished",
		"users", res.Users,
		"farms", res.Farms,
		"published", res.Published,
		"skipped", res.Skipped,
		"upstream_failed", res.UpstreamFailed,
		"other_failed", res.OtherFailed,
		"duration_ms", res.Duration.Milliseconds(),
		"interrupted", res.Interrupted,
	)

	if res.Attempted() > 0 && res.UpstreamFailed == res.Attempted() {
		return res, types.NewAppError(
			types.ErrCodeUpstreamForecast,
			fmt.Sprintf("all %d attempted farms failed at the forecast provider", res.Attempted()),
			lastUpstream,
		)
	}
	return res, nil
}
