// Package ingest turns one (farm, cadence) pair into one published forecast
// message. Both triggers, the scheduler and the farm event listener, funnel
// into Processor.Process.
package ingest

import (
	"context"
	"log/slog"

	"weatheringest/internal/metrics"
	"weatheringest/internal/types"
)

// Fetcher retrieves normalized forecast records.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, cadence types.Cadence) ([]types.ForecastRecord, error)
}

// Publisher emits a forecast payload under its cadence's routing key.
type Publisher interface {
	Publish(ctx context.Context, payload types.ForecastPayload) error
}

// Config holds the processor's collaborators.
type Config struct {
	Fetcher   Fetcher
	Publisher Publisher
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Processor orchestrates fetch, payload assembly and publish for one farm.
type Processor struct {
	fetcher   Fetcher
	publisher Publisher
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Processor{
		fetcher:   cfg.Fetcher,
		publisher: cfg.Publisher,
		metrics:   rec,
		logger:    logger,
	}
}

// Process fetches the cadence's forecast for farm and publishes it on behalf
// of owner. Failures are logged here and returned so callers can count them;
// they never panic and never publish a partial payload.
//
// A farm without valid coordinates is skipped with a warning and yields a
// validation error.
func (p *Processor) Process(ctx context.Context, owner types.Owner, farm types.Farm, cadence types.Cadence) error {
	log := p.logger.With(
		"user_id", owner.UserID,
		"farm_id", farm.ID,
		"cadence", cadence,
		"run_id", types.GetRunID(ctx),
	)

	lat, lon, err := farm.Coordinates()
	if err != nil {
		log.Warn("skipping farm without valid coordinates", "error", err)
		p.metrics.RecordIngestion(ctx, cadence, types.ResultSkipped)
		return err
	}

	records, err := p.fetcher.Fetch(ctx, lat, lon, cadence)
	if err != nil {
		log.Error("forecast fetch failed", "error", err, "code", types.CodeOf(err))
		p.metrics.RecordIngestion(ctx, cadence, types.ResultFetchFailed)
		return err
	}

	payload := BuildPayload(owner, farm, cadence, lat, lon, records)
	if err := p.publisher.Publish(ctx, payload); err != nil {
		log.Error("forecast publish failed", "error", err)
		p.metrics.RecordIngestion(ctx, cadence, types.ResultPublishFailed)
		return err
	}

	log.Info("forecast ingested", "records", len(records))
	p.metrics.RecordIngestion(ctx, cadence, types.ResultPublished)
	return nil
}

// BuildPayload assembles the outbound message. crops is recomputed from the
// farm's fields; empty collections encode as [] rather than null.
func BuildPayload(owner types.Owner, farm types.Farm, cadence types.Cadence, lat, lon float64, records []types.ForecastRecord) types.ForecastPayload {
	fields := make([]types.Field, len(farm.Fields))
	copy(fields, farm.Fields)
	if records == nil {
		records = []types.ForecastRecord{}
	}
	return types.ForecastPayload{
		Type:     cadence,
		UserID:   owner.UserID,
		Email:    owner.Email,
		FarmID:   farm.ID,
		FarmName: farm.DisplayName(),
		Crops:    farm.Crops(),
		Fields:   fields,
		Lat:      lat,
		Lon:      lon,
		Forecast: records,
	}
}
