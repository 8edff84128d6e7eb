// Package metrics emits pipeline telemetry. CloudWatchRecorder publishes to
// AWS CloudWatch; NoopRecorder is used when metrics are disabled.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"weatheringest/internal/types"
)

// Recorder receives pipeline outcomes. Implementations must not block for
// long and must never fail the caller.
type Recorder interface {
	RecordIngestion(ctx context.Context, cadence types.Cadence, result types.IngestionResult)
	RecordBatch(ctx context.Context, cadence types.Cadence, farms, failures int, duration time.Duration)
	RecordBreakerTrip(ctx context.Context)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertions.
var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = NoopRecorder{}
)

// CloudWatchRecorder implements Recorder on CloudWatch.
//
// Metrics emitted:
//   - Ingestion: Dims {Cadence, Result}, one per (farm, cadence)
//   - BatchFarms / BatchFailures: Dims {Cadence}, per scheduled batch
//   - BatchDuration: Dims {Cadence}, milliseconds
//   - BreakerTripped: no dims
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing under namespace
// (types.MetricNamespace when empty).
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

// RecordIngestion emits an Ingestion count with Cadence and Result dimensions.
func (m *CloudWatchRecorder) RecordIngestion(ctx context.Context, cadence types.Cadence, result types.IngestionResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricIngestion),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimCadence, string(cadence)),
			dim(types.DimResult, string(result)),
		},
	})
}

// RecordBatch emits farm count, failure count and duration for one batch.
func (m *CloudWatchRecorder) RecordBatch(ctx context.Context, cadence types.Cadence, farms, failures int, duration time.Duration) {
	dims := []cwtypes.Dimension{dim(types.DimCadence, string(cadence))}
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricBatchFarms),
			Value:      aws.Float64(float64(farms)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricBatchFailures),
			Value:      aws.Float64(float64(failures)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricBatchDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// RecordBreakerTrip emits a BreakerTripped count.
func (m *CloudWatchRecorder) RecordBreakerTrip(ctx context.Context) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricBreakerTripped),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordIngestion(context.Context, types.Cadence, types.IngestionResult) {}

func (NoopRecorder) RecordBatch(context.Context, types.Cadence, int, int, time.Duration) {}

func (NoopRecorder) RecordBreakerTrip(context.Context) {}
