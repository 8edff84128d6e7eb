package types

// Telemetry metric names and dimensions for CloudWatch.
const (
	MetricIngestion      = "Ingestion"
	MetricBatchFarms     = "BatchFarms"
	MetricBatchFailures  = "BatchFailures"
	MetricBatchDuration  = "BatchDuration"
	MetricBreakerTripped = "BreakerTripped"

	DimCadence = "Cadence"
	DimResult  = "Result"

	MetricNamespace = "WeatherIngestion"
)

// IngestionResult is the outcome of one (farm, cadence) ingestion.
type IngestionResult string

const (
	ResultPublished     IngestionResult = "published"
	ResultSkipped       IngestionResult = "skipped"
	ResultFetchFailed   IngestionResult = "fetch_failed"
	ResultPublishFailed IngestionResult = "publish_failed"
)
