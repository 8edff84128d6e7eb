package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheringest/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimensions(ds []cwtypes.Dimension) map[string]string {
	out := make(map[string]string, len(ds))
	for _, d := range ds {
		out[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	return out
}

func TestRecordIngestion(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil)

	rec.RecordIngestion(context.Background(), types.CadenceHourly, types.ResultPublished)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(input.Namespace))
	require.Len(t, input.MetricData, 1)

	datum := input.MetricData[0]
	assert.Equal(t, types.MetricIngestion, aws.ToString(datum.MetricName))
	assert.Equal(t, 1.0, aws.ToFloat64(datum.Value))
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assert.Equal(t, map[string]string{
		types.DimCadence: "hourly",
		types.DimResult:  "published",
	}, dimensions(datum.Dimensions))
}

func TestRecordBatch(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "Custom", nil)

	rec.RecordBatch(context.Background(), types.CadenceDaily, 12, 2, 1500*time.Millisecond)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, "Custom", aws.ToString(cw.calls[0].Namespace))

	data := cw.calls[0].MetricData
	require.Len(t, data, 3)
	assert.Equal(t, types.MetricBatchFarms, aws.ToString(data[0].MetricName))
	assert.Equal(t, 12.0, aws.ToFloat64(data[0].Value))
	assert.Equal(t, 2.0, aws.ToFloat64(data[1].Value))
	assert.Equal(t, 1500.0, aws.ToFloat64(data[2].Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, data[2].Unit)
}

func TestRecorderSwallowsErrors(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	rec := NewCloudWatchRecorder(cw, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() {
		rec.RecordBreakerTrip(context.Background())
	})
	assert.Len(t, cw.calls, 1)
}
