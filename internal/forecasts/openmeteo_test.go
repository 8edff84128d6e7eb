package forecasts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheringest/internal/types"
)

func mustSpec(t *testing.T, c types.Cadence) types.CadenceSpec {
	t.Helper()
	spec, err := c.Spec()
	require.NoError(t, err)
	return spec
}

func TestParseForecast_Current(t *testing.T) {
	records, err := parseForecast([]byte(providerBody), mustSpec(t, types.CadenceCurrent))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), rec.Time)
	assert.Equal(t, "time", rec.TimeKey)

	temp, ok := rec.Value("temperature_2m")
	assert.True(t, ok)
	assert.Equal(t, 21.5, temp)

	_, ok = rec.Value("rain")
	assert.False(t, ok, "null must stay absent")
	assert.Contains(t, rec.Values, "rain")
	assert.Len(t, rec.Values, 7)
}

func TestParseForecast_HourlySeries(t *testing.T) {
	records, err := parseForecast([]byte(providerBody), mustSpec(t, types.CadenceHourly))
	require.NoError(t, err)
	require.Len(t, records, 3)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, rec := range records {
		assert.Equal(t, start.Add(time.Duration(i)*time.Hour), rec.Time)
		assert.Equal(t, "date", rec.TimeKey)
		assert.Len(t, rec.Values, 18)
	}

	v, ok := records[0].Value("temperature_2m")
	assert.True(t, ok)
	assert.Equal(t, 10.1, v)

	_, ok = records[1].Value("temperature_2m")
	assert.False(t, ok)

	// Short column: missing tail values are absent, not zero.
	_, ok = records[2].Value("precipitation_probability")
	assert.False(t, ok)

	// Variable the provider omitted entirely.
	_, ok = records[0].Value("soil_moisture_0_to_1cm")
	assert.False(t, ok)
}

func TestParseForecast_DailySeries(t *testing.T) {
	records, err := parseForecast([]byte(providerBody), mustSpec(t, types.CadenceDaily))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, time.Date(2024, 4, 30, 22, 0, 0, 0, time.UTC), records[0].Time)
	assert.Equal(t, records[0].Time.Add(24*time.Hour), records[1].Time)

	_, ok := records[1].Value("temperature_2m_min")
	assert.False(t, ok)

	raw, err := json.Marshal(records[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"date":"2024-04-30T22:00:00Z"`)
	assert.Contains(t, string(raw), `"showers_sum":null`)
}

func TestParseForecast_SinglePointSeriesUsesCadenceStep(t *testing.T) {
	body := `{"hourly":{"time":[1714564800],"temperature_2m":[1]}}`
	records, err := parseForecast([]byte(body), mustSpec(t, types.CadenceHourly))
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestParseForecast_EmptySeries(t *testing.T) {
	records, err := parseForecast([]byte(`{"daily":{"time":[]}}`), mustSpec(t, types.CadenceDaily))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseForecast_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cadence types.Cadence
	}{
		{"not json", `<html>`, types.CadenceCurrent},
		{"missing block", `{"hourly":{"time":[1]}}`, types.CadenceCurrent},
		{"missing time", `{"current":{"temperature_2m":1}}`, types.CadenceCurrent},
		{"string value", `{"current":{"time":1,"rain":"wet"}}`, types.CadenceCurrent},
		{"time not list", `{"hourly":{"time":1}}`, types.CadenceHourly},
		{"decreasing time", `{"hourly":{"time":[10,5]}}`, types.CadenceHourly},
		{"series not list", `{"daily":{"time":[1,2],"rain_sum":3}}`, types.CadenceDaily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseForecast([]byte(tt.body), mustSpec(t, tt.cadence))
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeUpstreamMalformed, types.CodeOf(err))
		})
	}
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery(48.2085, 16.3721, "Europe/Berlin")

	assert.Equal(t, "48.2085", q.Get("latitude"))
	assert.Equal(t, "16.3721", q.Get("longitude"))
	assert.Equal(t, "Europe/Berlin", q.Get("timezone"))
	assert.Equal(t, "unixtime", q.Get("timeformat"))
	assert.Equal(t, "temperature_2m,wind_speed_10m,rain,precipitation,showers,snowfall,weather_code", q.Get("current"))
	assert.Contains(t, q.Get("hourly"), "soil_moisture_9_to_27cm")
	assert.Contains(t, q.Get("daily"), "daylight_duration")
}

func TestParseForecast_IrregularAxisRejected(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cadence types.Cadence
	}{
		{"gap in hourly axis", `{"hourly":{"time":[0,3600,10800],"temperature_2m":[1,2,3]}}`, types.CadenceHourly},
		{"tiny first step", `{"hourly":{"time":[0,1,2000000],"temperature_2m":[1,2,3]}}`, types.CadenceHourly},
		{"repeated instant", `{"hourly":{"time":[0,3600,3600]}}`, types.CadenceHourly},
		{"daily gap", `{"daily":{"time":[0,86400,259200]}}`, types.CadenceDaily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := parseForecast([]byte(tt.body), mustSpec(t, tt.cadence))
			require.Error(t, err)
			assert.Nil(t, records)
			assert.Equal(t, types.ErrCodeUpstreamMalformed, types.CodeOf(err))
		})
	}
}

func TestParseForecast_ValuesStayOnTheirInstants(t *testing.T) {
	body := `{"hourly":{"time":[0,3600,7200],"temperature_2m":[1,2,3]}}`
	records, err := parseForecast([]byte(body), mustSpec(t, types.CadenceHourly))
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, time.Unix(int64(i)*3600, 0).UTC(), records[i].Time)
		v, ok := records[i].Value("temperature_2m")
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestParseForecast_DailyAxisAcrossDaylightSaving(t *testing.T) {
	// Local midnights in Europe/Berlin around 2024-03-31: one 23h day.
	body := `{"daily":{"time":[1711753200,1711839600,1711922400],"temperature_2m_max":[10,11,12]}}`
	records, err := parseForecast([]byte(body), mustSpec(t, types.CadenceDaily))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, time.Unix(1711922400, 0).UTC(), records[2].Time)
}
