package forecasts

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weatheringest/internal/types"
)

// buildQuery returns the provider query for one location. Every cadence block
// is requested at once so a single cached body serves all three cadences.
func buildQuery(lat, lon float64, timezone string) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	for _, c := range types.Cadences {
		spec, _ := c.Spec()
		q.Set(spec.Block, strings.Join(spec.Variables, ","))
	}
	if timezone != "" {
		q.Set("timezone", timezone)
	}
	q.Set("timeformat", "unixtime")
	return q
}

// providerResponse is the subset of the provider's JSON document we read.
// Blocks stay raw until the requested cadence is known.
type providerResponse struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Timezone  string                     `json:"timezone"`
	Current   map[string]json.RawMessage `json:"current"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
	Daily     map[string]json.RawMessage `json:"daily"`
}

func (r *providerResponse) block(name string) map[string]json.RawMessage {
	switch name {
	case "current":
		return r.Current
	case "hourly":
		return r.Hourly
	case "daily":
		return r.Daily
	}
	return nil
}

// providerError is the body the provider sends with a 4xx.
type providerError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func malformed(format string, args ...any) error {
	return types.NewAppError(types.ErrCodeUpstreamMalformed, fmt.Sprintf(format, args...), nil)
}

// parseForecast decodes body and normalizes the block for spec into records.
func parseForecast(body []byte, spec types.CadenceSpec) ([]types.ForecastRecord, error) {
	var resp providerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamMalformed, "provider response is not valid JSON", err)
	}
	block := resp.block(spec.Block)
	if block == nil {
		return nil, malformed("provider response has no %q block", spec.Block)
	}
	if spec.Snapshot {
		rec, err := parseSnapshot(block, spec)
		if err != nil {
			return nil, err
		}
		return []types.ForecastRecord{rec}, nil
	}
	return parseSeries(block, spec)
}

// parseSnapshot reads a single-instant block: scalar values and a unix "time".
func parseSnapshot(block map[string]json.RawMessage, spec types.CadenceSpec) (types.ForecastRecord, error) {
	var ts int64
	raw, ok := block["time"]
	if !ok {
		return types.ForecastRecord{}, malformed("%s block has no time", spec.Block)
	}
	if err := json.Unmarshal(raw, &ts); err != nil {
		return types.ForecastRecord{}, malformed("%s time is not a unix timestamp", spec.Block)
	}

	values := make(map[string]*float64, len(spec.Variables))
	for _, name := range spec.Variables {
		var v *float64
		if raw, ok := block[name]; ok {
			if err := json.Unmarshal(raw, &v); err != nil {
				return types.ForecastRecord{}, malformed("%s.%s is not numeric", spec.Block, name)
			}
		}
		values[name] = v
	}

	return types.ForecastRecord{
		Time:      time.Unix(ts, 0).UTC(),
		TimeKey:   spec.TimeKey,
		Variables: spec.Variables,
		Values:    values,
	}, nil
}

// dstSlack is the offset a daily axis may drift by when it crosses a
// daylight saving change in the requested timezone.
const dstSlack = int64(time.Hour / time.Second)

// parseSeries reads a block of parallel arrays. The time axis must be
// regular: times[i] == times[0] + i*step, where step is the first reported
// interval (or the cadence step for a single point). Daily axes use the
// cadence step and may deviate by up to one hour for daylight saving changes. One record is produced per
// reported instant.
func parseSeries(block map[string]json.RawMessage, spec types.CadenceSpec) ([]types.ForecastRecord, error) {
	var times []int64
	raw, ok := block["time"]
	if !ok {
		return nil, malformed("%s block has no time axis", spec.Block)
	}
	if err := json.Unmarshal(raw, &times); err != nil {
		return nil, malformed("%s time axis is not a list of unix timestamps", spec.Block)
	}
	if len(times) == 0 {
		return []types.ForecastRecord{}, nil
	}

	step := int64(spec.Step / time.Second)
	var slack int64
	switch {
	case spec.Step >= 24*time.Hour:
		slack = dstSlack
	case len(times) > 1:
		step = times[1] - times[0]
	}
	if step <= 0 {
		return nil, malformed("%s time axis is not increasing", spec.Block)
	}
	for i, ts := range times {
		expected := times[0] + int64(i)*step
		if d := ts - expected; d > slack || d < -slack || (i > 0 && ts <= times[i-1]) {
			return nil, malformed("%s time axis is irregular at index %d: got %d, want %d", spec.Block, i, ts, expected)
		}
	}

	columns := make(map[string][]*float64, len(spec.Variables))
	for _, name := range spec.Variables {
		raw, ok := block[name]
		if !ok {
			continue
		}
		var col []*float64
		if err := json.Unmarshal(raw, &col); err != nil {
			return nil, malformed("%s.%s is not a numeric series", spec.Block, name)
		}
		columns[name] = col
	}

	records := make([]types.ForecastRecord, 0, len(times))
	for i, ts := range times {
		values := make(map[string]*float64, len(spec.Variables))
		for _, name := range spec.Variables {
			col := columns[name]
			if i < len(col) {
				values[name] = col[i]
			} else {
				values[name] = nil
			}
		}
		records = append(records, types.ForecastRecord{
			Time:      time.Unix(ts, 0).UTC(),
			TimeKey:   spec.TimeKey,
			Variables: spec.Variables,
			Values:    values,
		})
	}
	return records, nil
}
