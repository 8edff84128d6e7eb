package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// ForecastRecord is one normalized row of provider data: the cadence's fixed
// variable set at a single instant. A nil value means the provider reported
// no value for that variable.
type ForecastRecord struct {
	Time      time.Time
	TimeKey   string
	Variables []string
	Values    map[string]*float64
}

// Value returns the named variable and whether the provider supplied it.
func (r ForecastRecord) Value(name string) (float64, bool) {
	v, ok := r.Values[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// MarshalJSON encodes the record as a flat object: variables in cadence order,
// followed by the timestamp under TimeKey as an RFC 3339 UTC string.
func (r ForecastRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Variables {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	timeKey := r.TimeKey
	if timeKey == "" {
		timeKey = "time"
	}
	if len(r.Variables) > 0 {
		buf.WriteByte(',')
	}
	key, _ := json.Marshal(timeKey)
	ts, _ := json.Marshal(r.Time.UTC().Format(time.RFC3339))
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(ts)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ForecastPayload is the outbound message published once per (farm, cadence).
type ForecastPayload struct {
	Type     Cadence          `json:"type"`
	UserID   string           `json:"user_id"`
	Email    string           `json:"email"`
	FarmID   string           `json:"farm_id"`
	FarmName string           `json:"farm_name"`
	Crops    []string         `json:"crops"`
	Fields   []Field          `json:"fields"`
	Lat      float64          `json:"lat"`
	Lon      float64          `json:"lon"`
	Forecast []ForecastRecord `json:"forecast"`
}
