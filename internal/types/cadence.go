package types

import (
	"fmt"
	"time"
)

// Cadence identifies one of the three forecast shapes the service acquires.
type Cadence string

const (
	CadenceCurrent Cadence = "current"
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
)

// Cadences lists every supported cadence in canonical processing order.
var Cadences = []Cadence{CadenceCurrent, CadenceHourly, CadenceDaily}

// CadenceSpec binds a cadence to everything that differs per cadence: the
// provider block it is read from, its variable set, the timestamp key used in
// published records and the routing key on the weather exchange.
// Adding a cadence is an edit to cadenceTable only.
type CadenceSpec struct {
	Cadence    Cadence
	Block      string        // provider response block ("current", "hourly", "daily")
	RoutingKey string        // weather exchange routing key
	TimeKey    string        // record timestamp key ("time" or "date")
	Step       time.Duration // nominal interval between series records
	Snapshot   bool          // true when the block is a single instant, not a series
	Variables  []string
}

var cadenceTable = map[Cadence]CadenceSpec{
	CadenceCurrent: {
		Cadence:    CadenceCurrent,
		Block:      "current",
		RoutingKey: "weather.current",
		TimeKey:    "time",
		Step:       15 * time.Minute,
		Snapshot:   true,
		Variables: []string{
			"temperature_2m", "wind_speed_10m", "rain", "precipitation",
			"showers", "snowfall", "weather_code",
		},
	},
	CadenceHourly: {
		Cadence:    CadenceHourly,
		Block:      "hourly",
		RoutingKey: "weather.hourly",
		TimeKey:    "date",
		Step:       time.Hour,
		Variables: []string{
			"temperature_2m", "soil_moisture_0_to_1cm", "soil_moisture_1_to_3cm",
			"soil_moisture_3_to_9cm", "soil_moisture_9_to_27cm", "freezing_level_height",
			"rain", "snowfall", "precipitation", "precipitation_probability",
			"apparent_temperature", "relative_humidity_2m", "sunshine_duration",
			"direct_radiation", "diffuse_radiation", "shortwave_radiation_instant",
			"wind_speed_10m", "et0_fao_evapotranspiration",
		},
	},
	CadenceDaily: {
		Cadence:    CadenceDaily,
		Block:      "daily",
		RoutingKey: "weather.daily",
		TimeKey:    "date",
		Step:       24 * time.Hour,
		Variables: []string{
			"temperature_2m_max", "temperature_2m_min", "showers_sum", "rain_sum",
			"snowfall_sum", "wind_speed_10m_max", "daylight_duration", "et0_fao_evapotranspiration",
		},
	},
}

// Spec returns the table entry for the cadence, or an InvalidCadence error.
func (c Cadence) Spec() (CadenceSpec, error) {
	spec, ok := cadenceTable[c]
	if !ok {
		return CadenceSpec{}, NewAppError(
			ErrCodeValidationInvalidCadence,
			fmt.Sprintf("unknown forecast cadence %q", string(c)),
			nil,
		)
	}
	return spec, nil
}

// Valid reports whether c is one of the supported cadences.
func (c Cadence) Valid() bool {
	_, ok := cadenceTable[c]
	return ok
}

// RoutingKey returns the weather exchange routing key, or "" for an unknown cadence.
func (c Cadence) RoutingKey() string {
	return cadenceTable[c].RoutingKey
}
