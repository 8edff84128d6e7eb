package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadenceSpec_RoutingKeys(t *testing.T) {
	want := map[Cadence]string{
		CadenceCurrent: "weather.current",
		CadenceHourly:  "weather.hourly",
		CadenceDaily:   "weather.daily",
	}
	for c, key := range want {
		spec, err := c.Spec()
		require.NoError(t, err)
		assert.Equal(t, key, spec.RoutingKey)
		assert.Equal(t, key, c.RoutingKey())
		assert.Equal(t, c, spec.Cadence)
	}
}

func TestCadenceSpec_RoutingKeysAreDistinct(t *testing.T) {
	seen := map[string]Cadence{}
	for _, c := range Cadences {
		key := c.RoutingKey()
		prev, dup := seen[key]
		assert.Falsef(t, dup, "routing key %s shared by %s and %s", key, prev, c)
		seen[key] = c
	}
}

func TestCadenceSpec_Unknown(t *testing.T) {
	_, err := Cadence("weekly").Spec()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidationInvalidCadence))
	assert.False(t, Cadence("weekly").Valid())
	assert.Empty(t, Cadence("weekly").RoutingKey())
}

func TestCadenceSpec_TimeKeys(t *testing.T) {
	current, _ := CadenceCurrent.Spec()
	hourly, _ := CadenceHourly.Spec()
	daily, _ := CadenceDaily.Spec()

	assert.Equal(t, "time", current.TimeKey)
	assert.True(t, current.Snapshot)
	assert.Equal(t, "date", hourly.TimeKey)
	assert.Equal(t, "date", daily.TimeKey)
	assert.Contains(t, daily.Variables, "et0_fao_evapotranspiration")
	assert.Contains(t, current.Variables, "weather_code")
}
