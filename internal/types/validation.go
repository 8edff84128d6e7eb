package types

import (
	"fmt"
	"math"
)

// Coordinate bounds in degrees.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// ValidateCoordinates checks that lat/lon are finite and within WGS84 bounds.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < MinLat || lat > MaxLat {
		return NewAppError(ErrCodeValidationInvalidLat,
			fmt.Sprintf("latitude %v outside [%v, %v]", lat, MinLat, MaxLat), nil)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < MinLon || lon > MaxLon {
		return NewAppError(ErrCodeValidationInvalidLon,
			fmt.Sprintf("longitude %v outside [%v, %v]", lon, MinLon, MaxLon), nil)
	}
	return nil
}
