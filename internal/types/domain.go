package types

import "strings"

// FieldStatusPlanted is the only field status that contributes to a forecast payload.
const FieldStatusPlanted = "PLANTED"

// User is a directory record with the farms it owns.
type User struct {
	ID    string
	Name  string
	Email string
	Farms []Farm
}

// Owner identifies who a forecast payload is addressed to.
type Owner struct {
	UserID string
	Email  string
}

// Owner returns the addressing part of the user record.
func (u User) Owner() Owner {
	return Owner{UserID: u.ID, Email: u.Email}
}

// Farm is the canonical representation of a geolocated growing site. Both the
// directory repository and inbound farm events are normalized into a Farm
// before ingestion; Fields only ever holds planted fields with a seed type.
type Farm struct {
	ID        string
	Name      string
	Latitude  *float64
	Longitude *float64
	SoilType  string
	Fields    []Field
}

// Field is a planted area within a farm.
type Field struct {
	FieldID     string `json:"field_id"`
	SeedType    string `json:"seed_type"`
	GrowthStage string `json:"growth_stage"`
}

// IncludeField reports whether a raw field with the given status and seed type
// contributes to a farm. An empty status is accepted so that producers which
// already filtered their fields (farm events) are not penalized.
func IncludeField(status, seedType string) bool {
	if strings.TrimSpace(seedType) == "" {
		return false
	}
	if status == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(status), FieldStatusPlanted)
}

// Crops returns the distinct seed types present in the farm's fields, in the
// order they first appear.
func (f Farm) Crops() []string {
	crops := make([]string, 0, len(f.Fields))
	seen := make(map[string]struct{}, len(f.Fields))
	for _, field := range f.Fields {
		if field.SeedType == "" {
			continue
		}
		if _, ok := seen[field.SeedType]; ok {
			continue
		}
		seen[field.SeedType] = struct{}{}
		crops = append(crops, field.SeedType)
	}
	return crops
}

// DisplayName returns the farm name, falling back to its ID.
func (f Farm) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// Coordinates returns the validated farm location.
func (f Farm) Coordinates() (lat, lon float64, err error) {
	if f.Latitude == nil || f.Longitude == nil {
		return 0, 0, NewAppError(ErrCodeValidationMissingCoordinates, "farm has no coordinates", nil)
	}
	lat, lon = *f.Latitude, *f.Longitude
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}
