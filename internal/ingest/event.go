package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"weatheringest/internal/types"
)

// flexString accepts a JSON string, number or boolean and keeps its text.
// Producers disagree on whether ids are strings or numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return fmt.Errorf("expected scalar, got %s", b)
	default:
		*s = flexString(b)
		return nil
	}
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat struct {
	set   bool
	value float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("coordinate %q is not a number", s)
		}
		f.set, f.value = true, v
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.set, f.value = true, v
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

func firstSet(vals ...flexFloat) *float64 {
	for _, v := range vals {
		if v.set {
			return v.ptr()
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// eventFarm is the inline farm of a farm lifecycle event. Both naming
// conventions seen on the bus are accepted.
type eventFarm struct {
	ID        flexString   `json:"id"`
	MongoID   flexString   `json:"_id"`
	Name      string       `json:"name"`
	Latitude  flexFloat    `json:"latitude"`
	Longitude flexFloat    `json:"longitude"`
	Lat       flexFloat    `json:"lat"`
	Lon       flexFloat    `json:"lon"`
	SoilType  string       `json:"soilType"`
	Fields    []eventField `json:"fields"`
	// Crops is accepted but ignored; crops are always recomputed from fields.
	Crops json.RawMessage `json:"crops"`
}

type eventField struct {
	FieldID          flexString `json:"field_id"`
	ID               flexString `json:"id"`
	MongoID          flexString `json:"_id"`
	SeedType         string     `json:"seed_type"`
	SeedTypeCamel    string     `json:"seedType"`
	GrowthStage      flexString `json:"growth_stage"`
	GrowthStageCamel flexString `json:"growthStage"`
	Status           string     `json:"status"`
}

// FarmFromEvent normalizes the "farm" object of a farm event into a
// types.Farm. The error is non-nil only when raw is not a decodable farm
// object; missing attributes are left for the processor to judge.
func FarmFromEvent(raw json.RawMessage) (types.Farm, error) {
	var ef eventFarm
	if err := json.Unmarshal(raw, &ef); err != nil {
		return types.Farm{}, types.NewAppError(types.ErrCodeValidationInvalidEvent, "farm payload has an unexpected shape", err)
	}

	farm := types.Farm{
		ID:        firstNonEmpty(string(ef.ID), string(ef.MongoID)),
		Name:      ef.Name,
		Latitude:  firstSet(ef.Latitude, ef.Lat),
		Longitude: firstSet(ef.Longitude, ef.Lon),
		SoilType:  ef.SoilType,
		Fields:    make([]types.Field, 0, len(ef.Fields)),
	}
	for _, f := range ef.Fields {
		seed := firstNonEmpty(f.SeedType, f.SeedTypeCamel)
		if !types.IncludeField(f.Status, seed) {
			continue
		}
		id := firstNonEmpty(string(f.FieldID), string(f.ID), string(f.MongoID))
		if id == "" {
			id = "unknown"
		}
		stage := firstNonEmpty(string(f.GrowthStage), string(f.GrowthStageCamel))
		if stage == "" {
			stage = "0"
		}
		farm.Fields = append(farm.Fields, types.Field{
			FieldID:     id,
			SeedType:    seed,
			GrowthStage: stage,
		})
	}
	return farm, nil
}
