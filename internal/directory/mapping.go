package directory

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"weatheringest/internal/types"
)

const (
	defaultFarmName    = "Unknown Farm"
	defaultFieldID     = "unknown"
	defaultGrowthStage = "0"
)

// BSON shapes are local to this package so domain types carry no bson tags.

type mongoUser struct {
	ID        any    `bson:"_id"`
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Email     string `bson:"email"`
}

type mongoFarm struct {
	ID        any          `bson:"_id"`
	Name      string       `bson:"name"`
	Latitude  *float64     `bson:"latitude"`
	Longitude *float64     `bson:"longitude"`
	SoilType  string       `bson:"soilType"`
	Fields    []mongoField `bson:"fields"`
}

type mongoField struct {
	ID          any    `bson:"_id"`
	Status      string `bson:"status"`
	SeedType    string `bson:"seedType"`
	GrowthStage any    `bson:"growthStage"`
}

func (u mongoUser) toUser() types.User {
	return types.User{
		ID:    idString(u.ID),
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		Email: u.Email,
	}
}

func (f mongoFarm) toFarm() types.Farm {
	name := f.Name
	if name == "" {
		name = defaultFarmName
	}
	farm := types.Farm{
		ID:        idString(f.ID),
		Name:      name,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		SoilType:  f.SoilType,
		Fields:    []types.Field{},
	}
	for _, field := range f.Fields {
		// Directory fields always carry a status; only PLANTED ones count.
		if field.Status == "" || !types.IncludeField(field.Status, field.SeedType) {
			continue
		}
		fieldID := idString(field.ID)
		if fieldID == "" {
			fieldID = defaultFieldID
		}
		stage := scalarString(field.GrowthStage)
		if stage == "" {
			stage = defaultGrowthStage
		}
		farm.Fields = append(farm.Fields, types.Field{
			FieldID:     fieldID,
			SeedType:    field.SeedType,
			GrowthStage: stage,
		})
	}
	return farm
}

// idString renders an _id the way other services print it: ObjectIDs as hex.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
