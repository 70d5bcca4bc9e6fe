package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TransponderOverride records that from EffectiveFromRaceID onwards (or from
// the first race when nil) a driver ran a different transponder.
type TransponderOverride struct {
	bun.BaseModel `bun:"table:transponder_overrides,alias:tov"`

	ID                  int64     `bun:"id,pk,autoincrement" json:"id"`
	DriverID            int64     `bun:"driver_id,notnull" json:"driverID"`
	EventID             int64     `bun:"event_id,notnull" json:"eventID"`
	EffectiveFromRaceID *int64    `bun:"effective_from_race_id" json:"effectiveFromRaceID,omitempty"`
	Transponder         string    `bun:"transponder,notnull" json:"transponder"`
	CreatedAt           time.Time `bun:"created_at,notnull" json:"createdAt"`
	CreatedBy           string    `bun:"created_by,notnull,default:''" json:"createdBy"`
}
