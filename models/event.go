package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is one race meeting imported from the timing source.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID             int64      `bun:"id,pk,autoincrement" json:"id"`
	SourceEventID  string     `bun:"source_event_id,notnull,default:''" json:"sourceEventID"`
	TrackID        int64      `bun:"track_id,notnull,default:0" json:"trackID"`
	Name           string     `bun:"name,notnull,default:''" json:"name"`
	Depth          Depth      `bun:"depth,notnull,default:'none'" json:"depth"`
	LastIngestedAt *time.Time `bun:"last_ingested_at" json:"lastIngestedAt,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Race is a single session within an event. RaceOrder is the running order
// published by the timing source and may be missing.
type Race struct {
	bun.BaseModel `bun:"table:races,alias:rc"`

	ID        int64  `bun:"id,pk,autoincrement" json:"id"`
	EventID   int64  `bun:"event_id,notnull" json:"eventID"`
	ClassName string `bun:"class_name,notnull" json:"className"`
	RaceOrder *int   `bun:"race_order" json:"raceOrder,omitempty"`
	Label     string `bun:"label,notnull,default:''" json:"label"`
}

// RaceResult is one driver's finishing row in a race.
type RaceResult struct {
	bun.BaseModel `bun:"table:race_results,alias:rr"`

	ID       int64 `bun:"id,pk,autoincrement" json:"id"`
	RaceID   int64 `bun:"race_id,notnull" json:"raceID"`
	DriverID int64 `bun:"driver_id,notnull" json:"driverID"`
	Position *int  `bun:"position" json:"position,omitempty"`
	Laps     int   `bun:"laps,notnull,default:0" json:"laps"`
}

// Lap is a single timed lap.
type Lap struct {
	bun.BaseModel `bun:"table:laps,alias:lp"`

	ID        int64   `bun:"id,pk,autoincrement" json:"id"`
	RaceID    int64   `bun:"race_id,notnull" json:"raceID"`
	DriverID  int64   `bun:"driver_id,notnull" json:"driverID"`
	LapNumber int     `bun:"lap_number,notnull" json:"lapNumber"`
	LapTime   float64 `bun:"lap_time,notnull" json:"lapTime"`
}
