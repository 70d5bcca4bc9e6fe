package models

import "github.com/uptrace/bun"

// DriverSource distinguishes drivers imported from the timing source from
// those created for registered platform users.
type DriverSource string

const (
	DriverSourceExternal DriverSource = "external"
	DriverSourcePlatform DriverSource = "platform"
)

// Driver is a racer identity independent of any one event.
type Driver struct {
	bun.BaseModel `bun:"table:drivers,alias:d"`

	ID             int64        `bun:"id,pk,autoincrement" json:"id"`
	DisplayName    string       `bun:"display_name,notnull" json:"displayName"`
	NormalizedName string       `bun:"normalized_name,notnull" json:"normalizedName"`
	Transponder    *string      `bun:"transponder" json:"transponder,omitempty"`
	Source         DriverSource `bun:"source,notnull,default:'external'" json:"source"`
}

// Entrant is a driver's registration in one class of one event.
type Entrant struct {
	bun.BaseModel `bun:"table:entrants,alias:en"`

	ID          int64   `bun:"id,pk,autoincrement" json:"id"`
	EventID     int64   `bun:"event_id,notnull,unique:entrant_class" json:"eventID"`
	DriverID    int64   `bun:"driver_id,notnull,unique:entrant_class" json:"driverID"`
	ClassName   string  `bun:"class_name,notnull,unique:entrant_class" json:"className"`
	Transponder *string `bun:"transponder" json:"transponder,omitempty"`
	CarNumber   *string `bun:"car_number" json:"carNumber,omitempty"`

	Driver *Driver `bun:"rel:belongs-to,join:driver_id=id" json:"driver,omitempty"`
}
