package models

import "github.com/uptrace/bun"

// User is a platform account with bcrypt-hashed password. DriverName and
// Transponder are what the racer registered and are used for link matching.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             int64   `bun:"id,pk,autoincrement" json:"id"`
	Username       string  `bun:"username,notnull,unique" json:"username"`
	Password       string  `bun:"password,notnull" json:"-"`
	DriverName     string  `bun:"driver_name,notnull,default:''" json:"driverName"`
	NormalizedName string  `bun:"normalized_name,notnull,default:''" json:"normalizedName"`
	Transponder    *string `bun:"transponder" json:"transponder,omitempty"`
}
