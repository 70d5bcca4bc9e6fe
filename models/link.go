package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MatchType string

const (
	MatchTransponder MatchType = "transponder"
	MatchExact       MatchType = "exact"
	MatchFuzzy       MatchType = "fuzzy"
)

// Strength orders match types; a transponder hit outranks a name hit.
func (m MatchType) Strength() int {
	switch m {
	case MatchTransponder:
		return 3
	case MatchExact:
		return 2
	case MatchFuzzy:
		return 1
	}
	return 0
}

type LinkStatus string

const (
	LinkConfirmed LinkStatus = "confirmed"
	LinkSuggested LinkStatus = "suggested"
	LinkRejected  LinkStatus = "rejected"
	LinkConflict  LinkStatus = "conflict"
)

// DriverLink associates an imported driver with a platform user.
type DriverLink struct {
	bun.BaseModel `bun:"table:driver_links,alias:dl"`

	ID             int64      `bun:"id,pk,autoincrement" json:"id"`
	DriverID       int64      `bun:"driver_id,notnull,unique:driver_link_pair" json:"driverID"`
	UserID         int64      `bun:"user_id,notnull,unique:driver_link_pair" json:"userID"`
	MatchType      MatchType  `bun:"match_type,notnull" json:"matchType"`
	Similarity     float64    `bun:"similarity,notnull" json:"similarity"`
	Status         LinkStatus `bun:"status,notnull" json:"status"`
	EventCount     int        `bun:"event_count,notnull,default:0" json:"eventCount"`
	ConfirmedAt    *time.Time `bun:"confirmed_at" json:"confirmedAt,omitempty"`
	ConflictReason *string    `bun:"conflict_reason" json:"conflictReason,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

// DriverLinkEvent records that an event contributed evidence to a link.
type DriverLinkEvent struct {
	bun.BaseModel `bun:"table:driver_link_events,alias:dle"`

	ID       int64 `bun:"id,pk,autoincrement" json:"id"`
	DriverID int64 `bun:"driver_id,notnull,unique:driver_link_event" json:"driverID"`
	UserID   int64 `bun:"user_id,notnull,unique:driver_link_event" json:"userID"`
	EventID  int64 `bun:"event_id,notnull,unique:driver_link_event" json:"eventID"`
}
