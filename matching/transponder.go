package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/padraicbc/racedata/models"
)

// Source names where a resolved transponder number came from.
type Source string

const (
	SourceNone     Source = ""
	SourceOverride Source = "override"
	SourceEntrant  Source = "entrant"
	SourceDriver   Source = "driver"
)

// Resolution is the effective transponder for a driver at a point in an
// event. A zero Resolution means the number is unknown, which is not an error.
type Resolution struct {
	Transponder string `json:"transponder,omitempty"`
	Source      Source `json:"source,omitempty"`
	OverrideID  int64  `json:"overrideID,omitempty"`
}

// Found reports whether any source supplied a number.
func (r Resolution) Found() bool { return r.Source != SourceNone }

// OverrideRecord is an override joined with the race order of its
// effective-from race. EffectiveRaceOrder is nil when the override applies
// from the first race or when the referenced race has no published order.
type OverrideRecord struct {
	Override           models.TransponderOverride
	EffectiveRaceOrder *int
}

func (o OverrideRecord) allRaces() bool { return o.Override.EffectiveFromRaceID == nil }

// RaceRef identifies the race a resolution is made for.
type RaceRef struct {
	ID    int64
	Order *int
}

// applies reports whether o is in force at target. A nil target (no specific
// race) only admits the all-races override. An override whose effective race
// has no order only matches that exact race; it is never compared by order.
func (o OverrideRecord) applies(target *RaceRef) bool {
	if o.allRaces() {
		return true
	}
	if target == nil {
		return false
	}
	if *o.Override.EffectiveFromRaceID == target.ID {
		return true
	}
	if o.EffectiveRaceOrder == nil || target.Order == nil {
		return false
	}
	return *o.EffectiveRaceOrder <= *target.Order
}

// rank groups applicable overrides: exact race, ordered, all-races.
func (o OverrideRecord) rank(target *RaceRef) int {
	switch {
	case o.allRaces():
		return 2
	case target != nil && *o.Override.EffectiveFromRaceID == target.ID:
		return 0
	}
	return 1
}

// SelectOverride picks the override in force at target, or nil. Candidates
// are sorted exact race first, then by effective race order descending, then
// newest first, with the all-races override last, and the head is taken.
func SelectOverride(records []OverrideRecord, target *RaceRef) *models.TransponderOverride {
	applicable := make([]OverrideRecord, 0, len(records))
	for _, rec := range records {
		if rec.applies(target) {
			applicable = append(applicable, rec)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if ra, rb := a.rank(target), b.rank(target); ra != rb {
			return ra < rb
		}
		if a.EffectiveRaceOrder != nil && b.EffectiveRaceOrder != nil && *a.EffectiveRaceOrder != *b.EffectiveRaceOrder {
			return *a.EffectiveRaceOrder > *b.EffectiveRaceOrder
		}
		if !a.Override.CreatedAt.Equal(b.Override.CreatedAt) {
			return a.Override.CreatedAt.After(b.Override.CreatedAt)
		}
		return a.Override.ID > b.Override.ID
	})

	ov := applicable[0].Override
	return &ov
}

// ResolveInput is everything needed to resolve one transponder without I/O.
type ResolveInput struct {
	Overrides []OverrideRecord
	Target    *RaceRef
	Entrant   *models.Entrant
	Driver    *models.Driver
}

// Resolve applies source precedence: override, entry list, driver default.
func Resolve(in ResolveInput) Resolution {
	if ov := SelectOverride(in.Overrides, in.Target); ov != nil {
		if t := strings.TrimSpace(ov.Transponder); t != "" {
			return Resolution{Transponder: t, Source: SourceOverride, OverrideID: ov.ID}
		}
	}
	if in.Entrant != nil {
		if t := trimmed(in.Entrant.Transponder); t != "" {
			return Resolution{Transponder: t, Source: SourceEntrant}
		}
	}
	if in.Driver != nil {
		if t := trimmed(in.Driver.Transponder); t != "" {
			return Resolution{Transponder: t, Source: SourceDriver}
		}
	}
	return Resolution{}
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// ResolverStore is the read access the Resolver needs. Lookups that find
// nothing return an error matching sql.ErrNoRows.
type ResolverStore interface {
	GetRace(ctx context.Context, raceID int64) (*models.Race, error)
	GetDriver(ctx context.Context, driverID int64) (*models.Driver, error)
	GetEntrant(ctx context.Context, eventID, driverID int64, className string) (*models.Entrant, error)
	DriverOverrides(ctx context.Context, driverID, eventID int64) ([]OverrideRecord, error)
}

// Resolver answers single transponder lookups against the store.
type Resolver struct {
	store ResolverStore
}

func NewResolver(store ResolverStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the transponder driverID used in raceID of eventID. raceID
// may be nil to ask about the event as a whole; className may be empty when
// raceID is given, in which case the race's class is used.
func (r *Resolver) Resolve(ctx context.Context, driverID, eventID int64, raceID *int64, className string) (Resolution, error) {
	var target *RaceRef
	if raceID != nil {
		race, err := r.store.GetRace(ctx, *raceID)
		if err != nil {
			return Resolution{}, notFound(err, "race %d", *raceID)
		}
		if race.EventID != eventID {
			return Resolution{}, fmt.Errorf("%w: race %d does not belong to event %d", ErrValidation, race.ID, eventID)
		}
		target = &RaceRef{ID: race.ID, Order: race.RaceOrder}
		if className == "" {
			className = race.ClassName
		}
	}

	overrides, err := r.store.DriverOverrides(ctx, driverID, eventID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load overrides: %w", err)
	}

	in := ResolveInput{Overrides: overrides, Target: target}

	if className != "" {
		entrant, err := r.store.GetEntrant(ctx, eventID, driverID, className)
		switch {
		case err == nil:
			in.Entrant = entrant
		case !errors.Is(err, sql.ErrNoRows):
			return Resolution{}, fmt.Errorf("load entrant: %w", err)
		}
	}

	driver, err := r.store.GetDriver(ctx, driverID)
	switch {
	case err == nil:
		in.Driver = driver
	case !errors.Is(err, sql.ErrNoRows):
		return Resolution{}, fmt.Errorf("load driver: %w", err)
	}

	return Resolve(in), nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("load %s: %w", fmt.Sprintf(format, args...), err)
}
