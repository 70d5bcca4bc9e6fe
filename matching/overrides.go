package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/padraicbc/racedata/models"
)

// OverrideStore is the persistence behind override management.
type OverrideStore interface {
	GetEvent(ctx context.Context, eventID int64) (*models.Event, error)
	GetRace(ctx context.Context, raceID int64) (*models.Race, error)
	GetDriver(ctx context.Context, driverID int64) (*models.Driver, error)
	GetOverride(ctx context.Context, id int64) (*models.TransponderOverride, error)
	ListOverrides(ctx context.Context, eventID int64) ([]models.TransponderOverride, error)
	CreateOverride(ctx context.Context, o *models.TransponderOverride) error
	UpdateOverride(ctx context.Context, o *models.TransponderOverride) error
	DeleteOverride(ctx context.Context, id int64) error
}

// OverrideInput is an operator's request to record or change an override.
type OverrideInput struct {
	DriverID            int64  `json:"driverID"`
	EffectiveFromRaceID *int64 `json:"effectiveFromRaceID"`
	Transponder         string `json:"transponder"`
}

// Overrides validates and stores transponder overrides.
type Overrides struct {
	store OverrideStore
	log   *zap.Logger
	now   func() time.Time
}

func NewOverrides(store OverrideStore, log *zap.Logger) *Overrides {
	if log == nil {
		log = zap.NewNop()
	}
	return &Overrides{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Overrides) List(ctx context.Context, eventID int64) ([]models.TransponderOverride, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d", eventID)
	}
	return s.store.ListOverrides(ctx, eventID)
}

// Create records an override for a driver in eventID on behalf of createdBy.
func (s *Overrides) Create(ctx context.Context, eventID int64, in OverrideInput, createdBy string) (*models.TransponderOverride, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d", eventID)
	}
	if _, err := s.store.GetDriver(ctx, in.DriverID); err != nil {
		return nil, notFound(err, "driver %d", in.DriverID)
	}
	o := &models.TransponderOverride{
		DriverID:  in.DriverID,
		EventID:   eventID,
		CreatedAt: s.now(),
		CreatedBy: createdBy,
	}
	if err := s.apply(ctx, o, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("create override: %w", err)
	}
	s.log.Info("transponder override created",
		zap.Int64("override_id", o.ID),
		zap.Int64("event_id", eventID),
		zap.Int64("driver_id", o.DriverID),
		zap.String("created_by", createdBy),
	)
	return o, nil
}

// Update changes an override's transponder and effective race. The driver
// and event it belongs to cannot change.
func (s *Overrides) Update(ctx context.Context, id int64, in OverrideInput) (*models.TransponderOverride, error) {
	o, err := s.store.GetOverride(ctx, id)
	if err != nil {
		return nil, notFound(err, "override %d", id)
	}
	if in.DriverID != 0 && in.DriverID != o.DriverID {
		return nil, fmt.Errorf("%w: override %d belongs to driver %d", ErrValidation, id, o.DriverID)
	}
	if err := s.apply(ctx, o, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOverride(ctx, o); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: override %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("update override: %w", err)
	}
	s.log.Info("transponder override updated", zap.Int64("override_id", id))
	return o, nil
}

func (s *Overrides) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteOverride(ctx, id); err != nil {
		return notFound(err, "override %d", id)
	}
	s.log.Info("transponder override deleted", zap.Int64("override_id", id))
	return nil
}

func (s *Overrides) apply(ctx context.Context, o *models.TransponderOverride, in OverrideInput) error {
	t := strings.TrimSpace(in.Transponder)
	if t == "" {
		return fmt.Errorf("%w: transponder is required", ErrValidation)
	}
	if in.EffectiveFromRaceID != nil {
		race, err := s.store.GetRace(ctx, *in.EffectiveFromRaceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: race %d does not exist", ErrValidation, *in.EffectiveFromRaceID)
			}
			return fmt.Errorf("load race: %w", err)
		}
		if race.EventID != o.EventID {
			return fmt.Errorf("%w: race %d does not belong to event %d", ErrValidation, race.ID, o.EventID)
		}
	}
	o.Transponder = t
	o.EffectiveFromRaceID = in.EffectiveFromRaceID
	return nil
}
