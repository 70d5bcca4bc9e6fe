// Package store implements the event, matching and override persistence on
// top of bun. Single-row lookups that find nothing return sql.ErrNoRows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

type Store struct {
	db *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB { return s.db }

// Events

func (s *Store) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	ev := &models.Event{}
	if err := s.db.NewSelect().Model(ev).Where("ev.id = ?", eventID).Scan(ctx); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.db.NewSelect().Model(&events).OrderExpr("ev.id DESC").Scan(ctx)
	return events, err
}

func (s *Store) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.Depth == "" {
		ev.Depth = models.DepthNone
	}
	_, err := s.db.NewInsert().Model(ev).Returning("*").Exec(ctx)
	return err
}

// depthRankSQL ranks the depth column the way models.Depth.Rank does.
var depthRankSQL = fmt.Sprintf(
	"(CASE depth WHEN '%s' THEN %d WHEN '%s' THEN %d WHEN '%s' THEN %d WHEN '%s' THEN %d ELSE -1 END)",
	models.DepthNone, models.DepthNone.Rank(),
	models.DepthEntries, models.DepthEntries.Rank(),
	models.DepthResults, models.DepthResults.Rank(),
	models.DepthLapsFull, models.DepthLapsFull.Rank(),
)

// SetDepth stamps the ingestion time and raises the stored depth to depth.
// A shallower depth leaves the column alone, so runs from other processes
// that finish out of order cannot move it backwards.
func (s *Store) SetDepth(ctx context.Context, eventID int64, depth models.Depth, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("depth = CASE WHEN "+depthRankSQL+" < ? THEN ? ELSE depth END", depth.Rank(), depth).
		Set("last_ingested_at = ?", at).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *Store) EventCounts(ctx context.Context, eventID int64) (ingest.Counts, error) {
	var c ingest.Counts
	var err error

	c.Races, err = s.db.NewSelect().Model((*models.Race)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return c, fmt.Errorf("count races: %w", err)
	}

	c.Results, err = s.db.NewSelect().Model((*models.RaceResult)(nil)).
		Join("JOIN races AS rc ON rc.id = rr.race_id").
		Where("rc.event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return c, fmt.Errorf("count results: %w", err)
	}

	c.Laps, err = s.db.NewSelect().Model((*models.Lap)(nil)).
		Join("JOIN races AS rc ON rc.id = lp.race_id").
		Where("rc.event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return c, fmt.Errorf("count laps: %w", err)
	}
	return c, nil
}

// Races, drivers, entrants

func (s *Store) GetRace(ctx context.Context, raceID int64) (*models.Race, error) {
	race := &models.Race{}
	if err := s.db.NewSelect().Model(race).Where("rc.id = ?", raceID).Scan(ctx); err != nil {
		return nil, err
	}
	return race, nil
}

func (s *Store) EventRaces(ctx context.Context, eventID int64) ([]models.Race, error) {
	var races []models.Race
	err := s.db.NewSelect().Model(&races).
		Where("rc.event_id = ?", eventID).
		OrderExpr("rc.id").
		Scan(ctx)
	return races, err
}

func (s *Store) GetDriver(ctx context.Context, driverID int64) (*models.Driver, error) {
	d := &models.Driver{}
	if err := s.db.NewSelect().Model(d).Where("d.id = ?", driverID).Scan(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := s.db.NewInsert().Model(d).Returning("*").Exec(ctx)
	return err
}

func (s *Store) GetEntrant(ctx context.Context, eventID, driverID int64, className string) (*models.Entrant, error) {
	en := &models.Entrant{}
	err := s.db.NewSelect().Model(en).
		Where("en.event_id = ?", eventID).
		Where("en.driver_id = ?", driverID).
		Where("en.class_name = ?", className).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return en, nil
}

func (s *Store) EventEntrants(ctx context.Context, eventID int64) ([]models.Entrant, error) {
	var entrants []models.Entrant
	err := s.db.NewSelect().Model(&entrants).
		Relation("Driver").
		Where("en.event_id = ?", eventID).
		OrderExpr("en.id").
		Scan(ctx)
	return entrants, err
}

// Users

func (s *Store) Candidates(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.NewSelect().Model(&users).OrderExpr("u.id").Scan(ctx)
	return users, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	if err := s.db.NewSelect().Model(u).Where("u.username = ?", username).Scan(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.NewInsert().Model(u).Returning("*").Exec(ctx)
	return err
}

// UserDrivers returns the drivers confirmed as userID, ordered by id.
func (s *Store) UserDrivers(ctx context.Context, userID int64) ([]models.Driver, error) {
	confirmed := s.db.NewSelect().
		Model((*models.DriverLink)(nil)).
		Column("driver_id").
		Where("user_id = ?", userID).
		Where("status = ?", models.LinkConfirmed)

	var drivers []models.Driver
	err := s.db.NewSelect().Model(&drivers).
		Where("d.id IN (?)", confirmed).
		OrderExpr("d.id").
		Scan(ctx)
	return drivers, err
}

// Overrides

// DriverOverrides returns driverID's overrides in eventID with the race order
// of each effective-from race.
func (s *Store) DriverOverrides(ctx context.Context, driverID, eventID int64) ([]matching.OverrideRecord, error) {
	return s.overrideRecords(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("tov.event_id = ?", eventID).Where("tov.driver_id = ?", driverID)
	})
}

func (s *Store) EventOverrides(ctx context.Context, eventID int64) ([]matching.OverrideRecord, error) {
	return s.overrideRecords(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("tov.event_id = ?", eventID)
	})
}

func (s *Store) overrideRecords(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]matching.OverrideRecord, error) {
	var overrides []models.TransponderOverride
	if err := filter(s.db.NewSelect().Model(&overrides)).OrderExpr("tov.id").Scan(ctx); err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return nil, nil
	}

	var raceIDs []int64
	for _, o := range overrides {
		if o.EffectiveFromRaceID != nil {
			raceIDs = append(raceIDs, *o.EffectiveFromRaceID)
		}
	}
	orders := make(map[int64]*int, len(raceIDs))
	if len(raceIDs) > 0 {
		var races []models.Race
		err := s.db.NewSelect().Model(&races).
			Column("id", "race_order").
			Where("rc.id IN (?)", bun.In(raceIDs)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("load override races: %w", err)
		}
		for _, r := range races {
			orders[r.ID] = r.RaceOrder
		}
	}

	out := make([]matching.OverrideRecord, 0, len(overrides))
	for _, o := range overrides {
		rec := matching.OverrideRecord{Override: o}
		if o.EffectiveFromRaceID != nil {
			rec.EffectiveRaceOrder = orders[*o.EffectiveFromRaceID]
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetOverride(ctx context.Context, id int64) (*models.TransponderOverride, error) {
	o := &models.TransponderOverride{}
	if err := s.db.NewSelect().Model(o).Where("tov.id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOverrides(ctx context.Context, eventID int64) ([]models.TransponderOverride, error) {
	var out []models.TransponderOverride
	err := s.db.NewSelect().Model(&out).
		Where("tov.event_id = ?", eventID).
		OrderExpr("tov.driver_id, tov.id").
		Scan(ctx)
	return out, err
}

func (s *Store) CreateOverride(ctx context.Context, o *models.TransponderOverride) error {
	_, err := s.db.NewInsert().Model(o).Returning("*").Exec(ctx)
	return err
}

func (s *Store) UpdateOverride(ctx context.Context, o *models.TransponderOverride) error {
	res, err := s.db.NewUpdate().Model(o).
		Column("effective_from_race_id", "transponder").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *Store) DeleteOverride(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().Model((*models.TransponderOverride)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// Links

func (s *Store) LinksForDrivers(ctx context.Context, driverIDs []int64) ([]models.DriverLink, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}
	var links []models.DriverLink
	err := s.db.NewSelect().Model(&links).
		Where("dl.driver_id IN (?)", bun.In(driverIDs)).
		Scan(ctx)
	return links, err
}

func (s *Store) LinkEvents(ctx context.Context, eventID int64) ([]models.DriverLinkEvent, error) {
	var out []models.DriverLinkEvent
	err := s.db.NewSelect().Model(&out).Where("dle.event_id = ?", eventID).Scan(ctx)
	return out, err
}

// SaveLinks inserts new links, updates existing ones and records eventID as
// contributing to each, all in one transaction.
func (s *Store) SaveLinks(ctx context.Context, eventID int64, links []*models.DriverLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, l := range links {
		if l.ID == 0 {
			if _, err := tx.NewInsert().Model(l).Returning("id").Exec(ctx); err != nil {
				return fmt.Errorf("insert link %d/%d: %w", l.DriverID, l.UserID, err)
			}
		} else {
			if _, err := tx.NewUpdate().Model(l).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("update link %d: %w", l.ID, err)
			}
		}

		le := &models.DriverLinkEvent{DriverID: l.DriverID, UserID: l.UserID, EventID: eventID}
		if _, err := tx.NewInsert().Model(le).Ignore().Exec(ctx); err != nil {
			return fmt.Errorf("record link event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetLink(ctx context.Context, linkID int64) (*models.DriverLink, error) {
	l := &models.DriverLink{}
	if err := s.db.NewSelect().Model(l).Where("dl.id = ?", linkID).Scan(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) UpdateLink(ctx context.Context, l *models.DriverLink) error {
	res, err := s.db.NewUpdate().Model(l).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// EventLinks returns the links of every driver entered in eventID.
func (s *Store) EventLinks(ctx context.Context, eventID int64) ([]models.DriverLink, error) {
	entered := s.db.NewSelect().
		Model((*models.Entrant)(nil)).
		Column("driver_id").
		Where("event_id = ?", eventID)

	var links []models.DriverLink
	err := s.db.NewSelect().Model(&links).
		Where("dl.driver_id IN (?)", entered).
		OrderExpr("dl.driver_id, dl.similarity DESC, dl.id").
		Scan(ctx)
	return links, err
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

var (
	_ ingest.EventStore      = (*Store)(nil)
	_ matching.Store         = (*Store)(nil)
	_ matching.ResolverStore = (*Store)(nil)
	_ matching.OverrideStore = (*Store)(nil)
)
