package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bundb "github.com/padraicbc/racedata/db"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bundb.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, bundb.CreateTables(context.Background(), db))
	return New(db)
}

func intp(v int) *int       { return &v }
func strp(s string) *string { return &s }

type fixture struct {
	event  *models.Event
	races  []*models.Race
	driver *models.Driver
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	ev := &models.Event{SourceEventID: "rc-100", TrackID: 4, Name: "Spring Nationals"}
	require.NoError(t, s.CreateEvent(ctx, ev))

	var races []*models.Race
	for i, order := range []*int{intp(1), intp(2), nil} {
		r := &models.Race{EventID: ev.ID, ClassName: "2WD Buggy", RaceOrder: order, Label: []string{"Q1", "Q2", "Final"}[i]}
		_, err := s.db.NewInsert().Model(r).Exec(ctx)
		require.NoError(t, err)
		races = append(races, r)
	}

	d := &models.Driver{DisplayName: "John Smith", NormalizedName: "john smith", Transponder: strp("1000"), Source: models.DriverSourceExternal}
	require.NoError(t, s.CreateDriver(ctx, d))

	_, err := s.db.NewInsert().Model(&models.Entrant{
		EventID: ev.ID, DriverID: d.ID, ClassName: "2WD Buggy", Transponder: strp("2000"), CarNumber: strp("7"),
	}).Exec(ctx)
	require.NoError(t, err)

	results := []models.RaceResult{
		{RaceID: races[0].ID, DriverID: d.ID, Position: intp(1), Laps: 2},
		{RaceID: races[1].ID, DriverID: d.ID, Position: intp(3), Laps: 1},
	}
	_, err = s.db.NewInsert().Model(&results).Exec(ctx)
	require.NoError(t, err)

	laps := []models.Lap{
		{RaceID: races[0].ID, DriverID: d.ID, LapNumber: 1, LapTime: 21.4},
		{RaceID: races[0].ID, DriverID: d.ID, LapNumber: 2, LapTime: 20.9},
		{RaceID: races[1].ID, DriverID: d.ID, LapNumber: 1, LapTime: 21.1},
	}
	_, err = s.db.NewInsert().Model(&laps).Exec(ctx)
	require.NoError(t, err)

	return fixture{event: ev, races: races, driver: d}
}

func TestEvents_DepthAndCounts(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	ev, err := s.GetEvent(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepthNone, ev.Depth)
	assert.Nil(t, ev.LastIngestedAt)

	at := time.Date(2026, 4, 12, 15, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetDepth(ctx, f.event.ID, models.DepthLapsFull, at))

	ev, err = s.GetEvent(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepthLapsFull, ev.Depth)
	require.NotNil(t, ev.LastIngestedAt)
	assert.True(t, at.Equal(*ev.LastIngestedAt))

	c, err := s.EventCounts(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Races)
	assert.Equal(t, 2, c.Results)
	assert.Equal(t, 3, c.Laps)

	_, err = s.GetEvent(ctx, 999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, s.SetDepth(ctx, 999, models.DepthEntries, at), sql.ErrNoRows)
}

func TestEvents_SetDepthNeverLowers(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	first := time.Date(2026, 4, 12, 15, 30, 0, 0, time.UTC)
	later := first.Add(time.Hour)
	require.NoError(t, s.SetDepth(ctx, f.event.ID, models.DepthLapsFull, first))
	require.NoError(t, s.SetDepth(ctx, f.event.ID, models.DepthEntries, later))

	ev, err := s.GetEvent(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepthLapsFull, ev.Depth)
	require.NotNil(t, ev.LastIngestedAt)
	assert.True(t, later.Equal(*ev.LastIngestedAt))

	require.NoError(t, s.SetDepth(ctx, f.event.ID, models.DepthLapsFull, later))
	ev, err = s.GetEvent(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepthLapsFull, ev.Depth)
}

func TestEvents_SetDepthRaises(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	at := time.Date(2026, 4, 12, 15, 30, 0, 0, time.UTC)

	for _, d := range []models.Depth{models.DepthEntries, models.DepthResults, models.DepthLapsFull} {
		require.NoError(t, s.SetDepth(ctx, f.event.ID, d, at))
		ev, err := s.GetEvent(ctx, f.event.ID)
		require.NoError(t, err)
		assert.Equal(t, d, ev.Depth)
	}
}

func TestEntrants_WithDriver(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	entrants, err := s.EventEntrants(ctx, f.event.ID)
	require.NoError(t, err)
	require.Len(t, entrants, 1)
	require.NotNil(t, entrants[0].Driver)
	assert.Equal(t, "John Smith", entrants[0].Driver.DisplayName)

	en, err := s.GetEntrant(ctx, f.event.ID, f.driver.ID, "2WD Buggy")
	require.NoError(t, err)
	assert.Equal(t, "2000", *en.Transponder)

	_, err = s.GetEntrant(ctx, f.event.ID, f.driver.ID, "4WD")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestOverrides_RecordsCarryRaceOrder(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	all := &models.TransponderOverride{DriverID: f.driver.ID, EventID: f.event.ID, Transponder: "3000", CreatedAt: now, CreatedBy: "admin"}
	fromQ2 := &models.TransponderOverride{DriverID: f.driver.ID, EventID: f.event.ID, EffectiveFromRaceID: &f.races[1].ID, Transponder: "4000", CreatedAt: now, CreatedBy: "admin"}
	fromFinal := &models.TransponderOverride{DriverID: f.driver.ID, EventID: f.event.ID, EffectiveFromRaceID: &f.races[2].ID, Transponder: "5000", CreatedAt: now, CreatedBy: "admin"}
	for _, o := range []*models.TransponderOverride{all, fromQ2, fromFinal} {
		require.NoError(t, s.CreateOverride(ctx, o))
		assert.NotZero(t, o.ID)
	}

	recs, err := s.DriverOverrides(ctx, f.driver.ID, f.event.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Nil(t, recs[0].EffectiveRaceOrder)
	require.NotNil(t, recs[1].EffectiveRaceOrder)
	assert.Equal(t, 2, *recs[1].EffectiveRaceOrder)
	assert.Nil(t, recs[2].EffectiveRaceOrder, "final has no published order")

	evRecs, err := s.EventOverrides(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, evRecs, 3)

	fromQ2.Transponder = "4001"
	require.NoError(t, s.UpdateOverride(ctx, fromQ2))
	got, err := s.GetOverride(ctx, fromQ2.ID)
	require.NoError(t, err)
	assert.Equal(t, "4001", got.Transponder)

	require.NoError(t, s.DeleteOverride(ctx, all.ID))
	assert.ErrorIs(t, s.DeleteOverride(ctx, all.ID), sql.ErrNoRows)

	list, err := s.ListOverrides(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestResolver_AgainstStore(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateOverride(ctx, &models.TransponderOverride{
		DriverID: f.driver.ID, EventID: f.event.ID, EffectiveFromRaceID: &f.races[1].ID,
		Transponder: "4000", CreatedAt: time.Now().UTC(),
	}))
	r := matching.NewResolver(s)

	got, err := r.Resolve(ctx, f.driver.ID, f.event.ID, &f.races[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, matching.Resolution{Transponder: "2000", Source: matching.SourceEntrant}, got)

	got, err = r.Resolve(ctx, f.driver.ID, f.event.ID, &f.races[1].ID, "")
	require.NoError(t, err)
	assert.Equal(t, "4000", got.Transponder)
	assert.Equal(t, matching.SourceOverride, got.Source)

	// The final has no order, so the Q2 override is not compared against it.
	got, err = r.Resolve(ctx, f.driver.ID, f.event.ID, &f.races[2].ID, "")
	require.NoError(t, err)
	assert.Equal(t, matching.SourceEntrant, got.Source)
}

func TestLinks_SaveAndReconcile(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	_, err := s.db.NewInsert().Model(&models.User{
		Username: "jsmith", Password: "x", DriverName: "John Smith", NormalizedName: "john smith",
	}).Exec(ctx)
	require.NoError(t, err)

	svc := matching.NewService(s, matching.NewMatcher(nil, matching.DefaultPolicy()))

	changes, err := svc.ReconcileDriverLinks(ctx, f.event.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	link := changes[0].Link
	assert.NotZero(t, link.ID)
	assert.Equal(t, models.LinkConfirmed, link.Status)
	assert.Equal(t, models.MatchExact, link.MatchType)

	again, err := svc.ReconcileDriverLinks(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EventCount)

	les, err := s.LinkEvents(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, les, 1)

	links, err := s.EventLinks(ctx, f.event.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, link.ID, links[0].ID)

	rejected, err := svc.Reject(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkRejected, rejected.Status)

	stored, err = s.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkRejected, stored.Status)
}

func TestSaveLinks_RecordsEventOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l := &models.DriverLink{DriverID: 1, UserID: 2, MatchType: models.MatchFuzzy, Similarity: 0.85, Status: models.LinkSuggested, EventCount: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveLinks(ctx, 10, []*models.DriverLink{l}))
	require.NotZero(t, l.ID)

	l.Similarity = 0.9
	require.NoError(t, s.SaveLinks(ctx, 10, []*models.DriverLink{l}))

	les, err := s.LinkEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, les, 1)

	got, err := s.LinksForDrivers(ctx, []int64{1, 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-9)

	none, err := s.LinksForDrivers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUsers_CreateAndConfirmedDrivers(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	u := &models.User{Username: "jsmith", Password: "x", DriverName: "John Smith", NormalizedName: "john smith"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotZero(t, u.ID)
	assert.Error(t, s.CreateUser(ctx, &models.User{Username: "jsmith", Password: "y"}))

	other := &models.Driver{DisplayName: "Jon Smyth", NormalizedName: "jon smyth", Source: models.DriverSourceExternal}
	require.NoError(t, s.CreateDriver(ctx, other))

	none, err := s.UserDrivers(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.SaveLinks(ctx, f.event.ID, []*models.DriverLink{
		{DriverID: f.driver.ID, UserID: u.ID, MatchType: models.MatchExact, Similarity: 1, Status: models.LinkConfirmed, EventCount: 1, CreatedAt: now, UpdatedAt: now},
		{DriverID: other.ID, UserID: u.ID, MatchType: models.MatchFuzzy, Similarity: 0.84, Status: models.LinkSuggested, EventCount: 1, CreatedAt: now, UpdatedAt: now},
	}))

	drivers, err := s.UserDrivers(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, f.driver.ID, drivers[0].ID)
	assert.Equal(t, "John Smith", drivers[0].DisplayName)
}
