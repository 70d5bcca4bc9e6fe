package matching

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padraicbc/racedata/models"
)

type memStore struct {
	events     map[int64]*models.Event
	entrants   []models.Entrant
	races      []models.Race
	overrides  []OverrideRecord
	users      []models.User
	links      map[int64]*models.DriverLink
	linkEvents map[[3]int64]bool
	nextID     int64
	saves      int
	saveErr    error
}

func newMemStore() *memStore {
	return &memStore{
		events:     map[int64]*models.Event{10: {ID: 10, SourceEventID: "src-10", Depth: models.DepthEntries}},
		links:      map[int64]*models.DriverLink{},
		linkEvents: map[[3]int64]bool{},
	}
}

func (m *memStore) GetEvent(_ context.Context, id int64) (*models.Event, error) {
	if ev, ok := m.events[id]; ok {
		return ev, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) EventEntrants(_ context.Context, id int64) ([]models.Entrant, error) {
	var out []models.Entrant
	for _, e := range m.entrants {
		if e.EventID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) EventRaces(_ context.Context, id int64) ([]models.Race, error) {
	var out []models.Race
	for _, r := range m.races {
		if r.EventID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) EventOverrides(_ context.Context, _ int64) ([]OverrideRecord, error) {
	return m.overrides, nil
}

func (m *memStore) Candidates(context.Context) ([]models.User, error) { return m.users, nil }

func (m *memStore) LinksForDrivers(_ context.Context, ids []int64) ([]models.DriverLink, error) {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.DriverLink
	for _, l := range m.links {
		if want[l.DriverID] {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) LinkEvents(_ context.Context, eventID int64) ([]models.DriverLinkEvent, error) {
	var out []models.DriverLinkEvent
	for k := range m.linkEvents {
		if k[2] == eventID {
			out = append(out, models.DriverLinkEvent{DriverID: k[0], UserID: k[1], EventID: k[2]})
		}
	}
	return out, nil
}

func (m *memStore) SaveLinks(_ context.Context, eventID int64, links []*models.DriverLink) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	for _, l := range links {
		if l.ID == 0 {
			m.nextID++
			l.ID = m.nextID
		}
		cp := *l
		m.links[l.ID] = &cp
		m.linkEvents[[3]int64{l.DriverID, l.UserID, eventID}] = true
	}
	return nil
}

func (m *memStore) GetLink(_ context.Context, id int64) (*models.DriverLink, error) {
	if l, ok := m.links[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) UpdateLink(_ context.Context, l *models.DriverLink) error {
	if _, ok := m.links[l.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *l
	m.links[l.ID] = &cp
	return nil
}

func (m *memStore) EventLinks(_ context.Context, eventID int64) ([]models.DriverLink, error) {
	var out []models.DriverLink
	for k := range m.linkEvents {
		if k[2] != eventID {
			continue
		}
		for _, l := range m.links {
			if l.DriverID == k[0] && l.UserID == k[1] {
				out = append(out, *l)
			}
		}
	}
	return out, nil
}

func entrant(eventID, driverID int64, class, name, transponder string) models.Entrant {
	e := models.Entrant{
		EventID:   eventID,
		DriverID:  driverID,
		ClassName: class,
		Driver:    &models.Driver{ID: driverID, DisplayName: name, NormalizedName: NormalizeName(name)},
	}
	if transponder != "" {
		e.Transponder = &transponder
	}
	return e
}

func newTestService(st Store) *Service {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewService(st, NewMatcher(nil, DefaultPolicy()), WithClock(func() time.Time { return clock }))
}

func TestReconcile_CreatesLinksPerTier(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{
		entrant(10, 1, "Buggy", "Anyone", "4001"),
		entrant(10, 2, "Buggy", "mary O'Brien", ""),
		entrant(10, 3, "Buggy", "Nobody Matches", ""),
	}
	st.users = []models.User{
		user(100, "Paddy Transponder", "4001"),
		user(200, "Mary OBrien", ""),
	}

	changes, err := newTestService(st).ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, int64(1), changes[0].Link.DriverID)
	assert.Equal(t, int64(100), changes[0].Link.UserID)
	assert.Equal(t, models.MatchTransponder, changes[0].Link.MatchType)
	assert.Equal(t, models.LinkConfirmed, changes[0].Link.Status)
	assert.NotZero(t, changes[0].Link.ID)

	assert.Equal(t, int64(2), changes[1].Link.DriverID)
	assert.Equal(t, models.MatchExact, changes[1].Link.MatchType)
	assert.Equal(t, 1, st.saves)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{entrant(10, 1, "Buggy", "John Smith", "")}
	st.users = []models.User{user(100, "John Smith", "")}
	svc := newTestService(st)

	first, err := svc.ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, st.saves)
	assert.Equal(t, 1, st.links[first[0].Link.ID].EventCount)
}

func TestReconcile_SecondEventPromotesSuggestion(t *testing.T) {
	st := newMemStore()
	st.events[11] = &models.Event{ID: 11, SourceEventID: "src-11", Depth: models.DepthLapsFull}
	st.entrants = []models.Entrant{
		entrant(10, 1, "Buggy", "Jon Smith", ""),
		entrant(11, 1, "Buggy", "Jon Smith", "777"),
	}
	st.users = []models.User{user(100, "John Smith", "777")}
	svc := newTestService(st)

	// The first event has no transponder for the driver, so only the name is fuzzy.
	first, err := svc.ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.LinkSuggested, first[0].Link.Status)
	assert.InDelta(t, 0.9, first[0].Link.Similarity, 1e-9)

	second, err := svc.ReconcileDriverLinks(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, second, 1)
	got := second[0].Link
	assert.Equal(t, ChangeUpdated, second[0].Kind)
	assert.Equal(t, models.LinkConfirmed, got.Status)
	assert.Equal(t, models.MatchTransponder, got.MatchType)
	assert.Equal(t, 2, got.EventCount)
	assert.Equal(t, 1.0, got.Similarity)
}

func TestReconcile_UsesOverrideTransponder(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{entrant(10, 1, "Buggy", "Unrelated Name", "1111")}
	st.races = []models.Race{
		{ID: 501, EventID: 10, ClassName: "Buggy", RaceOrder: intp(1)},
		{ID: 502, EventID: 10, ClassName: "Buggy", RaceOrder: intp(2)},
	}
	st.overrides = []OverrideRecord{{
		Override:           models.TransponderOverride{ID: 1, DriverID: 1, EventID: 10, EffectiveFromRaceID: int64p(502), Transponder: "2222"},
		EffectiveRaceOrder: intp(2),
	}}
	st.users = []models.User{user(100, "Someone", "2222")}

	changes, err := newTestService(st).ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.MatchTransponder, changes[0].Link.MatchType)
	assert.Equal(t, int64(100), changes[0].Link.UserID)
}

func TestReconcile_RejectedPairDoesNotBlockOtherUsers(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{entrant(10, 1, "Buggy", "John Smith", "4001")}
	st.users = []models.User{
		user(100, "Paddy Transponder", "4001"),
		user(200, "John Smith", ""),
	}
	st.links[1] = &models.DriverLink{
		ID: 1, DriverID: 1, UserID: 100,
		MatchType: models.MatchTransponder, Similarity: 1, Status: models.LinkRejected, EventCount: 1,
	}
	st.nextID = 1

	changes, err := newTestService(st).ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	got := changes[0].Link
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, int64(200), got.UserID)
	assert.Equal(t, models.MatchExact, got.MatchType)
	assert.Equal(t, models.LinkConfirmed, got.Status)

	assert.Equal(t, models.LinkRejected, st.links[1].Status)
	assert.Equal(t, 1, st.links[1].EventCount)
}

func TestReconcile_UnknownEvent(t *testing.T) {
	_, err := newTestService(newMemStore()).ReconcileDriverLinks(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcile_SaveFailureWritesNothing(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{entrant(10, 1, "Buggy", "John Smith", "")}
	st.users = []models.User{user(100, "John Smith", "")}
	st.saveErr = errors.New("disk full")

	_, err := newTestService(st).ReconcileDriverLinks(context.Background(), 10)
	require.Error(t, err)
	assert.Empty(t, st.links)
}

func TestConfirmReject(t *testing.T) {
	st := newMemStore()
	st.links[1] = &models.DriverLink{ID: 1, DriverID: 1, UserID: 100, Status: models.LinkSuggested, MatchType: models.MatchFuzzy}
	reason := "tie"
	st.links[2] = &models.DriverLink{ID: 2, DriverID: 2, UserID: 100, Status: models.LinkConflict, ConflictReason: &reason}
	svc := newTestService(st)
	ctx := context.Background()

	l, err := svc.Confirm(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.LinkConfirmed, l.Status)
	assert.NotNil(t, l.ConfirmedAt)

	l, err = svc.Confirm(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, l.ConflictReason)

	l, err = svc.Reject(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.LinkRejected, st.links[1].Status)

	_, err = svc.Confirm(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Reject(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	l, err = svc.Reject(ctx, 1)
	require.NoError(t, err, "rejecting twice is a no-op")
	assert.Equal(t, models.LinkRejected, l.Status)
}

func TestEventLinks(t *testing.T) {
	st := newMemStore()
	st.entrants = []models.Entrant{entrant(10, 1, "Buggy", "John Smith", "")}
	st.users = []models.User{user(100, "John Smith", "")}
	svc := newTestService(st)

	_, err := svc.ReconcileDriverLinks(context.Background(), 10)
	require.NoError(t, err)

	links, err := svc.EventLinks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(100), links[0].UserID)

	_, err = svc.EventLinks(context.Background(), 12)
	assert.ErrorIs(t, err, ErrNotFound)
}
