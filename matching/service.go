package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/padraicbc/racedata/metrics"
	"github.com/padraicbc/racedata/models"
)

// Store is the persistence the reconciliation pass needs. Single-row lookups
// that find nothing return an error matching sql.ErrNoRows.
type Store interface {
	GetEvent(ctx context.Context, eventID int64) (*models.Event, error)
	// EventEntrants returns the event's entrants with Driver populated.
	EventEntrants(ctx context.Context, eventID int64) ([]models.Entrant, error)
	EventRaces(ctx context.Context, eventID int64) ([]models.Race, error)
	EventOverrides(ctx context.Context, eventID int64) ([]OverrideRecord, error)
	Candidates(ctx context.Context) ([]models.User, error)
	LinksForDrivers(ctx context.Context, driverIDs []int64) ([]models.DriverLink, error)
	LinkEvents(ctx context.Context, eventID int64) ([]models.DriverLinkEvent, error)
	// SaveLinks writes links and records eventID against each of them in one
	// transaction.
	SaveLinks(ctx context.Context, eventID int64, links []*models.DriverLink) error
	GetLink(ctx context.Context, linkID int64) (*models.DriverLink, error)
	UpdateLink(ctx context.Context, link *models.DriverLink) error
	EventLinks(ctx context.Context, eventID int64) ([]models.DriverLink, error)
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// LinkChange is one link written by a reconciliation pass.
type LinkChange struct {
	Kind ChangeKind        `json:"kind"`
	Link models.DriverLink `json:"link"`
}

type Service struct {
	store   Store
	matcher *Matcher
	log     *zap.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, matcher *Matcher, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		matcher: matcher,
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type pair struct{ driverID, userID int64 }

// ReconcileDriverLinks matches every driver entered in eventID against the
// platform users and persists the resulting link changes in one write at the
// end of the pass. Re-running it without new data changes nothing.
func (s *Service) ReconcileDriverLinks(ctx context.Context, eventID int64) ([]LinkChange, error) {
	start := time.Now()
	changes, err := s.reconcile(ctx, eventID)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RecordReconcile(result, time.Since(start).Seconds())
	return changes, err
}

func (s *Service) reconcile(ctx context.Context, eventID int64) ([]LinkChange, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d", eventID)
	}

	entrants, err := s.store.EventEntrants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load entrants: %w", err)
	}
	if len(entrants) == 0 {
		return nil, nil
	}
	races, err := s.store.EventRaces(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load races: %w", err)
	}
	overrides, err := s.store.EventOverrides(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	users, err := s.store.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	evidence := collectEvidence(entrants, races, overrides)
	driverIDs := make([]int64, 0, len(evidence))
	for _, ev := range evidence {
		driverIDs = append(driverIDs, ev.Driver.ID)
	}

	stored, err := s.store.LinksForDrivers(ctx, driverIDs)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	existing := make(map[pair]*models.DriverLink, len(stored))
	rejected := make(map[int64]map[int64]bool)
	for i := range stored {
		l := &stored[i]
		existing[pair{l.DriverID, l.UserID}] = l
		if l.Status == models.LinkRejected {
			if rejected[l.DriverID] == nil {
				rejected[l.DriverID] = make(map[int64]bool)
			}
			rejected[l.DriverID][l.UserID] = true
		}
	}

	seen, err := s.store.LinkEvents(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load link events: %w", err)
	}
	counted := make(map[pair]bool, len(seen))
	for _, le := range seen {
		counted[pair{le.DriverID, le.UserID}] = true
	}

	now := s.now()
	var (
		changes []LinkChange
		writes  []*models.DriverLink
	)
	for _, ev := range evidence {
		ev.Rejected = rejected[ev.Driver.ID]
		for _, p := range s.matcher.Match(ev, users) {
			key := pair{p.DriverID, p.UserID}
			prev := existing[key]
			merged, changed := Merge(prev, p, !counted[key], now)
			if !changed {
				continue
			}
			kind := ChangeUpdated
			if prev == nil {
				kind = ChangeCreated
			}
			l := merged
			writes = append(writes, &l)
			changes = append(changes, LinkChange{Kind: kind})
		}
	}

	if len(writes) == 0 {
		s.log.Debug("reconcile: no link changes", zap.Int64("event_id", eventID))
		return nil, nil
	}
	if err := s.store.SaveLinks(ctx, eventID, writes); err != nil {
		return nil, fmt.Errorf("save links: %w", err)
	}

	for i, l := range writes {
		changes[i].Link = *l
		metrics.RecordLinkChange(string(changes[i].Kind), string(l.Status))
		s.log.Info("driver link "+string(changes[i].Kind),
			zap.Int64("event_id", eventID),
			zap.Int64("driver_id", l.DriverID),
			zap.Int64("user_id", l.UserID),
			zap.String("match_type", string(l.MatchType)),
			zap.String("status", string(l.Status)),
			zap.Float64("similarity", l.Similarity),
		)
	}
	return changes, nil
}

// collectEvidence groups entrants by driver, ordered by driver id, with the
// distinct effective transponders each driver ran. An entrant's class races
// are each resolved; a class with no races resolves against the event as a
// whole.
func collectEvidence(entrants []models.Entrant, races []models.Race, overrides []OverrideRecord) []Evidence {
	racesByClass := make(map[string][]models.Race)
	for _, r := range races {
		racesByClass[r.ClassName] = append(racesByClass[r.ClassName], r)
	}
	overridesByDriver := make(map[int64][]OverrideRecord)
	for _, o := range overrides {
		overridesByDriver[o.Override.DriverID] = append(overridesByDriver[o.Override.DriverID], o)
	}

	byDriver := make(map[int64]*Evidence)
	seenTransponder := make(map[int64]map[string]bool)
	for i := range entrants {
		en := &entrants[i]
		ev, ok := byDriver[en.DriverID]
		if !ok {
			ev = &Evidence{Driver: models.Driver{ID: en.DriverID}}
			if en.Driver != nil {
				ev.Driver = *en.Driver
			}
			byDriver[en.DriverID] = ev
			seenTransponder[en.DriverID] = make(map[string]bool)
		}

		in := ResolveInput{
			Overrides: overridesByDriver[en.DriverID],
			Entrant:   en,
			Driver:    en.Driver,
		}
		var resolved []Resolution
		if classRaces := racesByClass[en.ClassName]; len(classRaces) > 0 {
			for _, r := range classRaces {
				in.Target = &RaceRef{ID: r.ID, Order: r.RaceOrder}
				resolved = append(resolved, Resolve(in))
			}
		} else {
			resolved = append(resolved, Resolve(in))
		}

		for _, res := range resolved {
			if res.Found() && !seenTransponder[en.DriverID][res.Transponder] {
				seenTransponder[en.DriverID][res.Transponder] = true
				ev.Transponders = append(ev.Transponders, res.Transponder)
			}
		}
	}

	out := make([]Evidence, 0, len(byDriver))
	for _, ev := range byDriver {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Driver.ID < out[j].Driver.ID })
	return out
}

// Confirm records a user's acceptance of a suggested or conflicting link.
func (s *Service) Confirm(ctx context.Context, linkID int64) (*models.DriverLink, error) {
	return s.transition(ctx, linkID, models.LinkConfirmed)
}

// Reject marks a link as not the same person. Rejected links are never
// revived by later reconciliation passes.
func (s *Service) Reject(ctx context.Context, linkID int64) (*models.DriverLink, error) {
	return s.transition(ctx, linkID, models.LinkRejected)
}

func (s *Service) transition(ctx context.Context, linkID int64, to models.LinkStatus) (*models.DriverLink, error) {
	link, err := s.store.GetLink(ctx, linkID)
	if err != nil {
		return nil, notFound(err, "link %d", linkID)
	}
	if link.Status == to {
		return link, nil
	}
	if !allowedTransition(link.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, link.Status, to)
	}

	now := s.now()
	link.Status = to
	link.UpdatedAt = now
	if to == models.LinkConfirmed {
		link.ConfirmedAt = &now
		link.ConflictReason = nil
	}
	if err := s.store.UpdateLink(ctx, link); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: link %d", ErrNotFound, linkID)
		}
		return nil, fmt.Errorf("update link: %w", err)
	}

	s.log.Info("driver link "+string(to),
		zap.Int64("link_id", link.ID),
		zap.Int64("driver_id", link.DriverID),
		zap.Int64("user_id", link.UserID),
	)
	metrics.RecordLinkChange("manual", string(to))
	return link, nil
}

func allowedTransition(from, to models.LinkStatus) bool {
	switch to {
	case models.LinkConfirmed:
		return from == models.LinkSuggested || from == models.LinkConflict
	case models.LinkRejected:
		return from == models.LinkSuggested || from == models.LinkConflict || from == models.LinkConfirmed
	}
	return false
}

// EventLinks lists the stored links of drivers entered in eventID.
func (s *Service) EventLinks(ctx context.Context, eventID int64) ([]models.DriverLink, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event %d", eventID)
	}
	return s.store.EventLinks(ctx, eventID)
}
