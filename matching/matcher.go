package matching

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/padraicbc/racedata/models"
)

// scoreEpsilon absorbs float noise when comparing score gaps to the margin.
const scoreEpsilon = 1e-9

// Policy holds the fuzzy matching knobs. Both are tuned against real name
// data and come from configuration.
type Policy struct {
	// MinScore is the lowest fuzzy score surfaced as a suggestion.
	MinScore float64
	// ConflictMargin is how close two users' fuzzy scores must be for the
	// match to be treated as ambiguous.
	ConflictMargin float64
}

func DefaultPolicy() Policy {
	return Policy{MinScore: 0.80, ConflictMargin: 0.03}
}

// Evidence is what one event tells us about a driver.
type Evidence struct {
	Driver models.Driver
	// Transponders are the distinct effective numbers the driver ran.
	Transponders []string
	// Rejected holds users already rejected for this driver. They take no
	// part in any tier.
	Rejected map[int64]bool
}

// Proposal is the matcher's verdict for one driver/user pair.
type Proposal struct {
	DriverID       int64
	UserID         int64
	MatchType      models.MatchType
	Score          float64
	Status         models.LinkStatus
	ConflictReason string
}

// Matcher runs the tiered comparison of one driver against candidate users.
type Matcher struct {
	scorer Scorer
	policy Policy
}

func NewMatcher(scorer Scorer, policy Policy) *Matcher {
	if scorer == nil {
		scorer = NameScorer{}
	}
	return &Matcher{scorer: scorer, policy: policy}
}

// Match returns proposals from the first tier that yields any: transponder,
// exact name, fuzzy name. No proposals means no candidate qualified.
func (m *Matcher) Match(ev Evidence, users []models.User) []Proposal {
	users = eligible(users, ev.Rejected)
	if out := m.byTransponder(ev, users); len(out) > 0 {
		return out
	}
	driverName := driverNormalized(ev.Driver)
	if driverName == "" {
		return nil
	}
	if out := m.byExactName(ev.Driver.ID, driverName, users); len(out) > 0 {
		return out
	}
	return m.byFuzzyName(ev.Driver.ID, driverName, users)
}

func eligible(users []models.User, rejected map[int64]bool) []models.User {
	if len(rejected) == 0 {
		return users
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if !rejected[u.ID] {
			out = append(out, u)
		}
	}
	return out
}

func (m *Matcher) byTransponder(ev Evidence, users []models.User) []Proposal {
	if len(ev.Transponders) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ev.Transponders))
	for _, t := range ev.Transponders {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = true
		}
	}

	var hits []models.User
	for _, u := range users {
		if t := trimmed(u.Transponder); t != "" && want[t] {
			hits = append(hits, u)
		}
	}
	return certain(ev.Driver.ID, models.MatchTransponder, hits,
		fmt.Sprintf("transponder shared by %d users", len(hits)))
}

func (m *Matcher) byExactName(driverID int64, driverName string, users []models.User) []Proposal {
	var hits []models.User
	for _, u := range users {
		if userNormalized(u) == driverName {
			hits = append(hits, u)
		}
	}
	return certain(driverID, models.MatchExact, hits,
		fmt.Sprintf("name %q registered by %d users", driverName, len(hits)))
}

// certain builds full-confidence proposals. A single hit is confirmed;
// several users claiming the same signal cannot all be this driver.
func certain(driverID int64, mt models.MatchType, hits []models.User, reason string) []Proposal {
	if len(hits) == 0 {
		return nil
	}
	status := models.LinkConfirmed
	if len(hits) > 1 {
		status = models.LinkConflict
	} else {
		reason = ""
	}

	out := make([]Proposal, 0, len(hits))
	for _, u := range hits {
		out = append(out, Proposal{
			DriverID:       driverID,
			UserID:         u.ID,
			MatchType:      mt,
			Score:          1.0,
			Status:         status,
			ConflictReason: reason,
		})
	}
	return out
}

func (m *Matcher) byFuzzyName(driverID int64, driverName string, users []models.User) []Proposal {
	var out []Proposal
	for _, u := range users {
		name := userNormalized(u)
		if name == "" {
			continue
		}
		score := m.scorer.Score(driverName, name)
		if score+scoreEpsilon < m.policy.MinScore {
			continue
		}
		out = append(out, Proposal{
			DriverID:  driverID,
			UserID:    u.ID,
			MatchType: models.MatchFuzzy,
			Score:     score,
			Status:    models.LinkSuggested,
		})
	}
	if len(out) == 0 {
		return nil
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})

	top := out[0].Score
	close := 0
	for _, p := range out {
		if top-p.Score <= m.policy.ConflictMargin+scoreEpsilon {
			close++
		}
	}
	if close > 1 {
		reason := fmt.Sprintf("%d users within %.2f of top fuzzy score %.2f", close, m.policy.ConflictMargin, top)
		for i := 0; i < close; i++ {
			out[i].Status = models.LinkConflict
			out[i].ConflictReason = reason
		}
	}
	return out
}

func driverNormalized(d models.Driver) string {
	if d.NormalizedName != "" {
		return NormalizeName(d.NormalizedName)
	}
	return NormalizeName(d.DisplayName)
}

func userNormalized(u models.User) string {
	if u.NormalizedName != "" {
		return NormalizeName(u.NormalizedName)
	}
	return NormalizeName(u.DriverName)
}

// Merge folds a proposal into the stored link for the pair, if any, and
// reports whether anything changed. Confirmed links are never downgraded,
// rejected links are left alone, the stored score is the best seen, and
// newEvent marks the first time this event contributes to the pair.
func Merge(existing *models.DriverLink, p Proposal, newEvent bool, now time.Time) (models.DriverLink, bool) {
	if existing == nil {
		l := models.DriverLink{
			DriverID:   p.DriverID,
			UserID:     p.UserID,
			MatchType:  p.MatchType,
			Similarity: p.Score,
			Status:     p.Status,
			EventCount: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		applyStatus(&l, p, now)
		return l, true
	}

	l := *existing
	if l.Status == models.LinkRejected {
		return l, false
	}

	changed := false
	if newEvent {
		l.EventCount++
		changed = true
	}
	if p.Score > l.Similarity {
		l.Similarity = p.Score
		changed = true
	}
	if p.MatchType.Strength() > l.MatchType.Strength() {
		l.MatchType = p.MatchType
		changed = true
	}

	switch l.Status {
	case models.LinkConfirmed:
	case models.LinkSuggested:
		if p.Status == models.LinkConfirmed || p.Status == models.LinkConflict {
			applyStatus(&l, p, now)
			changed = true
		}
	case models.LinkConflict:
		if p.Status == models.LinkConfirmed {
			applyStatus(&l, p, now)
			changed = true
		}
	}

	if changed {
		l.UpdatedAt = now
	}
	return l, changed
}

func applyStatus(l *models.DriverLink, p Proposal, now time.Time) {
	l.Status = p.Status
	switch p.Status {
	case models.LinkConfirmed:
		t := now
		l.ConfirmedAt = &t
		l.ConflictReason = nil
	case models.LinkConflict:
		reason := p.ConflictReason
		l.ConflictReason = &reason
	}
}
