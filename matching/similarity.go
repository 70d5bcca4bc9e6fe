package matching

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a driver name for comparison: accents removed, case
// folded, punctuation dropped and whitespace collapsed. "  José  O'Neil " and
// "jose oneil" normalize to the same value.
func NormalizeName(name string) string {
	// transformers and casers carry state; build them per call.
	strip := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(strip, name)
	if err != nil {
		s = name
	}
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	gap := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '.', r == ',', r == '/':
			gap = true
		}
	}
	return b.String()
}

// Scorer rates how alike two driver names are, from 0 (nothing in common)
// to 1 (identical after normalization).
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(a, b string) float64

func (f ScorerFunc) Score(a, b string) float64 { return f(a, b) }

// NameScorer scores by Levenshtein similarity, taking the better of the
// names as written and with their tokens sorted so "Smith John" scores
// against "John Smith" as an exact hit.
type NameScorer struct{}

func (NameScorer) Score(a, b string) float64 {
	a, b = NormalizeName(a), NormalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	score := levenshtein.Similarity(a, b, nil)
	if sa, sb := sortTokens(a), sortTokens(b); sa != a || sb != b {
		if ts := levenshtein.Similarity(sa, sb, nil); ts > score {
			score = ts
		}
	}
	return clamp01(score)
}

func sortTokens(s string) string {
	parts := strings.Fields(s)
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
