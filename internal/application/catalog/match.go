package catalog

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
)

// minFindScore drops matches too weak to be worth ranking.
const minFindScore = 0.3

// score rates one entry against a normalized query. The best of its names wins.
func score(query string, entry domain.TargetEntry) (float64, domain.MatchReason) {
	names := entry.Names()
	var (
		best   float64
		reason domain.MatchReason
	)
	consider := func(s float64, r domain.MatchReason) {
		if s > best {
			best, reason = s, r
		}
	}

	for _, name := range names {
		switch {
		case name == query:
			return 1, domain.MatchAlias
		case strings.HasPrefix(name, query):
			consider(0.8+0.15*ratio(query, name), domain.MatchPrefix)
		case wordPrefix(name, query):
			consider(0.7+0.15*ratio(query, name), domain.MatchPrefix)
		case strings.Contains(name, query):
			consider(0.6+0.2*ratio(query, name), domain.MatchSubstring)
		}
	}

	for _, m := range fuzzy.Find(query, names) {
		consider(subsequenceScore(query, m), domain.MatchFuzzy)
	}
	for _, name := range names {
		consider(0.9*textutil.EditSimilarity(query, name), domain.MatchFuzzy)
	}
	return best, reason
}

// subsequenceScore rewards compact matches that cover most of the candidate.
func subsequenceScore(query string, m fuzzy.Match) float64 {
	if len(m.MatchedIndexes) == 0 {
		return 0
	}
	first := m.MatchedIndexes[0]
	last := m.MatchedIndexes[len(m.MatchedIndexes)-1]
	span := last - first + 1
	compact := float64(len(m.MatchedIndexes)) / float64(span)
	return 0.45 + 0.2*compact + 0.2*ratio(query, m.Str)
}

func ratio(query, name string) float64 {
	if len(name) == 0 {
		return 0
	}
	return min(1, float64(len(query))/float64(len(name)))
}

func wordPrefix(name, query string) bool {
	for _, w := range strings.Fields(name) {
		if strings.HasPrefix(w, query) {
			return true
		}
	}
	return false
}

// rank sorts matches by score, then most recently seen, then name.
func rank(matches []domain.TargetMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.LastSeen.Equal(b.Entry.LastSeen) {
			return a.Entry.LastSeen.After(b.Entry.LastSeen)
		}
		return a.Entry.CanonicalName < b.Entry.CanonicalName
	})
}

func kindAllowed(kind domain.TargetKind, kinds []domain.TargetKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
