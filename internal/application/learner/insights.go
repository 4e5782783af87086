package learner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
)

const (
	mostUsedLimit     = 5
	historySimilarity = 0.5

	SuggestPopular = "popular"
	SuggestPattern = "pattern"
	SuggestHistory = "history"
)

// Stats summarises the whole history plus the pattern store.
func (l *Learner) Stats(ctx context.Context) (domain.CommandStats, error) {
	records, corrupt, err := l.records.LoadRecords(ctx)
	if err != nil {
		return domain.CommandStats{}, fmt.Errorf("load records: %w", err)
	}
	if len(corrupt) > 0 {
		l.log.Warn("skipped corrupt history records", map[string]interface{}{"count": len(corrupt)})
	}

	stats := domain.CommandStats{ByAction: make(map[domain.ActionKind]domain.ActionStats)}
	counts := make(map[string]int)
	for _, rec := range records {
		stats.TotalCommands++
		switch rec.Outcome {
		case domain.OutcomeSuccess:
			stats.SuccessfulCommands++
		case domain.OutcomeFailure:
			stats.FailedCommands++
		}
		a := stats.ByAction[rec.Intent.Action]
		a.Total++
		if rec.Outcome == domain.OutcomeSuccess {
			a.Successful++
		}
		stats.ByAction[rec.Intent.Action] = a
		if rec.Signature != "" {
			counts[rec.Signature]++
		}
	}
	if stats.TotalCommands > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCommands) / float64(stats.TotalCommands)
	}

	for sig, n := range counts {
		stats.MostUsed = append(stats.MostUsed, domain.SignatureCount{Signature: sig, Count: n})
	}
	sort.Slice(stats.MostUsed, func(i, j int) bool {
		if stats.MostUsed[i].Count != stats.MostUsed[j].Count {
			return stats.MostUsed[i].Count > stats.MostUsed[j].Count
		}
		return stats.MostUsed[i].Signature < stats.MostUsed[j].Signature
	})
	if len(stats.MostUsed) > mostUsedLimit {
		stats.MostUsed = stats.MostUsed[:mostUsedLimit]
	}

	for _, p := range l.patterns.All() {
		stats.TotalPatterns++
		if p.Demoted {
			stats.DemotedPatterns++
		}
	}
	return stats, nil
}

// Suggest offers completions for a partial command. With no input it returns
// the commands used more than once; otherwise learned patterns containing the
// input and similar successful history entries.
func (l *Learner) Suggest(ctx context.Context, partial string, limit int) ([]domain.Suggestion, error) {
	if limit <= 0 {
		limit = domain.DefaultSuggestionLimit
	}
	recent, err := l.records.RecordsSince(ctx, time.Time{}, l.opts.ConsolidateWindow)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	query := textutil.Signature(partial)
	var out []domain.Suggestion
	if query == "" {
		out = popular(recent)
	} else {
		out = append(l.fromPatterns(query), fromHistory(query, recent)...)
	}

	out = dedupeSuggestions(out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func popular(records []domain.CommandRecord) []domain.Suggestion {
	type usage struct {
		count  int
		text   string
		action domain.ActionKind
		last   time.Time
	}
	bySig := make(map[string]*usage)
	for _, rec := range records {
		if rec.Outcome != domain.OutcomeSuccess || rec.Signature == "" {
			continue
		}
		u, ok := bySig[rec.Signature]
		if !ok {
			u = &usage{}
			bySig[rec.Signature] = u
		}
		u.count++
		if !rec.Timestamp.Before(u.last) {
			u.last = rec.Timestamp
			u.text = textutil.Normalize(rec.RawText)
			u.action = rec.Intent.Action
		}
	}
	var out []domain.Suggestion
	for _, u := range bySig {
		if u.count < 2 || u.text == "" {
			continue
		}
		out = append(out, domain.Suggestion{
			Text:       u.text,
			Action:     u.action,
			Confidence: min(float64(u.count)/10, 1),
			Kind:       SuggestPopular,
		})
	}
	return out
}

func (l *Learner) fromPatterns(query string) []domain.Suggestion {
	var out []domain.Suggestion
	for _, p := range l.patterns.All() {
		if p.Demoted || !strings.Contains(p.Signature, query) {
			continue
		}
		out = append(out, domain.Suggestion{
			Text:       strings.Join(textutil.SignatureTokens(p.Signature), " "),
			Action:     p.Template.Action,
			Confidence: p.Confidence,
			Kind:       SuggestPattern,
		})
	}
	return out
}

func fromHistory(query string, records []domain.CommandRecord) []domain.Suggestion {
	var out []domain.Suggestion
	for _, rec := range records {
		if rec.Outcome != domain.OutcomeSuccess || rec.Signature == "" {
			continue
		}
		sim := textutil.SignatureSimilarity(query, rec.Signature)
		if strings.HasPrefix(rec.Signature, query) {
			sim = max(sim, historySimilarity)
		}
		if sim < historySimilarity {
			continue
		}
		out = append(out, domain.Suggestion{
			Text:       textutil.Normalize(rec.RawText),
			Action:     rec.Intent.Action,
			Confidence: sim,
			Kind:       SuggestHistory,
		})
	}
	return out
}

// dedupeSuggestions keeps the most confident suggestion per text.
func dedupeSuggestions(in []domain.Suggestion) []domain.Suggestion {
	best := make(map[string]int, len(in))
	out := in[:0]
	for _, s := range in {
		if s.Text == "" {
			continue
		}
		if i, ok := best[s.Text]; ok {
			if s.Confidence > out[i].Confidence {
				out[i] = s
			}
			continue
		}
		best[s.Text] = len(out)
		out = append(out, s)
	}
	return out
}
