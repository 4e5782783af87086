// Package resolver turns raw command text into ranked intents.
//
// Resolution runs in priority order: a trusted learned pattern short-circuits,
// then the command grammar, then the language capability. Learned patterns that
// are not trusted, and near-miss signatures, still contribute candidates. When
// nothing applies the single unknown intent is returned.
package resolver

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
	"github.com/doeshing/pcpilot/internal/ports"
)

const (
	ruleConfidence     = 0.9
	languageConfidence = 0.7
	// clarifyConfidence matches "open" with no object: recognized but not executable.
	clarifyConfidence = 0.7
	// unresolvedFactor scales intents whose target the catalog could not find.
	unresolvedFactor = 0.5
	tieEpsilon       = 1e-9
)

// PatternSource is the read side of the pattern store.
type PatternSource interface {
	Lookup(signature string) (domain.Pattern, bool)
	NearestMatch(signature string) (domain.Pattern, float64, bool)
}

// TargetFinder is the read side of the target catalog.
type TargetFinder interface {
	Find(ctx context.Context, query string, kinds ...domain.TargetKind) []domain.TargetMatch
	Get(name string) (domain.TargetEntry, bool)
}

// Options tunes thresholds. Zero values fall back to the domain defaults.
type Options struct {
	TrustedConfidence   float64
	SimilarityThreshold float64
	MinTargetScore      float64
	MaxAlternatives     int
	UseLanguage         bool
}

func (o Options) withDefaults() Options {
	if o.TrustedConfidence <= 0 {
		o.TrustedConfidence = domain.DefaultTrustedConfidence
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = domain.DefaultSimilarityThreshold
	}
	if o.MinTargetScore <= 0 {
		o.MinTargetScore = domain.DefaultMinTargetScore
	}
	if o.MaxAlternatives <= 0 {
		o.MaxAlternatives = domain.DefaultMaxAlternatives
	}
	return o
}

// Resolver is stateless apart from its collaborators and safe for concurrent use.
type Resolver struct {
	patterns PatternSource
	catalog  TargetFinder
	invoker  ports.Invoker
	cache    ports.ExtractionCache
	log      ports.Logger
	opts     Options
}

// New wires a resolver. invoker and cache may be nil, which disables the
// language step.
func New(patterns PatternSource, catalog TargetFinder, invoker ports.Invoker, cache ports.ExtractionCache, log ports.Logger, opts Options) *Resolver {
	return &Resolver{
		patterns: patterns,
		catalog:  catalog,
		invoker:  invoker,
		cache:    cache,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

// Resolve returns intents highest confidence first; the slice is never empty.
// The error is either nil or an *domain.AmbiguousTargetError, in which case the
// intents are still returned for disambiguation.
func (r *Resolver) Resolve(ctx context.Context, raw string) ([]domain.Intent, error) {
	tokens := textutil.Tokens(raw)
	signature := strings.Join(tokens, textutil.SignatureSeparator)
	if signature == "" {
		r.log.Debug("unparseable command", map[string]interface{}{
			"raw":   raw,
			"error": domain.ErrParseFailure.Error(),
		})
		return []domain.Intent{domain.UnknownIntent("")}, nil
	}

	set := newCandidateSet(signature)

	if p, ok := r.patterns.Lookup(signature); ok {
		intent := r.fromTemplate(ctx, p.Template, p.Confidence, domain.SourcePattern, signature)
		if p.Confidence >= r.opts.TrustedConfidence && intent.Executable() {
			return []domain.Intent{intent}, nil
		}
		set.add(intent)
	} else if p, sim, ok := r.patterns.NearestMatch(signature); ok {
		set.add(r.fromTemplate(ctx, p.Template, p.Confidence*sim, domain.SourceFuzzyPattern, signature))
	}

	ruleHit, matched := matchGrammar(tokens, true)
	if matched {
		for _, intent := range r.fromRule(ctx, ruleHit, signature) {
			set.add(intent)
		}
	}

	if r.needsLanguage(matched, ruleHit, set) {
		for _, intent := range r.fromLanguage(ctx, raw, signature) {
			set.add(intent)
		}
	}

	intents := set.ranked(r.opts.MaxAlternatives)
	if len(intents) == 0 {
		return []domain.Intent{domain.UnknownIntent(signature)}, nil
	}
	return intents, ambiguity(raw, intents)
}

// needsLanguage reports whether the grammar failed to produce a usable target.
func (r *Resolver) needsLanguage(matched bool, hit ruleMatch, set *candidateSet) bool {
	if !r.opts.UseLanguage || r.invoker == nil {
		return false
	}
	if !matched {
		return !set.hasExecutable()
	}
	if !hit.action.NeedsTarget() || hit.action == domain.ActionSearch || hit.object == "" {
		return false
	}
	return set.bestTargetScore() < r.opts.MinTargetScore
}

// fromRule expands a grammar hit into intents, one per plausible target.
func (r *Resolver) fromRule(ctx context.Context, hit ruleMatch, signature string) []domain.Intent {
	if !hit.action.NeedsTarget() {
		intent := domain.Intent{
			Action:     hit.action,
			Confidence: ruleConfidence,
			Source:     domain.SourceRule,
			Signature:  signature,
		}
		if hit.reply != "" {
			intent.Parameters = map[string]string{"reply": hit.reply}
		}
		return []domain.Intent{intent}
	}
	if hit.object == "" {
		return []domain.Intent{{
			Action:     hit.action,
			Target:     domain.UnresolvedTarget(""),
			Parameters: map[string]string{"clarify": clarifyTargetText},
			Confidence: clarifyConfidence,
			Source:     domain.SourceRule,
			Signature:  signature,
		}}
	}
	return r.withTargets(ctx, hit.action, hit.object, ruleConfidence, domain.SourceRule, signature)
}

// fromLanguage asks the language capability. Provider trouble degrades to no
// candidates; it never fails the resolution.
func (r *Resolver) fromLanguage(ctx context.Context, raw, signature string) []domain.Intent {
	ex, err := r.extract(ctx, raw, signature)
	if err != nil {
		fields := map[string]interface{}{"signature": signature, "error": err.Error()}
		if errors.Is(err, domain.ErrNoProviderAvailable) {
			r.log.Info("language capability unavailable, skipping", fields)
		} else {
			r.log.Warn("language extraction failed", fields)
		}
		return nil
	}
	kind, ok := ex.kind()
	if !ok {
		return nil
	}
	switch {
	case kind == domain.ActionCustom:
		intent := domain.Intent{Action: kind, Confidence: languageConfidence, Source: domain.SourceLanguage, Signature: signature}
		if ex.Reply != "" {
			intent.Parameters = map[string]string{"reply": ex.Reply}
		}
		return []domain.Intent{intent}
	case !kind.NeedsTarget():
		return []domain.Intent{{Action: kind, Confidence: languageConfidence, Source: domain.SourceLanguage, Signature: signature}}
	case ex.Target == "":
		return []domain.Intent{{
			Action:     kind,
			Target:     domain.UnresolvedTarget(""),
			Parameters: map[string]string{"clarify": clarifyTargetText},
			Confidence: languageConfidence * unresolvedFactor,
			Source:     domain.SourceLanguage,
			Signature:  signature,
		}}
	}
	return r.withTargets(ctx, kind, ex.Target, languageConfidence, domain.SourceLanguage, signature)
}

// withTargets resolves object words through the catalog. Every match above the
// similarity threshold becomes an alternative scored base x match score. With
// no good match the target stays unresolved; it is never invented.
func (r *Resolver) withTargets(ctx context.Context, action domain.ActionKind, object string, base float64, source domain.IntentSource, signature string) []domain.Intent {
	var params map[string]string
	if action == domain.ActionSearch {
		params = map[string]string{"query": object}
	}

	var out []domain.Intent
	if r.catalog != nil {
		for _, m := range r.catalog.Find(ctx, object) {
			if m.Score < r.opts.SimilarityThreshold {
				continue
			}
			out = append(out, domain.Intent{
				Action:     action,
				Target:     domain.TargetFromMatch(object, m),
				Parameters: cloneParams(params),
				Confidence: domain.ClampConfidence(base * m.Score),
				Source:     source,
				Signature:  signature,
			})
			if len(out) >= r.opts.MaxAlternatives {
				break
			}
		}
	}
	if len(out) > 0 && action != domain.ActionSearch {
		return out
	}

	// Searches keep the free-text query even when nothing in the catalog matched.
	factor := unresolvedFactor
	if action == domain.ActionSearch {
		factor = 0.8
	}
	return append(out, domain.Intent{
		Action:     action,
		Target:     domain.UnresolvedTarget(object),
		Parameters: params,
		Confidence: domain.ClampConfidence(base * factor),
		Source:     source,
		Signature:  signature,
	})
}

// fromTemplate rebuilds an intent from a learned template.
func (r *Resolver) fromTemplate(ctx context.Context, tpl domain.IntentTemplate, confidence float64, source domain.IntentSource, signature string) domain.Intent {
	intent := domain.Intent{
		Action:     tpl.Action,
		Parameters: cloneParams(tpl.Parameters),
		Confidence: domain.ClampConfidence(confidence),
		Source:     source,
		Signature:  signature,
	}
	if !tpl.Action.NeedsTarget() {
		return intent
	}

	if tpl.TargetName != "" && r.catalog != nil {
		if entry, ok := r.catalog.Get(tpl.TargetName); ok {
			intent.Target = domain.TargetFromMatch(tpl.TargetName, domain.TargetMatch{Entry: entry, Score: 1, Reason: domain.MatchAlias})
			return intent
		}
	}
	query := tpl.TargetQuery
	if query == "" {
		query = tpl.TargetName
	}
	if query != "" && r.catalog != nil {
		if matches := r.catalog.Find(ctx, query); len(matches) > 0 && matches[0].Score >= r.opts.MinTargetScore {
			intent.Target = domain.TargetFromMatch(query, matches[0])
			intent.Confidence = domain.ClampConfidence(confidence * matches[0].Score)
			return intent
		}
	}
	intent.Target = domain.UnresolvedTarget(query)
	if tpl.Action != domain.ActionSearch {
		intent.Confidence = domain.ClampConfidence(confidence * unresolvedFactor)
	}
	return intent
}

// ambiguity reports a tie between the two best executable intents that point
// at different targets.
func ambiguity(raw string, intents []domain.Intent) error {
	if len(intents) < 2 {
		return nil
	}
	a, b := intents[0], intents[1]
	if !a.Executable() || !b.Executable() || !a.Target.Resolved || !b.Target.Resolved {
		return nil
	}
	if math.Abs(a.Confidence-b.Confidence) > tieEpsilon || a.Target.Name == b.Target.Name {
		return nil
	}
	var names []string
	for _, in := range intents {
		if math.Abs(in.Confidence-a.Confidence) <= tieEpsilon && in.Target.Resolved {
			names = append(names, in.Target.Name)
		}
	}
	return &domain.AmbiguousTargetError{Query: strings.TrimSpace(raw), Candidates: names}
}

func cloneParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
