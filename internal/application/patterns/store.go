// Package patterns implements the pattern store: the persisted mapping from
// command signatures to learned intent templates, weighted by decayed success.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Options tunes the store. Zero values fall back to the domain defaults.
type Options struct {
	LearningRate         float64
	PruneFloor           float64
	PruneMinObservations int
	SimilarityThreshold  float64
	CorrectionConfidence float64
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LearningRate <= 0 || o.LearningRate > 1 {
		o.LearningRate = domain.DefaultLearningRate
	}
	if o.PruneFloor <= 0 {
		o.PruneFloor = domain.DefaultPruneFloor
	}
	if o.PruneMinObservations <= 0 {
		o.PruneMinObservations = domain.DefaultPruneMinObservations
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = domain.DefaultSimilarityThreshold
	}
	if o.CorrectionConfidence <= 0 {
		o.CorrectionConfidence = domain.DefaultTrustedConfidence
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// entry guards one signature. Its mutex serializes every read-modify-write of
// that signature, including the repository upsert.
type entry struct {
	mu      sync.Mutex
	pattern domain.Pattern
	present bool
	removed bool
}

// Store is safe for concurrent use. The map lock only protects membership;
// pattern state is guarded per signature.
type Store struct {
	repo ports.PatternRepository
	log  ports.Logger
	opts Options

	mu      sync.RWMutex
	entries map[string]*entry
}

// PruneReport lists what a prune pass changed.
type PruneReport struct {
	Demoted  []string
	Restored []string
	Removed  []string
}

// NewStore builds an empty store. Call Load to hydrate it from the repository.
func NewStore(repo ports.PatternRepository, log ports.Logger, opts Options) *Store {
	return &Store{
		repo:    repo,
		log:     log,
		opts:    opts.withDefaults(),
		entries: make(map[string]*entry),
	}
}

// Load replaces the in-memory state with the repository contents. Corrupt
// records are skipped (the repository quarantines them) and logged.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	loaded, corrupt, err := s.repo.LoadPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("load patterns: %w", err)
	}
	for _, c := range corrupt {
		s.log.Warn("skipped corrupt pattern record", map[string]interface{}{
			"key":   c.Key,
			"error": c.Error(),
		})
	}

	fresh := make(map[string]*entry, len(loaded))
	for _, p := range loaded {
		if p.Signature == "" {
			continue
		}
		fresh[p.Signature] = &entry{pattern: p, present: true}
	}

	s.mu.Lock()
	s.entries = fresh
	s.mu.Unlock()
	return len(fresh), nil
}

// Seed puts patterns in memory without touching the repository.
func (s *Store) Seed(patterns ...domain.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		if p.Signature == "" {
			continue
		}
		s.entries[p.Signature] = &entry{pattern: p, present: true}
	}
}

// Lookup returns the pattern stored under an exact signature. Demoted patterns
// are hidden from lookup.
func (s *Store) Lookup(signature string) (domain.Pattern, bool) {
	p, ok := s.Get(signature)
	if !ok || p.Demoted {
		return domain.Pattern{}, false
	}
	return p, true
}

// Get returns a pattern regardless of its demotion flag.
func (s *Store) Get(signature string) (domain.Pattern, bool) {
	s.mu.RLock()
	e, ok := s.entries[signature]
	s.mu.RUnlock()
	if !ok {
		return domain.Pattern{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present || e.removed {
		return domain.Pattern{}, false
	}
	return e.pattern, true
}

// NearestMatch finds the most similar non-demoted signature above the
// configured similarity threshold.
func (s *Store) NearestMatch(signature string) (domain.Pattern, float64, bool) {
	if signature == "" {
		return domain.Pattern{}, 0, false
	}
	var (
		best    domain.Pattern
		bestSim float64
		found   bool
	)
	for _, p := range s.All() {
		if p.Demoted {
			continue
		}
		sim := textutil.SignatureSimilarity(signature, p.Signature)
		if sim < s.opts.SimilarityThreshold {
			continue
		}
		if !found || sim > bestSim || (sim == bestSim && p.Confidence > best.Confidence) {
			best, bestSim, found = p, sim, true
		}
	}
	return best, bestSim, found
}

// Update applies one observed outcome to a signature. A missing pattern is
// created at the neutral prior first. The repository write happens under the
// signature lock, and memory only changes once the write succeeded.
func (s *Store) Update(ctx context.Context, signature string, tpl domain.IntentTemplate, success bool) (domain.Pattern, error) {
	if signature == "" {
		return domain.Pattern{}, domain.ErrParseFailure
	}
	for {
		e := s.entryFor(signature)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		p, err := s.applyLocked(ctx, e, signature, tpl, success)
		e.mu.Unlock()
		return p, err
	}
}

func (s *Store) applyLocked(ctx context.Context, e *entry, signature string, tpl domain.IntentTemplate, success bool) (domain.Pattern, error) {
	now := s.opts.Now()
	var p domain.Pattern
	switch {
	case !e.present:
		p = domain.NewPattern(signature, tpl, now)
	case !e.pattern.Template.Equal(tpl):
		if !success {
			// The stored template did not run, so its confidence is untouched.
			return e.pattern, nil
		}
		p = domain.NewPattern(signature, tpl, now)
		p.CreatedAt = e.pattern.CreatedAt
	default:
		p = e.pattern
	}

	p = p.Observe(success, s.opts.LearningRate, now)
	if p.Demoted && p.Confidence >= s.opts.PruneFloor {
		p.Demoted = false
	}

	if s.repo != nil {
		if err := s.repo.UpsertPattern(ctx, p); err != nil {
			return domain.Pattern{}, fmt.Errorf("persist pattern %s: %w", signature, err)
		}
	}
	e.pattern = p
	e.present = true
	return p, nil
}

// Correct installs a template supplied by an explicit user correction. The
// correction is authoritative, so confidence is raised to the correction level.
func (s *Store) Correct(ctx context.Context, signature string, tpl domain.IntentTemplate) (domain.Pattern, error) {
	if signature == "" {
		return domain.Pattern{}, domain.ErrParseFailure
	}
	for {
		e := s.entryFor(signature)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		now := s.opts.Now()
		p := e.pattern
		if !e.present {
			p = domain.NewPattern(signature, tpl, now)
		}
		p.Template = tpl
		p.Confidence = max(p.Confidence, s.opts.CorrectionConfidence)
		p.Demoted = false
		p.LastUsed = now

		if s.repo != nil {
			if err := s.repo.UpsertPattern(ctx, p); err != nil {
				e.mu.Unlock()
				return domain.Pattern{}, fmt.Errorf("persist correction %s: %w", signature, err)
			}
		}
		e.pattern = p
		e.present = true
		e.mu.Unlock()
		return p, nil
	}
}

// Prune demotes patterns that stayed below the floor after enough observations,
// and removes those that sank below half the floor. Patterns that recovered are
// restored.
func (s *Store) Prune(ctx context.Context) (PruneReport, error) {
	var (
		report PruneReport
		errs   []error
	)

	s.mu.RLock()
	signatures := make([]string, 0, len(s.entries))
	for sig := range s.entries {
		signatures = append(signatures, sig)
	}
	s.mu.RUnlock()
	sort.Strings(signatures)

	for _, sig := range signatures {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.pruneOne(ctx, sig, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (s *Store) pruneOne(ctx context.Context, sig string, report *PruneReport) error {
	s.mu.RLock()
	e, ok := s.entries[sig]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present || e.removed {
		return nil
	}
	p := e.pattern
	floor := s.opts.PruneFloor

	switch {
	case p.HitCount >= s.opts.PruneMinObservations && p.Confidence < floor/2:
		if s.repo != nil {
			if err := s.repo.DeletePattern(ctx, sig); err != nil {
				return fmt.Errorf("remove pattern %s: %w", sig, err)
			}
		}
		e.removed = true
		s.mu.Lock()
		if s.entries[sig] == e {
			delete(s.entries, sig)
		}
		s.mu.Unlock()
		report.Removed = append(report.Removed, sig)
		return nil
	case p.HitCount >= s.opts.PruneMinObservations && p.Confidence < floor && !p.Demoted:
		p.Demoted = true
		report.Demoted = append(report.Demoted, sig)
	case p.Demoted && p.Confidence >= floor:
		p.Demoted = false
		report.Restored = append(report.Restored, sig)
	default:
		return nil
	}

	if s.repo != nil {
		if err := s.repo.UpsertPattern(ctx, p); err != nil {
			return fmt.Errorf("persist pruned pattern %s: %w", sig, err)
		}
	}
	e.pattern = p
	return nil
}

// All returns a snapshot of every pattern, highest confidence first.
func (s *Store) All() []domain.Pattern {
	s.mu.RLock()
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Pattern, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		if e.present && !e.removed {
			out = append(out, e.pattern)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// Len is the number of stored patterns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) entryFor(signature string) *entry {
	s.mu.RLock()
	e, ok := s.entries[signature]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[signature]; ok {
		return e
	}
	e = &entry{}
	s.entries[signature] = e
	return e
}
