// Package catalog keeps the inventory of launchable applications, files and
// folders, and fuzzy-matches user phrases against it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Options configures discovery.
type Options struct {
	Roots           []string
	ScanDepth       int
	ScanTimeout     time.Duration
	RefreshInterval time.Duration
	IncludeFiles    bool
	// SkipBuiltins leaves out the seed application table.
	SkipBuiltins bool
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ScanDepth <= 0 {
		o.ScanDepth = domain.DefaultScanDepth
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = domain.DefaultScanTimeout
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = domain.DefaultRefreshInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type slot struct {
	mu    sync.Mutex
	entry domain.TargetEntry
}

func (s *slot) snapshot() domain.TargetEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry
	e.Aliases = append([]string(nil), e.Aliases...)
	return e
}

// Catalog is safe for concurrent use. The map lock guards membership only;
// every entry merges under its own lock.
type Catalog struct {
	repo ports.TargetRepository
	log  ports.Logger
	opts Options

	mu      sync.RWMutex
	entries map[string]*slot

	group       singleflight.Group
	lastRefresh atomic.Int64
	dirty       atomic.Bool
	background  sync.WaitGroup
}

// New builds a catalog seeded with the builtin applications.
func New(repo ports.TargetRepository, log ports.Logger, opts Options) *Catalog {
	c := &Catalog{
		repo:    repo,
		log:     log,
		opts:    opts.withDefaults(),
		entries: make(map[string]*slot),
	}
	if !c.opts.SkipBuiltins {
		for _, e := range BuiltinEntries() {
			c.entries[e.Key()] = &slot{entry: e}
		}
	}
	return c
}

// Load merges persisted entries into the catalog. The refresh clock starts at
// the newest scanned entry so a warm catalog is not rescanned immediately.
func (c *Catalog) Load(ctx context.Context) (int, error) {
	if c.repo == nil {
		return 0, nil
	}
	loaded, corrupt, err := c.repo.LoadTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("load targets: %w", err)
	}
	for _, ce := range corrupt {
		c.log.Warn("skipped corrupt target record", map[string]interface{}{
			"key":   ce.Key,
			"error": ce.Error(),
		})
	}

	var newest time.Time
	for _, e := range loaded {
		if e.Key() == "" {
			continue
		}
		c.install(e)
		if e.Source == domain.TargetScanned && e.LastSeen.After(newest) {
			newest = e.LastSeen
		}
	}
	if !newest.IsZero() {
		c.lastRefresh.Store(newest.UnixNano())
	}
	return len(loaded), nil
}

// install merges a persisted entry without touching the repository.
func (c *Catalog) install(e domain.TargetEntry) {
	c.mu.Lock()
	s, ok := c.entries[e.Key()]
	if !ok {
		c.entries[e.Key()] = &slot{entry: e}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.MergeAliases(e.Aliases...)
	if e.Path != "" || s.entry.Source != domain.TargetBuiltin {
		s.entry.Path = e.Path
	}
	if len(e.Command) > 0 {
		s.entry.Command = e.Command
	}
	if e.LastSeen.After(s.entry.LastSeen) {
		s.entry.LastSeen = e.LastSeen
	}
	s.entry.Stale = e.Stale
	if e.Root != "" {
		s.entry.Root = e.Root
	}
}

// Find returns the entries matching query, best first. Kinds optionally filter
// the result. An empty catalog, or one past its refresh interval, is refreshed
// on the way.
func (c *Catalog) Find(ctx context.Context, query string, kinds ...domain.TargetKind) []domain.TargetMatch {
	c.ensureFresh(ctx)

	q := domain.NormalizeAlias(query)
	if q == "" {
		return nil
	}
	var matches []domain.TargetMatch
	for _, e := range c.Entries() {
		if !kindAllowed(e.Kind, kinds) {
			continue
		}
		s, reason := score(q, e)
		if s < minFindScore {
			continue
		}
		if e.Stale {
			s *= 0.9
		}
		matches = append(matches, domain.TargetMatch{Entry: e, Score: s, Reason: reason})
	}
	rank(matches)
	return matches
}

// Get looks an entry up by canonical name or alias.
func (c *Catalog) Get(name string) (domain.TargetEntry, bool) {
	key := domain.NormalizeAlias(name)
	c.mu.RLock()
	s, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return s.snapshot(), true
	}
	for _, e := range c.Entries() {
		if e.HasAlias(key) {
			return e, true
		}
	}
	return domain.TargetEntry{}, false
}

// AddAlias teaches a new alias for an existing entry.
func (c *Catalog) AddAlias(ctx context.Context, name, alias string) (domain.TargetEntry, error) {
	entry, ok := c.Get(name)
	if !ok {
		return domain.TargetEntry{}, fmt.Errorf("unknown target %q", name)
	}
	c.mu.RLock()
	s := c.entries[entry.Key()]
	c.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.entry
	updated.Aliases = append([]string(nil), s.entry.Aliases...)
	if !updated.MergeAliases(alias) {
		return updated, nil
	}
	if err := c.persist(ctx, updated); err != nil {
		return domain.TargetEntry{}, err
	}
	s.entry = updated
	return updated, nil
}

// Entries returns a snapshot of every entry sorted by key.
func (c *Catalog) Entries() []domain.TargetEntry {
	c.mu.RLock()
	slots := make([]*slot, 0, len(c.entries))
	for _, s := range c.entries {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	out := make([]domain.TargetEntry, 0, len(slots))
	for _, s := range slots {
		if e := s.snapshot(); e.CanonicalName != "" {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len is the number of entries, stale ones included.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastRefresh is when the last refresh finished; zero if never.
func (c *Catalog) LastRefresh() time.Time {
	v := c.lastRefresh.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// MarkDirty schedules a refresh on the next Find.
func (c *Catalog) MarkDirty() {
	c.dirty.Store(true)
}

// Refresh rescans the configured roots. Concurrent callers share one scan.
// Skipped branches come back as *domain.ScanPartialFailure next to a valid report.
func (c *Catalog) Refresh(ctx context.Context) (domain.ScanReport, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	select {
	case res := <-ch:
		report, _ := res.Val.(domain.ScanReport)
		return report, res.Err
	case <-ctx.Done():
		return domain.ScanReport{Cancelled: true}, ctx.Err()
	}
}

func (c *Catalog) refresh(parent context.Context) (domain.ScanReport, error) {
	start := c.opts.Now()
	report := domain.ScanReport{Roots: append([]string(nil), c.opts.Roots...)}

	ctx, cancel := context.WithTimeout(parent, c.opts.ScanTimeout)
	defer cancel()

	results := make([]rootResult, len(c.opts.Roots))
	var g errgroup.Group
	g.SetLimit(4)
	for i, root := range c.opts.Roots {
		g.Go(func() error {
			results[i] = scanRoot(ctx, root, c.opts.ScanDepth, c.opts.IncludeFiles)
			return nil
		})
	}
	_ = g.Wait()

	var (
		partial domain.ScanPartialFailure
		errs    []error
	)
	for _, res := range results {
		report.Discovered += len(res.found)
		seen := make(map[string]struct{}, len(res.found))
		for _, e := range res.found {
			e.LastSeen = start
			seen[e.Key()] = struct{}{}
			added, changed, err := c.merge(parent, e)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if added {
				report.Added++
			} else if changed {
				report.Updated++
			}
		}
		partial.Skipped = append(partial.Skipped, res.skipped...)
		partial.Causes = append(partial.Causes, res.causes...)
		if res.cancelled {
			report.Cancelled = true
			continue
		}
		if len(res.skipped) == 0 {
			n, err := c.markStale(parent, res.root, seen)
			report.MarkedStale += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	report.Skipped = partial.Skipped
	report.Duration = c.opts.Now().Sub(start)

	if !report.Cancelled {
		c.lastRefresh.Store(c.opts.Now().UnixNano())
		c.dirty.Store(false)
	}
	c.log.Debug("catalog refreshed", map[string]interface{}{
		"roots":      len(report.Roots),
		"discovered": report.Discovered,
		"added":      report.Added,
		"stale":      report.MarkedStale,
		"skipped":    len(report.Skipped),
	})

	if len(partial.Skipped) > 0 {
		errs = append(errs, &partial)
	}
	if report.Cancelled && ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return report, errors.Join(errs...)
}

// merge unions a discovered entry into the catalog. Canonical names are never
// rewritten; only aliases, path and freshness change.
func (c *Catalog) merge(ctx context.Context, found domain.TargetEntry) (added, changed bool, err error) {
	key := found.Key()
	c.mu.Lock()
	s, ok := c.entries[key]
	if !ok {
		s = &slot{}
		s.mu.Lock()
		c.entries[key] = s
	}
	c.mu.Unlock()

	if !ok {
		defer s.mu.Unlock()
		if err := c.persist(ctx, found); err != nil {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
			return false, false, err
		}
		s.entry = found
		return true, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.entry
	updated.Aliases = append([]string(nil), s.entry.Aliases...)
	grew := updated.MergeAliases(found.Aliases...)
	moved := found.Path != "" && updated.Path != found.Path
	if moved {
		updated.Path = found.Path
		if len(found.Command) > 0 {
			updated.Command = found.Command
		}
	}
	if updated.Source == domain.TargetBuiltin && updated.Root == "" {
		updated.Root = found.Root
	}
	revived := updated.Stale
	updated.Stale = false
	updated.LastSeen = found.LastSeen

	if err := c.persist(ctx, updated); err != nil {
		return false, false, err
	}
	s.entry = updated
	return false, grew || moved || revived, nil
}

// markStale flags scanned entries of root that the scan did not see.
func (c *Catalog) markStale(ctx context.Context, root string, seen map[string]struct{}) (int, error) {
	marked := 0
	var errs []error
	for _, e := range c.Entries() {
		if e.Source != domain.TargetScanned || e.Root != root || e.Stale {
			continue
		}
		if _, ok := seen[e.Key()]; ok {
			continue
		}
		c.mu.RLock()
		s := c.entries[e.Key()]
		c.mu.RUnlock()
		if s == nil {
			continue
		}
		s.mu.Lock()
		updated := s.entry
		updated.Stale = true
		if err := c.persist(ctx, updated); err != nil {
			errs = append(errs, err)
		} else {
			s.entry = updated
			marked++
		}
		s.mu.Unlock()
	}
	return marked, errors.Join(errs...)
}

func (c *Catalog) persist(ctx context.Context, e domain.TargetEntry) error {
	if c.repo == nil {
		return nil
	}
	if err := c.repo.UpsertTarget(ctx, e); err != nil {
		return fmt.Errorf("persist target %s: %w", e.CanonicalName, err)
	}
	return nil
}

// ensureFresh refreshes synchronously the first time, and in the background
// once the catalog is dirty or older than the refresh interval.
func (c *Catalog) ensureFresh(ctx context.Context) {
	if len(c.opts.Roots) == 0 {
		return
	}
	last := c.LastRefresh()
	if last.IsZero() {
		if _, err := c.Refresh(ctx); err != nil {
			c.log.Warn("catalog refresh incomplete", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	if !c.dirty.Load() && c.opts.Now().Sub(last) < c.opts.RefreshInterval {
		return
	}
	c.dirty.Store(false)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if _, err := c.Refresh(context.Background()); err != nil {
			c.log.Warn("background catalog refresh incomplete", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Wait blocks until background refreshes have finished.
func (c *Catalog) Wait() {
	c.background.Wait()
}
