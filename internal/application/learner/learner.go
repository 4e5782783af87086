// Package learner records command outcomes and turns them into pattern updates.
//
// Every outcome is appended to the history first and then applied to the
// pattern store. Records whose update did not land stay pending and are
// replayed by consolidation, which also reports per-signature success rates
// and prunes the store. Consolidation runs off the foreground path.
package learner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/pcpilot/internal/application/patterns"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
	"github.com/doeshing/pcpilot/internal/ports"
)

// correctionDetail marks records written by Correct.
const correctionDetail = "correction"

// replayBatchSize bounds how many pending records one exclusive hold of the
// apply lock replays.
const replayBatchSize = 32

// Options tunes consolidation. Zero values fall back to the domain defaults.
type Options struct {
	ConsolidateEvery    int
	ConsolidateInterval time.Duration
	ConsolidateWindow   int
	Now                 func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ConsolidateEvery <= 0 {
		o.ConsolidateEvery = domain.DefaultConsolidateEvery
	}
	if o.ConsolidateInterval <= 0 {
		o.ConsolidateInterval = domain.DefaultConsolidateInterval
	}
	if o.ConsolidateWindow <= 0 {
		o.ConsolidateWindow = domain.DefaultConsolidateWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// AliasTeacher is the catalog side of a correction.
type AliasTeacher interface {
	AddAlias(ctx context.Context, name, alias string) (domain.TargetEntry, error)
}

// SignatureRate is the observed success rate of one signature in a window.
type SignatureRate struct {
	Signature string
	Total     int
	Successes int
	Rate      float64
}

// Report summarises one consolidation run.
type Report struct {
	Replayed int
	Failed   int
	Rates    []SignatureRate
	Prune    patterns.PruneReport
	Duration time.Duration
	// Skipped is set when another consolidation was already running.
	Skipped bool
}

// Learner is safe for concurrent use.
type Learner struct {
	records  ports.RecordRepository
	patterns *patterns.Store
	aliases  AliasTeacher
	log      ports.Logger
	opts     Options

	// apply is held shared while an outcome is appended and applied, and
	// exclusively while a batch of pending records is replayed, so no record
	// is applied twice.
	apply sync.RWMutex
	// unmarked holds records whose pattern update landed but whose applied
	// flag could not be written. Replay marks them without updating again.
	unmarkedMu    sync.Mutex
	unmarked      map[string]struct{}
	consolidating sync.Mutex
	sinceTrigger  atomic.Int64
	lastRun       atomic.Int64

	background sync.WaitGroup

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires a learner. aliases may be nil, which disables alias teaching.
func New(records ports.RecordRepository, store *patterns.Store, aliases AliasTeacher, log ports.Logger, opts Options) *Learner {
	return &Learner{
		records:  records,
		patterns: store,
		aliases:  aliases,
		log:      log,
		opts:     opts.withDefaults(),
		unmarked: make(map[string]struct{}),
	}
}

// RecordOutcome appends the record and applies it to the pattern store. Missing
// ID, timestamp and signature are filled in; the completed record is returned.
// A failed pattern update is logged and left for consolidation to replay.
func (l *Learner) RecordOutcome(ctx context.Context, rec domain.CommandRecord) (domain.CommandRecord, error) {
	rec = l.complete(rec)

	l.apply.RLock()
	err := l.appendAndApply(ctx, rec)
	l.apply.RUnlock()
	if err != nil {
		return rec, err
	}

	if n := l.sinceTrigger.Add(1); n >= int64(l.opts.ConsolidateEvery) {
		l.sinceTrigger.Store(0)
		l.consolidateAsync()
	}
	return rec, nil
}

func (l *Learner) complete(rec domain.CommandRecord) domain.CommandRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.opts.Now()
	}
	if rec.Signature == "" {
		rec.Signature = rec.Intent.Signature
	}
	if rec.Signature == "" {
		rec.Signature = textutil.Signature(rec.RawText)
	}
	if !rec.Outcome.Valid() {
		rec.Outcome = domain.OutcomeUnknown
	}
	return rec
}

func (l *Learner) appendAndApply(ctx context.Context, rec domain.CommandRecord) error {
	if err := l.records.AppendRecord(ctx, rec); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if rec.Learnable() {
		if _, err := l.patterns.Update(ctx, rec.Signature, rec.Intent.Template(), rec.Outcome == domain.OutcomeSuccess); err != nil {
			l.log.Warn("pattern update deferred to consolidation", map[string]interface{}{
				"signature": rec.Signature,
				"record":    rec.ID,
				"error":     err.Error(),
			})
			return nil
		}
	}
	if err := l.records.MarkApplied(ctx, rec.ID); err != nil {
		l.rememberUnmarked(rec.ID)
		l.log.Warn("mark applied failed", map[string]interface{}{"record": rec.ID, "error": err.Error()})
	}
	return nil
}

func (l *Learner) rememberUnmarked(ids ...string) {
	l.unmarkedMu.Lock()
	defer l.unmarkedMu.Unlock()
	for _, id := range ids {
		l.unmarked[id] = struct{}{}
	}
}

func (l *Learner) forgetUnmarked(ids ...string) {
	l.unmarkedMu.Lock()
	defer l.unmarkedMu.Unlock()
	for _, id := range ids {
		delete(l.unmarked, id)
	}
}

func (l *Learner) isUnmarked(id string) bool {
	l.unmarkedMu.Lock()
	defer l.unmarkedMu.Unlock()
	_, ok := l.unmarked[id]
	return ok
}

// Consolidate replays pending records, computes success rates over the records
// since the previous run and prunes the pattern store. Concurrent calls
// coalesce: a caller that finds a run in progress gets a skipped report.
func (l *Learner) Consolidate(ctx context.Context) (Report, error) {
	if !l.consolidating.TryLock() {
		return Report{Skipped: true}, nil
	}
	defer l.consolidating.Unlock()

	started := l.opts.Now()
	var (
		report Report
		errs   []error
	)

	replayed, failed, err := l.replayPending(ctx)
	report.Replayed, report.Failed = replayed, failed
	if err != nil {
		errs = append(errs, err)
	}

	since := time.Time{}
	if last := l.lastRun.Load(); last > 0 {
		since = time.Unix(0, last)
	}
	recent, err := l.records.RecordsSince(ctx, since, l.opts.ConsolidateWindow)
	if err != nil {
		errs = append(errs, fmt.Errorf("load recent records: %w", err))
	} else {
		report.Rates = successRates(recent)
	}

	prune, err := l.patterns.Prune(ctx)
	report.Prune = prune
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		l.lastRun.Store(started.UnixNano())
	}
	report.Duration = l.opts.Now().Sub(started)

	l.log.Info("consolidation finished", map[string]interface{}{
		"replayed":   report.Replayed,
		"failed":     report.Failed,
		"signatures": len(report.Rates),
		"demoted":    len(prune.Demoted),
		"restored":   len(prune.Restored),
		"removed":    len(prune.Removed),
		"duration":   report.Duration.String(),
	})
	return report, errors.Join(errs...)
}

// replayPending works through up to ConsolidateWindow pending records in
// batches, releasing the apply lock between batches so foreground outcomes
// are not held up for the whole run.
func (l *Learner) replayPending(ctx context.Context) (replayed, failed int, err error) {
	seen := make(map[string]struct{})
	var errs []error
	for len(seen) < l.opts.ConsolidateWindow {
		r, f, more, err := l.replayBatch(ctx, seen)
		replayed += r
		failed += f
		if err != nil {
			errs = append(errs, err)
		}
		if !more {
			break
		}
	}
	return replayed, failed, errors.Join(errs...)
}

// replayBatch applies the oldest pending records not yet seen in this run.
// more reports whether the repository may hold further pending records.
func (l *Learner) replayBatch(ctx context.Context, seen map[string]struct{}) (replayed, failed int, more bool, err error) {
	l.apply.Lock()
	defer l.apply.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, 0, false, err
	}
	limit := len(seen) + replayBatchSize
	if limit > l.opts.ConsolidateWindow {
		limit = l.opts.ConsolidateWindow
	}
	pending, err := l.records.PendingRecords(ctx, limit)
	if err != nil {
		return 0, 0, false, fmt.Errorf("load pending records: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	batch := make([]domain.CommandRecord, 0, replayBatchSize)
	for _, rec := range pending {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		batch = append(batch, rec)
		if len(batch) == replayBatchSize {
			break
		}
	}
	if len(batch) == 0 {
		return 0, 0, false, nil
	}

	applied := make([]string, 0, len(batch))
	var errs []error
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		seen[rec.ID] = struct{}{}
		if rec.Learnable() && !l.isUnmarked(rec.ID) {
			if _, err := l.patterns.Update(ctx, rec.Signature, rec.Intent.Template(), rec.Outcome == domain.OutcomeSuccess); err != nil {
				failed++
				errs = append(errs, fmt.Errorf("replay %s: %w", rec.ID, err))
				continue
			}
			replayed++
		}
		applied = append(applied, rec.ID)
	}
	if len(applied) > 0 {
		if err := l.records.MarkApplied(ctx, applied...); err != nil {
			l.rememberUnmarked(applied...)
			errs = append(errs, fmt.Errorf("mark applied: %w", err))
		} else {
			l.forgetUnmarked(applied...)
		}
	}
	more = (len(batch) == replayBatchSize || len(pending) == limit) && ctx.Err() == nil
	return replayed, failed, more, errors.Join(errs...)
}

func (l *Learner) consolidateAsync() {
	l.background.Add(1)
	go func() {
		defer l.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.ConsolidateInterval)
		defer cancel()
		if _, err := l.Consolidate(ctx); err != nil {
			l.log.Warn("background consolidation failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Wait blocks until triggered background consolidations have finished.
func (l *Learner) Wait() {
	l.background.Wait()
}

// Start runs consolidation every ConsolidateInterval until Stop or ctx ends.
func (l *Learner) Start(ctx context.Context) {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.loop(ctx, l.stopCh, l.doneCh)
}

// Stop ends the periodic loop and waits for in-flight consolidations.
func (l *Learner) Stop() {
	l.loopMu.Lock()
	wasRunning := l.running
	l.running = false
	stopCh, doneCh := l.stopCh, l.doneCh
	l.loopMu.Unlock()

	if wasRunning {
		close(stopCh)
		<-doneCh
	}
	l.background.Wait()
}

func (l *Learner) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.opts.ConsolidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := l.Consolidate(ctx); err != nil {
				l.log.Warn("periodic consolidation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Correct learns an explicit correction: the command's signature maps to tpl
// with at least the trusted confidence. When tpl names a catalog target, the
// object words of the command become an alias of it.
func (l *Learner) Correct(ctx context.Context, raw string, tpl domain.IntentTemplate) (domain.Pattern, error) {
	signature := textutil.Signature(raw)
	if signature == "" {
		return domain.Pattern{}, domain.ErrParseFailure
	}
	if tpl.Action == "" || tpl.Action == domain.ActionUnknown {
		return domain.Pattern{}, fmt.Errorf("correction for %q has no action", raw)
	}

	l.apply.RLock()
	defer l.apply.RUnlock()

	p, err := l.patterns.Correct(ctx, signature, tpl)
	if err != nil {
		return domain.Pattern{}, err
	}

	if tpl.TargetName != "" && l.aliases != nil {
		if phrase := objectPhrase(raw); phrase != "" && phrase != domain.NormalizeAlias(tpl.TargetName) {
			if _, err := l.aliases.AddAlias(ctx, tpl.TargetName, phrase); err != nil {
				l.log.Warn("alias not taught", map[string]interface{}{
					"target": tpl.TargetName,
					"alias":  phrase,
					"error":  err.Error(),
				})
			}
		}
	}

	rec := l.complete(domain.CommandRecord{
		RawText:   raw,
		Signature: signature,
		Intent:    intentFromTemplate(tpl, p.Confidence, signature),
		Outcome:   domain.OutcomeSuccess,
		Detail:    correctionDetail,
	})
	if err := l.records.AppendRecord(ctx, rec); err != nil {
		l.log.Warn("correction not recorded", map[string]interface{}{"signature": signature, "error": err.Error()})
		return p, nil
	}
	if err := l.records.MarkApplied(ctx, rec.ID); err != nil {
		l.log.Debug("mark applied failed", map[string]interface{}{"record": rec.ID, "error": err.Error()})
	}
	return p, nil
}

var commandVerbs = map[string]struct{}{
	"open": {}, "launch": {}, "start": {}, "run": {},
	"close": {}, "quit": {}, "exit": {}, "stop": {}, "kill": {},
	"search": {}, "find": {}, "locate": {},
}

// objectPhrase drops the leading verb of a command.
func objectPhrase(raw string) string {
	tokens := textutil.Tokens(raw)
	if len(tokens) > 0 {
		if _, ok := commandVerbs[tokens[0]]; ok {
			tokens = tokens[1:]
		}
	}
	return strings.Join(tokens, " ")
}

func intentFromTemplate(tpl domain.IntentTemplate, confidence float64, signature string) domain.Intent {
	in := domain.Intent{
		Action:     tpl.Action,
		Parameters: tpl.Parameters,
		Confidence: confidence,
		Source:     domain.SourcePattern,
		Signature:  signature,
	}
	if tpl.TargetName != "" {
		in.Target = domain.TargetRef{Name: tpl.TargetName, Resolved: true}
	} else if tpl.TargetQuery != "" {
		in.Target = domain.UnresolvedTarget(tpl.TargetQuery)
	}
	return in
}

func successRates(records []domain.CommandRecord) []SignatureRate {
	bySig := make(map[string]*SignatureRate)
	for _, rec := range records {
		if !rec.Learnable() {
			continue
		}
		r, ok := bySig[rec.Signature]
		if !ok {
			r = &SignatureRate{Signature: rec.Signature}
			bySig[rec.Signature] = r
		}
		r.Total++
		if rec.Outcome == domain.OutcomeSuccess {
			r.Successes++
		}
	}
	out := make([]SignatureRate, 0, len(bySig))
	for _, r := range bySig {
		r.Rate = float64(r.Successes) / float64(r.Total)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}
