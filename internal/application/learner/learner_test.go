package learner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/pcpilot/internal/application/patterns"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/logger"
)

type memRecords struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]domain.CommandRecord
	applied map[string]bool
}

func newMemRecords() *memRecords {
	return &memRecords{byID: map[string]domain.CommandRecord{}, applied: map[string]bool{}}
}

func (m *memRecords) AppendRecord(_ context.Context, rec domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return errors.New("duplicate record")
	}
	m.order = append(m.order, rec.ID)
	m.byID[rec.ID] = rec
	return nil
}

func (m *memRecords) LoadRecords(context.Context) ([]domain.CommandRecord, []domain.StoreCorruptionError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CommandRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out, nil, nil
}

func (m *memRecords) RecordsSince(_ context.Context, since time.Time, limit int) ([]domain.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CommandRecord
	for _, id := range m.order {
		if rec := m.byID[id]; since.IsZero() || rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memRecords) PendingRecords(_ context.Context, limit int) ([]domain.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CommandRecord
	for _, id := range m.order {
		if !m.applied[id] {
			out = append(out, m.byID[id])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRecords) MarkApplied(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.applied[id] = true
	}
	return nil
}

func (m *memRecords) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order) - len(m.applied)
}

type flakyPatterns struct {
	mu      sync.Mutex
	failing bool
}

func (f *flakyPatterns) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyPatterns) UpsertPattern(context.Context, domain.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("disk full")
	}
	return nil
}

func (f *flakyPatterns) DeletePattern(context.Context, string) error { return nil }

func (f *flakyPatterns) LoadPatterns(context.Context) ([]domain.Pattern, []domain.StoreCorruptionError, error) {
	return nil, nil, nil
}

type aliasSpy struct {
	mu    sync.Mutex
	calls [][2]string
}

func (a *aliasSpy) AddAlias(_ context.Context, name, alias string) (domain.TargetEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, [2]string{name, alias})
	return domain.TargetEntry{CanonicalName: name, Aliases: []string{alias}}, nil
}

func launchRecord(id, raw string, at time.Time, outcome domain.Outcome) domain.CommandRecord {
	return domain.CommandRecord{
		ID:        id,
		RawText:   raw,
		Signature: "open_calc",
		Intent: domain.Intent{
			Action: domain.ActionLaunch,
			Target: domain.TargetRef{Name: "Calculator", Resolved: true},
			Source: domain.SourceRule,
		},
		Timestamp: at,
		Outcome:   outcome,
	}
}

func newLearner(records *memRecords, store *patterns.Store, opts Options) *Learner {
	return New(records, store, nil, logger.NewNop(), opts)
}

func TestConsolidationSeparatesGoodAndBadSignatures(t *testing.T) {
	records := newMemRecords()
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := newLearner(records, store, Options{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	good := []bool{true, true, false, true, true, true, true, false, true, true}
	bad := []bool{true, false, false, false, false, true, false, false, false, false}
	for i := range good {
		for _, c := range []struct {
			sig string
			ok  bool
		}{{"open_calc", good[i]}, {"open_paint", bad[i]}} {
			rec := launchRecord("", "", base.Add(time.Duration(i)*time.Minute), domain.OutcomeFailure)
			rec.ID = c.sig + "-" + string(rune('a'+i))
			rec.Signature = c.sig
			if c.ok {
				rec.Outcome = domain.OutcomeSuccess
			}
			require.NoError(t, records.AppendRecord(ctx, rec))
		}
	}

	report, err := l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Replayed)
	assert.Zero(t, records.pending())

	calc, ok := store.Get("open_calc")
	require.True(t, ok)
	assert.Greater(t, calc.Confidence, 0.5)
	assert.Equal(t, 10, calc.HitCount)
	assert.False(t, calc.Demoted)

	paint, ok := store.Get("open_paint")
	require.True(t, ok)
	assert.Less(t, paint.Confidence, 0.5)
	assert.True(t, paint.Demoted)
	assert.Equal(t, []string{"open_paint"}, report.Prune.Demoted)

	require.Len(t, report.Rates, 2)
	rates := map[string]float64{}
	for _, r := range report.Rates {
		rates[r.Signature] = r.Rate
	}
	assert.InDelta(t, 0.8, rates["open_calc"], 1e-9)
	assert.InDelta(t, 0.2, rates["open_paint"], 1e-9)

	again, err := l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Replayed)
	calc, _ = store.Get("open_calc")
	assert.Equal(t, 10, calc.HitCount)
}

func TestRecordOutcomeAppliesOnce(t *testing.T) {
	records := newMemRecords()
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := newLearner(records, store, Options{})
	ctx := context.Background()

	rec, err := l.RecordOutcome(ctx, domain.CommandRecord{
		RawText: "open calc",
		Intent: domain.Intent{
			Action: domain.ActionLaunch,
			Target: domain.TargetRef{Name: "Calculator", Resolved: true},
		},
		Outcome: domain.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, "open_calc", rec.Signature)

	p, ok := store.Lookup("open_calc")
	require.True(t, ok)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	assert.Zero(t, records.pending())

	_, err = l.Consolidate(ctx)
	require.NoError(t, err)
	p, _ = store.Lookup("open_calc")
	assert.Equal(t, 1, p.HitCount)
}

func TestUnknownIntentIsRecordedButNotLearned(t *testing.T) {
	records := newMemRecords()
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := newLearner(records, store, Options{})

	_, err := l.RecordOutcome(context.Background(), domain.CommandRecord{
		RawText: "do a barrel roll",
		Intent:  domain.UnknownIntent("do_barrel_roll"),
		Outcome: domain.OutcomeFailure,
	})
	require.NoError(t, err)

	all, _, err := records.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Zero(t, store.Len())
	assert.Zero(t, records.pending())
}

func TestFailedUpdateIsReplayedByConsolidation(t *testing.T) {
	records := newMemRecords()
	repo := &flakyPatterns{failing: true}
	store := patterns.NewStore(repo, logger.NewNop(), patterns.Options{})
	l := newLearner(records, store, Options{})
	ctx := context.Background()

	_, err := l.RecordOutcome(ctx, launchRecord("r1", "open calc", time.Now(), domain.OutcomeSuccess))
	require.NoError(t, err)
	_, ok := store.Get("open_calc")
	assert.False(t, ok)
	assert.Equal(t, 1, records.pending())

	report, err := l.Consolidate(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, records.pending())

	repo.setFailing(false)
	report, err = l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	p, ok := store.Get("open_calc")
	require.True(t, ok)
	assert.Equal(t, 1, p.HitCount)
	assert.Zero(t, records.pending())
}

func TestConcurrentConsolidationCoalesces(t *testing.T) {
	l := newLearner(newMemRecords(), patterns.NewStore(nil, logger.NewNop(), patterns.Options{}), Options{})
	l.consolidating.Lock()
	report, err := l.Consolidate(context.Background())
	l.consolidating.Unlock()
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}

func TestEveryNthRecordTriggersConsolidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	records := newMemRecords()
	l := newLearner(records, patterns.NewStore(nil, logger.NewNop(), patterns.Options{}), Options{ConsolidateEvery: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.RecordOutcome(ctx, launchRecord("", "open calc", time.Time{}, domain.OutcomeSuccess))
		require.NoError(t, err)
	}
	l.Wait()
	assert.Zero(t, l.lastRun.Load())

	_, err := l.RecordOutcome(ctx, launchRecord("", "open calc", time.Time{}, domain.OutcomeSuccess))
	require.NoError(t, err)
	l.Wait()
	assert.NotZero(t, l.lastRun.Load())
}

func TestStartStopRunsPeriodicConsolidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := newLearner(newMemRecords(), patterns.NewStore(nil, logger.NewNop(), patterns.Options{}), Options{
		ConsolidateInterval: 5 * time.Millisecond,
	})
	l.Start(context.Background())
	l.Start(context.Background())
	assert.Eventually(t, func() bool { return l.lastRun.Load() != 0 }, time.Second, 5*time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestCorrectTeachesPatternAndAlias(t *testing.T) {
	records := newMemRecords()
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	spy := &aliasSpy{}
	l := New(records, store, spy, logger.NewNop(), Options{})
	ctx := context.Background()

	p, err := l.Correct(ctx, "Open the number cruncher", domain.IntentTemplate{
		Action: domain.ActionLaunch, TargetName: "Calculator",
	})
	require.NoError(t, err)
	assert.Equal(t, "open_number_cruncher", p.Signature)
	assert.GreaterOrEqual(t, p.Confidence, domain.DefaultTrustedConfidence)

	require.Len(t, spy.calls, 1)
	assert.Equal(t, [2]string{"Calculator", "number cruncher"}, spy.calls[0])

	all, _, err := records.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, correctionDetail, all[0].Detail)
	assert.Equal(t, domain.OutcomeSuccess, all[0].Outcome)
	assert.Zero(t, records.pending())

	_, err = l.Correct(ctx, "   ", domain.IntentTemplate{Action: domain.ActionLaunch})
	assert.ErrorIs(t, err, domain.ErrParseFailure)
}

func TestStatsAndSuggestions(t *testing.T) {
	records := newMemRecords()
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := newLearner(records, store, Options{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeSuccess, domain.OutcomeSuccess, domain.OutcomeFailure}
	for i, o := range outcomes {
		_, err := l.RecordOutcome(ctx, launchRecord("", "open calc", base.Add(time.Duration(i)*time.Second), o))
		require.NoError(t, err)
	}
	shot := domain.CommandRecord{
		RawText: "take a screenshot",
		Intent:  domain.Intent{Action: domain.ActionScreenshot},
		Outcome: domain.OutcomeSuccess,
	}
	_, err := l.RecordOutcome(ctx, shot)
	require.NoError(t, err)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCommands)
	assert.Equal(t, 4, stats.SuccessfulCommands)
	assert.Equal(t, 1, stats.FailedCommands)
	assert.InDelta(t, 0.8, stats.SuccessRate, 1e-9)
	assert.Equal(t, domain.ActionStats{Total: 4, Successful: 3}, stats.ByAction[domain.ActionLaunch])
	require.NotEmpty(t, stats.MostUsed)
	assert.Equal(t, domain.SignatureCount{Signature: "open_calc", Count: 4}, stats.MostUsed[0])
	assert.Equal(t, 2, stats.TotalPatterns)

	popular, err := l.Suggest(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, popular, 1)
	assert.Equal(t, "open calc", popular[0].Text)
	assert.Equal(t, SuggestPopular, popular[0].Kind)
	assert.InDelta(t, 0.3, popular[0].Confidence, 1e-9)

	partial, err := l.Suggest(ctx, "open", 5)
	require.NoError(t, err)
	require.NotEmpty(t, partial)
	assert.Equal(t, "open calc", partial[0].Text)

	none, err := l.Suggest(ctx, "zzzz", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// stickyRecords fails the first markFailures MarkApplied calls and records the
// size of every call.
type stickyRecords struct {
	*memRecords
	mu           sync.Mutex
	markFailures int
	marked       []int
}

func (s *stickyRecords) MarkApplied(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	s.marked = append(s.marked, len(ids))
	if s.markFailures > 0 {
		s.markFailures--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.memRecords.MarkApplied(ctx, ids...)
}

func TestUnmarkedOutcomeIsNotReappliedByConsolidation(t *testing.T) {
	records := &stickyRecords{memRecords: newMemRecords(), markFailures: 1}
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := New(records, store, nil, logger.NewNop(), Options{})
	ctx := context.Background()

	_, err := l.RecordOutcome(ctx, launchRecord("r1", "open calc", time.Now(), domain.OutcomeSuccess))
	require.NoError(t, err)
	p, ok := store.Lookup("open_calc")
	require.True(t, ok)
	assert.Equal(t, 1, p.HitCount)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
	assert.Equal(t, 1, records.pending())

	report, err := l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Replayed)
	assert.Zero(t, records.pending())

	p, _ = store.Lookup("open_calc")
	assert.Equal(t, 1, p.HitCount)
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
}

func TestReplayMarkFailureIsNotReappliedNextRun(t *testing.T) {
	records := &stickyRecords{memRecords: newMemRecords(), markFailures: 1}
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := New(records, store, nil, logger.NewNop(), Options{})
	ctx := context.Background()
	require.NoError(t, records.AppendRecord(ctx, launchRecord("r1", "open calc", time.Now(), domain.OutcomeSuccess)))

	report, err := l.Consolidate(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, records.pending())

	report, err = l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Replayed)
	assert.Zero(t, records.pending())
	p, _ := store.Lookup("open_calc")
	assert.Equal(t, 1, p.HitCount)
}

func TestReplayRunsInBatches(t *testing.T) {
	records := &stickyRecords{memRecords: newMemRecords()}
	store := patterns.NewStore(nil, logger.NewNop(), patterns.Options{})
	l := New(records, store, nil, logger.NewNop(), Options{ConsolidateWindow: 100})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 70; i++ {
		rec := launchRecord(fmt.Sprintf("r%02d", i), "open calc", base.Add(time.Duration(i)*time.Second), domain.OutcomeSuccess)
		require.NoError(t, records.AppendRecord(ctx, rec))
	}

	report, err := l.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, report.Replayed)
	assert.Zero(t, records.pending())
	assert.Equal(t, []int{replayBatchSize, replayBatchSize, 70 - 2*replayBatchSize}, records.marked)
	p, _ := store.Lookup("open_calc")
	assert.Equal(t, 70, p.HitCount)
}
