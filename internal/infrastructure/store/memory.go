package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Memory is a non-persistent store for ephemeral sessions and tests.
type Memory struct {
	mu       sync.RWMutex
	patterns map[string]domain.Pattern
	targets  map[string]domain.TargetEntry
	records  []domain.CommandRecord
	index    map[string]int
	applied  map[string]bool
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		patterns: make(map[string]domain.Pattern),
		targets:  make(map[string]domain.TargetEntry),
		index:    make(map[string]int),
		applied:  make(map[string]bool),
	}
}

func (m *Memory) UpsertPattern(_ context.Context, p domain.Pattern) error {
	if err := validatePattern(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.Signature] = p
	return nil
}

func (m *Memory) DeletePattern(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patterns, signature)
	return nil
}

func (m *Memory) LoadPatterns(context.Context) ([]domain.Pattern, []domain.StoreCorruptionError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out, nil, nil
}

func (m *Memory) UpsertTarget(_ context.Context, e domain.TargetEntry) error {
	if err := validateTarget(e); err != nil {
		return err
	}
	e.Aliases = append([]string(nil), e.Aliases...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[e.Key()] = e
	return nil
}

func (m *Memory) LoadTargets(context.Context) ([]domain.TargetEntry, []domain.StoreCorruptionError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TargetEntry, 0, len(m.targets))
	for _, e := range m.targets {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil, nil
}

func (m *Memory) AppendRecord(_ context.Context, rec domain.CommandRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[rec.ID]; ok {
		return fmt.Errorf("append record %s: already exists", rec.ID)
	}
	m.index[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) LoadRecords(context.Context) ([]domain.CommandRecord, []domain.StoreCorruptionError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.CommandRecord(nil), m.records...), nil, nil
}

func (m *Memory) RecordsSince(_ context.Context, since time.Time, limit int) ([]domain.CommandRecord, error) {
	m.mu.RLock()
	var out []domain.CommandRecord
	for _, rec := range m.records {
		if since.IsZero() || rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) PendingRecords(_ context.Context, limit int) ([]domain.CommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CommandRecord
	for _, rec := range m.records {
		if limit > 0 && len(out) == limit {
			break
		}
		if !m.applied[rec.ID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) MarkApplied(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.index[id]; ok {
			m.applied[id] = true
		}
	}
	return nil
}

// ClearRecords drops the command history.
func (m *Memory) ClearRecords(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.index = make(map[string]int)
	m.applied = make(map[string]bool)
	return nil
}

var (
	_ ports.PatternRepository = (*Memory)(nil)
	_ ports.TargetRepository  = (*Memory)(nil)
	_ ports.RecordRepository  = (*Memory)(nil)
)
