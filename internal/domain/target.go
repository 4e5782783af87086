package domain

import (
	"sort"
	"strings"
	"time"
)

// TargetKind classifies catalog entries.
type TargetKind string

const (
	KindApplication TargetKind = "application"
	KindFile        TargetKind = "file"
	KindFolder      TargetKind = "folder"
)

// TargetSource records how an entry entered the catalog.
type TargetSource string

const (
	TargetBuiltin TargetSource = "builtin"
	TargetScanned TargetSource = "scan"
	TargetLearned TargetSource = "learned"
)

// TargetEntry is a known application, file or folder. Path is a location on
// disk; Command, when set, is a program and its arguments that launch the
// entry without one.
type TargetEntry struct {
	CanonicalName string       `json:"canonical_name"`
	Aliases       []string     `json:"aliases"`
	Path          string       `json:"path"`
	Command       []string     `json:"command,omitempty"`
	Kind          TargetKind   `json:"kind"`
	LastSeen      time.Time    `json:"last_seen"`
	Stale         bool         `json:"stale"`
	Source        TargetSource `json:"source"`
	Root          string       `json:"root,omitempty"`
}

// Key is the lookup key for an entry: its lowercase canonical name.
func (t TargetEntry) Key() string {
	return NormalizeAlias(t.CanonicalName)
}

// HasAlias reports whether alias (case-insensitive) names this entry.
func (t TargetEntry) HasAlias(alias string) bool {
	alias = NormalizeAlias(alias)
	if alias == "" {
		return false
	}
	if alias == t.Key() {
		return true
	}
	for _, a := range t.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// MergeAliases unions aliases into the entry. It returns true when the set grew.
func (t *TargetEntry) MergeAliases(aliases ...string) bool {
	set := make(map[string]struct{}, len(t.Aliases)+len(aliases))
	for _, a := range t.Aliases {
		set[a] = struct{}{}
	}
	before := len(set)
	for _, a := range aliases {
		a = NormalizeAlias(a)
		if a == "" {
			continue
		}
		set[a] = struct{}{}
	}
	if len(set) == before && len(t.Aliases) == before {
		return false
	}
	t.Aliases = sortedKeys(set)
	return true
}

// Names returns the canonical key followed by every alias.
func (t TargetEntry) Names() []string {
	names := make([]string, 0, len(t.Aliases)+1)
	names = append(names, t.Key())
	for _, a := range t.Aliases {
		if a != t.Key() {
			names = append(names, a)
		}
	}
	return names
}

// NormalizeAlias lowercases and collapses whitespace.
func NormalizeAlias(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// MatchReason explains why the catalog returned an entry.
type MatchReason string

const (
	MatchAlias     MatchReason = "alias"
	MatchPrefix    MatchReason = "prefix"
	MatchSubstring MatchReason = "substring"
	MatchFuzzy     MatchReason = "fuzzy"
)

// TargetMatch is a scored catalog hit.
type TargetMatch struct {
	Entry  TargetEntry
	Score  float64
	Reason MatchReason
}

// ScanReport summarises a catalog refresh.
type ScanReport struct {
	Roots       []string
	Discovered  int
	Added       int
	Updated     int
	MarkedStale int
	Skipped     []string
	Duration    time.Duration
	Cancelled   bool
}

// Partial reports whether any branch was skipped.
func (r ScanReport) Partial() bool {
	return len(r.Skipped) > 0 || r.Cancelled
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
