// Package domain defines core business entities and value objects for pcpilot.
//
// This file contains the intent model produced by the resolver. The domain layer is
// independent of infrastructure concerns and represents pure business logic and
// data structures.
package domain

import (
	"sort"
	"strings"
)

// ActionKind enumerates the actions an executor knows how to perform.
type ActionKind string

const (
	ActionLaunch     ActionKind = "launch"
	ActionClose      ActionKind = "close"
	ActionSearch     ActionKind = "search"
	ActionScreenshot ActionKind = "screenshot"
	ActionSystemInfo ActionKind = "system_info"
	ActionCustom     ActionKind = "custom"
	ActionUnknown    ActionKind = "unknown"
)

// ParseActionKind maps loose provider output ("open_app", "Launch") onto an ActionKind.
func ParseActionKind(value string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "launch", "open", "open_app", "start", "run":
		return ActionLaunch, true
	case "close", "close_app", "quit", "exit", "stop", "kill":
		return ActionClose, true
	case "search", "find", "locate":
		return ActionSearch, true
	case "screenshot", "capture":
		return ActionScreenshot, true
	case "system_info", "systeminfo", "status", "info":
		return ActionSystemInfo, true
	case "custom", "respond", "help", "greeting":
		return ActionCustom, true
	case "unknown", "":
		return ActionUnknown, false
	default:
		return ActionUnknown, false
	}
}

// NeedsTarget reports whether the action operates on a catalog target.
func (a ActionKind) NeedsTarget() bool {
	switch a {
	case ActionLaunch, ActionClose, ActionSearch:
		return true
	default:
		return false
	}
}

// IntentSource records which resolver stage produced an intent.
type IntentSource string

const (
	SourcePattern      IntentSource = "pattern"
	SourceFuzzyPattern IntentSource = "fuzzy_pattern"
	SourceRule         IntentSource = "rule"
	SourceLanguage     IntentSource = "language"
	SourceUnknown      IntentSource = "unknown"
)

// TargetRef points at a catalog entry, or carries the unresolved marker when the
// catalog had nothing for the user's words.
type TargetRef struct {
	Name     string     `json:"name,omitempty"`
	Path     string     `json:"path,omitempty"`
	Command  []string   `json:"command,omitempty"`
	Kind     TargetKind `json:"kind,omitempty"`
	Resolved bool       `json:"resolved"`
	Query    string     `json:"query,omitempty"`
	Score    float64    `json:"score,omitempty"`
}

// UnresolvedTarget builds the explicit "unresolved target" marker.
func UnresolvedTarget(query string) TargetRef {
	return TargetRef{Query: strings.TrimSpace(query)}
}

// TargetFromMatch references an existing catalog entry.
func TargetFromMatch(query string, m TargetMatch) TargetRef {
	return TargetRef{
		Name:     m.Entry.CanonicalName,
		Path:     m.Entry.Path,
		Command:  m.Entry.Command,
		Kind:     m.Entry.Kind,
		Resolved: true,
		Query:    query,
		Score:    m.Score,
	}
}

// IsEmpty reports whether the reference carries neither a target nor a query.
func (t TargetRef) IsEmpty() bool {
	return !t.Resolved && t.Query == ""
}

// Label is the human readable form used in logs and renderers.
func (t TargetRef) Label() string {
	if t.Resolved {
		return t.Name
	}
	if t.Query != "" {
		return t.Query + " (unresolved)"
	}
	return ""
}

// Intent is a structured action plan for a single command.
type Intent struct {
	Action     ActionKind        `json:"action"`
	Target     TargetRef         `json:"target"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
	Source     IntentSource      `json:"source"`
	Signature  string            `json:"signature,omitempty"`
}

// UnknownIntent is what the resolver returns when nothing matched.
func UnknownIntent(signature string) Intent {
	return Intent{
		Action:     ActionUnknown,
		Target:     TargetRef{},
		Confidence: 0,
		Source:     SourceUnknown,
		Signature:  signature,
	}
}

// IsUnknown reports whether the intent is the unknown intent.
func (i Intent) IsUnknown() bool {
	return i.Action == ActionUnknown
}

// Executable reports whether an executor may act on the intent.
func (i Intent) Executable() bool {
	if i.IsUnknown() {
		return false
	}
	if i.Action.NeedsTarget() && i.Action != ActionSearch {
		return i.Target.Resolved
	}
	return true
}

// Template extracts the learnable part of the intent.
func (i Intent) Template() IntentTemplate {
	tpl := IntentTemplate{
		Action:     i.Action,
		Parameters: cloneParams(i.Parameters),
	}
	if i.Target.Resolved {
		tpl.TargetName = i.Target.Name
	} else {
		tpl.TargetQuery = i.Target.Query
	}
	return tpl
}

// IntentTemplate is the persisted, learnable shape of an intent.
type IntentTemplate struct {
	Action      ActionKind        `json:"action"`
	TargetName  string            `json:"target_name,omitempty"`
	TargetQuery string            `json:"target_query,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// Equal compares two templates including parameters.
func (t IntentTemplate) Equal(other IntentTemplate) bool {
	if t.Action != other.Action || t.TargetName != other.TargetName || t.TargetQuery != other.TargetQuery {
		return false
	}
	if len(t.Parameters) != len(other.Parameters) {
		return false
	}
	for k, v := range t.Parameters {
		if other.Parameters[k] != v {
			return false
		}
	}
	return true
}

// SortIntents orders intents by confidence, highest first. Equal confidence keeps
// resolved targets ahead of unresolved ones, then falls back to target name.
func SortIntents(intents []Intent) {
	sort.SliceStable(intents, func(i, j int) bool {
		a, b := intents[i], intents[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Target.Resolved != b.Target.Resolved {
			return a.Target.Resolved
		}
		return a.Target.Name < b.Target.Name
	})
}

func cloneParams(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
