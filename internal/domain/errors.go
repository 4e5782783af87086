package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParseFailure means the input was empty or unintelligible. The resolver
// answers it with the unknown intent.
var ErrParseFailure = errors.New("input could not be parsed")

// ErrNoProviderAvailable means every provider of a capability is unavailable
// or failed on this call.
var ErrNoProviderAvailable = errors.New("no provider available")

// NoProviderError carries the capability and the last provider failure.
type NoProviderError struct {
	Capability Capability
	Tried      []string
	Last       error
}

func (e *NoProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no provider available", e.Capability)
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Tried, ", "))
	}
	if e.Last != nil {
		fmt.Fprintf(&b, ": %v", e.Last)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrNoProviderAvailable) match.
func (e *NoProviderError) Is(target error) bool {
	return target == ErrNoProviderAvailable
}

func (e *NoProviderError) Unwrap() error {
	return e.Last
}

// AmbiguousTargetError is returned with the candidates when the top matches tie.
type AmbiguousTargetError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("ambiguous target %q: %s", e.Query, strings.Join(e.Candidates, ", "))
}

// ScanPartialFailure lists the branches a catalog refresh had to skip.
type ScanPartialFailure struct {
	Skipped []string
	Causes  []error
}

func (e *ScanPartialFailure) Error() string {
	return fmt.Sprintf("catalog scan skipped %d branch(es): %s", len(e.Skipped), strings.Join(e.Skipped, ", "))
}

func (e *ScanPartialFailure) Unwrap() []error {
	return e.Causes
}

// StoreCorruptionError describes a persisted record that failed its integrity check.
type StoreCorruptionError struct {
	Collection string
	Key        string
	Cause      error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("corrupt %s record %q: %v", e.Collection, e.Key, e.Cause)
}

func (e *StoreCorruptionError) Unwrap() error {
	return e.Cause
}

// GuardrailError means the executor refused an action outright.
type GuardrailError struct {
	Reasons []string
}

func (e *GuardrailError) Error() string {
	return "blocked by guardrail: " + strings.Join(e.Reasons, "; ")
}
