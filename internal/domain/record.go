package domain

import "time"

// Outcome is the result the executor reported for a command.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Valid reports whether the outcome is one of the known values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
		return true
	}
	return false
}

// InputSource tells where a raw command came from.
type InputSource string

const (
	InputText  InputSource = "text"
	InputVoice InputSource = "voice"
)

// CommandRecord captures one resolution attempt and its observed outcome.
// Records are append-only and never mutated after they are written.
type CommandRecord struct {
	ID        string        `json:"id"`
	RawText   string        `json:"raw_text"`
	Signature string        `json:"signature"`
	Intent    Intent        `json:"intent"`
	Timestamp time.Time     `json:"timestamp"`
	Outcome   Outcome       `json:"outcome"`
	Latency   time.Duration `json:"latency"`
	Source    InputSource   `json:"source,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Learnable reports whether the record carries a signal the pattern store can use.
func (r CommandRecord) Learnable() bool {
	return r.Signature != "" && !r.Intent.IsUnknown() && r.Outcome != OutcomeUnknown
}

// ExecutionOutcome is what an executor hands back after acting on an intent.
type ExecutionOutcome struct {
	Success  bool
	Detail   string
	Output   string
	Duration time.Duration
	DryRun   bool
}

// Outcome converts the executor signal into a record outcome.
func (e ExecutionOutcome) Outcome() Outcome {
	if e.DryRun {
		return OutcomeUnknown
	}
	if e.Success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// CommandStats summarises the learning history.
type CommandStats struct {
	TotalCommands      int
	SuccessfulCommands int
	FailedCommands     int
	SuccessRate        float64
	ByAction           map[ActionKind]ActionStats
	MostUsed           []SignatureCount
	TotalPatterns      int
	DemotedPatterns    int
}

// ActionStats is the per-action breakdown inside CommandStats.
type ActionStats struct {
	Total      int
	Successful int
}

// SignatureCount pairs a signature with how often it was seen.
type SignatureCount struct {
	Signature string
	Count     int
}

// Suggestion is a completion offered for a partial command.
type Suggestion struct {
	Text       string
	Action     ActionKind
	Confidence float64
	Kind       string
}
