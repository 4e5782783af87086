// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the engine core and external
// adapters (infrastructure). Following the Ports and Adapters (Hexagonal) pattern,
// these interfaces allow the engine to remain independent of specific
// implementations like databases, model runtimes, audio tools, or CLI frameworks.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., CapabilityProvider, PatternRepository)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.pcpilot/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// CapabilityProvider is one interchangeable AI backend (language understanding,
// speech-to-text or speech synthesis). The orchestrator only sees this contract.
type CapabilityProvider interface {
	ID() string
	Capability() domain.Capability
	Invoke(context.Context, domain.CapabilityRequest) (domain.CapabilityResponse, error)
}

// ProviderFactory builds capability providers from config definitions.
type ProviderFactory interface {
	ForBackend(domain.BackendDefinition) (CapabilityProvider, error)
}

// Invoker routes a request to the healthiest provider of a capability.
// The backend orchestrator implements it; the resolver and command service consume it.
type Invoker interface {
	Invoke(context.Context, domain.Capability, domain.CapabilityRequest) (domain.CapabilityResponse, error)
}

// Executor performs the real-world action for a resolved intent.
// The engine never touches the operating system itself.
type Executor interface {
	Execute(context.Context, domain.Intent) (domain.ExecutionOutcome, error)
}

// Disambiguator asks the user to choose between equally plausible intents.
// It returns the index of the chosen candidate, or -1 to cancel.
type Disambiguator interface {
	Choose(query string, candidates []domain.Intent) (int, error)
	Enabled() bool
}

// PatternRepository persists pattern store records.
type PatternRepository interface {
	UpsertPattern(context.Context, domain.Pattern) error
	DeletePattern(ctx context.Context, signature string) error
	LoadPatterns(context.Context) ([]domain.Pattern, []domain.StoreCorruptionError, error)
}

// TargetRepository persists target catalog entries.
type TargetRepository interface {
	UpsertTarget(context.Context, domain.TargetEntry) error
	LoadTargets(context.Context) ([]domain.TargetEntry, []domain.StoreCorruptionError, error)
}

// RecordRepository persists the append-only command history. Records never
// change once written; whether the learner has applied a record to the pattern
// store is tracked beside it.
type RecordRepository interface {
	AppendRecord(context.Context, domain.CommandRecord) error
	LoadRecords(context.Context) ([]domain.CommandRecord, []domain.StoreCorruptionError, error)
	RecordsSince(ctx context.Context, since time.Time, limit int) ([]domain.CommandRecord, error)
	PendingRecords(ctx context.Context, limit int) ([]domain.CommandRecord, error)
	MarkApplied(ctx context.Context, ids ...string) error
}

// ExtractionCache stores language-provider extractions keyed by signature.
type ExtractionCache interface {
	Get(key string) (domain.CacheEntry, bool, error)
	Set(domain.CacheEntry) error
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
