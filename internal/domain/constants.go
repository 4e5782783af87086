package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// Learning defaults
const (
	DefaultLearningRate         = 0.2
	DefaultPruneFloor           = 0.2
	DefaultPruneMinObservations = 5
	DefaultConsolidateEvery     = 10
	DefaultConsolidateInterval  = 10 * time.Minute
	DefaultConsolidateWindow    = 1000
)

// Resolver defaults
const (
	DefaultTrustedConfidence   = 0.8
	DefaultSimilarityThreshold = 0.6
	DefaultMinTargetScore      = 0.5
	DefaultMaxAlternatives     = 5
)

// Catalog defaults
const (
	DefaultScanDepth       = 3
	DefaultScanTimeout     = 30 * time.Second
	DefaultRefreshInterval = 24 * time.Hour
)

// Orchestrator defaults
const (
	DefaultInvokeTimeout    = 20 * time.Second
	DefaultDegradedAfter    = 1
	DefaultUnavailableAfter = 3
	DefaultBackoffBase      = 5 * time.Second
	DefaultBackoffCap       = 5 * time.Minute
)

// Timeout and duration constants
const (
	// DefaultHTTPClientTimeout is the timeout for HTTP client requests
	DefaultHTTPClientTimeout = 60 * time.Second
	// DefaultCacheTTL is how long language extraction results are reused
	DefaultCacheTTL = time.Hour
	// DefaultMaxCacheEntries is the maximum number of cache entries
	DefaultMaxCacheEntries = 200
)

// History constants
const (
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
	// DefaultSuggestionLimit caps suggestions for a partial command
	DefaultSuggestionLimit = 10
)

// Model configuration constants
const (
	// DefaultMaxTokens is the default maximum number of tokens
	DefaultMaxTokens = 256
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339Nano
)
