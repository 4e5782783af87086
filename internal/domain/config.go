package domain

import "time"

// Config mirrors ~/.pcpilot/config.yaml.
type Config struct {
	ConfigFormatVersion string               `yaml:"config_format_version" toml:"config_format_version"`
	Learning            LearningSettings     `yaml:"learning" toml:"learning"`
	Resolver            ResolverSettings     `yaml:"resolver" toml:"resolver"`
	Catalog             CatalogSettings      `yaml:"catalog" toml:"catalog"`
	Orchestrator        OrchestratorSettings `yaml:"orchestrator" toml:"orchestrator"`
	Backends            BackendPriority      `yaml:"backends" toml:"backends"`
	Providers           []BackendDefinition  `yaml:"providers" toml:"providers"`
	Storage             StorageSettings      `yaml:"storage" toml:"storage"`
	Execution           ExecutionSettings    `yaml:"execution" toml:"execution"`
}

// LearningSettings tunes the pattern store and learner.
type LearningSettings struct {
	LearningRate         float64       `yaml:"learning_rate" toml:"learning_rate"`
	PruneFloor           float64       `yaml:"prune_floor" toml:"prune_floor"`
	PruneMinObservations int           `yaml:"prune_min_observations" toml:"prune_min_observations"`
	ConsolidateEvery     int           `yaml:"consolidate_every" toml:"consolidate_every"`
	ConsolidateInterval  time.Duration `yaml:"consolidate_interval" toml:"consolidate_interval"`
	ConsolidateWindow    int           `yaml:"consolidate_window" toml:"consolidate_window"`
}

// ResolverSettings tunes intent resolution.
type ResolverSettings struct {
	TrustedConfidenceThreshold float64 `yaml:"trusted_confidence_threshold" toml:"trusted_confidence_threshold"`
	SimilarityThreshold        float64 `yaml:"similarity_threshold" toml:"similarity_threshold"`
	MinTargetScore             float64 `yaml:"min_target_score" toml:"min_target_score"`
	MaxAlternatives            int     `yaml:"max_alternatives" toml:"max_alternatives"`
	UseLanguageFallback        bool    `yaml:"use_language_fallback" toml:"use_language_fallback"`
}

// CatalogSettings controls discovery scans.
type CatalogSettings struct {
	Roots           []string      `yaml:"roots" toml:"roots"`
	ScanDepth       int           `yaml:"scan_depth" toml:"scan_depth"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" toml:"scan_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	Watch           bool          `yaml:"watch" toml:"watch"`
	IncludeFiles    bool          `yaml:"include_files" toml:"include_files"`
}

// OrchestratorSettings controls backend health tracking.
type OrchestratorSettings struct {
	InvokeTimeout    time.Duration `yaml:"invoke_timeout" toml:"invoke_timeout"`
	DegradedAfter    int           `yaml:"degraded_after" toml:"degraded_after"`
	UnavailableAfter int           `yaml:"unavailable_after" toml:"unavailable_after"`
	BackoffBase      time.Duration `yaml:"backoff_base" toml:"backoff_base"`
	BackoffCap       time.Duration `yaml:"backoff_cap" toml:"backoff_cap"`
}

// BackendPriority lists provider names per capability, highest priority first.
type BackendPriority struct {
	Language        []string `yaml:"language" toml:"language"`
	SpeechToText    []string `yaml:"speech_to_text" toml:"speech_to_text"`
	SpeechSynthesis []string `yaml:"speech_synthesis" toml:"speech_synthesis"`
}

// StorageSettings locates persisted state.
type StorageSettings struct {
	Dir             string        `yaml:"dir" toml:"dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries" toml:"cache_max_entries"`
}

// ExecutionSettings controls the local executor.
type ExecutionSettings struct {
	DryRun        bool   `yaml:"dry_run" toml:"dry_run"`
	AutoPick      bool   `yaml:"auto_pick" toml:"auto_pick"`
	Confirm       bool   `yaml:"confirm_ambiguous" toml:"confirm_ambiguous"`
	ScreenshotDir string `yaml:"screenshot_dir,omitempty" toml:"screenshot_dir"`
	GuardrailPath string `yaml:"guardrail_path,omitempty" toml:"guardrail_path"`
}
