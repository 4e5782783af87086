package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/pcpilot/assets"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/filesystem"
	"github.com/doeshing/pcpilot/internal/ports"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "PCPILOT_CONFIG"

// FileLoader loads configuration from ~/.pcpilot/config.yaml (overridable via
// PCPILOT_CONFIG). Paths ending in .toml are decoded as TOML.
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider. A missing file is created from the
// embedded defaults.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err := DefaultConfig()
			if err != nil {
				return domain.Config{}, err
			}
			if err := writeDefault(path, cfg); err != nil {
				return domain.Config{}, err
			}
			return hydrateDefaults(cfg), nil
		}
		return domain.Config{}, err
	}

	var cfg domain.Config
	if err := decode(path, data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return hydrateDefaults(cfg), nil
}

// Path returns the resolved config file path.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Reset overwrites the config with defaults and returns the default snapshot.
func (l *FileLoader) Reset() (domain.Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return domain.Config{}, err
	}
	if err := writeDefault(l.resolvePath(), cfg); err != nil {
		return domain.Config{}, err
	}
	return hydrateDefaults(cfg), nil
}

// Backup copies the current config file to a timestamped backup.
func (l *FileLoader) Backup() (string, error) {
	path := l.resolvePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102T150405"))
	if err := os.WriteFile(backup, data, domain.SecureFilePermissions); err != nil {
		return "", err
	}
	return backup, nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := os.Getenv(EnvConfigPath); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".pcpilot", "config.yaml")
}

func ensureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions)
}

// writeDefault copies the embedded YAML verbatim so durations stay readable.
// TOML targets get the decoded defaults re-encoded.
func writeDefault(path string, cfg domain.Config) error {
	if err := ensureConfigDir(path); err != nil {
		return err
	}
	raw := assets.DefaultConfigYAML
	if isTOML(path) {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return err
		}
		raw = []byte(b.String())
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, cfg *domain.Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// DefaultConfig decodes the embedded default configuration.
func DefaultConfig() (domain.Config, error) {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("embedded defaults: %w", err)
	}
	return cfg, nil
}

// hydrateDefaults fills zero values and expands ~ in every path setting.
func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}

	l := &cfg.Learning
	if l.LearningRate == 0 {
		l.LearningRate = domain.DefaultLearningRate
	}
	if l.PruneFloor == 0 {
		l.PruneFloor = domain.DefaultPruneFloor
	}
	if l.PruneMinObservations == 0 {
		l.PruneMinObservations = domain.DefaultPruneMinObservations
	}
	if l.ConsolidateEvery == 0 {
		l.ConsolidateEvery = domain.DefaultConsolidateEvery
	}
	if l.ConsolidateInterval == 0 {
		l.ConsolidateInterval = domain.DefaultConsolidateInterval
	}
	if l.ConsolidateWindow == 0 {
		l.ConsolidateWindow = domain.DefaultConsolidateWindow
	}

	r := &cfg.Resolver
	if r.TrustedConfidenceThreshold == 0 {
		r.TrustedConfidenceThreshold = domain.DefaultTrustedConfidence
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = domain.DefaultSimilarityThreshold
	}
	if r.MinTargetScore == 0 {
		r.MinTargetScore = domain.DefaultMinTargetScore
	}
	if r.MaxAlternatives == 0 {
		r.MaxAlternatives = domain.DefaultMaxAlternatives
	}

	c := &cfg.Catalog
	if c.ScanDepth == 0 {
		c.ScanDepth = domain.DefaultScanDepth
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = domain.DefaultScanTimeout
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = domain.DefaultRefreshInterval
	}
	for i, root := range c.Roots {
		c.Roots[i] = filesystem.ExpandPath(root)
	}

	o := &cfg.Orchestrator
	if o.InvokeTimeout == 0 {
		o.InvokeTimeout = domain.DefaultInvokeTimeout
	}
	if o.DegradedAfter == 0 {
		o.DegradedAfter = domain.DefaultDegradedAfter
	}
	if o.UnavailableAfter == 0 {
		o.UnavailableAfter = domain.DefaultUnavailableAfter
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = domain.DefaultBackoffBase
	}
	if o.BackoffCap == 0 {
		o.BackoffCap = domain.DefaultBackoffCap
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if capability, ok := domain.ParseCapability(string(p.Capability)); ok {
			p.Capability = capability
		}
		if p.ModelPath != "" {
			p.ModelPath = filesystem.ExpandPath(p.ModelPath)
		}
	}

	s := &cfg.Storage
	if s.Dir == "" {
		s.Dir = filepath.Join(filesystem.UserHomeDir(), ".pcpilot")
	}
	s.Dir = filesystem.ExpandPath(s.Dir)
	if s.CacheTTL == 0 {
		s.CacheTTL = domain.DefaultCacheTTL
	}
	if s.CacheMaxEntries <= 0 {
		s.CacheMaxEntries = domain.DefaultMaxCacheEntries
	}
	if cfg.Execution.ScreenshotDir != "" {
		cfg.Execution.ScreenshotDir = filesystem.ExpandPath(cfg.Execution.ScreenshotDir)
	}
	if cfg.Execution.GuardrailPath == "" {
		cfg.Execution.GuardrailPath = filepath.Join(s.Dir, "guardrail.yaml")
	}
	cfg.Execution.GuardrailPath = filesystem.ExpandPath(cfg.Execution.GuardrailPath)
	return cfg
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
