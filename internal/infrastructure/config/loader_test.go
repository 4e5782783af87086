package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/domain"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := NewFileLoader(path)

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Learning.LearningRate)
	assert.Equal(t, 10*time.Minute, cfg.Learning.ConsolidateInterval)
	assert.Equal(t, []string{"claude", "gemini", "local-ollama", "offline"}, cfg.Backends.Language)
	assert.Equal(t, domain.CapabilitySpeechToText, mustProvider(t, cfg, "whisper").Capability)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadHonoursEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
learning:
  learning_rate: 0.5
storage:
  dir: ~/pcpilot-test
`), 0o600))
	t.Setenv(EnvConfigPath, path)

	loader := NewFileLoader("")
	assert.Equal(t, path, loader.Path())
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Learning.LearningRate)
	assert.Equal(t, domain.DefaultPruneFloor, cfg.Learning.PruneFloor)
	assert.Equal(t, domain.DefaultInvokeTimeout, cfg.Orchestrator.InvokeTimeout)
	assert.True(t, filepath.IsAbs(cfg.Storage.Dir))
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[resolver]
trusted_confidence_threshold = 0.9

[orchestrator]
backoff_base = "2s"

[backends]
language = ["offline"]

[[providers]]
name = "offline"
capability = "llm"
kind = "heuristic"
`), 0o600))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Resolver.TrustedConfidenceThreshold)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.BackoffBase)
	defs, err := cfg.ProvidersFor(domain.CapabilityLanguage)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, domain.ProviderKindHeuristic, defs[0].Kind)
}

func TestTOMLDefaultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	loader := NewFileLoader(path)
	first, err := loader.Load(context.Background())
	require.NoError(t, err)
	second, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Orchestrator, second.Orchestrator)
	assert.Equal(t, first.Backends, second.Backends)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learning: [oops"), 0o600))
	_, err := NewFileLoader(path).Load(context.Background())
	assert.ErrorContains(t, err, "parse")
}

func TestResetAndBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learning:\n  learning_rate: 0.9\n"), 0o600))
	loader := NewFileLoader(path)

	backup, err := loader.Backup()
	require.NoError(t, err)
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0.9")

	cfg, err := loader.Reset()
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Learning.LearningRate)
}

func mustProvider(t *testing.T, cfg domain.Config, name string) domain.BackendDefinition {
	t.Helper()
	def, ok := cfg.FindProvider(name)
	require.True(t, ok, name)
	return def
}
