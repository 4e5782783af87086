package domain_test

import (
	"testing"

	"github.com/doeshing/pcpilot/internal/domain"
)

func baseConfig() domain.Config {
	return domain.Config{
		Providers: []domain.BackendDefinition{
			{Name: "claude", Capability: domain.CapabilityLanguage, Kind: domain.ProviderKindAnthropic},
			{Name: "local", Capability: domain.CapabilityLanguage, Kind: domain.ProviderKindHeuristic},
			{Name: "whisper", Capability: domain.CapabilitySpeechToText, Kind: domain.ProviderKindWhisper},
		},
		Backends: domain.BackendPriority{
			Language:     []string{"claude", "local"},
			SpeechToText: []string{"whisper"},
		},
	}
}

// TestConfig_ProvidersFor tests resolving priority lists into definitions
func TestConfig_ProvidersFor(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*domain.Config)
		capability domain.Capability
		wantNames  []string
		wantError  bool
	}{
		{
			name:       "returns providers in priority order",
			capability: domain.CapabilityLanguage,
			wantNames:  []string{"claude", "local"},
		},
		{
			name:       "empty priority list yields no providers",
			capability: domain.CapabilitySpeechSynthesis,
			wantNames:  []string{},
		},
		{
			name: "returns error for undefined provider",
			mutate: func(c *domain.Config) {
				c.Backends.Language = append(c.Backends.Language, "ghost")
			},
			capability: domain.CapabilityLanguage,
			wantError:  true,
		},
		{
			name: "returns error for capability mismatch",
			mutate: func(c *domain.Config) {
				c.Backends.Language = []string{"whisper"}
			},
			capability: domain.CapabilityLanguage,
			wantError:  true,
		},
		{
			name: "returns error for duplicate entries",
			mutate: func(c *domain.Config) {
				c.Backends.Language = []string{"claude", "claude"}
			},
			capability: domain.CapabilityLanguage,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			defs, err := cfg.ProvidersFor(tt.capability)
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(defs) != len(tt.wantNames) {
				t.Fatalf("got %d providers, want %d", len(defs), len(tt.wantNames))
			}
			for i, def := range defs {
				if def.Name != tt.wantNames[i] {
					t.Errorf("provider[%d] = %s, want %s", i, def.Name, tt.wantNames[i])
				}
			}
		})
	}
}

// TestConfig_AddProvider tests adding a new provider
func TestConfig_AddProvider(t *testing.T) {
	tests := []struct {
		name      string
		def       domain.BackendDefinition
		wantError bool
	}{
		{
			name: "successfully adds new provider",
			def:  domain.BackendDefinition{Name: "piper", Capability: domain.CapabilitySpeechSynthesis},
		},
		{
			name:      "returns error when provider already exists",
			def:       domain.BackendDefinition{Name: "claude", Capability: domain.CapabilityLanguage},
			wantError: true,
		},
		{
			name:      "returns error for unknown capability",
			def:       domain.BackendDefinition{Name: "odd", Capability: "vision"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			err := cfg.AddProvider(tt.def)
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			order := cfg.PriorityFor(tt.def.Capability)
			if len(order) == 0 || order[len(order)-1] != tt.def.Name {
				t.Errorf("expected %s to be appended to priority list, got %v", tt.def.Name, order)
			}
		})
	}
}

// TestConfig_RemoveProvider tests removal from both the provider list and priorities
func TestConfig_RemoveProvider(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.RemoveProvider("claude"); err != nil {
		t.Fatalf("RemoveProvider() error = %v", err)
	}
	if cfg.HasProvider("claude") {
		t.Error("provider still present after removal")
	}
	if got := cfg.PriorityFor(domain.CapabilityLanguage); len(got) != 1 || got[0] != "local" {
		t.Errorf("priority list = %v, want [local]", got)
	}
	if err := cfg.RemoveProvider("claude"); err == nil {
		t.Error("expected error removing missing provider")
	}
}
