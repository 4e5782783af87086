package domain

import (
	"strings"
	"time"
)

// Capability is one AI function a backend can provide.
type Capability string

const (
	CapabilityLanguage        Capability = "language"
	CapabilitySpeechToText    Capability = "speech-to-text"
	CapabilitySpeechSynthesis Capability = "speech-synthesis"
)

// Capabilities lists every capability slot in a stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityLanguage, CapabilitySpeechToText, CapabilitySpeechSynthesis}
}

// ParseCapability accepts the config spellings of a capability.
func ParseCapability(value string) (Capability, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "language", "llm":
		return CapabilityLanguage, true
	case "speech-to-text", "speech_to_text", "stt":
		return CapabilitySpeechToText, true
	case "speech-synthesis", "speech_synthesis", "tts":
		return CapabilitySpeechSynthesis, true
	}
	return "", false
}

// HealthState is the orchestrator's view of one backend.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// BackendHandle tracks one registered provider. Only the health fields change
// after startup; the priority rank is fixed by configuration.
type BackendHandle struct {
	ProviderID          string
	Capability          Capability
	Health              HealthState
	PriorityRank        int
	ConsecutiveFailures int
	LastFailure         time.Time
	LastError           string
	RetryAt             time.Time
	LastLatency         time.Duration
	Successes           int
	Failures            int
}

// ProviderKind identifies the concrete adapter behind a backend definition.
type ProviderKind string

const (
	ProviderKindAnthropic     ProviderKind = "anthropic"
	ProviderKindOpenAI        ProviderKind = "openai"
	ProviderKindOllama        ProviderKind = "ollama"
	ProviderKindGemini        ProviderKind = "gemini"
	ProviderKindWebsocket     ProviderKind = "websocket"
	ProviderKindHeuristic     ProviderKind = "heuristic"
	ProviderKindWhisper       ProviderKind = "whisper"
	ProviderKindTranscription ProviderKind = "transcription"
	ProviderKindPiper         ProviderKind = "piper"
	ProviderKindEspeak        ProviderKind = "espeak"
	ProviderKindUnknown       ProviderKind = "unknown"
)

// BackendDefinition describes a provider declared in the config file.
type BackendDefinition struct {
	Name       string       `yaml:"name" toml:"name"`
	Capability Capability   `yaml:"capability" toml:"capability"`
	Kind       ProviderKind `yaml:"kind,omitempty" toml:"kind"`
	Endpoint   string       `yaml:"endpoint,omitempty" toml:"endpoint"`
	AuthEnvVar string       `yaml:"auth_env_var,omitempty" toml:"auth_env_var"`
	ModelID    string       `yaml:"model_id,omitempty" toml:"model_id"`
	MaxTokens  int          `yaml:"max_tokens,omitempty" toml:"max_tokens"`
	Binary     string       `yaml:"binary,omitempty" toml:"binary"`
	ModelPath  string       `yaml:"model_path,omitempty" toml:"model_path"`
	Language   string       `yaml:"language,omitempty" toml:"language"`
	Voice      string       `yaml:"voice,omitempty" toml:"voice"`
}

// CapabilityRequest is the provider-agnostic input to Invoke.
type CapabilityRequest struct {
	// Text is the command text (language), or the sentence to speak (synthesis).
	Text string
	// System carries instructions for language providers.
	System string
	// AudioPath points at a WAV file for speech-to-text providers.
	AudioPath string
	// OutputPath is where synthesis providers write audio; empty means in-memory.
	OutputPath string
}

// CapabilityResponse is the provider-agnostic output of Invoke.
type CapabilityResponse struct {
	Provider string
	Text     string
	Audio    []byte
	Language string
	Latency  time.Duration
}
