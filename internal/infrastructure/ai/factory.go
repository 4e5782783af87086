package ai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/infrastructure/speech"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Factory builds capability providers from backend definitions. It keeps a
// single HTTP client shared by every HTTP-based provider.
type Factory struct {
	httpClient *http.Client
	runner     speech.Runner
}

// NewFactory creates a factory with the default HTTP client and os/exec runner.
func NewFactory() *Factory {
	return &Factory{
		httpClient: &http.Client{Timeout: domain.DefaultHTTPClientTimeout},
		runner:     speech.ExecRunner,
	}
}

// ForBackend returns the provider for def. The kind is inferred from the
// endpoint and name when the config leaves it empty.
func (f *Factory) ForBackend(def domain.BackendDefinition) (ports.CapabilityProvider, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("backend definition has no name")
	}
	kind := def.Kind
	if kind == "" {
		kind = inferProviderKind(def)
	}
	def.Kind = kind

	var provider ports.CapabilityProvider
	switch kind {
	case domain.ProviderKindAnthropic:
		provider = newHTTPProvider(def, f.httpClient, anthropicAdapter())
	case domain.ProviderKindOpenAI:
		provider = newHTTPProvider(def, f.httpClient, openaiAdapter())
	case domain.ProviderKindOllama:
		provider = newHTTPProvider(def, f.httpClient, ollamaAdapter())
	case domain.ProviderKindGemini:
		provider = newGeminiProvider(def)
	case domain.ProviderKindWebsocket:
		provider = newWebsocketProvider(def)
	case domain.ProviderKindHeuristic:
		provider = newHeuristicProvider(def.Name)
	case domain.ProviderKindWhisper:
		provider = speech.NewWhisper(def, f.runner)
	case domain.ProviderKindTranscription:
		provider = speech.NewTranscription(def, f.httpClient)
	case domain.ProviderKindPiper, domain.ProviderKindEspeak:
		provider = speech.NewSynthesizer(def, f.runner)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q for %s", kind, def.Name)
	}

	if def.Capability != "" && provider.Capability() != def.Capability {
		return nil, fmt.Errorf("provider %s is a %s backend, configured as %s", def.Name, provider.Capability(), def.Capability)
	}
	return provider, nil
}

func inferProviderKind(def domain.BackendDefinition) domain.ProviderKind {
	name := strings.ToLower(def.Name)
	endpoint := strings.ToLower(def.Endpoint)

	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return domain.ProviderKindWebsocket
	case strings.Contains(endpoint, "/audio/transcriptions"):
		return domain.ProviderKindTranscription
	case strings.Contains(endpoint, "anthropic.com"), strings.Contains(name, "claude"), strings.Contains(name, "anthropic"):
		return domain.ProviderKindAnthropic
	case strings.Contains(endpoint, "generativelanguage.googleapis.com"), strings.Contains(name, "gemini"):
		return domain.ProviderKindGemini
	case strings.Contains(endpoint, "openai.com"), strings.Contains(name, "openai"), strings.Contains(name, "gpt"):
		return domain.ProviderKindOpenAI
	case strings.Contains(name, "ollama"), strings.Contains(endpoint, "11434"):
		return domain.ProviderKindOllama
	case strings.Contains(name, "whisper"):
		return domain.ProviderKindWhisper
	case strings.Contains(name, "piper"):
		return domain.ProviderKindPiper
	case strings.Contains(name, "espeak"):
		return domain.ProviderKindEspeak
	case strings.Contains(name, "heuristic"), strings.Contains(name, "offline"):
		return domain.ProviderKindHeuristic
	default:
		return domain.ProviderKindUnknown
	}
}

var _ ports.ProviderFactory = (*Factory)(nil)
