package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const defaultGeminiModel = "gemini-2.0-flash"

// geminiProvider talks to the Gemini API through the genai SDK. The client is
// created on first use so a missing key only fails the calls, not startup.
type geminiProvider struct {
	def domain.BackendDefinition

	once   sync.Once
	client *genai.Client
	err    error
}

func newGeminiProvider(def domain.BackendDefinition) ports.CapabilityProvider {
	def.ModelID = defaultString(def.ModelID, defaultGeminiModel)
	return &geminiProvider{def: def}
}

func (p *geminiProvider) ID() string {
	return p.def.Name
}

func (p *geminiProvider) Capability() domain.Capability {
	return domain.CapabilityLanguage
}

func (p *geminiProvider) connect(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		apiKey := getEnv(p.def.AuthEnvVar, "GEMINI_API_KEY")
		if apiKey == "" {
			p.err = fmt.Errorf("missing API key: set %s or GEMINI_API_KEY", p.def.AuthEnvVar)
			return
		}
		cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
		if p.def.Endpoint != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.def.Endpoint}
		}
		p.client, p.err = genai.NewClient(ctx, cfg)
	})
	return p.client, p.err
}

func (p *geminiProvider) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	start := time.Now()
	client, err := p.connect(ctx)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(defaultInt(p.def.MaxTokens, domain.DefaultMaxTokens)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	result, err := client.Models.GenerateContent(ctx, p.def.ModelID, genai.Text(req.Text), cfg)
	if err != nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: generate: %w", p.def.Name, err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: empty response", p.def.Name)
	}
	return domain.CapabilityResponse{
		Provider: p.def.Name,
		Text:     text,
		Latency:  time.Since(start),
	}, nil
}
