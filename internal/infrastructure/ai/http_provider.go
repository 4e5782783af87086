// Package ai provides the language capability providers and the factory that
// builds every capability provider from the config file.
//
// HTTP-based providers share one implementation; the differences between
// vendors live in small adapters that build the request body, set the auth
// headers and pull the text out of the response.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const maxErrorBody = 512

type httpProvider struct {
	def        domain.BackendDefinition
	httpClient *http.Client
	adapter    providerAdapter
}

type providerAdapter struct {
	defaultEndpoint string
	defaultModel    string
	buildRequest    func(domain.BackendDefinition, domain.CapabilityRequest) ([]byte, error)
	parseResponse   func([]byte) (string, error)
	setHeaders      func(*http.Request, domain.BackendDefinition) error
}

func newHTTPProvider(def domain.BackendDefinition, client *http.Client, adapter providerAdapter) ports.CapabilityProvider {
	if def.ModelID == "" {
		def.ModelID = adapter.defaultModel
	}
	if def.Endpoint == "" {
		def.Endpoint = adapter.defaultEndpoint
	}
	return &httpProvider{def: def, httpClient: client, adapter: adapter}
}

func (p *httpProvider) ID() string {
	return p.def.Name
}

func (p *httpProvider) Capability() domain.Capability {
	return domain.CapabilityLanguage
}

func (p *httpProvider) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	start := time.Now()
	body, err := p.adapter.buildRequest(p.def, req)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.def.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	httpReq.Header.Set("content-type", "application/json")
	if err := p.adapter.setHeaders(httpReq, p.def); err != nil {
		return domain.CapabilityResponse{}, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	if resp.StatusCode >= 400 {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: %s: %s", p.def.Name, resp.Status, truncate(string(raw), maxErrorBody))
	}

	text, err := p.adapter.parseResponse(raw)
	if err != nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: decode response: %w", p.def.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: empty response", p.def.Name)
	}
	return domain.CapabilityResponse{
		Provider: p.def.Name,
		Text:     text,
		Latency:  time.Since(start),
	}, nil
}

func anthropicAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "https://api.anthropic.com/v1/messages",
		defaultModel:    "claude-3-5-haiku-latest",
		buildRequest:    buildAnthropicRequest,
		parseResponse:   parseAnthropicResponse,
		setHeaders:      setAnthropicHeaders,
	}
}

func openaiAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "https://api.openai.com/v1/chat/completions",
		defaultModel:    "gpt-4o-mini",
		buildRequest:    buildChatCompletionRequest,
		parseResponse:   parseChatCompletionResponse,
		setHeaders:      setOpenAIHeaders,
	}
}

func ollamaAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "http://localhost:11434/v1/chat/completions",
		defaultModel:    "llama3.2",
		buildRequest:    buildChatCompletionRequest,
		parseResponse:   parseChatCompletionResponse,
		setHeaders:      setOllamaHeaders,
	}
}

func buildAnthropicRequest(def domain.BackendDefinition, req domain.CapabilityRequest) ([]byte, error) {
	request := map[string]interface{}{
		"model":      def.ModelID,
		"max_tokens": defaultInt(def.MaxTokens, domain.DefaultMaxTokens),
		"messages": []map[string]interface{}{{
			"role": "user",
			"content": []map[string]string{
				{"type": "text", "text": req.Text},
			},
		}},
	}
	if req.System != "" {
		request["system"] = req.System
	}
	return json.Marshal(request)
}

func parseAnthropicResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	var parts []string
	for _, c := range response.Content {
		if c.Type == "" || c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func setAnthropicHeaders(req *http.Request, def domain.BackendDefinition) error {
	apiKey := getEnv(def.AuthEnvVar, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or ANTHROPIC_API_KEY", def.AuthEnvVar)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return nil
}

func buildChatCompletionRequest(def domain.BackendDefinition, req domain.CapabilityRequest) ([]byte, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Text})

	request := map[string]interface{}{
		"model":       def.ModelID,
		"messages":    messages,
		"temperature": 0,
	}
	if def.MaxTokens > 0 {
		request["max_tokens"] = def.MaxTokens
	}
	return json.Marshal(request)
}

func parseChatCompletionResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func setOpenAIHeaders(req *http.Request, def domain.BackendDefinition) error {
	apiKey := getEnv(def.AuthEnvVar, "OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or OPENAI_API_KEY", def.AuthEnvVar)
	}
	req.Header.Set("authorization", "Bearer "+apiKey)
	return nil
}

// Local Ollama needs no auth, but a proxy in front of it might.
func setOllamaHeaders(req *http.Request, def domain.BackendDefinition) error {
	if token := getEnv(def.AuthEnvVar, ""); token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	return nil
}

func getEnv(primary, fallback string) string {
	if primary != "" {
		if value := os.Getenv(primary); value != "" {
			return value
		}
	}
	if fallback != "" {
		return os.Getenv(fallback)
	}
	return ""
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
