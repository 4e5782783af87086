package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const defaultTranscriptionEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// Transcription posts audio to an OpenAI-compatible transcription endpoint
// (OpenAI, Groq, or a local faster-whisper server).
type Transcription struct {
	def    domain.BackendDefinition
	client *http.Client
}

// NewTranscription builds the provider around a shared HTTP client.
func NewTranscription(def domain.BackendDefinition, client *http.Client) *Transcription {
	if def.Endpoint == "" {
		def.Endpoint = defaultTranscriptionEndpoint
	}
	if def.ModelID == "" {
		def.ModelID = "whisper-1"
	}
	return &Transcription{def: def, client: client}
}

func (t *Transcription) ID() string                    { return t.def.Name }
func (t *Transcription) Capability() domain.Capability { return domain.CapabilitySpeechToText }

func (t *Transcription) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	if err := checkAudio(req.AudioPath); err != nil {
		return domain.CapabilityResponse{}, err
	}
	start := time.Now()

	body, contentType, err := t.form(req.AudioPath)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.def.Endpoint, body)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	httpReq.Header.Set("content-type", contentType)
	if key := apiKey(t.def.AuthEnvVar); key != "" {
		httpReq.Header.Set("authorization", "Bearer "+key)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	if resp.StatusCode >= 400 {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: %s: %s", t.def.Name, resp.Status, strings.TrimSpace(string(raw)))
	}

	var decoded struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: decode response: %w", t.def.Name, err)
	}
	text := strings.TrimSpace(decoded.Text)
	if text == "" {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: no speech recognized", t.def.Name)
	}
	return domain.CapabilityResponse{
		Provider: t.def.Name,
		Text:     text,
		Language: decoded.Language,
		Latency:  time.Since(start),
	}, nil
}

func (t *Transcription) form(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"model": t.def.ModelID, "response_format": "json"}
	if t.def.Language != "" {
		fields["language"] = t.def.Language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func apiKey(envVar string) string {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}

var _ ports.CapabilityProvider = (*Transcription)(nil)
