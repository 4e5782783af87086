package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/domain"
)

func TestAnthropicAdapter(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "k-123")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-123", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be terse", body["system"])
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"action\":\"launch\",\"target\":\"Spotify\"}"}]}`))
	}))
	defer srv.Close()

	p, err := NewFactory().ForBackend(domain.BackendDefinition{
		Name: "claude", Capability: domain.CapabilityLanguage, Kind: domain.ProviderKindAnthropic,
		Endpoint: srv.URL, AuthEnvVar: "TEST_ANTHROPIC_KEY",
	})
	require.NoError(t, err)
	resp, err := p.Invoke(context.Background(), domain.CapabilityRequest{Text: "play music", System: "be terse"})
	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Provider)
	assert.Contains(t, resp.Text, "Spotify")
}

func TestMissingKeyFailsTheCall(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p, err := NewFactory().ForBackend(domain.BackendDefinition{Name: "gpt", Kind: domain.ProviderKindOpenAI, Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = p.Invoke(context.Background(), domain.CapabilityRequest{Text: "hi"})
	assert.ErrorContains(t, err, "missing API key")

	t.Setenv("GEMINI_API_KEY", "")
	g, err := NewFactory().ForBackend(domain.BackendDefinition{Name: "gemini"})
	require.NoError(t, err)
	_, err = g.Invoke(context.Background(), domain.CapabilityRequest{Text: "hi"})
	assert.ErrorContains(t, err, "missing API key")
}

func TestChatCompletionErrorsCarryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(b), `"role":"user"`)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewFactory().ForBackend(domain.BackendDefinition{Name: "local-ollama", Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = p.Invoke(context.Background(), domain.CapabilityRequest{Text: "open calc"})
	assert.ErrorContains(t, err, "404")
	assert.ErrorContains(t, err, "model not found")
}

func TestWebsocketProviderStreamsChunks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "chat", msg.Type)
		for _, part := range []string{`{"action":`, `"close",`, `"target":"Teams"}`} {
			payload, _ := json.Marshal(wsChunk{Content: part})
			require.NoError(t, conn.WriteJSON(wsMessage{Type: "chunk", Payload: payload}))
		}
		require.NoError(t, conn.WriteJSON(wsMessage{Type: "done"}))
	}))
	defer srv.Close()

	p, err := NewFactory().ForBackend(domain.BackendDefinition{
		Name: "local-ws", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	require.NoError(t, err)
	resp, err := p.Invoke(context.Background(), domain.CapabilityRequest{Text: "close teams"})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"close","target":"Teams"}`, resp.Text)
}

func TestWebsocketProviderHonoursContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := newWebsocketProvider(domain.BackendDefinition{Name: "ws", Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Invoke(ctx, domain.CapabilityRequest{Text: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHeuristicProvider(t *testing.T) {
	p := newHeuristicProvider("")
	tests := map[string]string{
		"I wanna browse the web":  `{"action":"launch","target":"Firefox"}`,
		"play some tunes":         `{"action":"launch","target":"Spotify"}`,
		"how much RAM is free":    `{"action":"system_info","target":""}`,
		"do a barrel roll please": `{"action":"unknown","target":""}`,
	}
	for in, want := range tests {
		resp, err := p.Invoke(context.Background(), domain.CapabilityRequest{Text: in})
		require.NoError(t, err)
		assert.JSONEq(t, want, resp.Text, in)
	}
	assert.Equal(t, "heuristic", p.ID())
}

func TestFactoryKinds(t *testing.T) {
	f := NewFactory()
	tests := []struct {
		def  domain.BackendDefinition
		want domain.Capability
	}{
		{domain.BackendDefinition{Name: "claude"}, domain.CapabilityLanguage},
		{domain.BackendDefinition{Name: "offline"}, domain.CapabilityLanguage},
		{domain.BackendDefinition{Name: "whisper-base"}, domain.CapabilitySpeechToText},
		{domain.BackendDefinition{Name: "cloud-stt", Endpoint: "https://api.groq.com/openai/v1/audio/transcriptions"}, domain.CapabilitySpeechToText},
		{domain.BackendDefinition{Name: "voice", Kind: domain.ProviderKindPiper}, domain.CapabilitySpeechSynthesis},
		{domain.BackendDefinition{Name: "espeak"}, domain.CapabilitySpeechSynthesis},
	}
	for _, tt := range tests {
		p, err := f.ForBackend(tt.def)
		require.NoError(t, err, tt.def.Name)
		assert.Equal(t, tt.want, p.Capability(), tt.def.Name)
		assert.Equal(t, tt.def.Name, p.ID())
	}

	_, err := f.ForBackend(domain.BackendDefinition{Name: "mystery"})
	assert.Error(t, err)
	_, err = f.ForBackend(domain.BackendDefinition{Name: "whisper", Capability: domain.CapabilityLanguage})
	assert.Error(t, err)
	_, err = f.ForBackend(domain.BackendDefinition{})
	assert.Error(t, err)
}
