package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const wsHandshakeTimeout = 10 * time.Second

// websocketProvider streams an answer from a local model server over a
// websocket. Each call uses its own connection.
//
// Wire format: the client sends {"type":"chat","payload":{...}} and the server
// answers with "chunk" messages ({"content" or "delta", "done"}), then "done",
// or an "error" message.
type websocketProvider struct {
	def    domain.BackendDefinition
	dialer websocket.Dialer
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsChatPayload struct {
	Model    string              `json:"model,omitempty"`
	Messages []map[string]string `json:"messages"`
}

type wsChunk struct {
	Content string `json:"content,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c wsChunk) text() string {
	if c.Content != "" {
		return c.Content
	}
	return c.Delta
}

func newWebsocketProvider(def domain.BackendDefinition) ports.CapabilityProvider {
	def.Endpoint = defaultString(def.Endpoint, "ws://localhost:8765/ws")
	return &websocketProvider{
		def:    def,
		dialer: websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}
}

func (p *websocketProvider) ID() string {
	return p.def.Name
}

func (p *websocketProvider) Capability() domain.Capability {
	return domain.CapabilityLanguage
}

func (p *websocketProvider) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	start := time.Now()
	conn, _, err := p.dialer.DialContext(ctx, p.def.Endpoint, nil)
	if err != nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: connect: %w", p.def.Name, err)
	}
	defer conn.Close()

	// Reads block without a deadline; closing the connection unblocks them.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Text})
	payload, err := json.Marshal(wsChatPayload{Model: p.def.ModelID, Messages: messages})
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	if err := conn.WriteJSON(wsMessage{Type: "chat", Payload: payload}); err != nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: send: %w", p.def.Name, err)
	}

	var answer strings.Builder
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return domain.CapabilityResponse{}, ctx.Err()
			}
			return domain.CapabilityResponse{}, fmt.Errorf("%s: read: %w", p.def.Name, err)
		}

		switch msg.Type {
		case "chunk":
			var chunk wsChunk
			if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				return domain.CapabilityResponse{}, fmt.Errorf("%s: server error: %s", p.def.Name, chunk.Error)
			}
			answer.WriteString(chunk.text())
			if !chunk.Done {
				continue
			}
		case "done":
		case "error":
			var e wsChunk
			_ = json.Unmarshal(msg.Payload, &e)
			return domain.CapabilityResponse{}, fmt.Errorf("%s: server error: %s", p.def.Name, e.Error)
		default:
			continue
		}

		text := strings.TrimSpace(answer.String())
		if text == "" {
			return domain.CapabilityResponse{}, fmt.Errorf("%s: empty response", p.def.Name)
		}
		return domain.CapabilityResponse{Provider: p.def.Name, Text: text, Latency: time.Since(start)}, nil
	}
}
