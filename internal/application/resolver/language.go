package resolver

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
)

const extractionPrompt = `You turn spoken or typed PC commands into one action.
Answer with a single JSON object and nothing else:
{"action": "launch|close|search|screenshot|system_info|custom|unknown", "target": "application, file or folder name or empty", "reply": "short answer when action is custom"}`

var quotedTarget = regexp.MustCompile(`"([^"]+)"`)

// extraction is the language provider's reading of a command.
type extraction struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Reply  string `json:"reply"`
}

func (e extraction) kind() (domain.ActionKind, bool) {
	return domain.ParseActionKind(e.Action)
}

// parseExtraction accepts the JSON contract, JSON wrapped in prose or code
// fences, or plain prose run through the command grammar.
func parseExtraction(text string) (extraction, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return extraction{}, false
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var ex extraction
		if err := json.Unmarshal([]byte(text[start:end+1]), &ex); err == nil {
			if _, ok := ex.kind(); ok {
				ex.Target = strings.TrimSpace(ex.Target)
				return ex, true
			}
		}
	}

	m, ok := matchGrammar(textutil.Tokens(text), false)
	if !ok {
		return extraction{}, false
	}
	ex := extraction{Action: string(m.action), Target: m.object, Reply: m.reply}
	if quoted := quotedTarget.FindStringSubmatch(text); len(quoted) == 2 {
		ex.Target = strings.TrimSpace(quoted[1])
	}
	return ex, true
}

// extract asks the language capability about a command, going through the
// extraction cache first. Any failure is returned to the caller, which degrades.
func (r *Resolver) extract(ctx context.Context, raw, signature string) (extraction, error) {
	if r.cache != nil {
		if entry, ok, err := r.cache.Get(signature); err == nil && ok {
			return extraction{Action: entry.Action, Target: entry.Target, Reply: entry.Reply}, nil
		} else if err != nil {
			r.log.Debug("extraction cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	resp, err := r.invoker.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{
		Text:   raw,
		System: extractionPrompt,
	})
	if err != nil {
		return extraction{}, err
	}
	ex, ok := parseExtraction(resp.Text)
	if !ok {
		return extraction{}, domain.ErrParseFailure
	}

	if r.cache != nil {
		kind, _ := ex.kind()
		entry := domain.CacheEntry{
			Key:       signature,
			Action:    string(kind),
			Target:    ex.Target,
			Reply:     ex.Reply,
			Provider:  resp.Provider,
			CreatedAt: time.Now(),
		}
		if err := r.cache.Set(entry); err != nil {
			r.log.Debug("extraction cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return ex, nil
}
