package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/textutil"
	"github.com/doeshing/pcpilot/internal/ports"
)

// heuristicProvider is the offline language fallback. It maps everyday
// wording onto actions with a keyword table and answers in the same JSON the
// remote models are asked for.
type heuristicProvider struct {
	name string
}

func newHeuristicProvider(name string) ports.CapabilityProvider {
	return &heuristicProvider{name: defaultString(name, "heuristic")}
}

func (p *heuristicProvider) ID() string {
	return p.name
}

func (p *heuristicProvider) Capability() domain.Capability {
	return domain.CapabilityLanguage
}

type guess struct {
	keywords []string
	action   domain.ActionKind
	target   string
}

var guesses = []guess{
	{[]string{"browse", "browser", "web", "internet", "website"}, domain.ActionLaunch, "Firefox"},
	{[]string{"music", "song", "songs", "tunes", "playlist"}, domain.ActionLaunch, "Spotify"},
	{[]string{"calculate", "math", "sum", "numbers"}, domain.ActionLaunch, "Calculator"},
	{[]string{"email", "mail", "inbox"}, domain.ActionLaunch, "mail"},
	{[]string{"terminal", "shell", "console"}, domain.ActionLaunch, "Terminal"},
	{[]string{"code", "coding", "program", "editor"}, domain.ActionLaunch, "Visual Studio Code"},
	{[]string{"files", "explorer", "folders"}, domain.ActionLaunch, "Files"},
	{[]string{"snapshot", "screengrab", "capture"}, domain.ActionScreenshot, ""},
	{[]string{"battery", "cpu", "memory", "ram", "disk", "uptime"}, domain.ActionSystemInfo, ""},
}

func (p *heuristicProvider) Invoke(_ context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	tokens := textutil.Tokens(req.Text)
	answer := map[string]string{"action": string(domain.ActionUnknown), "target": ""}
	if g, ok := bestGuess(tokens); ok {
		answer["action"] = string(g.action)
		answer["target"] = g.target
	}
	body, err := json.Marshal(answer)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	return domain.CapabilityResponse{Provider: p.name, Text: string(body)}, nil
}

func bestGuess(tokens []string) (guess, bool) {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[strings.TrimSuffix(t, "s")] = true
		set[t] = true
	}
	for _, g := range guesses {
		for _, k := range g.keywords {
			if set[k] {
				return g, true
			}
		}
	}
	return guess{}, false
}
