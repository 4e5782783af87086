// Package security refuses actions that would take down the session, such as
// closing the window server or launching a disk formatter by name.
package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/pcpilot/assets"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Verdict is what the guardrail decides for one intent.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// Rule matches an action and a target by regular expression. An empty action
// matches every action kind.
type Rule struct {
	Action  string `yaml:"action"`
	Target  string `yaml:"target"`
	Verdict string `yaml:"verdict"`
	Message string `yaml:"message"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Assessment lists every rule an intent tripped and the strictest verdict.
type Assessment struct {
	Verdict Verdict
	Reasons []string
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

// Guardrail evaluates intents against the rule set.
type Guardrail struct {
	rules []compiledRule
}

// NewGuardrail loads rules from path, falling back to the built-in set when
// the file is missing or has no rules.
func NewGuardrail(path string) (*Guardrail, error) {
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}
	compiled := make([]compiledRule, 0, len(rules.Rules))
	for _, r := range rules.Rules {
		re, err := regexp.Compile("(?i)" + r.Target)
		if err != nil {
			return nil, fmt.Errorf("guardrail rule %q: %w", r.Target, err)
		}
		compiled = append(compiled, compiledRule{re: re, rule: r})
	}
	return &Guardrail{rules: compiled}, nil
}

// Evaluate checks the intent's target name, path and launch command against
// every rule.
func (g *Guardrail) Evaluate(intent domain.Intent) Assessment {
	out := Assessment{Verdict: VerdictAllow}
	subjects := append([]string{intent.Target.Name, intent.Target.Path, intent.Target.Query}, intent.Target.Command...)
	for _, cr := range g.rules {
		if cr.rule.Action != "" && !strings.EqualFold(cr.rule.Action, string(intent.Action)) {
			continue
		}
		if !matchesAny(cr.re, subjects) {
			continue
		}
		v := parseVerdict(cr.rule.Verdict)
		if stricter(v, out.Verdict) {
			out.Verdict = v
		}
		out.Reasons = append(out.Reasons, cr.rule.Message)
	}
	return out
}

func matchesAny(re *regexp.Regexp, subjects []string) bool {
	for _, s := range subjects {
		if s != "" && re.MatchString(s) {
			return true
		}
	}
	return false
}

func loadRules(path string) (RulesFile, error) {
	var rules RulesFile
	data, err := os.ReadFile(path)
	switch {
	case path == "" || errors.Is(err, os.ErrNotExist):
		data = assets.DefaultGuardrailRules
	case err != nil:
		return RulesFile{}, err
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("parse guardrail rules: %w", err)
	}
	if len(rules.Rules) == 0 {
		if err := yaml.Unmarshal(assets.DefaultGuardrailRules, &rules); err != nil {
			return RulesFile{}, err
		}
	}
	return rules, nil
}

func parseVerdict(value string) Verdict {
	switch strings.ToLower(value) {
	case "block":
		return VerdictBlock
	case "warn":
		return VerdictWarn
	default:
		return VerdictAllow
	}
}

func stricter(next, current Verdict) bool {
	order := map[Verdict]int{VerdictAllow: 0, VerdictWarn: 1, VerdictBlock: 2}
	return order[next] > order[current]
}

// Executor refuses blocked intents before they reach the wrapped executor.
type Executor struct {
	Next      ports.Executor
	Guardrail *Guardrail
	Logger    ports.Logger
}

// Execute implements ports.Executor.
func (e *Executor) Execute(ctx context.Context, intent domain.Intent) (domain.ExecutionOutcome, error) {
	a := e.Guardrail.Evaluate(intent)
	fields := map[string]interface{}{
		"action":  string(intent.Action),
		"target":  intent.Target.Label(),
		"reasons": strings.Join(a.Reasons, "; "),
	}
	switch a.Verdict {
	case VerdictBlock:
		if e.Logger != nil {
			e.Logger.Warn("guardrail blocked action", fields)
		}
		return domain.ExecutionOutcome{Detail: "blocked: " + strings.Join(a.Reasons, "; ")}, &domain.GuardrailError{Reasons: a.Reasons}
	case VerdictWarn:
		if e.Logger != nil {
			e.Logger.Warn("guardrail allowed risky action", fields)
		}
	}
	return e.Next.Execute(ctx, intent)
}

var _ ports.Executor = (*Executor)(nil)
