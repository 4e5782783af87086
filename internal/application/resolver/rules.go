package resolver

import (
	"strings"

	"github.com/doeshing/pcpilot/internal/domain"
)

const (
	greetingReply     = "Hello! How can I help you?"
	helpReply         = "I can open and close applications, search for apps, files or folders, take screenshots and report system info."
	clarifyTargetText = "Which application? Say, for example, 'open calculator'."
)

// rule is one verb-object template of the command grammar. Phrases are token
// sequences matched against the normalized command.
type rule struct {
	action  domain.ActionKind
	phrases [][]string
	// object rules take the tokens after the phrase as the target words.
	object bool
	reply  string
}

var grammar = []rule{
	{action: domain.ActionSearch, object: true, phrases: [][]string{
		{"search"}, {"find"}, {"where", "is"}, {"locate"}, {"look"},
	}},
	{action: domain.ActionLaunch, object: true, phrases: [][]string{
		{"open"}, {"launch"}, {"start"}, {"run"},
	}},
	{action: domain.ActionClose, object: true, phrases: [][]string{
		{"close"}, {"quit"}, {"exit"}, {"stop"}, {"kill"},
	}},
	{action: domain.ActionScreenshot, phrases: [][]string{
		{"take", "screenshot"}, {"screenshot"}, {"capture", "screen"}, {"print", "screen"},
	}},
	{action: domain.ActionSystemInfo, phrases: [][]string{
		{"system", "info"}, {"system", "information"}, {"pc", "status"}, {"system", "status"}, {"computer", "info"},
	}},
	{action: domain.ActionCustom, reply: greetingReply, phrases: [][]string{
		{"hi"}, {"hello"}, {"hey"}, {"good", "morning"}, {"good", "afternoon"}, {"good", "evening"},
	}},
	{action: domain.ActionCustom, reply: helpReply, phrases: [][]string{
		{"help"}, {"what", "do"}, {"commands"}, {"capabilities"},
	}},
}

// leadIns may precede an anchored object verb: "hey, open spotify" and
// "help me find report.pdf" still name an action.
var leadIns = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "help": {}, "good": {},
	"morning": {}, "afternoon": {}, "evening": {}, "ok": {}, "okay": {},
}

// ruleMatch is a grammar hit before target resolution.
type ruleMatch struct {
	action domain.ActionKind
	object string
	reply  string
}

// matchGrammar finds the first rule whose phrase occurs in tokens. Object rules
// come first and, when anchored, only match when the phrase leads the command
// or follows greeting and help words, so "open" inside a file name does not
// turn a search into a launch. Provider prose ("Sure, I will open Spotify") is
// matched unanchored.
func matchGrammar(tokens []string, anchored bool) (ruleMatch, bool) {
	for _, r := range grammar {
		for _, phrase := range r.phrases {
			at := indexOf(tokens, phrase)
			if at < 0 || (anchored && r.object && !leadsCommand(tokens[:at])) {
				continue
			}
			m := ruleMatch{action: r.action, reply: r.reply}
			if r.object {
				m.object = strings.Join(tokens[at+len(phrase):], " ")
			}
			return m, true
		}
	}
	return ruleMatch{}, false
}

func leadsCommand(before []string) bool {
	for _, t := range before {
		if _, ok := leadIns[t]; !ok {
			return false
		}
	}
	return true
}

func indexOf(tokens, phrase []string) int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return -1
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return i
	}
	return -1
}
