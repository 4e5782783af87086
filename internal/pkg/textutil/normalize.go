// Package textutil holds the text normalization and string similarity helpers
// shared by the resolver, the pattern store and the catalog.
package textutil

import (
	"strings"
	"unicode"
)

// SignatureSeparator joins normalized tokens into a signature ("open_notepad").
const SignatureSeparator = "_"

var fillerWords = map[string]struct{}{
	"please": {}, "pls": {}, "kindly": {}, "just": {}, "now": {},
	"can": {}, "could": {}, "would": {}, "will": {}, "you": {}, "u": {},
	"the": {}, "a": {}, "an": {}, "for": {}, "me": {}, "my": {},
	"i": {}, "want": {}, "like": {}, "need": {}, "to": {}, "up": {},
	"thanks": {}, "thank": {}, "quickly": {},
}

// IsFiller reports whether a lowercase token is dropped during normalization.
func IsFiller(token string) bool {
	_, ok := fillerWords[token]
	return ok
}

// Tokens lowercases text, strips punctuation and filler words, and splits on whitespace.
// Dots, dashes and plus signs inside a token survive so file names stay intact.
func Tokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '.', r == '-', r == '+':
			return r
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(cleaned)
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f == "" || IsFiller(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Normalize returns the cleaned text with single spaces.
func Normalize(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Signature is the canonical lookup key of a command.
func Signature(text string) string {
	return strings.Join(Tokens(text), SignatureSeparator)
}

// SignatureTokens splits a signature back into tokens.
func SignatureTokens(signature string) []string {
	if signature == "" {
		return nil
	}
	return strings.Split(signature, SignatureSeparator)
}
