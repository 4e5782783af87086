// Package assets embeds the files pcpilot writes or falls back to on first run.
package assets

import _ "embed"

// DefaultConfigYAML is copied to the config path when no config exists yet.
//
//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

// DefaultGuardrailRules apply whenever the guardrail file is missing or empty.
//
//go:embed defaults/guardrail.yaml
var DefaultGuardrailRules []byte
