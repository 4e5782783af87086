// Package speech adapts local speech tools and transcription services to the
// speech-to-text and speech-synthesis capabilities.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Runner executes a tool and returns its stdout. Tests swap it out.
type Runner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

// ExecRunner runs the tool with os/exec, folding stderr into the error.
func ExecRunner(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Whisper transcribes WAV files with the whisper.cpp command line tool.
type Whisper struct {
	def domain.BackendDefinition
	run Runner
}

// NewWhisper builds the provider; a nil runner means ExecRunner.
func NewWhisper(def domain.BackendDefinition, run Runner) *Whisper {
	if def.Binary == "" {
		def.Binary = "whisper-cli"
	}
	if run == nil {
		run = ExecRunner
	}
	return &Whisper{def: def, run: run}
}

func (w *Whisper) ID() string                    { return w.def.Name }
func (w *Whisper) Capability() domain.Capability { return domain.CapabilitySpeechToText }

func (w *Whisper) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	if err := checkAudio(req.AudioPath); err != nil {
		return domain.CapabilityResponse{}, err
	}
	start := time.Now()
	args := []string{"--no-timestamps", "--no-prints", "-f", req.AudioPath}
	if w.def.ModelPath != "" {
		args = append(args, "-m", w.def.ModelPath)
	}
	if w.def.Language != "" {
		args = append(args, "-l", w.def.Language)
	}
	out, err := w.run(ctx, nil, w.def.Binary, args...)
	if err != nil {
		return domain.CapabilityResponse{}, err
	}
	text := cleanTranscript(string(out))
	if text == "" {
		return domain.CapabilityResponse{}, fmt.Errorf("%s: no speech recognized", w.def.Name)
	}
	return domain.CapabilityResponse{
		Provider: w.def.Name,
		Text:     text,
		Language: w.def.Language,
		Latency:  time.Since(start),
	}, nil
}

// cleanTranscript joins output lines and drops whisper's non-speech markers
// such as [BLANK_AUDIO] or (music).
func cleanTranscript(out string) string {
	var words []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) ||
			(strings.HasPrefix(line, "(") && strings.HasSuffix(line, ")")) {
			continue
		}
		words = append(words, line)
	}
	return strings.Join(words, " ")
}

func checkAudio(path string) error {
	if path == "" {
		return fmt.Errorf("no audio file given")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("audio file %s is empty", path)
	}
	return nil
}

// Synthesizer speaks text through piper or espeak-ng.
type Synthesizer struct {
	def domain.BackendDefinition
	run Runner
}

// NewSynthesizer builds a piper or espeak provider depending on def.Kind.
func NewSynthesizer(def domain.BackendDefinition, run Runner) *Synthesizer {
	if def.Binary == "" {
		if def.Kind == domain.ProviderKindPiper {
			def.Binary = "piper"
		} else {
			def.Binary = "espeak-ng"
		}
	}
	if run == nil {
		run = ExecRunner
	}
	return &Synthesizer{def: def, run: run}
}

func (s *Synthesizer) ID() string                    { return s.def.Name }
func (s *Synthesizer) Capability() domain.Capability { return domain.CapabilitySpeechSynthesis }

// Invoke writes a WAV file to req.OutputPath, or returns the audio bytes when
// no path is given.
func (s *Synthesizer) Invoke(ctx context.Context, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return domain.CapabilityResponse{}, fmt.Errorf("nothing to speak")
	}
	start := time.Now()

	out := req.OutputPath
	if out == "" {
		f, err := os.CreateTemp("", "pcpilot-tts-*.wav")
		if err != nil {
			return domain.CapabilityResponse{}, err
		}
		out = f.Name()
		f.Close()
		defer os.Remove(out)
	}

	var err error
	if s.def.Kind == domain.ProviderKindPiper {
		args := []string{"--output_file", out}
		if s.def.ModelPath != "" {
			args = append(args, "--model", s.def.ModelPath)
		}
		_, err = s.run(ctx, strings.NewReader(text), s.def.Binary, args...)
	} else {
		args := []string{"-w", out}
		if s.def.Voice != "" {
			args = append(args, "-v", s.def.Voice)
		}
		args = append(args, text)
		_, err = s.run(ctx, nil, s.def.Binary, args...)
	}
	if err != nil {
		return domain.CapabilityResponse{}, err
	}

	resp := domain.CapabilityResponse{Provider: s.def.Name, Text: text, Latency: time.Since(start)}
	if req.OutputPath == "" {
		audio, err := os.ReadFile(out)
		if err != nil {
			return domain.CapabilityResponse{}, err
		}
		resp.Audio = audio
	}
	return resp, nil
}

var (
	_ ports.CapabilityProvider = (*Whisper)(nil)
	_ ports.CapabilityProvider = (*Synthesizer)(nil)
)
