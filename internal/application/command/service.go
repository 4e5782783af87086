// Package command runs one command end to end: resolve, disambiguate, execute,
// record and learn. It also exposes the speech capabilities for voice input.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

const (
	detailCancelled = "cancelled"
	detailAmbiguous = "ambiguous"
	detailUnknown   = "unknown"
	detailUnclear   = "needs clarification"

	unknownReply   = "Sorry, I didn't understand that. Try something like 'open calculator'."
	ambiguousReply = "Did you mean %s?"
)

// IntentResolver turns text into ranked intents.
type IntentResolver interface {
	Resolve(ctx context.Context, raw string) ([]domain.Intent, error)
}

// OutcomeRecorder is the learner side of a finished command.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec domain.CommandRecord) (domain.CommandRecord, error)
}

// Request is one command to run.
type Request struct {
	Text   string
	Source domain.InputSource
	// DryRun resolves and records without calling the executor.
	DryRun bool
	// AutoPick takes the top candidate instead of asking on a tie.
	AutoPick bool
}

// Response describes what happened to a command.
type Response struct {
	Text       string
	Candidates []domain.Intent
	Chosen     domain.Intent
	Executed   bool
	Outcome    domain.ExecutionOutcome
	// Reply is what to tell the user: a clarification, an answer or nothing.
	Reply     string
	Ambiguous bool
	Record    domain.CommandRecord
}

// Service wires the engine components. Invoker is only needed for Transcribe
// and Speak; Disambiguator is optional.
type Service struct {
	Resolver      IntentResolver
	Executor      ports.Executor
	Learner       OutcomeRecorder
	Invoker       ports.Invoker
	Disambiguator ports.Disambiguator
	Logger        ports.Logger
	Now           func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run processes a single command. Only dependency and resolver failures are
// returned as errors; an executor failure is reported in the response and learned.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	if s.Resolver == nil || s.Executor == nil || s.Learner == nil || s.Logger == nil {
		return Response{}, errors.New("command.Service dependencies not satisfied")
	}
	if req.Source == "" {
		req.Source = domain.InputText
	}
	started := s.now()
	resp := Response{Text: req.Text}

	intents, err := s.Resolver.Resolve(ctx, req.Text)
	var ambiguous *domain.AmbiguousTargetError
	switch {
	case errors.As(err, &ambiguous):
		resp.Ambiguous = true
	case err != nil:
		return resp, fmt.Errorf("resolve: %w", err)
	}
	if len(intents) == 0 {
		intents = []domain.Intent{domain.UnknownIntent("")}
	}
	resp.Candidates = intents
	resp.Chosen = intents[0]

	if resp.Ambiguous && !req.AutoPick {
		chosen, why, ok := s.disambiguate(req.Text, intents, ambiguous)
		if !ok {
			resp.Reply = why.reply
			resp.Record = s.record(ctx, req, resp.Chosen, domain.OutcomeUnknown, why.detail, started)
			return resp, nil
		}
		resp.Chosen = chosen
	}

	switch {
	case resp.Chosen.IsUnknown():
		resp.Reply = unknownReply
		resp.Record = s.record(ctx, req, resp.Chosen, domain.OutcomeUnknown, detailUnknown, started)
		return resp, nil
	case !resp.Chosen.Executable():
		resp.Reply = resp.Chosen.Parameters["clarify"]
		if resp.Reply == "" {
			resp.Reply = fmt.Sprintf("I couldn't find %q.", resp.Chosen.Target.Query)
		}
		resp.Record = s.record(ctx, req, resp.Chosen, domain.OutcomeUnknown, detailUnclear, started)
		return resp, nil
	}

	resp.Outcome = s.execute(ctx, req, resp.Chosen)
	resp.Executed = !resp.Outcome.DryRun
	if reply := resp.Chosen.Parameters["reply"]; reply != "" {
		resp.Reply = reply
	}
	resp.Record = s.record(ctx, req, resp.Chosen, resp.Outcome.Outcome(), resp.Outcome.Detail, started)
	return resp, nil
}

type refusal struct {
	detail string
	reply  string
}

// disambiguate asks the user between the tied candidates. Without an enabled
// disambiguator it refuses with a question listing them.
func (s *Service) disambiguate(raw string, intents []domain.Intent, amb *domain.AmbiguousTargetError) (domain.Intent, refusal, bool) {
	tied := tiedIntents(intents, amb)
	question := refusal{detail: detailAmbiguous, reply: fmt.Sprintf(ambiguousReply, strings.Join(amb.Candidates, " or "))}
	if s.Disambiguator == nil || !s.Disambiguator.Enabled() || len(tied) == 0 {
		return domain.Intent{}, question, false
	}
	idx, err := s.Disambiguator.Choose(raw, tied)
	if err != nil {
		s.Logger.Warn("disambiguation failed", map[string]interface{}{"error": err.Error()})
		return domain.Intent{}, question, false
	}
	if idx < 0 || idx >= len(tied) {
		return domain.Intent{}, refusal{detail: detailCancelled, reply: "Cancelled."}, false
	}
	return tied[idx], refusal{}, true
}

func tiedIntents(intents []domain.Intent, amb *domain.AmbiguousTargetError) []domain.Intent {
	names := make(map[string]bool, len(amb.Candidates))
	for _, n := range amb.Candidates {
		names[n] = true
	}
	var out []domain.Intent
	for _, in := range intents {
		if in.Target.Resolved && names[in.Target.Name] {
			out = append(out, in)
		}
	}
	return out
}

func (s *Service) execute(ctx context.Context, req Request, intent domain.Intent) domain.ExecutionOutcome {
	if req.DryRun {
		detail := "would " + string(intent.Action)
		if label := intent.Target.Label(); label != "" {
			detail += " " + label
		}
		return domain.ExecutionOutcome{Success: true, DryRun: true, Detail: detail}
	}
	start := s.now()
	outcome, err := s.Executor.Execute(ctx, intent)
	if outcome.Duration == 0 {
		outcome.Duration = s.now().Sub(start)
	}
	if err != nil {
		outcome.Success = false
		if outcome.Detail == "" {
			outcome.Detail = err.Error()
		}
		s.Logger.Warn("execution failed", map[string]interface{}{
			"action": string(intent.Action),
			"target": intent.Target.Label(),
			"error":  err.Error(),
		})
	}
	return outcome
}

// record hands the finished command to the learner. Learning problems never
// fail the command.
func (s *Service) record(ctx context.Context, req Request, intent domain.Intent, outcome domain.Outcome, detail string, started time.Time) domain.CommandRecord {
	rec := domain.CommandRecord{
		RawText:   req.Text,
		Signature: intent.Signature,
		Intent:    intent,
		Timestamp: started,
		Outcome:   outcome,
		Latency:   s.now().Sub(started),
		Source:    req.Source,
		Detail:    detail,
	}
	stored, err := s.Learner.RecordOutcome(ctx, rec)
	if err != nil {
		s.Logger.Warn("command not recorded", map[string]interface{}{
			"signature": rec.Signature,
			"error":     err.Error(),
		})
		return rec
	}
	s.Logger.Debug("command recorded", map[string]interface{}{
		"signature": stored.Signature,
		"outcome":   string(stored.Outcome),
		"latency":   stored.Latency.String(),
	})
	return stored
}

// Transcribe turns a WAV file into command text through the speech-to-text capability.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if s.Invoker == nil {
		return "", &domain.NoProviderError{Capability: domain.CapabilitySpeechToText}
	}
	resp, err := s.Invoker.Invoke(ctx, domain.CapabilitySpeechToText, domain.CapabilityRequest{AudioPath: audioPath})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", domain.ErrParseFailure
	}
	return text, nil
}

// RunAudio transcribes a recording and runs it as a voice command.
func (s *Service) RunAudio(ctx context.Context, audioPath string, req Request) (Response, error) {
	text, err := s.Transcribe(ctx, audioPath)
	if err != nil {
		return Response{}, fmt.Errorf("transcribe: %w", err)
	}
	req.Text = text
	req.Source = domain.InputVoice
	return s.Run(ctx, req)
}

// Speak synthesizes text through the speech-synthesis capability. With an
// empty outputPath the audio is returned in the response.
func (s *Service) Speak(ctx context.Context, text, outputPath string) (domain.CapabilityResponse, error) {
	if strings.TrimSpace(text) == "" {
		return domain.CapabilityResponse{}, errors.New("nothing to speak")
	}
	if s.Invoker == nil {
		return domain.CapabilityResponse{}, &domain.NoProviderError{Capability: domain.CapabilitySpeechSynthesis}
	}
	return s.Invoker.Invoke(ctx, domain.CapabilitySpeechSynthesis, domain.CapabilityRequest{Text: text, OutputPath: outputPath})
}
