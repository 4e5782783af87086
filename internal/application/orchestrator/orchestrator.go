// Package orchestrator routes capability requests across interchangeable
// backends and tracks their health.
//
// Each backend moves through healthy -> degraded -> unavailable as consecutive
// failures pile up. Unavailable backends are skipped until their cooldown ends,
// then get a single probe call; a success puts them back to healthy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// Options tunes the health state machine.
type Options struct {
	InvokeTimeout    time.Duration
	DegradedAfter    int
	UnavailableAfter int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = domain.DefaultInvokeTimeout
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = domain.DefaultDegradedAfter
	}
	if o.UnavailableAfter <= 0 {
		o.UnavailableAfter = domain.DefaultUnavailableAfter
	}
	if o.UnavailableAfter < o.DegradedAfter {
		o.UnavailableAfter = o.DegradedAfter
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = domain.DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = domain.DefaultBackoffCap
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = o.BackoffBase
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ErrInvokeTimeout is recorded when a provider exceeds the per-call timeout.
var ErrInvokeTimeout = errors.New("provider call timed out")

type handle struct {
	mu       sync.Mutex
	provider ports.CapabilityProvider
	state    domain.BackendHandle
	probing  bool
}

// Orchestrator implements ports.Invoker. The provider list is fixed at
// construction; only health changes afterwards, under one lock per handle.
type Orchestrator struct {
	log   ports.Logger
	opts  Options
	slots map[domain.Capability][]*handle
}

// New registers providers in the given order. The position of a provider among
// those sharing its capability is its priority rank.
func New(log ports.Logger, opts Options, providers ...ports.CapabilityProvider) (*Orchestrator, error) {
	o := &Orchestrator{
		log:   log,
		opts:  opts.withDefaults(),
		slots: make(map[domain.Capability][]*handle),
	}
	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		capability := p.Capability()
		key := string(capability) + "/" + p.ID()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("provider %s registered twice for %s", p.ID(), capability)
		}
		seen[key] = struct{}{}
		rank := len(o.slots[capability])
		o.slots[capability] = append(o.slots[capability], &handle{
			provider: p,
			state: domain.BackendHandle{
				ProviderID:   p.ID(),
				Capability:   capability,
				Health:       domain.HealthHealthy,
				PriorityRank: rank,
			},
		})
	}
	return o, nil
}

// Invoke tries the providers of a capability in priority order. Unavailable
// providers whose cooldown has not ended are skipped. When nothing succeeds the
// error matches domain.ErrNoProviderAvailable and wraps the last failure.
func (o *Orchestrator) Invoke(ctx context.Context, capability domain.Capability, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	var (
		tried []string
		last  error
	)
	for _, h := range o.slots[capability] {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		if !h.admit(o.opts.Now()) {
			continue
		}
		id := h.provider.ID()
		tried = append(tried, id)

		start := o.opts.Now()
		resp, err := o.call(ctx, h.provider, req)
		latency := o.opts.Now().Sub(start)
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrInvokeTimeout) {
			h.release()
			last = err
			break
		}
		if err != nil {
			state := h.fail(err, o.opts.Now(), o.opts)
			last = err
			o.log.Warn("provider call failed", map[string]interface{}{
				"provider":   id,
				"capability": string(capability),
				"health":     string(state.Health),
				"failures":   state.ConsecutiveFailures,
				"error":      err.Error(),
			})
			continue
		}
		h.succeed(latency)
		resp.Provider = id
		resp.Latency = latency
		o.log.Debug("provider call succeeded", map[string]interface{}{
			"provider":   id,
			"capability": string(capability),
			"latency_ms": latency.Milliseconds(),
		})
		return resp, nil
	}
	return domain.CapabilityResponse{}, &domain.NoProviderError{
		Capability: capability,
		Tried:      tried,
		Last:       last,
	}
}

// call bounds a provider invocation by the per-call timeout, even when the
// provider ignores its context.
func (o *Orchestrator) call(ctx context.Context, p ports.CapabilityProvider, req domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.InvokeTimeout)
	defer cancel()

	type result struct {
		resp domain.CapabilityResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.Invoke(callCtx, req)
		done <- result{resp, err}
	}()

	var r result
	select {
	case r = <-done:
		if r.err == nil {
			return r.resp, nil
		}
	case <-callCtx.Done():
		r.err = callCtx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.CapabilityResponse{}, fmt.Errorf("%s after %s: %w", p.ID(), o.opts.InvokeTimeout, ErrInvokeTimeout)
	}
	return r.resp, r.err
}

// Available reports whether any provider of a capability is not cooling down.
func (o *Orchestrator) Available(capability domain.Capability) bool {
	now := o.opts.Now()
	for _, h := range o.slots[capability] {
		h.mu.Lock()
		ok := h.state.Health != domain.HealthUnavailable || !now.Before(h.state.RetryAt)
		h.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Handles snapshots the handles of one capability in priority order.
func (o *Orchestrator) Handles(capability domain.Capability) []domain.BackendHandle {
	hs := o.slots[capability]
	out := make([]domain.BackendHandle, 0, len(hs))
	for _, h := range hs {
		h.mu.Lock()
		out = append(out, h.state)
		h.mu.Unlock()
	}
	return out
}

// Status snapshots every handle, grouped by capability then rank.
func (o *Orchestrator) Status() []domain.BackendHandle {
	var out []domain.BackendHandle
	for _, c := range domain.Capabilities() {
		out = append(out, o.Handles(c)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Capability != out[j].Capability {
			return capabilityOrder(out[i].Capability) < capabilityOrder(out[j].Capability)
		}
		return out[i].PriorityRank < out[j].PriorityRank
	})
	return out
}

func capabilityOrder(c domain.Capability) int {
	for i, known := range domain.Capabilities() {
		if known == c {
			return i
		}
	}
	return len(domain.Capabilities())
}

// admit decides whether the handle may be called now. An unavailable handle
// past its cooldown admits exactly one probe at a time.
func (h *handle) admit(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Health != domain.HealthUnavailable {
		return true
	}
	if now.Before(h.state.RetryAt) || h.probing {
		return false
	}
	h.probing = true
	return true
}

// release gives up a probe slot without judging the provider; the caller
// went away before it answered.
func (h *handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probing = false
}

func (h *handle) succeed(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probing = false
	h.state.Health = domain.HealthHealthy
	h.state.ConsecutiveFailures = 0
	h.state.RetryAt = time.Time{}
	h.state.LastLatency = latency
	h.state.LastError = ""
	h.state.Successes++
}

func (h *handle) fail(err error, now time.Time, opts Options) domain.BackendHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probing = false
	h.state.ConsecutiveFailures++
	h.state.Failures++
	h.state.LastFailure = now
	h.state.LastError = err.Error()

	n := h.state.ConsecutiveFailures
	switch {
	case n >= opts.UnavailableAfter:
		h.state.Health = domain.HealthUnavailable
		h.state.RetryAt = now.Add(Backoff(n-opts.UnavailableAfter, opts.BackoffBase, opts.BackoffCap))
	case n >= opts.DegradedAfter:
		h.state.Health = domain.HealthDegraded
	}
	return h.state
}

// Backoff is base * 2^attempt, capped.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}
