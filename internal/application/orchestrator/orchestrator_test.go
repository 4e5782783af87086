package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/logger"
)

type stubProvider struct {
	id    string
	cap   domain.Capability
	calls atomic.Int32
	fn    func(ctx context.Context) (domain.CapabilityResponse, error)
}

func (s *stubProvider) ID() string                    { return s.id }
func (s *stubProvider) Capability() domain.Capability { return s.cap }
func (s *stubProvider) Invoke(ctx context.Context, _ domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

func failing(id string) *stubProvider {
	return &stubProvider{id: id, cap: domain.CapabilityLanguage, fn: func(context.Context) (domain.CapabilityResponse, error) {
		return domain.CapabilityResponse{}, errors.New("connection refused")
	}}
}

func answering(id, text string) *stubProvider {
	return &stubProvider{id: id, cap: domain.CapabilityLanguage, fn: func(context.Context) (domain.CapabilityResponse, error) {
		return domain.CapabilityResponse{Text: text}, nil
	}}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInvokeFallsBackInPriorityOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	primary := failing("primary")
	secondary := answering("secondary", "launch calculator")
	o, err := New(logger.NewNop(), Options{}, primary, secondary)
	require.NoError(t, err)

	resp, err := o.Invoke(context.Background(), domain.CapabilityLanguage, domain.CapabilityRequest{Text: "open calc"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Provider)
	assert.Equal(t, "launch calculator", resp.Text)

	handles := o.Handles(domain.CapabilityLanguage)
	require.Len(t, handles, 2)
	assert.Equal(t, domain.HealthDegraded, handles[0].Health)
	assert.Equal(t, 0, handles[0].PriorityRank)
	assert.Equal(t, domain.HealthHealthy, handles[1].Health)
	assert.Equal(t, 1, handles[1].Successes)
}

func TestHealthStateMachineWithBackoffAndProbe(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := newClock()
	healthy := atomic.Bool{}
	flaky := &stubProvider{id: "flaky", cap: domain.CapabilityLanguage, fn: func(context.Context) (domain.CapabilityResponse, error) {
		if healthy.Load() {
			return domain.CapabilityResponse{Text: "ok"}, nil
		}
		return domain.CapabilityResponse{}, errors.New("503")
	}}
	o, err := New(logger.NewNop(), Options{
		DegradedAfter:    1,
		UnavailableAfter: 3,
		BackoffBase:      10 * time.Second,
		BackoffCap:       25 * time.Second,
		Now:              clk.Now,
	}, flaky)
	require.NoError(t, err)
	ctx := context.Background()

	wantHealth := []domain.HealthState{domain.HealthDegraded, domain.HealthDegraded, domain.HealthUnavailable}
	for i, want := range wantHealth {
		_, err := o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
		require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
		assert.Equal(t, want, o.Handles(domain.CapabilityLanguage)[0].Health, "after failure %d", i+1)
	}
	h := o.Handles(domain.CapabilityLanguage)[0]
	assert.Equal(t, clk.Now().Add(10*time.Second), h.RetryAt)

	// Cooling down: skipped without a call.
	_, err = o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.EqualValues(t, 3, flaky.calls.Load())
	assert.False(t, o.Available(domain.CapabilityLanguage))

	// Probe fails: backoff doubles.
	clk.Advance(10 * time.Second)
	_, err = o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.Error(t, err)
	assert.EqualValues(t, 4, flaky.calls.Load())
	assert.Equal(t, clk.Now().Add(20*time.Second), o.Handles(domain.CapabilityLanguage)[0].RetryAt)

	// Probe fails again: capped.
	clk.Advance(20 * time.Second)
	_, err = o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.Error(t, err)
	assert.Equal(t, clk.Now().Add(25*time.Second), o.Handles(domain.CapabilityLanguage)[0].RetryAt)

	// Probe succeeds: back to healthy.
	clk.Advance(25 * time.Second)
	healthy.Store(true)
	resp, err := o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	h = o.Handles(domain.CapabilityLanguage)[0]
	assert.Equal(t, domain.HealthHealthy, h.Health)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.True(t, h.RetryAt.IsZero())
}

func TestInvokeReturnsNoProviderWithinTimeout(t *testing.T) {
	blocking := func(id string) *stubProvider {
		return &stubProvider{id: id, cap: domain.CapabilityLanguage, fn: func(ctx context.Context) (domain.CapabilityResponse, error) {
			<-ctx.Done()
			return domain.CapabilityResponse{}, ctx.Err()
		}}
	}
	o, err := New(logger.NewNop(), Options{InvokeTimeout: 50 * time.Millisecond, UnavailableAfter: 1}, blocking("a"), blocking("b"))
	require.NoError(t, err)

	start := time.Now()
	_, err = o.Invoke(context.Background(), domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.ErrorIs(t, err, ErrInvokeTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// Both are now unavailable: the next call returns without waiting at all.
	start = time.Now()
	_, err = o.Invoke(context.Background(), domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	var npe *domain.NoProviderError
	require.ErrorAs(t, err, &npe)
	assert.Empty(t, npe.Tried)
}

func TestCallerCancellationLeavesProviderHealthy(t *testing.T) {
	defer goleak.VerifyNone(t)

	waiting := &stubProvider{id: "slow", cap: domain.CapabilityLanguage, fn: func(ctx context.Context) (domain.CapabilityResponse, error) {
		<-ctx.Done()
		return domain.CapabilityResponse{}, ctx.Err()
	}}
	o, err := New(logger.NewNop(), Options{InvokeTimeout: time.Second, DegradedAfter: 1}, waiting)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = o.Invoke(ctx, domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.ErrorIs(t, err, context.Canceled)

	handles := o.Handles(domain.CapabilityLanguage)
	require.Len(t, handles, 1)
	assert.Equal(t, domain.HealthHealthy, handles[0].Health)
	assert.Zero(t, handles[0].ConsecutiveFailures)
	assert.Zero(t, handles[0].Failures)
}

func TestInvokeBoundsProvidersThatIgnoreContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stubborn := &stubProvider{id: "stubborn", cap: domain.CapabilityLanguage, fn: func(context.Context) (domain.CapabilityResponse, error) {
		<-release
		return domain.CapabilityResponse{}, nil
	}}
	o, err := New(logger.NewNop(), Options{InvokeTimeout: 30 * time.Millisecond}, stubborn)
	require.NoError(t, err)

	start := time.Now()
	_, err = o.Invoke(context.Background(), domain.CapabilityLanguage, domain.CapabilityRequest{})
	require.ErrorIs(t, err, domain.ErrNoProviderAvailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeWithoutProviders(t *testing.T) {
	o, err := New(logger.NewNop(), Options{})
	require.NoError(t, err)
	_, err = o.Invoke(context.Background(), domain.CapabilitySpeechToText, domain.CapabilityRequest{})
	assert.ErrorIs(t, err, domain.ErrNoProviderAvailable)
}

func TestNewRejectsDuplicateProviders(t *testing.T) {
	_, err := New(logger.NewNop(), Options{}, answering("x", ""), answering("x", ""))
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{3, 40 * time.Second},
		{10, time.Minute},
		{200, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, 5*time.Second, time.Minute), "attempt %d", tt.attempt)
	}
}

func TestStatusIsOrderedByCapabilityThenRank(t *testing.T) {
	stt := &stubProvider{id: "whisper", cap: domain.CapabilitySpeechToText, fn: func(context.Context) (domain.CapabilityResponse, error) {
		return domain.CapabilityResponse{}, nil
	}}
	o, err := New(logger.NewNop(), Options{}, stt, answering("ollama", ""), answering("heuristic", ""))
	require.NoError(t, err)

	var ids []string
	for _, h := range o.Status() {
		ids = append(ids, h.ProviderID)
	}
	assert.Equal(t, []string{"ollama", "heuristic", "whisper"}, ids)
}
