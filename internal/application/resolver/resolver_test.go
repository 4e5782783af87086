package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/application/catalog"
	"github.com/doeshing/pcpilot/internal/application/patterns"
	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/pkg/logger"
)

type stubInvoker struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubInvoker) Invoke(context.Context, domain.Capability, domain.CapabilityRequest) (domain.CapabilityResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.CapabilityResponse{}, s.err
	}
	return domain.CapabilityResponse{Provider: "stub", Text: s.text}, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.CacheEntry
}

func (m *mapCache) Get(key string) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok, nil
}

func (m *mapCache) Set(e domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]domain.CacheEntry{}
	}
	m.data[e.Key] = e
	return nil
}

type fixture struct {
	resolver *Resolver
	store    *patterns.Store
	invoker  *stubInvoker
	cache    *mapCache
}

func newFixture(t *testing.T, useLanguage bool) fixture {
	t.Helper()
	log := logger.NewNop()
	store := patterns.NewStore(nil, log, patterns.Options{})
	cat := catalog.New(nil, log, catalog.Options{})
	inv := &stubInvoker{}
	cache := &mapCache{}
	r := New(store, cat, inv, cache, log, Options{UseLanguage: useLanguage})
	return fixture{resolver: r, store: store, invoker: inv, cache: cache}
}

func TestResolveEmptyInputIsUnknown(t *testing.T) {
	f := newFixture(t, true)
	for _, raw := range []string{"", "   ", "please!!", "?"} {
		intents, err := f.resolver.Resolve(context.Background(), raw)
		require.NoError(t, err)
		require.Len(t, intents, 1, raw)
		assert.True(t, intents[0].IsUnknown())
		assert.Zero(t, intents[0].Confidence)
	}
	assert.Zero(t, f.invoker.calls)
}

func TestResolveOpenCalcPrefersCalculator(t *testing.T) {
	f := newFixture(t, false)
	intents, err := f.resolver.Resolve(context.Background(), "open calc")
	require.NoError(t, err)
	require.NotEmpty(t, intents)

	top := intents[0]
	assert.Equal(t, domain.ActionLaunch, top.Action)
	assert.Equal(t, "Calculator", top.Target.Name)
	assert.True(t, top.Target.Resolved)
	assert.Greater(t, top.Confidence, 0.0)
	assert.Equal(t, domain.SourceRule, top.Source)
	assert.Equal(t, "open_calc", top.Signature)

	for _, in := range intents[1:] {
		if in.Target.Name == "Calendar" {
			assert.Less(t, in.Confidence, top.Confidence)
		}
	}
}

func TestResolveGrammar(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		raw    string
		action domain.ActionKind
		check  func(t *testing.T, in domain.Intent)
	}{
		{"Take a screenshot please", domain.ActionScreenshot, nil},
		{"pc status", domain.ActionSystemInfo, nil},
		{"close spotify", domain.ActionClose, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, "Spotify", in.Target.Name)
		}},
		{"hello there", domain.ActionCustom, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, greetingReply, in.Parameters["reply"])
		}},
		{"what can you do", domain.ActionCustom, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, helpReply, in.Parameters["reply"])
		}},
		{"help me find report.pdf", domain.ActionSearch, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, "report.pdf", in.Target.Query)
		}},
		{"hey, close spotify", domain.ActionClose, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, "Spotify", in.Target.Name)
		}},
		{"help", domain.ActionCustom, func(t *testing.T, in domain.Intent) {
			assert.Equal(t, helpReply, in.Parameters["reply"])
		}},
		{"search for report.pdf", domain.ActionSearch, func(t *testing.T, in domain.Intent) {
			assert.False(t, in.Target.Resolved)
			assert.Equal(t, "report.pdf", in.Target.Query)
			assert.Equal(t, "report.pdf", in.Parameters["query"])
			assert.True(t, in.Executable())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			intents, err := f.resolver.Resolve(context.Background(), tt.raw)
			require.NoError(t, err)
			require.NotEmpty(t, intents)
			assert.Equal(t, tt.action, intents[0].Action)
			if tt.check != nil {
				tt.check(t, intents[0])
			}
		})
	}
}

func TestResolveOpenWithoutTargetAsksForClarification(t *testing.T) {
	f := newFixture(t, false)
	intents, err := f.resolver.Resolve(context.Background(), "open")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.ActionLaunch, intents[0].Action)
	assert.False(t, intents[0].Executable())
	assert.NotEmpty(t, intents[0].Parameters["clarify"])
}

func TestResolveUnknownTargetIsNeverFabricated(t *testing.T) {
	f := newFixture(t, false)
	intents, err := f.resolver.Resolve(context.Background(), "open zyxwvut")
	require.NoError(t, err)
	require.NotEmpty(t, intents)
	for _, in := range intents {
		if in.Target.Resolved {
			t.Fatalf("unexpected resolved target %q", in.Target.Name)
		}
	}
	assert.Equal(t, "zyxwvut", intents[0].Target.Query)
	assert.False(t, intents[0].Executable())
}

func TestTrustedPatternShortCircuits(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.store.Correct(context.Background(), "open_editor", domain.IntentTemplate{
		Action: domain.ActionLaunch, TargetName: "Visual Studio Code",
	})
	require.NoError(t, err)

	intents, err := f.resolver.Resolve(context.Background(), "Open my editor")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.SourcePattern, intents[0].Source)
	assert.Equal(t, "Visual Studio Code", intents[0].Target.Name)
	assert.Zero(t, f.invoker.calls)
}

func TestNearMissSignatureUsesFuzzyPattern(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.store.Correct(context.Background(), "numbers_app", domain.IntentTemplate{
		Action: domain.ActionLaunch, TargetName: "Calculator",
	})
	require.NoError(t, err)

	intents, err := f.resolver.Resolve(context.Background(), "numbers apps")
	require.NoError(t, err)
	require.NotEmpty(t, intents)
	assert.Equal(t, domain.SourceFuzzyPattern, intents[0].Source)
	assert.Equal(t, "Calculator", intents[0].Target.Name)
	assert.Less(t, intents[0].Confidence, 0.8)
}

func TestLanguageFallbackIsCached(t *testing.T) {
	f := newFixture(t, true)
	f.invoker.text = "```json\n{\"action\": \"launch\", \"target\": \"spotify\"}\n```"

	for i := 0; i < 2; i++ {
		intents, err := f.resolver.Resolve(context.Background(), "play some tunes")
		require.NoError(t, err)
		require.NotEmpty(t, intents)
		assert.Equal(t, domain.SourceLanguage, intents[0].Source)
		assert.Equal(t, "Spotify", intents[0].Target.Name)
		assert.InDelta(t, languageConfidence, intents[0].Confidence, 1e-9)
	}
	assert.Equal(t, 1, f.invoker.calls)
	assert.Equal(t, "launch", f.cache.data["play_some_tunes"].Action)
}

func TestLanguageFallbackDegradesWhenNoProvider(t *testing.T) {
	f := newFixture(t, true)
	f.invoker.err = &domain.NoProviderError{Capability: domain.CapabilityLanguage}

	intents, err := f.resolver.Resolve(context.Background(), "do a barrel roll")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].IsUnknown())
	assert.Zero(t, intents[0].Confidence)
}

func TestLanguageFallbackHandlesProse(t *testing.T) {
	f := newFixture(t, true)
	f.invoker.text = `Sure! I will open "Firefox" for you.`

	intents, err := f.resolver.Resolve(context.Background(), "i wanna browse the web")
	require.NoError(t, err)
	require.NotEmpty(t, intents)
	assert.Equal(t, domain.ActionLaunch, intents[0].Action)
	assert.Equal(t, "Firefox", intents[0].Target.Name)
}

type tieFinder struct{}

func (tieFinder) Find(context.Context, string, ...domain.TargetKind) []domain.TargetMatch {
	return []domain.TargetMatch{
		{Entry: domain.TargetEntry{CanonicalName: "Notes", Kind: domain.KindApplication}, Score: 0.8, Reason: domain.MatchPrefix},
		{Entry: domain.TargetEntry{CanonicalName: "Notepad", Kind: domain.KindApplication}, Score: 0.8, Reason: domain.MatchPrefix},
	}
}

func (tieFinder) Get(string) (domain.TargetEntry, bool) { return domain.TargetEntry{}, false }

func TestTiedTargetsAreReportedAsAmbiguous(t *testing.T) {
	log := logger.NewNop()
	r := New(patterns.NewStore(nil, log, patterns.Options{}), tieFinder{}, nil, nil, log, Options{})

	intents, err := r.Resolve(context.Background(), "open note")
	var amb *domain.AmbiguousTargetError
	require.True(t, errors.As(err, &amb))
	assert.ElementsMatch(t, []string{"Notes", "Notepad"}, amb.Candidates)
	require.Len(t, intents, 2)
	assert.Equal(t, intents[0].Confidence, intents[1].Confidence)
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		action string
		target string
	}{
		{`{"action":"close","target":"Teams"}`, true, "close", "Teams"},
		{`Here you go: {"action": "open_app", "target": " vlc "}`, true, "open_app", "vlc"},
		{"I'll take a screenshot now.", true, "screenshot", ""},
		{"no idea", false, "", ""},
		{"", false, "", ""},
	}
	for _, tt := range tests {
		ex, ok := parseExtraction(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.action, ex.Action, tt.in)
			assert.Equal(t, tt.target, ex.Target, tt.in)
		}
	}
}
