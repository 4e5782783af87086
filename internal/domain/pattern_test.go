package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/domain"
)

func TestPatternObserveSuccessesApproachOne(t *testing.T) {
	now := time.Now()
	p := domain.NewPattern("open_notepad", domain.IntentTemplate{Action: domain.ActionLaunch, TargetName: "Notepad"}, now)
	require.Equal(t, domain.NeutralPrior, p.Confidence)

	prev := p.Confidence
	for i := 0; i < 50; i++ {
		p = p.Observe(true, 0.2, now)
		assert.GreaterOrEqual(t, p.Confidence, prev, "confidence decreased after success %d", i+1)
		assert.LessOrEqual(t, p.Confidence, 1.0)
		prev = p.Confidence
	}
	assert.InDelta(t, 1.0, p.Confidence, 1e-4)
	assert.Equal(t, 50, p.HitCount)
	assert.Equal(t, 50, p.SuccessCount)
}

func TestPatternObserveFailureStrictlyDecreases(t *testing.T) {
	now := time.Now()
	p := domain.NewPattern("close_spotify", domain.IntentTemplate{Action: domain.ActionClose}, now)
	for i := 0; i < 5; i++ {
		p = p.Observe(true, 0.2, now)
	}
	before := p.Confidence
	p = p.Observe(false, 0.2, now)
	assert.Less(t, p.Confidence, before)
	assert.Equal(t, 1, p.FailureCount)
}

func TestPatternObserveMatchesFormula(t *testing.T) {
	p := domain.Pattern{Confidence: 0.5}
	p = p.Observe(true, 0.3, time.Time{})
	assert.InDelta(t, 0.5+0.3*(1-0.5), p.Confidence, 1e-12)
	p = p.Observe(false, 0.3, time.Time{})
	assert.InDelta(t, 0.65+0.3*(0-0.65), p.Confidence, 1e-12)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, domain.ClampConfidence(-1))
	assert.Equal(t, 1.0, domain.ClampConfidence(2))
	assert.Equal(t, 0.0, domain.ClampConfidence(math.NaN()))
	assert.Equal(t, 0.4, domain.ClampConfidence(0.4))
}

func TestTargetEntryMergeAliases(t *testing.T) {
	e := domain.TargetEntry{CanonicalName: "Calculator", Aliases: []string{"calc"}}
	assert.False(t, e.MergeAliases("CALC", " calc "))
	assert.True(t, e.MergeAliases("gnome-calculator"))
	assert.Equal(t, []string{"calc", "gnome-calculator"}, e.Aliases)
	assert.True(t, e.HasAlias("Calculator"))
	assert.True(t, e.HasAlias("Gnome-Calculator"))
}

func TestIntentExecutable(t *testing.T) {
	assert.False(t, domain.UnknownIntent("").Executable())
	unresolved := domain.Intent{Action: domain.ActionLaunch, Target: domain.UnresolvedTarget("foo")}
	assert.False(t, unresolved.Executable())
	search := domain.Intent{Action: domain.ActionSearch, Target: domain.UnresolvedTarget("report")}
	assert.True(t, search.Executable())
	shot := domain.Intent{Action: domain.ActionScreenshot}
	assert.True(t, shot.Executable())
}
