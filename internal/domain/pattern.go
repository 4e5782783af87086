package domain

import (
	"math"
	"time"
)

// NeutralPrior is the confidence a pattern starts with before any observation is applied.
const NeutralPrior = 0.5

// Pattern maps a normalized command signature onto a learned intent template.
type Pattern struct {
	Signature    string         `json:"signature"`
	Template     IntentTemplate `json:"template"`
	Confidence   float64        `json:"confidence"`
	HitCount     int            `json:"hit_count"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	LastUsed     time.Time      `json:"last_used"`
	CreatedAt    time.Time      `json:"created_at"`
	Demoted      bool           `json:"demoted"`
}

// NewPattern creates a pattern at the neutral prior.
func NewPattern(signature string, template IntentTemplate, now time.Time) Pattern {
	return Pattern{
		Signature:  signature,
		Template:   template,
		Confidence: NeutralPrior,
		CreatedAt:  now,
		LastUsed:   now,
	}
}

// Observe applies one outcome with an exponential moving average:
//
//	c' = c + alpha * (outcome - c)
//
// where outcome is 1 for success and 0 for failure.
func (p Pattern) Observe(success bool, alpha float64, now time.Time) Pattern {
	target := 0.0
	if success {
		target = 1.0
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.Confidence = ClampConfidence(p.Confidence + alpha*(target-p.Confidence))
	p.HitCount++
	p.LastUsed = now
	return p
}

// SuccessRate is the raw (undecayed) success ratio, used for reporting.
func (p Pattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// ClampConfidence keeps a confidence value inside [0,1] and maps NaN to 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
