package resolver

import "github.com/doeshing/pcpilot/internal/domain"

// candidateSet collects intents from every resolution step and keeps the
// strongest one per (action, target).
type candidateSet struct {
	signature string
	order     []string
	byKey     map[string]domain.Intent
}

func newCandidateSet(signature string) *candidateSet {
	return &candidateSet{signature: signature, byKey: make(map[string]domain.Intent)}
}

func candidateKey(in domain.Intent) string {
	target := in.Target.Query
	if in.Target.Resolved {
		target = "=" + in.Target.Name
	}
	return string(in.Action) + "|" + target
}

func (s *candidateSet) add(in domain.Intent) {
	if in.Action == "" || in.IsUnknown() {
		return
	}
	key := candidateKey(in)
	prev, ok := s.byKey[key]
	if !ok {
		s.order = append(s.order, key)
		s.byKey[key] = in
		return
	}
	if in.Confidence > prev.Confidence {
		s.byKey[key] = in
	}
}

func (s *candidateSet) hasExecutable() bool {
	for _, in := range s.byKey {
		if in.Executable() {
			return true
		}
	}
	return false
}

func (s *candidateSet) bestTargetScore() float64 {
	best := 0.0
	for _, in := range s.byKey {
		if in.Target.Resolved && in.Target.Score > best {
			best = in.Target.Score
		}
	}
	return best
}

// ranked returns the intents best first, at most limit of them.
func (s *candidateSet) ranked(limit int) []domain.Intent {
	out := make([]domain.Intent, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	domain.SortIntents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
