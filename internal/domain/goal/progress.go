package goal

// CompletionRate returns the 0-100 completion value of a milestone.
//
// Tasks are binary: 100 when completed, 0 otherwise. Phases and outcomes keep
// whatever value is persisted; children only ever contribute status
// eligibility upward (see CascadeEligible), never a weighted average. The
// persisted value of an ancestor is set to 100 when it is promoted.
func CompletionRate(m *Milestone, children []*Milestone) int {
	if m.IsLeaf() {
		return leafRate(m.Status)
	}
	return clampRate(m.CompletionRate)
}

func leafRate(s Status) int {
	if s == StatusCompleted {
		return 100
	}
	return 0
}

func clampRate(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
