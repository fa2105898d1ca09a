package goal

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CascadeEligible reports whether a milestone with the given children is ready
// to be promoted: every child is completed or cancelled, and at least one is
// completed. An all-cancelled set was given up, not achieved.
func CascadeEligible(children []*Milestone) bool {
	completed := false
	for _, c := range children {
		switch c.Status {
		case StatusCompleted:
			completed = true
		case StatusCancelled:
		default:
			return false
		}
	}
	return completed
}

// Evaluator finds the outcome a leaf change made eligible for promotion.
// It only reads; it never mutates the tree or opens a confirmation.
type Evaluator struct {
	store  GoalStore
	logger zerolog.Logger
}

func NewEvaluator(store GoalStore, logger zerolog.Logger) *Evaluator {
	return &Evaluator{store: store, logger: logger}
}

// Evaluate walks the patient's non-completed outcomes in store order and
// returns the first one whose flattened descendants (phases and tasks alike)
// satisfy CascadeEligible. It returns nil when no outcome qualifies.
func (e *Evaluator) Evaluate(ctx context.Context, patientID uuid.UUID) (*Milestone, error) {
	outcomes, err := e.store.NonCompletedOutcomes(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if o.Status == StatusCancelled {
			continue
		}
		ok, err := e.Eligible(ctx, o)
		if err != nil {
			return nil, err
		}
		if ok {
			e.logger.Debug().
				Str("patient_id", patientID.String()).
				Str("outcome_id", o.ID.String()).
				Msg("outcome is cascade-eligible")
			return o, nil
		}
	}
	return nil, nil
}

// Eligible re-reads the outcome's descendants and applies OutcomeEligible.
func (e *Evaluator) Eligible(ctx context.Context, outcome *Milestone) (bool, error) {
	descendants, err := e.store.Descendants(ctx, outcome.ID)
	if err != nil {
		return false, err
	}
	return OutcomeEligible(descendants), nil
}

// OutcomeEligible applies CascadeEligible over the flattened descendant set of
// an outcome. The engine never promotes phases on its own, so an unresolved
// phase whose own tasks are cascade-eligible counts as completed here; any
// other phase is judged by its stored status.
func OutcomeEligible(descendants []*Milestone) bool {
	children := make(map[uuid.UUID][]*Milestone, len(descendants))
	for _, d := range descendants {
		if d.ParentID != nil {
			children[*d.ParentID] = append(children[*d.ParentID], d)
		}
	}
	effective := make([]*Milestone, 0, len(descendants))
	for _, d := range descendants {
		if d.Level == LevelPhase && !d.IsResolved() && CascadeEligible(children[d.ID]) {
			promoted := *d
			promoted.Status = StatusCompleted
			effective = append(effective, &promoted)
			continue
		}
		effective = append(effective, d)
	}
	return CascadeEligible(effective)
}
