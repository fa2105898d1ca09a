package goal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psyrehab/rehab/internal/domain/patient"
	"github.com/psyrehab/rehab/internal/platform/metrics"
	"github.com/psyrehab/rehab/internal/platform/notification"
)

// LifecycleController applies the terminal "all goals achieved" transition to
// a patient. It never reactivates anyone. Events go to the bus passed in, so
// callers holding the patient lock can publish them after releasing it.
type LifecycleController struct {
	store  GoalStore
	logger zerolog.Logger
}

func NewLifecycleController(store GoalStore, logger zerolog.Logger) *LifecycleController {
	return &LifecycleController{store: store, logger: logger}
}

// AllResolved re-queries the store and reports whether the patient has no
// outcome left that is not completed.
func (c *LifecycleController) AllResolved(ctx context.Context, patientID uuid.UUID) (bool, error) {
	open, err := c.store.NonCompletedOutcomes(ctx, patientID)
	if err != nil {
		return false, err
	}
	return len(open) == 0, nil
}

// GoalAchieved emits the ordinary success notification for a promoted
// outcome when the patient still has other outcomes open.
func (c *LifecycleController) GoalAchieved(ctx context.Context, bus notification.Bus, outcome *Milestone) {
	bus.Emit(ctx, notification.Event{
		Type:      notification.EventGoalAchieved,
		PatientID: outcome.PatientID.String(),
		Payload: map[string]string{
			"outcome_id":    outcome.ID.String(),
			"outcome_title": outcome.Title,
		},
	})
}

// Acknowledge closes the terminal gate. The outcome set is re-evaluated here;
// a patient who gained an open outcome since the gate opened is left alone.
// It reports whether the patient status changed; acknowledging an already
// inactive patient is a no-op.
func (c *LifecycleController) Acknowledge(ctx context.Context, bus notification.Bus, patientID uuid.UUID) (bool, error) {
	done, err := c.AllResolved(ctx, patientID)
	if err != nil {
		return false, err
	}
	if !done {
		return false, fmt.Errorf("%w: patient %s still has open outcomes", ErrInvalidStateTransition, patientID)
	}

	previous, err := c.store.PatientStatus(ctx, patientID)
	if err != nil {
		return false, err
	}
	if previous == patient.StatusInactive {
		return false, nil
	}
	if err := c.store.WritePatientStatus(ctx, patientID, patient.StatusInactive); err != nil {
		return false, err
	}
	metrics.PatientDeactivations.Inc()

	c.logger.Info().
		Str("patient_id", patientID.String()).
		Str("previous_status", string(previous)).
		Msg("all goals achieved, patient deactivated")

	bus.Emit(ctx, notification.Event{
		Type:      notification.EventPatientStatusChanged,
		PatientID: patientID.String(),
		Payload: map[string]string{
			"previous_status": string(previous),
			"new_status":      string(patient.StatusInactive),
			"reason":          "all goals achieved",
		},
	})
	return true, nil
}
