package goal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psyrehab/rehab/internal/domain/patient"
	"github.com/psyrehab/rehab/internal/platform/metrics"
	"github.com/psyrehab/rehab/internal/platform/notification"
)

// treePageSize is how many milestones Tree reads per store call.
const treePageSize = 500

// CascadeResult is returned from a leaf change. Offered is the outcome newly
// put up for confirmation, nil when nothing was offered.
type CascadeResult struct {
	Offered *Milestone `json:"cascade_offered"`
}

// ConfirmResult is returned from a confirmed cascade. AllGoalsAchieved means
// the terminal acknowledgment gate is open for the patient.
//
// LifecycleUnknown is set when the outcome was promoted but the follow-up
// check of the remaining outcomes failed. The promotion stands; if nothing is
// left open the acknowledgment can still be sent and is checked against the
// store.
type ConfirmResult struct {
	Outcome          *Milestone `json:"outcome"`
	AllGoalsAchieved bool       `json:"all_goals_achieved"`
	LifecycleUnknown bool       `json:"lifecycle_unknown,omitempty"`
}

// Service is the goal cascade engine plus the milestone authoring surface.
// Every flow that evaluates and then mutates a patient's tree runs under that
// patient's lock.
type Service struct {
	repo      MilestoneRepository
	store     GoalStore
	evaluator *Evaluator
	workflow  *Workflow
	lifecycle *LifecycleController
	bus       notification.Bus
	locks     *patientLocks
	logger    zerolog.Logger
	now       func() time.Time
	treePage  int
}

func NewService(repo MilestoneRepository, patients PatientStatusStore, slots SlotStore, bus notification.Bus, logger zerolog.Logger) *Service {
	store := NewGoalStore(repo, patients)
	return &Service{
		repo:      repo,
		store:     store,
		evaluator: NewEvaluator(store, logger),
		workflow:  NewWorkflow(slots),
		lifecycle: NewLifecycleController(store, logger),
		bus:       bus,
		locks:     newPatientLocks(),
		logger:    logger,
		now:       time.Now,
		treePage:  treePageSize,
	}
}

// -- Milestone authoring --

func (s *Service) CreateMilestone(ctx context.Context, m *Milestone) error {
	if m.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if m.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !validLevels[m.Level] {
		return fmt.Errorf("%w: invalid level: %s", ErrInvalidInput, m.Level)
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if !validStatuses[m.Status] {
		return fmt.Errorf("%w: invalid status: %s", ErrInvalidInput, m.Status)
	}
	if m.IsLeaf() && !validLeafStatuses[m.Status] && m.Status != StatusPending {
		return fmt.Errorf("%w: invalid task status: %s", ErrInvalidInput, m.Status)
	}

	var parent *Milestone
	if m.ParentID != nil {
		p, err := s.store.Milestone(ctx, *m.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: parent milestone %s not found", ErrInvalidInput, *m.ParentID)
			}
			return err
		}
		if p.PatientID != m.PatientID {
			return fmt.Errorf("%w: parent milestone belongs to another patient", ErrInvalidInput)
		}
		parent = p
	}
	if err := validateParent(m.Level, parent); err != nil {
		return err
	}

	m.CompletionRate = CompletionRate(m, nil)
	m.CompletionDate = nil
	if m.Status == StatusCompleted {
		now := s.now().UTC()
		m.CompletionDate = &now
		if !m.IsLeaf() {
			m.CompletionRate = 100
		}
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("create milestone: %w: %w", ErrStoreWrite, err)
	}
	return nil
}

func (s *Service) GetMilestone(ctx context.Context, id uuid.UUID) (*Milestone, error) {
	return s.store.Milestone(ctx, id)
}

func (s *Service) ListMilestonesByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Milestone, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list milestones: %w: %w", ErrStoreRead, err)
	}
	return items, total, nil
}

// Tree returns all of the patient's milestones arranged under their outcomes.
func (s *Service) Tree(ctx context.Context, patientID uuid.UUID) ([]*Node, error) {
	var all []*Milestone
	for offset := 0; ; offset += s.treePage {
		items, total, err := s.ListMilestonesByPatient(ctx, patientID, s.treePage, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			break
		}
	}
	return BuildTree(all), nil
}

// PendingConfirmation returns the patient's open confirmation, nil when idle.
func (s *Service) PendingConfirmation(ctx context.Context, patientID uuid.UUID) (*Confirmation, error) {
	return s.workflow.Current(ctx, patientID)
}

// -- Cascade --

// UpdateLeafStatus records a caretaker's edit of a task and runs the cascade
// evaluation for the owning patient in the same unit of work.
func (s *Service) UpdateLeafStatus(ctx context.Context, leafID uuid.UUID, status Status) (*Milestone, CascadeResult, error) {
	if !validLeafStatuses[status] {
		return nil, CascadeResult{}, fmt.Errorf("%w: invalid task status: %s", ErrInvalidInput, status)
	}
	leaf, err := s.store.Milestone(ctx, leafID)
	if err != nil {
		return nil, CascadeResult{}, err
	}
	if !leaf.IsLeaf() {
		return nil, CascadeResult{}, fmt.Errorf("%w: milestone %s is not a task", ErrInvalidInput, leafID)
	}

	out := &outbox{}
	defer out.publish(ctx, s.bus)
	unlock := s.locks.lock(leaf.PatientID)
	defer unlock()

	var completedAt *time.Time
	if status == StatusCompleted {
		now := s.now().UTC()
		completedAt = &now
	}
	leaf.Status = status
	leaf.CompletionRate = CompletionRate(leaf, nil)
	leaf.CompletionDate = completedAt
	if err := s.store.WriteMilestoneStatus(ctx, leaf.ID, leaf.Status, leaf.CompletionRate, leaf.CompletionDate); err != nil {
		return nil, CascadeResult{}, err
	}

	res, err := s.evaluateLocked(ctx, out, leaf.PatientID)
	return leaf, res, err
}

// OnLeafStatusChanged runs cascade evaluation after a task of the patient
// changed to newStatus. At most one confirmation is open per patient; an
// already open one is never interrupted.
func (s *Service) OnLeafStatusChanged(ctx context.Context, patientID, leafID uuid.UUID, newStatus Status) (CascadeResult, error) {
	if !validLeafStatuses[newStatus] {
		return CascadeResult{}, fmt.Errorf("%w: invalid task status: %s", ErrInvalidInput, newStatus)
	}

	out := &outbox{}
	defer out.publish(ctx, s.bus)
	unlock := s.locks.lock(patientID)
	defer unlock()

	leaf, err := s.store.Milestone(ctx, leafID)
	if err != nil {
		return CascadeResult{}, err
	}
	if leaf.PatientID != patientID || !leaf.IsLeaf() {
		return CascadeResult{}, fmt.Errorf("%w: milestone %s is not a task of patient %s", ErrInvalidInput, leafID, patientID)
	}
	return s.evaluateLocked(ctx, out, patientID)
}

func (s *Service) evaluateLocked(ctx context.Context, out notification.Bus, patientID uuid.UUID) (CascadeResult, error) {
	current, err := s.workflow.Current(ctx, patientID)
	if err != nil {
		return CascadeResult{}, err
	}
	if current != nil {
		switch current.State {
		case SlotPending:
			return CascadeResult{}, nil
		case SlotAwaitingAcknowledgment:
			done, err := s.lifecycle.AllResolved(ctx, patientID)
			if err != nil {
				return CascadeResult{}, err
			}
			if done {
				return CascadeResult{}, nil
			}
			// The tree grew since the gate opened; the gate is stale.
			if err := s.workflow.Reset(ctx, patientID); err != nil {
				return CascadeResult{}, err
			}
		}
	}

	outcome, err := s.evaluator.Evaluate(ctx, patientID)
	if err != nil || outcome == nil {
		return CascadeResult{}, err
	}
	opened, err := s.workflow.Offer(ctx, patientID, outcome.ID)
	if err != nil || !opened {
		return CascadeResult{}, err
	}

	metrics.CascadeOffers.Inc()
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("outcome_id", outcome.ID.String()).
		Msg("cascade offered")
	out.Emit(ctx, notification.Event{
		Type:      notification.EventCascadeOffered,
		PatientID: patientID.String(),
		Payload: map[string]string{
			"outcome_id":    outcome.ID.String(),
			"outcome_title": outcome.Title,
		},
	})
	return CascadeResult{Offered: outcome}, nil
}

// ConfirmCascade promotes the offered outcome to completed. Eligibility is
// re-validated against fresh store reads before the write. A failure before
// the write returns the patient to idle with the outcome untouched; once the
// write has committed the promoted outcome is always returned.
func (s *Service) ConfirmCascade(ctx context.Context, outcomeID uuid.UUID) (ConfirmResult, error) {
	outcome, err := s.store.Milestone(ctx, outcomeID)
	if err != nil {
		return ConfirmResult{}, err
	}
	patientID := outcome.PatientID

	out := &outbox{}
	defer out.publish(ctx, s.bus)
	unlock := s.locks.lock(patientID)
	defer unlock()

	if _, err := s.workflow.Expect(ctx, patientID, outcomeID); err != nil {
		return ConfirmResult{}, err
	}

	promoted, err := s.promoteLocked(ctx, outcomeID)
	if err != nil {
		result := "failed"
		if errors.Is(err, ErrInvalidStateTransition) {
			result = "invalid"
		}
		metrics.CascadeResolutions.WithLabelValues(result).Inc()
		s.resetSlot(ctx, patientID)
		return ConfirmResult{}, err
	}
	metrics.CascadeResolutions.WithLabelValues("confirmed").Inc()
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("outcome_id", outcomeID.String()).
		Msg("cascade confirmed, outcome completed")

	res := ConfirmResult{Outcome: promoted}
	done, err := s.lifecycle.AllResolved(ctx, patientID)
	if err == nil && done {
		err = s.workflow.AwaitAcknowledgment(ctx, patientID, outcomeID)
		res.AllGoalsAchieved = err == nil
	}
	if err != nil {
		// Nothing is parked; AcknowledgeAllGoalsComplete falls back to the store.
		s.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Str("outcome_id", outcomeID.String()).
			Msg("outcome promoted but lifecycle check failed")
		res.LifecycleUnknown = true
		s.resetSlot(ctx, patientID)
		return res, nil
	}
	if !done {
		s.resetSlot(ctx, patientID)
		s.lifecycle.GoalAchieved(ctx, out, promoted)
	}
	return res, nil
}

func (s *Service) resetSlot(ctx context.Context, patientID uuid.UUID) {
	if err := s.workflow.Reset(ctx, patientID); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("reset confirmation slot")
	}
}

func (s *Service) promoteLocked(ctx context.Context, outcomeID uuid.UUID) (*Milestone, error) {
	outcome, err := s.store.Milestone(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	if outcome.IsResolved() {
		return nil, fmt.Errorf("%w: outcome %s is already %s", ErrInvalidStateTransition, outcomeID, outcome.Status)
	}
	ok, err := s.evaluator.Eligible(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: outcome %s is no longer cascade-eligible", ErrInvalidStateTransition, outcomeID)
	}

	now := s.now().UTC()
	if err := s.store.WriteMilestoneStatus(ctx, outcome.ID, StatusCompleted, 100, &now); err != nil {
		return nil, err
	}
	outcome.Status = StatusCompleted
	outcome.CompletionRate = 100
	outcome.CompletionDate = &now
	return outcome, nil
}

// DeclineCascade closes the offered confirmation without touching the
// outcome. It is offered again on the next qualifying leaf change.
func (s *Service) DeclineCascade(ctx context.Context, outcomeID uuid.UUID) error {
	outcome, err := s.store.Milestone(ctx, outcomeID)
	if err != nil {
		return err
	}
	patientID := outcome.PatientID

	unlock := s.locks.lock(patientID)
	defer unlock()

	if _, err := s.workflow.Expect(ctx, patientID, outcomeID); err != nil {
		return err
	}
	if err := s.workflow.Reset(ctx, patientID); err != nil {
		return err
	}
	metrics.CascadeResolutions.WithLabelValues("declined").Inc()
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("outcome_id", outcomeID.String()).
		Msg("cascade declined")
	return nil
}

// AcknowledgeAllGoalsComplete closes the terminal gate opened by the
// confirmation that resolved the patient's last outcome. Store failures keep
// the gate open so the acknowledgment can be repeated.
//
// An idle slot is accepted when the store shows the gate should be open: the
// patient has outcomes, none of them open, and is not yet inactive. That
// covers a confirmation whose gate could not be parked.
func (s *Service) AcknowledgeAllGoalsComplete(ctx context.Context, patientID uuid.UUID) error {
	out := &outbox{}
	defer out.publish(ctx, s.bus)
	unlock := s.locks.lock(patientID)
	defer unlock()

	current, err := s.workflow.Current(ctx, patientID)
	if err != nil {
		return err
	}
	if current == nil {
		implied, err := s.gateImplied(ctx, patientID)
		if err != nil {
			return err
		}
		if !implied {
			return fmt.Errorf("%w: patient %s has no completed goal set awaiting acknowledgment", ErrInvalidStateTransition, patientID)
		}
	} else if current.State != SlotAwaitingAcknowledgment {
		return fmt.Errorf("%w: patient %s has no completed goal set awaiting acknowledgment", ErrInvalidStateTransition, patientID)
	}

	_, err = s.lifecycle.Acknowledge(ctx, out, patientID)
	if err != nil && !errors.Is(err, ErrInvalidStateTransition) {
		return err
	}
	if current == nil {
		return err
	}
	if rerr := s.workflow.Reset(ctx, patientID); rerr != nil && err == nil {
		return rerr
	}
	return err
}

// gateImplied reports whether an idle patient should be treated as awaiting
// acknowledgment. Open outcomes are checked again by the lifecycle controller.
func (s *Service) gateImplied(ctx context.Context, patientID uuid.UUID) (bool, error) {
	_, total, err := s.ListMilestonesByPatient(ctx, patientID, 1, 0)
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	status, err := s.store.PatientStatus(ctx, patientID)
	if err != nil {
		return false, err
	}
	return status != patient.StatusInactive, nil
}
