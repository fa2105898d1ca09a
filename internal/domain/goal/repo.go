package goal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/psyrehab/rehab/internal/domain/patient"
	"github.com/psyrehab/rehab/internal/platform/metrics"
)

type MilestoneRepository interface {
	Create(ctx context.Context, m *Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*Milestone, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Milestone, int, error)
	// NonCompletedOutcomes returns the patient's outcomes whose status is not
	// completed, in a stable store order.
	NonCompletedOutcomes(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error)
	// Descendants returns every phase and task under the outcome, flattened.
	Descendants(ctx context.Context, outcomeID uuid.UUID) ([]*Milestone, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, rate int, completedAt *time.Time) error
}

// PatientStatusStore is the slice of the patient aggregate the cascade needs.
type PatientStatusStore interface {
	PatientStatus(ctx context.Context, patientID uuid.UUID) (patient.Status, error)
	WritePatientStatus(ctx context.Context, patientID uuid.UUID, status patient.Status) error
}

// GoalStore is the persistence boundary of the cascade engine. Every error it
// returns wraps ErrStoreRead or ErrStoreWrite.
type GoalStore interface {
	Milestone(ctx context.Context, id uuid.UUID) (*Milestone, error)
	NonCompletedOutcomes(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error)
	Descendants(ctx context.Context, outcomeID uuid.UUID) ([]*Milestone, error)
	WriteMilestoneStatus(ctx context.Context, id uuid.UUID, status Status, rate int, completedAt *time.Time) error
	PatientStatus(ctx context.Context, patientID uuid.UUID) (patient.Status, error)
	WritePatientStatus(ctx context.Context, patientID uuid.UUID, status patient.Status) error
}

type goalStore struct {
	milestones MilestoneRepository
	patients   PatientStatusStore
}

// NewGoalStore combines the milestone repository and the patient aggregate
// into the store the cascade engine consumes.
func NewGoalStore(milestones MilestoneRepository, patients PatientStatusStore) GoalStore {
	return &goalStore{milestones: milestones, patients: patients}
}

func readErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) || errors.Is(err, patient.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreRead, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreRead, err)
}

func writeErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %w", op, ErrStoreWrite, err)
}

func (s *goalStore) Milestone(ctx context.Context, id uuid.UUID) (*Milestone, error) {
	m, err := s.milestones.GetByID(ctx, id)
	if err != nil {
		return nil, readErr("get milestone", err)
	}
	return m, nil
}

func (s *goalStore) NonCompletedOutcomes(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error) {
	items, err := s.milestones.NonCompletedOutcomes(ctx, patientID)
	if err != nil {
		return nil, readErr("list open outcomes", err)
	}
	return items, nil
}

func (s *goalStore) Descendants(ctx context.Context, outcomeID uuid.UUID) ([]*Milestone, error) {
	items, err := s.milestones.Descendants(ctx, outcomeID)
	if err != nil {
		return nil, readErr("list descendants", err)
	}
	return items, nil
}

func (s *goalStore) WriteMilestoneStatus(ctx context.Context, id uuid.UUID, status Status, rate int, completedAt *time.Time) error {
	if err := s.milestones.UpdateStatus(ctx, id, status, rate, completedAt); err != nil {
		return writeErr("write milestone status", err)
	}
	return nil
}

func (s *goalStore) PatientStatus(ctx context.Context, patientID uuid.UUID) (patient.Status, error) {
	st, err := s.patients.PatientStatus(ctx, patientID)
	if err != nil {
		return "", readErr("get patient status", err)
	}
	return st, nil
}

func (s *goalStore) WritePatientStatus(ctx context.Context, patientID uuid.UUID, status patient.Status) error {
	if err := s.patients.WritePatientStatus(ctx, patientID, status); err != nil {
		return writeErr("write patient status", err)
	}
	return nil
}
