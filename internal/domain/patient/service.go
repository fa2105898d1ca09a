package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psyrehab/rehab/internal/platform/notification"
)

var ErrInvalidInput = errors.New("invalid patient input")

type Service struct {
	patients PatientRepository
	bus      notification.Bus
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, bus notification.Bus, logger zerolog.Logger) *Service {
	return &Service{patients: patients, bus: bus, logger: logger}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	if p.MRN == "" {
		return fmt.Errorf("%w: mrn is required", ErrInvalidInput)
	}
	p.Status = StatusActive
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.patients.GetByMRN(ctx, mrn)
}

func (s *Service) ListPatients(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.patients.List(ctx, status, limit, offset)
}

// UpdateStatus is the administrative status change. It is the only way a
// patient goes back to active once deactivated.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Patient, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}
	if err := s.patients.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", id.String()).
		Str("previous_status", string(p.Status)).
		Str("new_status", string(status)).
		Msg("patient status updated")
	s.bus.Emit(ctx, notification.Event{
		Type:      notification.EventPatientStatusChanged,
		PatientID: id.String(),
		Payload: map[string]string{
			"previous_status": string(p.Status),
			"new_status":      string(status),
			"reason":          "administrative change",
		},
	})
	p.Status = status
	return p, nil
}

// PatientStatus and WritePatientStatus let the goal engine read and write the
// status without depending on the rest of the record.

func (s *Service) PatientStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

func (s *Service) WritePatientStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return s.patients.UpdateStatus(ctx, id, status)
}
