package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}
