package patient

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a patient record.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDischarged Status = "discharged"
)

var validStatuses = map[Status]bool{
	StatusActive: true, StatusInactive: true, StatusDischarged: true,
}

// Patient maps to the patient table.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	MRN        string     `db:"mrn" json:"mrn"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Status     Status     `db:"status" json:"status"`
	AdmittedAt *time.Time `db:"admitted_at" json:"admitted_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
