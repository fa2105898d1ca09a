package goal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SlotState is the state of an occupied confirmation slot. A patient whose
// slot is empty is idle.
type SlotState string

const (
	// SlotPending holds an outcome offered for promotion and not yet answered.
	SlotPending SlotState = "pending_confirmation"
	// SlotAwaitingAcknowledgment holds a confirmed outcome that resolved every
	// outcome of the patient; it stays until the terminal gate is closed.
	SlotAwaitingAcknowledgment SlotState = "awaiting_acknowledgment"
)

// Confirmation is the content of a patient's single confirmation slot.
type Confirmation struct {
	PatientID uuid.UUID `json:"patient_id"`
	OutcomeID uuid.UUID `json:"outcome_id"`
	State     SlotState `json:"state"`
	OpenedAt  time.Time `json:"opened_at"`
}

// SlotStore keeps at most one Confirmation per patient.
type SlotStore interface {
	// Open stores c only if the patient's slot is empty and reports whether it did.
	Open(ctx context.Context, c Confirmation) (bool, error)
	// Get returns the patient's confirmation, or nil when the slot is empty.
	Get(ctx context.Context, patientID uuid.UUID) (*Confirmation, error)
	// Put overwrites the patient's slot.
	Put(ctx context.Context, c Confirmation) error
	Clear(ctx context.Context, patientID uuid.UUID) error
}

// Workflow is the per-patient confirmation state machine:
// Idle -> PendingConfirmation(outcome) -> Resolved -> Idle.
type Workflow struct {
	slots SlotStore
	now   func() time.Time
}

func NewWorkflow(slots SlotStore) *Workflow {
	return &Workflow{slots: slots, now: time.Now}
}

// Current returns the open confirmation for the patient, nil when idle.
func (w *Workflow) Current(ctx context.Context, patientID uuid.UUID) (*Confirmation, error) {
	c, err := w.slots.Get(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("read confirmation slot: %w: %w", ErrStoreRead, err)
	}
	return c, nil
}

// Offer moves an idle patient to PendingConfirmation for the outcome. It
// reports false, without touching the slot, when a confirmation is already open.
func (w *Workflow) Offer(ctx context.Context, patientID, outcomeID uuid.UUID) (bool, error) {
	ok, err := w.slots.Open(ctx, Confirmation{
		PatientID: patientID,
		OutcomeID: outcomeID,
		State:     SlotPending,
		OpenedAt:  w.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("open confirmation slot: %w: %w", ErrStoreWrite, err)
	}
	return ok, nil
}

// Expect returns the pending confirmation for the outcome, or
// ErrInvalidStateTransition when the patient is not waiting on that outcome.
func (w *Workflow) Expect(ctx context.Context, patientID, outcomeID uuid.UUID) (*Confirmation, error) {
	c, err := w.Current(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.State != SlotPending || c.OutcomeID != outcomeID {
		return nil, fmt.Errorf("%w: no pending confirmation for outcome %s", ErrInvalidStateTransition, outcomeID)
	}
	return c, nil
}

// AwaitAcknowledgment parks the slot in Resolved until the terminal gate closes.
func (w *Workflow) AwaitAcknowledgment(ctx context.Context, patientID, outcomeID uuid.UUID) error {
	err := w.slots.Put(ctx, Confirmation{
		PatientID: patientID,
		OutcomeID: outcomeID,
		State:     SlotAwaitingAcknowledgment,
		OpenedAt:  w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("park confirmation slot: %w: %w", ErrStoreWrite, err)
	}
	return nil
}

// Reset returns the patient to Idle.
func (w *Workflow) Reset(ctx context.Context, patientID uuid.UUID) error {
	if err := w.slots.Clear(ctx, patientID); err != nil {
		return fmt.Errorf("clear confirmation slot: %w: %w", ErrStoreWrite, err)
	}
	return nil
}

// memorySlotStore is the in-process SlotStore used by a single server.
type memorySlotStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]Confirmation
}

func NewMemorySlotStore() SlotStore {
	return &memorySlotStore{slots: make(map[uuid.UUID]Confirmation)}
}

func (s *memorySlotStore) Open(_ context.Context, c Confirmation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[c.PatientID]; ok {
		return false, nil
	}
	s.slots[c.PatientID] = c
	return true, nil
}

func (s *memorySlotStore) Get(_ context.Context, patientID uuid.UUID) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.slots[patientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memorySlotStore) Put(_ context.Context, c Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[c.PatientID] = c
	return nil
}

func (s *memorySlotStore) Clear(_ context.Context, patientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, patientID)
	return nil
}
