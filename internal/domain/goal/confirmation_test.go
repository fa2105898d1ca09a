package goal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type failingSlotStore struct {
	err error
}

func (s failingSlotStore) Open(context.Context, Confirmation) (bool, error) {
	return false, s.err
}

func (s failingSlotStore) Get(context.Context, uuid.UUID) (*Confirmation, error) {
	return nil, s.err
}

func (s failingSlotStore) Put(context.Context, Confirmation) error {
	return s.err
}

func (s failingSlotStore) Clear(context.Context, uuid.UUID) error {
	return s.err
}

func TestWorkflow_OfferOnce(t *testing.T) {
	ctx := context.Background()
	w := NewWorkflow(NewMemorySlotStore())
	pid, first, second := uuid.New(), uuid.New(), uuid.New()

	ok, err := w.Offer(ctx, pid, first)
	if err != nil || !ok {
		t.Fatalf("expected first offer to open, got %v %v", ok, err)
	}
	ok, err = w.Offer(ctx, pid, second)
	if err != nil || ok {
		t.Fatalf("expected second offer to be refused, got %v %v", ok, err)
	}

	c, err := w.Current(ctx, pid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.OutcomeID != first || c.State != SlotPending {
		t.Errorf("expected pending confirmation for first outcome, got %+v", c)
	}

	// Another patient has a slot of their own.
	if ok, _ := w.Offer(ctx, uuid.New(), second); !ok {
		t.Error("expected an independent slot per patient")
	}
}

func TestWorkflow_Expect(t *testing.T) {
	ctx := context.Background()
	w := NewWorkflow(NewMemorySlotStore())
	pid, outcome := uuid.New(), uuid.New()

	if _, err := w.Expect(ctx, pid, outcome); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("idle: expected ErrInvalidStateTransition, got %v", err)
	}
	_, _ = w.Offer(ctx, pid, outcome)
	if _, err := w.Expect(ctx, pid, uuid.New()); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("other outcome: expected ErrInvalidStateTransition, got %v", err)
	}
	if c, err := w.Expect(ctx, pid, outcome); err != nil || c.OutcomeID != outcome {
		t.Errorf("expected match, got %+v %v", c, err)
	}

	if err := w.AwaitAcknowledgment(ctx, pid, outcome); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Expect(ctx, pid, outcome); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("awaiting acknowledgment: expected ErrInvalidStateTransition, got %v", err)
	}
	if ok, _ := w.Offer(ctx, pid, uuid.New()); ok {
		t.Error("the acknowledgment gate occupies the slot")
	}

	if err := w.Reset(ctx, pid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c, _ := w.Current(ctx, pid); c != nil {
		t.Errorf("expected idle after reset, got %+v", c)
	}
}

func TestWorkflow_StoreFailures(t *testing.T) {
	ctx := context.Background()
	w := NewWorkflow(failingSlotStore{err: errors.New("redis down")})
	pid := uuid.New()

	if _, err := w.Current(ctx, pid); !errors.Is(err, ErrStoreRead) {
		t.Errorf("Current: expected ErrStoreRead, got %v", err)
	}
	if _, err := w.Offer(ctx, pid, uuid.New()); !errors.Is(err, ErrStoreWrite) {
		t.Errorf("Offer: expected ErrStoreWrite, got %v", err)
	}
	if err := w.AwaitAcknowledgment(ctx, pid, uuid.New()); !errors.Is(err, ErrStoreWrite) {
		t.Errorf("AwaitAcknowledgment: expected ErrStoreWrite, got %v", err)
	}
	if err := w.Reset(ctx, pid); !errors.Is(err, ErrStoreWrite) {
		t.Errorf("Reset: expected ErrStoreWrite, got %v", err)
	}
}

func TestService_SlotReadFailure(t *testing.T) {
	f := newFixture()
	_, _, t2 := f.scenario()
	f.svc.workflow = NewWorkflow(failingSlotStore{err: errors.New("redis down")})

	_, res, err := f.svc.UpdateLeafStatus(context.Background(), t2.ID, StatusCompleted)
	if !errors.Is(err, ErrStoreRead) {
		t.Errorf("expected ErrStoreRead, got %v", err)
	}
	if res.Offered != nil {
		t.Error("expected no offer")
	}
	if len(f.bus.Events()) != 0 {
		t.Error("expected no events")
	}
}
