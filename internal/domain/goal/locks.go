package goal

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/psyrehab/rehab/internal/platform/notification"
)

// patientLocks serializes evaluate-then-mutate flows per patient. Entries are
// reference counted so idle patients do not accumulate mutexes.
type patientLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

func newPatientLocks() *patientLocks {
	return &patientLocks{locks: make(map[uuid.UUID]*patientLock)}
}

// lock blocks until the patient's lock is held and returns its release func.
func (l *patientLocks) lock(patientID uuid.UUID) func() {
	l.mu.Lock()
	pl, ok := l.locks[patientID]
	if !ok {
		pl = &patientLock{}
		l.locks[patientID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, patientID)
		}
		l.mu.Unlock()
	}
}

// outbox collects events raised while a patient lock is held. Publish runs
// after the lock is released so a slow sink never stalls that patient.
type outbox struct {
	events []notification.Event
}

func (o *outbox) Emit(_ context.Context, event notification.Event) {
	o.events = append(o.events, event)
}

func (o *outbox) publish(ctx context.Context, bus notification.Bus) {
	for _, e := range o.events {
		bus.Emit(ctx, e)
	}
	o.events = nil
}
