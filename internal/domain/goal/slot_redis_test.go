package goal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestSlotKey(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if got := slotKey(id); got != "rehab:cascade:7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRedisSlotStore_OpenOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisSlotStore(rdb)
	ctx := context.Background()
	pid := uuid.New()
	first := Confirmation{PatientID: pid, OutcomeID: uuid.New(), State: SlotPending, OpenedAt: fixedNow}

	ok, err := store.Open(ctx, first)
	if err != nil || !ok {
		t.Fatalf("expected first open to succeed, got %v %v", ok, err)
	}
	ok, err = store.Open(ctx, Confirmation{PatientID: pid, OutcomeID: uuid.New(), State: SlotPending})
	if err != nil || ok {
		t.Fatalf("expected second open to be refused, got %v %v", ok, err)
	}

	got, err := store.Get(ctx, pid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.OutcomeID != first.OutcomeID || got.State != SlotPending || !got.OpenedAt.Equal(fixedNow) {
		t.Errorf("expected the first confirmation, got %+v", got)
	}
	if ttl := mr.TTL(slotKey(pid)); ttl != 0 {
		t.Errorf("expected no expiry, got %v", ttl)
	}
}

func TestRedisSlotStore_EmptyIsIdle(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSlotStore(rdb)

	got, err := store.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("a missing key must not be an error: %v", err)
	}
	if got != nil {
		t.Errorf("expected idle, got %+v", got)
	}
}

func TestRedisSlotStore_PutAndClear(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewRedisSlotStore(rdb)
	ctx := context.Background()
	pid, outcome := uuid.New(), uuid.New()

	if _, err := store.Open(ctx, Confirmation{PatientID: pid, OutcomeID: outcome, State: SlotPending}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put(ctx, Confirmation{PatientID: pid, OutcomeID: outcome, State: SlotAwaitingAcknowledgment}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := store.Get(ctx, pid); got == nil || got.State != SlotAwaitingAcknowledgment {
		t.Errorf("expected overwritten slot, got %+v", got)
	}

	if err := store.Clear(ctx, pid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := store.Get(ctx, pid); got != nil {
		t.Errorf("expected idle after clear, got %+v", got)
	}
	if ok, _ := store.Open(ctx, Confirmation{PatientID: pid, OutcomeID: uuid.New(), State: SlotPending}); !ok {
		t.Error("expected the slot to open again after clear")
	}
}

func TestRedisSlotStore_CorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	pid := uuid.New()
	mr.Set(slotKey(pid), "not json")

	w := NewWorkflow(NewRedisSlotStore(rdb))
	if _, err := w.Current(context.Background(), pid); !errors.Is(err, ErrStoreRead) {
		t.Errorf("expected ErrStoreRead, got %v", err)
	}
}

func TestRedisSlotStore_SharedAcrossServices(t *testing.T) {
	_, rdb := newTestRedis(t)
	f := newFixture()
	ctx := context.Background()
	first := f.add(LevelOutcome, nil, "First", StatusActive)
	a := f.add(LevelTask, first, "A", StatusActive)
	second := f.add(LevelOutcome, nil, "Second", StatusActive)
	b := f.add(LevelTask, second, "B", StatusActive)

	// Two replicas: separate in-process locks, one Redis.
	replicaA := NewService(f.repo, f.patients, NewRedisSlotStore(rdb), f.bus, zerolog.Nop())
	replicaB := NewService(f.repo, f.patients, NewRedisSlotStore(rdb), f.bus, zerolog.Nop())

	_, res, err := replicaA.UpdateLeafStatus(ctx, a.ID, StatusCompleted)
	if err != nil || res.Offered == nil || res.Offered.ID != first.ID {
		t.Fatalf("expected first outcome offered, got %+v %v", res.Offered, err)
	}
	_, res, err = replicaB.UpdateLeafStatus(ctx, b.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Offered != nil {
		t.Errorf("expected no second offer, got %s", res.Offered.ID)
	}
	pending, err := replicaB.PendingConfirmation(ctx, f.patient)
	if err != nil || pending == nil || pending.OutcomeID != first.ID {
		t.Errorf("expected the first offer visible to every replica, got %+v %v", pending, err)
	}

	if _, err := replicaB.ConfirmCascade(ctx, first.ID); err != nil {
		t.Fatalf("confirm on the other replica: %v", err)
	}
	if st := f.repo.get(first.ID).Status; st != StatusCompleted {
		t.Errorf("expected first outcome completed, got %s", st)
	}
}

func TestRedisSlotStore_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	w := NewWorkflow(NewRedisSlotStore(rdb))
	ctx := context.Background()

	if _, err := w.Current(ctx, uuid.New()); !errors.Is(err, ErrStoreRead) {
		t.Errorf("expected ErrStoreRead, got %v", err)
	}
	if _, err := w.Offer(ctx, uuid.New(), uuid.New()); !errors.Is(err, ErrStoreWrite) {
		t.Errorf("expected ErrStoreWrite, got %v", err)
	}
}
