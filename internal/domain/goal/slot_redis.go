package goal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const slotKeyPrefix = "rehab:cascade:"

// redisSlotStore shares confirmation slots between server replicas. Keys have
// no TTL: a pending confirmation waits until someone answers it.
type redisSlotStore struct {
	rdb *redis.Client
}

func NewRedisSlotStore(rdb *redis.Client) SlotStore {
	return &redisSlotStore{rdb: rdb}
}

func slotKey(patientID uuid.UUID) string {
	return slotKeyPrefix + patientID.String()
}

func (s *redisSlotStore) Open(ctx context.Context, c Confirmation) (bool, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, slotKey(c.PatientID), data, 0).Result()
}

func (s *redisSlotStore) Get(ctx context.Context, patientID uuid.UUID) (*Confirmation, error) {
	data, err := s.rdb.Get(ctx, slotKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Confirmation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *redisSlotStore) Put(ctx context.Context, c Confirmation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, slotKey(c.PatientID), data, 0).Err()
}

func (s *redisSlotStore) Clear(ctx context.Context, patientID uuid.UUID) error {
	return s.rdb.Del(ctx, slotKey(patientID)).Err()
}
