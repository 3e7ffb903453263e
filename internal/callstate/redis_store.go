package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const callStateKeyPrefix = "callstate:"

// RedisStore keeps state as a JSON document per call. Optimistic writes use
// WATCH/MULTI on the call's key.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed store. ttl <= 0 uses DefaultRetention.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if rdb == nil {
		panic("callstate: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func callStateKey(callID string) string {
	return callStateKeyPrefix + callID
}

func (s *RedisStore) Load(ctx context.Context, callID string) (*State, error) {
	data, err := s.rdb.Get(ctx, callStateKey(callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("callstate: redis get: %w", err)
	}
	return decodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	key := callStateKey(state.CallID)
	expected := state.Version

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expected {
			return ErrVersionConflict
		}
		next := *state
		next.Version = expected + 1
		next.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("callstate: marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		state.Version = expected + 1
		state.UpdatedAt = time.Now().UTC()
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	default:
		return fmt.Errorf("callstate: redis save: %w", err)
	}
}

func (s *RedisStore) Put(ctx context.Context, state *State) error {
	if err := validate(state); err != nil {
		return err
	}
	key := callStateKey(state.CallID)
	current, err := storedVersion(ctx, s.rdb, key)
	if err != nil {
		return err
	}
	state.Version = current + 1
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("callstate: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("callstate: redis put: %w", err)
	}
	return nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func storedVersion(ctx context.Context, c stringGetter, key string) (int64, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("callstate: redis get: %w", err)
	}
	existing, err := decodeState(data)
	if err != nil {
		return 0, err
	}
	return existing.Version, nil
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("callstate: unmarshal: %w", err)
	}
	return &state, nil
}
