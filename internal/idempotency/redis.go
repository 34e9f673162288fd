package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "idempotency:v2:"

type redisRecord struct {
	Hash      string    `json:"hash"`
	Response  *Response `json:"response,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RedisStore keeps records as JSON values. An unresolved record is a SETNX
// lease that expires after the lock timeout, which gives stale takeover for
// free; a finalized record lives for the TTL.
type RedisStore struct {
	client      *redis.Client
	lockTimeout time.Duration
	ttl         time.Duration
	now         func() time.Time
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, lockTimeout, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, lockTimeout: leaseOrDefault(lockTimeout), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func redisKey(key Key) string {
	return redisPrefix + strings.Join([]string{key.Caller, key.Operation, key.Method, key.Key}, ":")
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, hash string) (Record, bool, error) {
	now := s.now()
	lease, err := json.Marshal(redisRecord{Hash: hash, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return Record{}, false, err
	}
	rk := redisKey(key)

	for attempt := 0; attempt < 3; attempt++ {
		ok, err := s.client.SetNX(ctx, rk, lease, s.lockTimeout).Result()
		if err != nil {
			return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return Record{Key: key, RequestHash: hash, CreatedAt: now, UpdatedAt: now}, true, nil
		}

		raw, err := s.client.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			// Lease expired between SETNX and GET.
			continue
		}
		if err != nil {
			return Record{}, false, fmt.Errorf("load idempotency key: %w", err)
		}
		var stored redisRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return Record{}, false, fmt.Errorf("decode idempotency key: %w", err)
		}
		return Record{Key: key, RequestHash: stored.Hash, Response: stored.Response, CreatedAt: stored.CreatedAt, UpdatedAt: stored.UpdatedAt}, false, nil
	}
	return Record{}, false, fmt.Errorf("reserve idempotency key: lease kept expiring")
}

func (s *RedisStore) Finalize(ctx context.Context, key Key, resp Response) error {
	rk := redisKey(key)
	var stored redisRecord
	raw, err := s.client.Get(ctx, rk).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode idempotency key: %w", err)
		}
		if stored.Response != nil {
			return nil
		}
	case errors.Is(err, redis.Nil):
		// The lease expired while the handler ran and the hash is gone with it.
		return fmt.Errorf("finalize idempotency key: lease expired")
	default:
		return fmt.Errorf("load idempotency key: %w", err)
	}

	stored.Response = &resp
	stored.UpdatedAt = s.now()
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, rk, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	rk := redisKey(key)
	raw, err := s.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load idempotency key: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("decode idempotency key: %w", err)
	}
	if stored.Response != nil {
		return nil
	}
	return s.client.Del(ctx, rk).Err()
}
