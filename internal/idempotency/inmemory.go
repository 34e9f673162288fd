package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local store for tests and single-instance
// development.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[Key]Record
	lockTimeout time.Duration
	ttl         time.Duration
	now         func() time.Time
}

// NewMemoryStore builds an in-memory store.
func NewMemoryStore(lockTimeout, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records:     make(map[Key]Record),
		lockTimeout: leaseOrDefault(lockTimeout),
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key Key, hash string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, exists := s.records[key]
	if exists && s.ttl > 0 && now.Sub(rec.CreatedAt) > s.ttl {
		exists = false
	}
	if exists {
		stale := rec.Response == nil && rec.RequestHash == hash && now.Sub(rec.UpdatedAt) > s.lockTimeout
		if !stale {
			return rec, false, nil
		}
		rec.UpdatedAt = now
		s.records[key] = rec
		return rec, true, nil
	}

	rec = Record{Key: key, RequestHash: hash, CreatedAt: now, UpdatedAt: now}
	s.records[key] = rec
	return rec, true, nil
}

func (s *MemoryStore) Finalize(_ context.Context, key Key, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Response != nil {
		return nil
	}
	resp.Body = append([]byte(nil), resp.Body...)
	rec.Response = &resp
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.Response == nil {
		delete(s.records, key)
	}
	return nil
}
