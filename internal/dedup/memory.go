package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local TTL set. Expired keys are dropped lazily
// on lookup and swept on every write once the set passes sweepThreshold.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	keys map[string]time.Time
}

const sweepThreshold = 1024

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.keys) >= sweepThreshold {
		s.sweep(now)
	}
	s.keys[key] = now.Add(s.ttl)
	return nil
}

// Len returns the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *MemoryStore) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.now()), nil
}

func (s *MemoryStore) sweep(now time.Time) int64 {
	var removed int64
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
			removed++
		}
	}
	return removed
}
