package inmemcache

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/atelier/core/billing"
)

type entry struct {
	rec     billing.IdempotencyRecord
	expires time.Time
}

// IdempotencyStore keeps the idempotency records of a single process.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time // mockable
}

var _ billing.IdempotencyStore = (*IdempotencyStore)(nil) // interface compliance check

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]entry), now: time.Now}
}

// get must be called with mu held.
func (s *IdempotencyStore) get(key string) (entry, bool) {
	e, ok := s.entries[key]
	if ok && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, ok
}

func (s *IdempotencyStore) Reserve(_ context.Context, key, requestHash string, ttl time.Duration) (billing.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.get(key); ok {
		return e.rec, false, nil
	}
	rec := billing.IdempotencyRecord{RequestHash: requestHash}
	s.entries[key] = entry{rec: rec, expires: s.now().Add(ttl)}
	return rec, true, nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.get(key)
	e.rec.Completed = true
	e.rec.Response = append([]byte(nil), response...)
	e.expires = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
