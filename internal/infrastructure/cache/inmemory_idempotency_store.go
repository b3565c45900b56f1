package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shipnotify/backend/internal/domain/shared"
)

// expiringSet is a TTL set guarded by a mutex and swept by a background goroutine
type expiringSet struct {
	mu        sync.Mutex
	entries   map[string]expiringEntry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type expiringEntry struct {
	value     string
	expiresAt time.Time
}

func newExpiringSet(sweepEvery time.Duration) *expiringSet {
	s := &expiringSet{
		entries:  make(map[string]expiringEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(sweepEvery)
	return s
}

// setNX stores key unless a live entry exists
func (s *expiringSet) setNX(key, value string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	s.entries[key] = expiringEntry{value: value, expiresAt: now.Add(ttl)}
	return true
}

func (s *expiringSet) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// getDel returns and removes a live entry
func (s *expiringSet) getDel(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	delete(s.entries, key)
	if !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *expiringSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *expiringSet) close() {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
}

func (s *expiringSet) sweepLoop(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *expiringSet) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// InMemoryIdempotencyStore implements IdempotencyStore for single-instance
// deployments and tests.
type InMemoryIdempotencyStore struct {
	set *expiringSet
}

// NewInMemoryIdempotencyStore creates a store that sweeps expired ids every five minutes
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{set: newExpiringSet(5 * time.Minute)}
}

// MarkProcessed records the delivery; false means it was already recorded
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	return s.set.setNX(deliveryID, "1", ttl), nil
}

// IsProcessed checks if a delivery has already been processed
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, deliveryID string) (bool, error) {
	_, ok := s.set.get(deliveryID)
	return ok, nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.set.close()
	return nil
}

// Size returns the number of stored ids, expired ones included until swept
func (s *InMemoryIdempotencyStore) Size() int {
	return s.set.len()
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
