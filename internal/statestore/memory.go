package statestore

import (
	"context"
	"sync"

	"github.com/modelrelay/modelrelay/internal/resilience"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses []resilience.BreakerStatus
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// WriteStatuses replaces the stored snapshot.
func (s *MemoryStore) WriteStatuses(_ context.Context, statuses []resilience.BreakerStatus) error {
	copied := make([]resilience.BreakerStatus, len(statuses))
	copy(copied, statuses)
	s.mu.Lock()
	s.statuses = copied
	s.mu.Unlock()
	return nil
}

// ReadStatuses returns the last stored snapshot.
func (s *MemoryStore) ReadStatuses(_ context.Context) ([]resilience.BreakerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]resilience.BreakerStatus, len(s.statuses))
	copy(copied, s.statuses)
	return copied, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
