package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/scan"
)

// MemoryLatestStore implements scan.LatestStore as a single guarded slot.
type MemoryLatestStore struct {
	mu     sync.RWMutex
	latest scan.LatestScan
}

// NewLatestStore creates an empty latest-scan slot.
func NewLatestStore() *MemoryLatestStore {
	return &MemoryLatestStore{}
}

// Record overwrites the slot. The stored timestamp never decreases.
func (s *MemoryLatestStore) Record(ctx context.Context, cardID string, now time.Time) (scan.LatestScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = s.latest.Next(cardID, now)
	return s.latest.Clone(), nil
}

// Peek returns a copy of the slot.
func (s *MemoryLatestStore) Peek(ctx context.Context) (scan.LatestScan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest.Clone(), nil
}

// Compile-time interface verification.
var _ scan.LatestStore = (*MemoryLatestStore)(nil)
