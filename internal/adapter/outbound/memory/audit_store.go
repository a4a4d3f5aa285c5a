package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/audit"
)

const (
	defaultRecentCap = 1000
	maxQueryLimit    = 100
)

// MemoryAuditStore writes scan records as JSON lines to a writer and keeps a
// bounded ring of recent records for queries.
type MemoryAuditStore struct {
	mu  sync.Mutex
	enc *json.Encoder
	out io.Writer

	// ring holds the newest records; next is the slot the next record
	// overwrites once the ring is full.
	ring []audit.ScanRecord
	next int
	full bool
}

func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates an audit store writing to stdout.
// An optional capacity sets the ring size (default 1000).
func NewAuditStore(capacity ...int) *MemoryAuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to w.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *MemoryAuditStore {
	return &MemoryAuditStore{
		enc:  json.NewEncoder(w),
		out:  w,
		ring: make([]audit.ScanRecord, resolveCapacity(capacity...)),
	}
}

// Append writes each record as one JSON line and keeps it in the ring,
// overwriting the oldest record when full. A record that fails to encode
// stops the batch and is not kept.
func (s *MemoryAuditStore) Append(ctx context.Context, records ...audit.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
		s.ring[s.next] = r
		s.next++
		if s.next == len(s.ring) {
			s.next = 0
			s.full = true
		}
	}
	return nil
}

// lenLocked returns the number of records in the ring.
func (s *MemoryAuditStore) lenLocked() int {
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// Flush syncs file-backed output. Other writers are unbuffered.
func (s *MemoryAuditStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := ownedFile(s.out); ok {
		return f.Sync()
	}
	return nil
}

// Close closes file-backed output. Stdout and stderr are left open.
func (s *MemoryAuditStore) Close() error {
	if f, ok := ownedFile(s.out); ok {
		return f.Close()
	}
	return nil
}

// ownedFile reports whether w is a file the store opened itself.
func ownedFile(w io.Writer) (*os.File, bool) {
	f, ok := w.(*os.File)
	if !ok || f == os.Stdout || f == os.Stderr {
		return nil, false
	}
	return f, true
}

// Len returns the number of records held in the ring.
func (s *MemoryAuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

// Query returns records matching filter, newest first.
func (s *MemoryAuditStore) Query(filter audit.Filter) []audit.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	n := s.lenLocked()
	result := make([]audit.ScanRecord, 0, min(limit, n))
	for i := 1; i <= n && len(result) < limit; i++ {
		rec := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if filter.Decision != "" && !strings.EqualFold(rec.Decision, filter.Decision) {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Compile-time interface verification.
var (
	_ audit.AuditStore   = (*MemoryAuditStore)(nil)
	_ audit.RecentReader = (*MemoryAuditStore)(nil)
)
