// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
)

// DefaultCleanupInterval is how often expired sessions are swept.
const DefaultCleanupInterval = 1 * time.Minute

// MemorySessionStore implements session.SessionStore with an in-memory map.
// Expiry is enforced on every read; the optional background sweep only
// bounds memory.
type MemorySessionStore struct {
	sessions        map[string]*session.Session
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	once            sync.Once
	now             func() time.Time
}

// NewSessionStore creates a store with the default sweep interval.
func NewSessionStore() *MemorySessionStore {
	return NewSessionStoreWithConfig(DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates a store with a custom sweep interval.
func NewSessionStoreWithConfig(cleanupInterval time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions:        make(map[string]*session.Session),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

// StartCleanup starts the background sweep. A non-positive interval
// disables it. Call Stop() to end it.
func (s *MemorySessionStore) StartCleanup(ctx context.Context) {
	if s.cleanupInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				n, _ := s.DeleteExpired(ctx, s.now().UTC())
				if n > 0 {
					slog.Debug("cleaned expired sessions", "count", n)
				}
			}
		}
	}()
}

// Stop stops the background sweep and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a copy of sess.
func (s *MemorySessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session if it is live at now.
// Expired sessions are left in place for the sweep.
func (s *MemorySessionStore) Get(ctx context.Context, id string, now time.Time) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.LiveAt(now) {
		return nil, session.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// SetCardIfLive records cardID while holding the write lock, so a session
// cannot expire between the liveness check and the write.
func (s *MemorySessionStore) SetCardIfLive(ctx context.Context, id, cardID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.LiveAt(now) {
		return false, nil
	}
	sess.CardID = &cardID
	return true, nil
}

// DeleteExpired removes every session that is not live at now.
func (s *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if !sess.LiveAt(now) {
			delete(s.sessions, id)
			cleaned++
		}
	}
	return cleaned, nil
}

// Size returns the number of stored sessions, including expired ones the
// sweep has not removed yet.
func (s *MemorySessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// LiveCount returns the number of sessions live at now.
func (s *MemorySessionStore) LiveCount(now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.LiveAt(now) {
			n++
		}
	}
	return n
}

// Compile-time interface verification.
var _ session.SessionStore = (*MemorySessionStore)(nil)
