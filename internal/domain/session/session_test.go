package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockSessionStore is a simple in-memory mock for testing.
type mockSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[string]*Session),
	}
}

func (m *mockSessionStore) Create(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *mockSessionStore) Get(ctx context.Context, id string, now time.Time) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok || !session.LiveAt(now) {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *mockSessionStore) SetCardIfLive(ctx context.Context, id, cardID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || !session.LiveAt(now) {
		return false, nil
	}
	session.CardID = &cardID
	return true, nil
}

func (m *mockSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, session := range m.sessions {
		if !session.LiveAt(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := newFakeClock()
	return NewRegistry(newMockSessionStore(), Config{Clock: clock.Now}), clock
}

func TestGenerateSessionID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("GenerateSessionID() error = %v", err)
		}
		if len(id) != 64 {
			t.Errorf("GenerateSessionID() len = %d, want 64", len(id))
		}
		for _, c := range id {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				t.Errorf("GenerateSessionID() contains non-hex character: %c", c)
			}
		}
		if ids[id] {
			t.Errorf("GenerateSessionID() generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestGenerateSessionID_EntropyFailure(t *testing.T) {
	orig := randRead
	randRead = func(b []byte) (int, error) { return 0, errors.New("no entropy") }
	defer func() { randRead = orig }()

	if _, err := GenerateSessionID(); err == nil {
		t.Fatal("GenerateSessionID() error = nil, want error")
	}

	reg, _ := newTestRegistry()
	if _, err := reg.Create(context.Background()); err == nil {
		t.Fatal("Create() error = nil, want error")
	}
}

func TestRegistry_Create(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()

	sess, err := reg.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if len(sess.ID) != 64 {
		t.Errorf("Create() session.ID len = %d, want 64", len(sess.ID))
	}
	if sess.CardID != nil {
		t.Errorf("Create() session.CardID = %q, want nil", *sess.CardID)
	}
	if !sess.CreatedAt.Equal(clock.Now()) {
		t.Errorf("Create() CreatedAt = %v, want %v", sess.CreatedAt, clock.Now())
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != TTL {
		t.Errorf("Create() ExpiresAt - CreatedAt = %v, want %v", got, TTL)
	}
	if sess.TTLSeconds() != 60 {
		t.Errorf("TTLSeconds() = %d, want 60", sess.TTLSeconds())
	}

	other, err := reg.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if other.ID == sess.ID {
		t.Error("Create() returned duplicate session IDs")
	}
}

func TestRegistry_GetLazyExpiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{name: "fresh session is live", advance: 0},
		{name: "live one tick before expiry", advance: TTL - time.Nanosecond},
		{name: "expired exactly at ExpiresAt", advance: TTL, wantErr: ErrSessionNotFound},
		{name: "expired well after", advance: 10 * time.Minute, wantErr: ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, clock := newTestRegistry()
			ctx := context.Background()

			sess, err := reg.Create(ctx)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			clock.Advance(tt.advance)

			got, err := reg.Get(ctx, sess.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != sess.ID {
				t.Errorf("Get() ID = %q, want %q", got.ID, sess.ID)
			}
		})
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, _ := newTestRegistry()

	for _, id := range []string{"", "does-not-exist"} {
		if _, err := reg.Get(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get(%q) error = %v, want %v", id, err, ErrSessionNotFound)
		}
	}
}

func TestRegistry_UpdateIfLive(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()

	sess, _ := reg.Create(ctx)

	updated, err := reg.UpdateIfLive(ctx, sess.ID, "ABC123")
	if err != nil || !updated {
		t.Fatalf("UpdateIfLive() = %v, %v; want true, nil", updated, err)
	}

	// Last write wins while live.
	clock.Advance(30 * time.Second)
	if updated, _ := reg.UpdateIfLive(ctx, sess.ID, "XYZ789"); !updated {
		t.Fatal("UpdateIfLive() second scan = false, want true")
	}

	got, err := reg.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CardID == nil || *got.CardID != "XYZ789" {
		t.Errorf("Get() CardID = %v, want XYZ789", got.CardID)
	}

	// No mutation after expiry.
	clock.Advance(30 * time.Second)
	updated, err = reg.UpdateIfLive(ctx, sess.ID, "LATE")
	if err != nil {
		t.Fatalf("UpdateIfLive() error = %v", err)
	}
	if updated {
		t.Error("UpdateIfLive() on expired session = true, want false")
	}
}

func TestRegistry_UpdateIfLiveUnknown(t *testing.T) {
	reg, _ := newTestRegistry()

	for _, id := range []string{"", "missing"} {
		updated, err := reg.UpdateIfLive(context.Background(), id, "ABC")
		if err != nil {
			t.Fatalf("UpdateIfLive(%q) error = %v", id, err)
		}
		if updated {
			t.Errorf("UpdateIfLive(%q) = true, want false", id)
		}
	}
}

func TestRegistry_ReturnedSessionIsACopy(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	sess, _ := reg.Create(ctx)
	_, _ = reg.UpdateIfLive(ctx, sess.ID, "ORIGINAL")

	got, _ := reg.Get(ctx, sess.ID)
	*got.CardID = "TAMPERED"

	again, _ := reg.Get(ctx, sess.ID)
	if *again.CardID != "ORIGINAL" {
		t.Errorf("stored CardID = %q, want ORIGINAL", *again.CardID)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()

	old, _ := reg.Create(ctx)
	clock.Advance(45 * time.Second)
	fresh, _ := reg.Create(ctx)
	clock.Advance(20 * time.Second)

	n, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, err := reg.Get(ctx, old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(old) error = %v, want %v", err, ErrSessionNotFound)
	}
	if _, err := reg.Get(ctx, fresh.ID); err != nil {
		t.Errorf("Get(fresh) error = %v", err)
	}
}

func TestSession_LiveAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Session{CreatedAt: base, ExpiresAt: base.Add(TTL)}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "at creation", now: base, want: true},
		{name: "before expiry", now: base.Add(59 * time.Second), want: true},
		{name: "at expiry", now: base.Add(TTL), want: false},
		{name: "after expiry", now: base.Add(2 * TTL), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.LiveAt(tt.now); got != tt.want {
				t.Errorf("LiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}
