package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/session"
	"go.uber.org/goleak"
)

func newTestSession(id string, createdAt time.Time) *session.Session {
	return &session.Session{
		ID:        id,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(session.TTL),
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	now := time.Now().UTC()

	if err := store.Create(ctx, newTestSession("sess-1", now)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-1", now)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("ID = %q, want %q", got.ID, "sess-1")
	}
	if got.CardID != nil {
		t.Errorf("CardID = %q, want nil", *got.CardID)
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	t.Parallel()

	_, err := NewSessionStore().Get(context.Background(), "nonexistent", time.Now())
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_ExpiredIsNotFoundButRetained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	_ = store.Create(ctx, newTestSession("old", created))

	_, err := store.Get(ctx, "old", created.Add(session.TTL))
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() at expiry error = %v, want ErrSessionNotFound", err)
	}
	if store.Size() != 1 {
		t.Errorf("Size() = %d, want 1 (lazy expiry does not delete)", store.Size())
	}
}

func TestSessionStore_SetCardIfLive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	_ = store.Create(ctx, newTestSession("s", created))

	tests := []struct {
		name  string
		id    string
		card  string
		at    time.Time
		want  bool
		after string
	}{
		{name: "live session", id: "s", card: "AAA", at: created.Add(time.Second), want: true, after: "AAA"},
		{name: "rescan overwrites", id: "s", card: "BBB", at: created.Add(59 * time.Second), want: true, after: "BBB"},
		{name: "expired is untouched", id: "s", card: "CCC", at: created.Add(session.TTL), want: false, after: "BBB"},
		{name: "unknown id", id: "missing", card: "DDD", at: created, want: false, after: "BBB"},
	}

	for _, tt := range tests {
		updated, err := store.SetCardIfLive(ctx, tt.id, tt.card, tt.at)
		if err != nil {
			t.Fatalf("%s: SetCardIfLive() error: %v", tt.name, err)
		}
		if updated != tt.want {
			t.Errorf("%s: SetCardIfLive() = %v, want %v", tt.name, updated, tt.want)
		}

		got, err := store.Get(ctx, "s", created)
		if err != nil {
			t.Fatalf("%s: Get() error: %v", tt.name, err)
		}
		if got.CardID == nil || *got.CardID != tt.after {
			t.Errorf("%s: CardID = %v, want %q", tt.name, got.CardID, tt.after)
		}
	}
}

func TestSessionStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	now := time.Now().UTC()

	orig := newTestSession("copy", now)
	_ = store.Create(ctx, orig)
	orig.ExpiresAt = now.Add(-time.Hour)

	got, err := store.Get(ctx, "copy", now)
	if err != nil {
		t.Fatalf("mutating the caller's session changed the stored one: %v", err)
	}

	_, _ = store.SetCardIfLive(ctx, "copy", "CARD", now)
	got, _ = store.Get(ctx, "copy", now)
	*got.CardID = "MUTATED"

	again, _ := store.Get(ctx, "copy", now)
	if *again.CardID != "CARD" {
		t.Errorf("stored CardID = %q, want CARD", *again.CardID)
	}
}

func TestSessionStore_DeleteExpiredAndLiveCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	_ = store.Create(ctx, newTestSession("a", base))
	_ = store.Create(ctx, newTestSession("b", base.Add(30*time.Second)))
	_ = store.Create(ctx, newTestSession("c", base.Add(50*time.Second)))

	now := base.Add(70 * time.Second)
	if got := store.LiveCount(now); got != 2 {
		t.Errorf("LiveCount() = %d, want 2", got)
	}

	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	if store.Size() != 2 {
		t.Errorf("Size() = %d, want 2", store.Size())
	}
}

func TestSessionStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	now := time.Now().UTC()
	_ = store.Create(ctx, newTestSession("shared", now))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", idx)
			_ = store.Create(ctx, newTestSession(id, now))
			for j := 0; j < 50; j++ {
				_, _ = store.SetCardIfLive(ctx, "shared", fmt.Sprintf("card-%d-%d", idx, j), now)
				_, _ = store.Get(ctx, "shared", now)
				_, _ = store.Get(ctx, id, now)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "shared", now)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CardID == nil {
		t.Error("CardID = nil after concurrent updates")
	}
	if store.Size() != 21 {
		t.Errorf("Size() = %d, want 21", store.Size())
	}
}

func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(20 * time.Millisecond)
	store.StartCleanup(ctx)
	defer store.Stop()

	// Created a full TTL ago, so already expired by wall clock.
	_ = store.Create(ctx, newTestSession("stale", time.Now().UTC().Add(-session.TTL)))
	_ = store.Create(ctx, newTestSession("fresh", time.Now().UTC()))

	deadline := time.Now().Add(time.Second)
	for store.Size() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.Size() != 1 {
		t.Errorf("Size() after cleanup = %d, want 1", store.Size())
	}
}

func TestSessionStoreCleanupDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSessionStoreWithConfig(0)
	store.StartCleanup(context.Background())
	store.Stop()
}

func TestSessionStoreNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())

	store := NewSessionStoreWithConfig(20 * time.Millisecond)
	store.StartCleanup(ctx)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_ = store.Create(ctx, newTestSession(fmt.Sprintf("leak-%d", i), now))
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	store.Stop()
	store.Stop()
}
