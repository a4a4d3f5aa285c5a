package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Config holds registry configuration.
type Config struct {
	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// Registry manages session lifecycle on top of a SessionStore.
type Registry struct {
	store SessionStore
	clock func() time.Time
}

// NewRegistry creates a new Registry with the given store and config.
func NewRegistry(store SessionStore, cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		store: store,
		clock: clock,
	}
}

// Now returns the registry's current time in UTC.
func (r *Registry) Now() time.Time {
	return r.clock().UTC()
}

// Create allocates a new session with no card and a TTL of 60 seconds.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	now := r.Now()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	if err := r.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// Get returns the session if it exists and is live.
// Returns ErrSessionNotFound otherwise.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	return r.store.Get(ctx, id, r.Now())
}

// UpdateIfLive sets the session's card if the session is live.
// Unknown and expired sessions are left untouched and reported as false.
func (r *Registry) UpdateIfLive(ctx context.Context, id, cardID string) (bool, error) {
	if id == "" {
		return false, nil
	}
	updated, err := r.store.SetCardIfLive(ctx, id, cardID, r.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update session: %w", err)
	}
	return updated, nil
}

// Sweep removes expired sessions from the store.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.store.DeleteExpired(ctx, r.Now())
}

// randRead is swapped in tests to simulate entropy failure.
var randRead = rand.Read

// GenerateSessionID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
