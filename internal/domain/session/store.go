package session

import (
	"context"
	"errors"
	"time"
)

// SessionStore holds sessions for the Registry.
// Every call that depends on liveness receives now explicitly so the check
// and any mutation happen atomically inside the store.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist or is not live at now.
	Get(ctx context.Context, id string, now time.Time) (*Session, error)

	// SetCardIfLive records cardID on the session if it exists and is live at now.
	// Returns false, without error, when the session is unknown or expired.
	SetCardIfLive(ctx context.Context, id, cardID string, now time.Time) (bool, error)

	// DeleteExpired physically removes sessions that are no longer live at now
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found or expired")
