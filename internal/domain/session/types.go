// Package session manages the short-lived handoff sessions a polling client
// opens while it waits for a card to be scanned.
package session

import "time"

// TTL is how long a session stays live after creation. It is not renewable.
const TTL = 60 * time.Second

// Session is one pending scan handoff.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// CardID is nil until a scan is recorded against the session.
	CardID *string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is CreatedAt + TTL (UTC).
	ExpiresAt time.Time
}

// LiveAt reports whether the session is still live at now.
// A session whose ExpiresAt equals now is already expired.
func (s *Session) LiveAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Scanned reports whether a card has been recorded against the session.
func (s *Session) Scanned() bool {
	return s.CardID != nil
}

// TTLSeconds returns the session lifetime in whole seconds.
func (s *Session) TTLSeconds() int {
	return int(s.ExpiresAt.Sub(s.CreatedAt) / time.Second)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.CardID != nil {
		card := *s.CardID
		c.CardID = &card
	}
	return &c
}
