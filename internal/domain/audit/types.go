// Package audit contains domain types for the scan audit trail.
package audit

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Decision constants for audit records.
const (
	// DecisionAccepted indicates the scan was recorded.
	DecisionAccepted = "accepted"
	// DecisionRejected indicates the scan was refused without state change.
	DecisionRejected = "rejected"
)

// Reason constants for rejected scans.
const (
	ReasonUnauthorized  = "unauthorized"
	ReasonInvalidCardID = "invalid_card_id"
)

// sessionRefLen is how much of a session ID is kept in audit records.
// The full ID lets anyone read the session, so it is never written out.
const sessionRefLen = 8

// ScanRecord is one auditable scan report.
type ScanRecord struct {
	// Timestamp is when the report was received (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with request logs.
	RequestID string `json:"request_id,omitempty"`
	// Decision is "accepted" or "rejected".
	Decision string `json:"decision"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
	// SessionRef is a truncated session ID, empty when none was supplied.
	SessionRef string `json:"session_ref,omitempty"`
	// SessionUpdated is true when a live session received the card.
	SessionUpdated bool `json:"session_updated"`
	// CardFingerprint identifies the card without storing it.
	CardFingerprint string `json:"card_fingerprint,omitempty"`
	// RemoteIP is the reporting device's address.
	RemoteIP string `json:"remote_ip,omitempty"`
}

// Fingerprint returns a short stable hash of a card identifier for logs and
// audit records. It is for correlation only and is not a secret.
func Fingerprint(cardID string) string {
	if cardID == "" {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64String(cardID), 16)
}

// SessionRef truncates a session ID for audit output. The ID comes from the
// client, so it is cut on rune boundaries and invalid UTF-8 is replaced,
// keeping log lines and audit JSON valid.
func SessionRef(sessionID string) string {
	id := strings.ToValidUTF8(sessionID, "\uFFFD")
	runes := 0
	for i := range id {
		if runes == sessionRefLen {
			return id[:i]
		}
		runes++
	}
	return id
}
