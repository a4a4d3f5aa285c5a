package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// DeviceGate authorizes scan reports against an optional pre-shared key.
// The zero value is not usable; use NewOpenGate, NewKeyGate or NewHashGate.
type DeviceGate struct {
	mode Mode
	key  []byte
	hash string

	// verified caches the SHA-256 of the last key that passed a hash check,
	// so a reader resending the same key does not pay for Argon2id each time.
	verified atomic.Pointer[[sha256.Size]byte]
}

// NewOpenGate returns a gate that accepts every caller.
func NewOpenGate() *DeviceGate {
	return &DeviceGate{mode: ModeOpen}
}

// NewKeyGate returns a gate that accepts only callers presenting key exactly.
func NewKeyGate(key string) (*DeviceGate, error) {
	if key == "" {
		return nil, ErrEmptySecret
	}
	return &DeviceGate{mode: ModeKey, key: []byte(key)}, nil
}

// NewHashGate returns a gate that verifies presented keys against a stored
// hash ("$argon2id$..." or "sha256:<hex>").
func NewHashGate(hash string) (*DeviceGate, error) {
	if hash == "" {
		return nil, ErrEmptySecret
	}
	if DetectHashType(hash) == HashUnknown {
		return nil, fmt.Errorf("device key hash: %w", ErrUnknownHashType)
	}
	return &DeviceGate{mode: ModeKeyHash, hash: hash}, nil
}

// Mode returns how the gate checks keys.
func (g *DeviceGate) Mode() Mode {
	return g.mode
}

// Authorize reports whether presented is an acceptable device key.
// Comparison is case-sensitive and exact.
func (g *DeviceGate) Authorize(presented string) bool {
	switch g.mode {
	case ModeOpen:
		return true
	case ModeKey:
		if presented == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(presented), g.key) == 1
	case ModeKeyHash:
		if presented == "" {
			return false
		}
		return g.verifyHashed(presented)
	default:
		return false
	}
}

func (g *DeviceGate) verifyHashed(presented string) bool {
	digest := sha256.Sum256([]byte(presented))
	if cached := g.verified.Load(); cached != nil && subtle.ConstantTimeCompare(cached[:], digest[:]) == 1 {
		return true
	}

	match, err := VerifyKey(presented, g.hash)
	if err != nil {
		slog.Warn("device key hash verification failed", "error", err)
		return false
	}
	if match {
		g.verified.Store(&digest)
	}
	return match
}
