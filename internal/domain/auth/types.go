// Package auth decides whether a scan report comes from a trusted card reader.
package auth

import "errors"

// Mode describes how a DeviceGate checks presented keys.
type Mode string

const (
	// ModeOpen accepts every caller. Used when no device key is configured.
	ModeOpen Mode = "open"
	// ModeKey compares against a plaintext pre-shared key.
	ModeKey Mode = "key"
	// ModeKeyHash verifies against a stored key hash.
	ModeKeyHash Mode = "key_hash"
)

// Permissive reports whether the mode lets unauthenticated callers through.
func (m Mode) Permissive() bool {
	return m == ModeOpen
}

// ErrEmptySecret is returned when a device key is configured but empty.
// An empty key must never silently turn into open mode.
var ErrEmptySecret = errors.New("device key is configured but empty")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")
