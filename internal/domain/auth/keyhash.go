package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// HashType names the format of a stored device key hash.
type HashType string

const (
	HashArgon2id HashType = "argon2id"
	HashSHA256   HashType = "sha256"
	HashUnknown  HashType = "unknown"
)

const (
	argon2idPrefix = "$argon2id$"
	sha256Prefix   = "sha256:"
)

// Argon2id cost for device key hashes. Readers usually resend the same key,
// and DeviceGate caches the last match, so the cost is paid once per key.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the lowercase hex SHA-256 of key, without the "sha256:"
// prefix.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashKeyArgon2id returns a PHC-format Argon2id hash of key for the
// device.key_hash setting.
func HashKeyArgon2id(key string) (string, error) {
	return argon2id.CreateHash(key, argon2idParams)
}

// DetectHashType reports the format of stored. A "sha256:" value only counts
// when followed by exactly 64 hex digits.
func DetectHashType(stored string) HashType {
	switch {
	case strings.HasPrefix(stored, argon2idPrefix):
		return HashArgon2id
	case strings.HasPrefix(stored, sha256Prefix) && isSHA256Digest(stored[len(sha256Prefix):]):
		return HashSHA256
	default:
		return HashUnknown
	}
}

func isSHA256Digest(s string) bool {
	if len(s) != hex.EncodedLen(sha256.Size) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyKey checks key against stored. It returns ErrUnknownHashType when
// stored is in neither supported format.
func VerifyKey(key, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case HashArgon2id:
		return compareArgon2id(key, stored)
	case HashSHA256:
		want := strings.ToLower(stored[len(sha256Prefix):])
		return subtle.ConstantTimeCompare([]byte(HashKey(key)), []byte(want)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// compareArgon2id turns the library's panic on zero cost parameters into an
// error.
func compareArgon2id(key, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = false, fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(key, stored)
}
