// Package secret encodes and verifies stored account secrets.
//
// New secrets are always written in the Keyed format:
//
//	<iterations>:<base64(salt)>:<base64(derivedKey)>
//
// Anything that does not parse as Keyed is a legacy secret and is checked with
// the ordered strategies in legacy.go.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor applied to newly encoded secrets.
	Iterations = 10000
	// SaltSize is the number of random salt bytes per secret.
	SaltSize = 16
	// KeySize is the derived key length in bytes (256 bits).
	KeySize = 32
)

var encoding = base64.StdEncoding

// Keyed is a PBKDF2-HMAC-SHA256 derived secret.
type Keyed struct {
	Iterations int
	Salt       []byte
	DerivedKey []byte
}

// String renders the wire form persisted in accounts.password_hash.
func (k Keyed) String() string {
	return strconv.Itoa(k.Iterations) + ":" +
		encoding.EncodeToString(k.Salt) + ":" +
		encoding.EncodeToString(k.DerivedKey)
}

// Encode derives a fresh Keyed secret for password with a random salt.
// It only fails when the system entropy source does.
func Encode(password string) (Keyed, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Keyed{}, fmt.Errorf("secret: read salt: %w", err)
	}
	return Keyed{
		Iterations: Iterations,
		Salt:       salt,
		DerivedKey: derive(password, salt, Iterations, KeySize),
	}, nil
}

// Verify re-derives the key for password with the stored parameters and
// compares in constant time. Length mismatches fail closed.
func Verify(password string, k Keyed) bool {
	if k.Iterations <= 0 || len(k.DerivedKey) == 0 {
		return false
	}
	candidate := derive(password, k.Salt, k.Iterations, len(k.DerivedKey))
	if len(candidate) != len(k.DerivedKey) {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, k.DerivedKey) == 1
}

// Parse reports whether stored is a Keyed secret. Malformed input yields
// false rather than an error so callers can fall through to legacy checks.
func Parse(stored string) (Keyed, bool) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return Keyed{}, false
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return Keyed{}, false
	}
	if parts[1] == "" || parts[2] == "" {
		return Keyed{}, false
	}
	salt, err := encoding.DecodeString(parts[1])
	if err != nil {
		return Keyed{}, false
	}
	key, err := encoding.DecodeString(parts[2])
	if err != nil || len(key) == 0 {
		return Keyed{}, false
	}
	return Keyed{Iterations: iterations, Salt: salt, DerivedKey: key}, true
}

// VerifyEncoded parses stored and verifies password against it.
func VerifyEncoded(password, stored string) bool {
	k, ok := Parse(stored)
	if !ok {
		return false
	}
	return Verify(password, k)
}

func derive(password string, salt []byte, iterations, size int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, size, sha256.New)
}
