package secret

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Format names the encoding a stored secret was matched in.
type Format string

const (
	FormatNone            Format = ""
	FormatKeyed           Format = "keyed"
	FormatLegacyPlaintext Format = "legacy_plaintext"
	FormatLegacyDigest    Format = "legacy_digest"
)

// Legacy reports whether the format must be migrated after a successful match.
func (f Format) Legacy() bool {
	return f == FormatLegacyPlaintext || f == FormatLegacyDigest
}

// LegacyStrategy checks a password against a stored legacy secret.
type LegacyStrategy interface {
	Format() Format
	Match(stored, password string) bool
}

// LegacyStrategies is the fixed trial order for secrets that are not Keyed.
// Plaintext is case-sensitive, digest is case-insensitive; both as deployed.
var LegacyStrategies = []LegacyStrategy{
	plaintextExact{},
	digestFold{},
}

// MatchLegacy runs LegacyStrategies in order and returns the first matching
// format, or FormatNone.
func MatchLegacy(stored, password string) Format {
	if stored == "" {
		return FormatNone
	}
	for _, s := range LegacyStrategies {
		if s.Match(stored, password) {
			return s.Format()
		}
	}
	return FormatNone
}

// Classify verifies password against any supported stored form.
func Classify(stored, password string) Format {
	if k, ok := Parse(stored); ok {
		if Verify(password, k) {
			return FormatKeyed
		}
		return FormatNone
	}
	return MatchLegacy(stored, password)
}

// LegacyDigest returns the lowercase hex MD5 of password.
func LegacyDigest(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

type plaintextExact struct{}

func (plaintextExact) Format() Format { return FormatLegacyPlaintext }

func (plaintextExact) Match(stored, password string) bool {
	return equalConstant(stored, password)
}

type digestFold struct{}

func (digestFold) Format() Format { return FormatLegacyDigest }

func (digestFold) Match(stored, password string) bool {
	return equalConstant(strings.ToLower(stored), LegacyDigest(password))
}

func equalConstant(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
