// Package pin implements the salted digest used to verify session-lock PINs.
package pin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// Length is the exact number of decimal digits in a PIN.
const Length = 5

// separator joins salt and PIN before hashing.
const separator = "::"

// ErrInvalidFormat is returned when a PIN is not exactly Length ASCII digits.
var ErrInvalidFormat = errors.New("PIN must be exactly 5 digits")

// ValidatePIN reports ErrInvalidFormat unless p consists of exactly Length
// ASCII decimal digits.
func ValidatePIN(p string) error {
	if len(p) != Length {
		return ErrInvalidFormat
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return ErrInvalidFormat
		}
	}
	return nil
}

// Hash returns the hex-encoded SHA-256 digest of salt + "::" + pin.
func Hash(salt, pin string) string {
	sum := sha256.Sum256([]byte(salt + separator + pin))
	return hex.EncodeToString(sum[:])
}

// NewSalt returns a fresh random salt. Every credential write gets a new one.
func NewSalt() string {
	return uuid.NewString()
}

// Verify recomputes the digest for pin and compares it with saltedHash in
// constant time.
func Verify(salt, saltedHash, pin string) bool {
	got := Hash(salt, pin)
	return subtle.ConstantTimeCompare([]byte(got), []byte(saltedHash)) == 1
}
