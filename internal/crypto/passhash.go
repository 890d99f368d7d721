// Package crypto implements master-password hashing, working-key derivation
// and authenticated field encryption.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. The verification hash and the working key share a salt
// but use different PRFs and output lengths, so one never reveals the other.
const (
	DefaultIterations = 100_000
	SaltLen           = 32
	HashLen           = 64 // PBKDF2-SHA512 verifier
	KeyLen            = 32 // PBKDF2-SHA256 working key
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns the PBKDF2-SHA512 verification hash of password.
func HashPassword(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, HashLen, sha512.New)
}

// VerifyPassword verifies password against expected hash in constant time.
func VerifyPassword(password, salt []byte, iterations int, expected []byte) bool {
	got := HashPassword(password, salt, iterations)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// DeriveKey derives the 256-bit field-encryption key from password and salt.
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, KeyLen, sha256.New)
}

// Wipe zeroes b in place.
func Wipe(b []byte) { clear(b) }
