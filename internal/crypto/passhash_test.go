package crypto

import (
	"bytes"
	"testing"
)

const testIter = 1000

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestHashPassword_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashPassword(pw, salt, testIter)
	h2 := HashPassword(pw, salt, testIter)

	if len(h1) != HashLen {
		t.Fatalf("hash len=%d, want %d", len(h1), HashLen)
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}
	if bytes.Equal(h1, HashPassword(pw, []byte("another-salt----"), testIter)) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, HashPassword([]byte("p@ssw0rd!"), salt, testIter)) {
		t.Fatalf("hash should differ when password differs")
	}
	if bytes.Equal(h1, HashPassword(pw, salt, testIter+1)) {
		t.Fatalf("hash should differ when iterations differ")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")

	hash := HashPassword(pw, salt, testIter)

	if !VerifyPassword(pw, salt, testIter, hash) {
		t.Fatalf("VerifyPassword: expected true for correct password")
	}
	if VerifyPassword([]byte("wrong"), salt, testIter, hash) {
		t.Fatalf("VerifyPassword: expected false for wrong password")
	}
	if VerifyPassword(pw, []byte("wrong-salt"), testIter, hash) {
		t.Fatalf("VerifyPassword: expected false for wrong salt")
	}
	if VerifyPassword([]byte{}, salt, testIter, hash) {
		t.Fatalf("VerifyPassword: expected false for empty password")
	}
}

func TestDeriveKey_IndependentOfVerifier(t *testing.T) {
	t.Parallel()

	pw := []byte("abc12345")
	salt := []byte("same-salt-for-both")

	key := DeriveKey(pw, salt, testIter)
	if len(key) != KeyLen {
		t.Fatalf("key len=%d, want %d", len(key), KeyLen)
	}
	hash := HashPassword(pw, salt, testIter)
	if bytes.Equal(key, hash[:KeyLen]) {
		t.Fatalf("working key must not be a prefix of the verification hash")
	}
	if !bytes.Equal(key, DeriveKey(pw, salt, testIter)) {
		t.Fatalf("DeriveKey not deterministic")
	}
}

func TestWipe(t *testing.T) {
	t.Parallel()
	b := []byte{1, 2, 3}
	Wipe(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Fatalf("Wipe left %v", b)
	}
}
