package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/portal-keeper/internal/errs"
)

const tagLen = chacha20poly1305.Overhead

// EncryptField seals plaintext with XChaCha20-Poly1305 under a fresh random
// nonce and returns base64(nonce):base64(tag):base64(ciphertext).
func EncryptField(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// DecryptField opens a value produced by EncryptField.
// Format violations yield errs.ErrMalformedCiphertext, tag failures errs.ErrCiphertextAuth.
func DecryptField(key []byte, field string) (string, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: want 3 segments, got %d", errs.ErrMalformedCiphertext, len(parts))
	}
	enc := base64.StdEncoding.Strict()
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("%w: bad nonce", errs.ErrMalformedCiphertext)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagLen {
		return "", fmt.Errorf("%w: bad tag", errs.ErrMalformedCiphertext)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", errs.ErrMalformedCiphertext)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errs.ErrCiphertextAuth
	}
	return string(pt), nil
}
