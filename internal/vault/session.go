// Package vault holds the in-memory working key as an explicit capability.
//
// A Session is handed out by setup/unlock and threaded into every call that
// encrypts or decrypts credential fields. The Keyring keeps at most one live
// session; locking revokes it and wipes the key, so any Session value still
// held by a caller stops working immediately.
package vault

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/crypto"
	"github.com/and161185/portal-keeper/internal/errs"
)

// Session is an unlocked-vault capability. The zero of *Session (nil) is a locked vault.
type Session struct {
	id        uuid.UUID
	createdAt time.Time

	mu  sync.RWMutex
	key []byte // nil after revoke
}

func newSession(key []byte) *Session {
	return &Session{id: uuid.Must(uuid.NewV4()), createdAt: time.Now(), key: key}
}

// ID identifies the session; API tokens reference it.
func (s *Session) ID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.id
}

// CreatedAt is when the vault was unlocked for this session.
func (s *Session) CreatedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.createdAt
}

// Active reports whether the session still holds a key.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

func (s *Session) revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.Wipe(s.key)
	s.key = nil
}

// Encrypt seals a non-optional field.
func (s *Session) Encrypt(plaintext string) (string, error) {
	if s == nil {
		return "", errs.ErrVaultLocked
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", errs.ErrVaultLocked
	}
	return crypto.EncryptField(s.key, plaintext)
}

// Decrypt opens a non-optional field.
func (s *Session) Decrypt(ciphertext string) (string, error) {
	if s == nil {
		return "", errs.ErrVaultLocked
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", errs.ErrVaultLocked
	}
	return crypto.DecryptField(s.key, ciphertext)
}

// EncryptField seals an optional field; nil passes through as nil without touching the key.
func (s *Session) EncryptField(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	ct, err := s.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

// DecryptField opens an optional field; nil passes through as nil.
func (s *Session) DecryptField(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	pt, err := s.Decrypt(*ciphertext)
	if err != nil {
		return nil, err
	}
	return &pt, nil
}
