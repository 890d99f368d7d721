package vault

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/errs"
)

// Keyring is the single process-wide slot for the live session.
type Keyring struct {
	mu  sync.Mutex
	cur *Session
}

// NewKeyring returns a locked keyring.
func NewKeyring() *Keyring { return &Keyring{} }

// Install stores a new session for key, revoking any previous one.
// The keyring takes ownership of key.
func (k *Keyring) Install(key []byte) *Session {
	s := newSession(key)
	k.mu.Lock()
	prev := k.cur
	k.cur = s
	k.mu.Unlock()
	if prev != nil {
		prev.revoke()
	}
	return s
}

// Clear revokes the live session. Idempotent.
func (k *Keyring) Clear() {
	k.mu.Lock()
	prev := k.cur
	k.cur = nil
	k.mu.Unlock()
	if prev != nil {
		prev.revoke()
	}
}

// Current returns the live session, or nil when locked.
func (k *Keyring) Current() *Session {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cur
}

// Unlocked reports whether a live session exists.
func (k *Keyring) Unlocked() bool { return k.Current().Active() }

// Lookup returns the live session if its ID matches id.
func (k *Keyring) Lookup(id uuid.UUID) (*Session, error) {
	s := k.Current()
	if s == nil || id == uuid.Nil || s.ID() != id || !s.Active() {
		return nil, errs.ErrVaultLocked
	}
	return s, nil
}
