// Package sessioncache stores opaque per-credential browser session state
// between sync attempts. Entries are trusted on read and dropped by the
// caller on the first failed reuse.
package sessioncache

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss indicates no usable entry exists for the credential.
var ErrCacheMiss = errors.New("session cache miss")

// Cache is a best-effort session store.
type Cache interface {
	// Load returns the cached state or ErrCacheMiss.
	Load(ctx context.Context, credentialID uuid.UUID) ([]byte, error)
	// Save replaces the cached state.
	Save(ctx context.Context, credentialID uuid.UUID, data []byte) error
	// Delete removes the entry; deleting a missing entry is not an error.
	Delete(ctx context.Context, credentialID uuid.UUID) error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Load(context.Context, uuid.UUID) ([]byte, error) { return nil, ErrCacheMiss }
func (Nop) Save(context.Context, uuid.UUID, []byte) error   { return nil }
func (Nop) Delete(context.Context, uuid.UUID) error         { return nil }
