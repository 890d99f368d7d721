// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/portal-keeper/internal/model"
)

// VaultRepository stores the singleton master-password verifier.
type VaultRepository interface {
	// Exists reports whether the master record has been created.
	Exists(ctx context.Context) (bool, error)
	// Get loads the master record; errs.ErrNotFound if absent.
	Get(ctx context.Context) (*model.VaultRecord, error)
	// Create inserts the master record; errs.ErrAlreadyExists if one exists.
	Create(ctx context.Context, rec *model.VaultRecord) error
	// Reset deletes the master record, all credentials and all sync logs atomically.
	Reset(ctx context.Context) error
}
