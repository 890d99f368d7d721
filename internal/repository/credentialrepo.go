package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/model"
)

// CredentialRepository persists portal credentials. It only ever sees ciphertext for secret columns.
type CredentialRepository interface {
	// Create inserts a new credential row.
	Create(ctx context.Context, c *model.PortalCredential) error
	// List returns summaries ordered by service name.
	List(ctx context.Context) ([]model.CredentialSummary, error)
	// Get loads a single row; errs.ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.PortalCredential, error)
	// Update applies column assignments and bumps updated_at; errs.ErrNotFound if absent.
	Update(ctx context.Context, id uuid.UUID, sets []model.ColumnUpdate) error
	// Delete removes a row and, by cascade, its sync logs; errs.ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
}
