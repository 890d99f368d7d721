package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/model"
)

// SyncLogRepository records sync attempts and keeps credential last-sync fields in step.
type SyncLogRepository interface {
	// Start inserts a running entry and returns its id.
	Start(ctx context.Context, credentialID uuid.UUID, started time.Time) (uuid.UUID, error)
	// Close moves a running entry to a terminal status and updates the
	// credential's last_sync/last_sync_status in the same transaction.
	Close(ctx context.Context, logID, credentialID uuid.UUID, status model.SyncStatus,
		completed time.Time, records int, errMsg *string) error
	// Record appends an already-closed entry and updates the credential in one transaction.
	Record(ctx context.Context, credentialID uuid.UUID, status model.SyncStatus,
		at time.Time, records int, errMsg *string) (uuid.UUID, error)
	// History returns the newest entries for one credential.
	History(ctx context.Context, credentialID uuid.UUID, limit int) ([]model.SyncLogEntry, error)
	// AllHistory returns the newest entries across credentials, joined with service name and type.
	AllHistory(ctx context.Context, limit int) ([]model.SyncLogEntry, error)
}
