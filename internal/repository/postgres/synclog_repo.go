package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
)

// SyncLogRepo implements SyncLogRepository using PostgreSQL.
type SyncLogRepo struct{ db *DB }

// NewSyncLogRepo constructs a sync log repository.
func NewSyncLogRepo(db *DB) *SyncLogRepo { return &SyncLogRepo{db: db} }

const updateCredentialSync = `UPDATE portal_credentials SET last_sync=$2, last_sync_status=$3 WHERE id=$1`

// Start inserts a running entry.
func (r *SyncLogRepo) Start(ctx context.Context, credentialID uuid.UUID, started time.Time) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	const q = `
INSERT INTO portal_sync_log (id, credential_id, sync_started, status, records_imported)
VALUES ($1, $2, $3, 'running', 0)`
	if _, err := r.db.Pool.Exec(ctx, q, id, credentialID, started); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Close performs the single terminal update of a running entry. A second
// close of the same entry matches no row and returns errs.ErrNotFound.
func (r *SyncLogRepo) Close(
	ctx context.Context, logID, credentialID uuid.UUID, status model.SyncStatus,
	completed time.Time, records int, errMsg *string,
) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		const q = `
UPDATE portal_sync_log
SET sync_completed=$2, status=$3, records_imported=$4, error_message=$5
WHERE id=$1 AND status='running'`
		tag, err := tx.Exec(ctx, q, logID, completed, string(status), records, errMsg)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		_, err = tx.Exec(ctx, updateCredentialSync, credentialID, completed, string(status))
		return err
	})
}

// Record appends a closed entry for an attempt that never reached Start.
func (r *SyncLogRepo) Record(
	ctx context.Context, credentialID uuid.UUID, status model.SyncStatus,
	at time.Time, records int, errMsg *string,
) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		const q = `
INSERT INTO portal_sync_log (id, credential_id, sync_started, sync_completed, status, records_imported, error_message)
VALUES ($1, $2, $3, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, q, id, credentialID, at, string(status), records, errMsg); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, updateCredentialSync, credentialID, at, string(status))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// History returns entries for one credential, newest first.
func (r *SyncLogRepo) History(ctx context.Context, credentialID uuid.UUID, limit int) ([]model.SyncLogEntry, error) {
	const q = `
SELECT id, credential_id, sync_started, sync_completed, status, records_imported, error_message
FROM portal_sync_log
WHERE credential_id=$1
ORDER BY sync_started DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, credentialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SyncLogEntry{}
	for rows.Next() {
		var (
			e      model.SyncLogEntry
			status string
		)
		if err = rows.Scan(&e.ID, &e.CredentialID, &e.SyncStarted, &e.SyncCompleted,
			&status, &e.RecordsImported, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.Status = model.SyncStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllHistory returns entries across all credentials, newest first.
func (r *SyncLogRepo) AllHistory(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	const q = `
SELECT l.id, l.credential_id, l.sync_started, l.sync_completed, l.status, l.records_imported, l.error_message,
       c.service_name, c.portal_type
FROM portal_sync_log l
JOIN portal_credentials c ON l.credential_id = c.id
ORDER BY l.sync_started DESC
LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SyncLogEntry{}
	for rows.Next() {
		var (
			e      model.SyncLogEntry
			status string
		)
		if err = rows.Scan(&e.ID, &e.CredentialID, &e.SyncStarted, &e.SyncCompleted,
			&status, &e.RecordsImported, &e.ErrorMessage,
			&e.ServiceName, &e.PortalType); err != nil {
			return nil, err
		}
		e.Status = model.SyncStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
