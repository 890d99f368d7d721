package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// updatable lists the columns a patch may touch.
var updatable = map[string]bool{
	"service_name":          true,
	"portal_type":           true,
	"base_url":              true,
	"username_encrypted":    true,
	"password_encrypted":    true,
	"mfa_method":            true,
	"totp_secret_encrypted": true,
	"notes_encrypted":       true,
	"sync_schedule":         true,
	"sync_time":             true,
	"sync_day_of_week":      true,
	"sync_day_of_month":     true,
	"auto_sync_on_open":     true,
	"notify_on_sync":        true,
}

// Create inserts a new credential row.
func (r *CredentialRepo) Create(ctx context.Context, c *model.PortalCredential) error {
	const q = `
INSERT INTO portal_credentials (
  id, service_name, portal_type, base_url,
  username_encrypted, password_encrypted,
  mfa_method, totp_secret_encrypted, notes_encrypted,
  sync_schedule, sync_time, sync_day_of_week, sync_day_of_month,
  auto_sync_on_open, notify_on_sync
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := r.db.Pool.Exec(ctx, q,
		c.ID, c.ServiceName, c.PortalType, c.BaseURL,
		c.UsernameEncrypted, c.PasswordEncrypted,
		c.MFAMethod, c.TOTPSecretEncrypted, c.NotesEncrypted,
		string(c.SyncSchedule), c.SyncTime, c.SyncDayOfWeek, c.SyncDayOfMonth,
		c.AutoSyncOnOpen, c.NotifyOnSync,
	)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// List returns all credentials without secret columns.
func (r *CredentialRepo) List(ctx context.Context) ([]model.CredentialSummary, error) {
	const q = `
SELECT id, service_name, portal_type, base_url, mfa_method,
       last_sync, last_sync_status,
       sync_schedule, sync_time, sync_day_of_week, sync_day_of_month,
       auto_sync_on_open, notify_on_sync,
       created_at, updated_at
FROM portal_credentials
ORDER BY service_name`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CredentialSummary{}
	for rows.Next() {
		var (
			s        model.CredentialSummary
			status   *string
			schedule string
		)
		if err = rows.Scan(&s.ID, &s.ServiceName, &s.PortalType, &s.BaseURL, &s.MFAMethod,
			&s.LastSync, &status,
			&schedule, &s.SyncTime, &s.SyncDayOfWeek, &s.SyncDayOfMonth,
			&s.AutoSyncOnOpen, &s.NotifyOnSync,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.LastSyncStatus = syncStatusPtr(status)
		s.SyncSchedule = model.Schedule(schedule)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads one credential including ciphertext columns.
func (r *CredentialRepo) Get(ctx context.Context, id uuid.UUID) (*model.PortalCredential, error) {
	const q = `
SELECT id, service_name, portal_type, base_url,
       username_encrypted, password_encrypted,
       mfa_method, totp_secret_encrypted, notes_encrypted,
       last_sync, last_sync_status,
       sync_schedule, sync_time, sync_day_of_week, sync_day_of_month,
       auto_sync_on_open, notify_on_sync,
       created_at, updated_at
FROM portal_credentials WHERE id=$1`
	var (
		c        model.PortalCredential
		status   *string
		schedule string
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.ServiceName, &c.PortalType, &c.BaseURL,
		&c.UsernameEncrypted, &c.PasswordEncrypted,
		&c.MFAMethod, &c.TOTPSecretEncrypted, &c.NotesEncrypted,
		&c.LastSync, &status,
		&schedule, &c.SyncTime, &c.SyncDayOfWeek, &c.SyncDayOfMonth,
		&c.AutoSyncOnOpen, &c.NotifyOnSync,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	c.LastSyncStatus = syncStatusPtr(status)
	c.SyncSchedule = model.Schedule(schedule)
	return &c, nil
}

// Update applies the given column assignments. Columns outside the allow-list are rejected.
func (r *CredentialRepo) Update(ctx context.Context, id uuid.UUID, sets []model.ColumnUpdate) error {
	if len(sets) == 0 {
		return errs.ErrNoFieldsProvided
	}
	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+2)
	for i, s := range sets {
		if !updatable[s.Column] {
			return fmt.Errorf("%w: column %q is not updatable", errs.ErrValidation, s.Column)
		}
		clauses = append(clauses, fmt.Sprintf("%s=$%d", s.Column, i+1))
		args = append(args, s.Value)
	}
	clauses = append(clauses, fmt.Sprintf("updated_at=$%d", len(sets)+1))
	args = append(args, time.Now().UTC())
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE portal_credentials SET %s WHERE id=$%d`, strings.Join(clauses, ", "), len(args))
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a credential; sync logs and raw records go with it by cascade.
func (r *CredentialRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM portal_credentials WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func syncStatusPtr(s *string) *model.SyncStatus {
	if s == nil {
		return nil
	}
	st := model.SyncStatus(*s)
	return &st
}
