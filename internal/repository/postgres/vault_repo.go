package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/model"
)

// VaultRepo implements VaultRepository using PostgreSQL.
type VaultRepo struct{ db *DB }

// NewVaultRepo constructs a vault repository.
func NewVaultRepo(db *DB) *VaultRepo { return &VaultRepo{db: db} }

// Exists reports whether the singleton master row is present.
func (r *VaultRepo) Exists(ctx context.Context) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM vault_master)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Get loads the master row.
func (r *VaultRepo) Get(ctx context.Context) (*model.VaultRecord, error) {
	const q = `SELECT password_hash, salt, iterations, created_at FROM vault_master WHERE id = 1`
	var rec model.VaultRecord
	err := r.db.Pool.QueryRow(ctx, q).Scan(&rec.PasswordHash, &rec.Salt, &rec.Iterations, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts the master row; the id=1 primary key enforces the singleton.
func (r *VaultRepo) Create(ctx context.Context, rec *model.VaultRecord) error {
	const q = `INSERT INTO vault_master (id, password_hash, salt, iterations) VALUES (1, $1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, rec.PasswordHash, rec.Salt, rec.Iterations)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Reset wipes the vault and everything encrypted under it.
func (r *VaultRepo) Reset(ctx context.Context) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM portal_sync_log`,
			`DELETE FROM portal_credentials`,
			`DELETE FROM vault_master`,
		} {
			if _, err := tx.Exec(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}
