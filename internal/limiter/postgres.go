package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps counters in the auth_limiter table: fails inside a sliding window
// accumulate, and reaching maxFails blocks the key for blockFor.
type PG struct {
	pool     querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or a mock.
func NewPG(q querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Check implements Limiter.
func (l *PG) Check(ctx context.Context, k Key) (time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, k.Subject, k.IPHash).Scan(&blockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if wait := blockedUntil.Sub(l.now()); wait > 0 {
		return wait, nil
	}
	return 0, nil
}

// Fail implements Limiter.
func (l *PG) Fail(ctx context.Context, k Key) (time.Duration, error) {
	const q = `
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (username, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - auth_limiter.updated_at > $3::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, k.Subject, k.IPHash, l.window).Scan(&fails); err != nil {
		return 0, err
	}
	if fails < l.maxFails {
		return 0, nil
	}
	const upd = `UPDATE auth_limiter SET blocked_until=$3 WHERE username=$1 AND ip_hash=$2`
	if _, err := l.pool.Exec(ctx, upd, k.Subject, k.IPHash, l.now().Add(l.blockFor)); err != nil {
		return 0, err
	}
	return l.blockFor, nil
}

// Reset implements Limiter.
func (l *PG) Reset(ctx context.Context, k Key) error {
	const q = `
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (username, ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, k.Subject, k.IPHash)
	return err
}
