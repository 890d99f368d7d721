package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PGImporter stores items of one section in raw_records. Rows already
// imported by an earlier sync are skipped.
type PGImporter struct {
	db      beginner
	section string
}

// NewPG constructs a raw-record importer for section.
func NewPG(db beginner, section string) *PGImporter {
	return &PGImporter{db: db, section: section}
}

// NewPGSet builds a Set with a raw-record importer per section.
func NewPGSet(db beginner, sections ...string) Set {
	s := make(Set, len(sections))
	for _, name := range sections {
		s[name] = NewPG(db, name)
	}
	return s
}

// ImportRecords implements Importer.
func (p *PGImporter) ImportRecords(ctx context.Context, credentialID uuid.UUID, items []Item) (n int, err error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			n = 0
			return
		}
		err = tx.Commit(ctx)
	}()

	const q = `
INSERT INTO raw_records (id, credential_id, section, item_key, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (credential_id, section, item_key) DO NOTHING`
	for _, it := range items {
		payload, err := json.Marshal(it.Fields)
		if err != nil {
			return 0, fmt.Errorf("encode %s item: %w", p.section, err)
		}
		id, err := uuid.NewV4()
		if err != nil {
			return 0, err
		}
		var tag pgconn.CommandTag
		if tag, err = tx.Exec(ctx, q, id, credentialID, p.section, it.StableKey(), string(payload)); err != nil {
			return 0, fmt.Errorf("insert %s item: %w", p.section, err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}
