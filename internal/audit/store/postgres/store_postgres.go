// Package postgres persists audit chain records in PostgreSQL. The primary
// key on seq enforces the strictly-ordered append the chain depends on.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"biogate/internal/audit"
	"biogate/pkg/domain"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is the table this store expects. Applied by migrations; kept here so
// integration tests can bootstrap a scratch database.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq         BIGINT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	identity_id UUID NOT NULL,
	payload     BYTEA NOT NULL,
	digest      BYTEA NOT NULL,
	link_hash   BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

func (s *Store) Append(ctx context.Context, rec *audit.Record) error {
	query := `
		INSERT INTO audit_records (seq, event_type, identity_id, payload, digest, link_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		int64(rec.Seq),
		string(rec.Type),
		rec.IdentityID.String(),
		rec.Payload,
		rec.Digest,
		rec.LinkHash,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *Store) Last(ctx context.Context) (*audit.Record, error) {
	query := `
		SELECT seq, event_type, identity_id, payload, digest, link_hash, created_at
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last audit record: %w", err)
	}
	return rec, nil
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]*audit.Record, error) {
	query := `
		SELECT seq, event_type, identity_id, payload, digest, link_hash, created_at
		FROM audit_records
		WHERE seq BETWEEN $1 AND $2
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("range audit records: %w", err)
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*audit.Record, error) {
	var rec audit.Record
	var seq int64
	var eventType, identityID string
	if err := row.Scan(&seq, &eventType, &identityID, &rec.Payload, &rec.Digest, &rec.LinkHash, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.Seq = uint64(seq)
	rec.Type = audit.EventType(eventType)
	parsed, err := domain.ParseIdentityID(identityID)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id in audit_records: %w", err)
	}
	rec.IdentityID = parsed
	return &rec, nil
}
