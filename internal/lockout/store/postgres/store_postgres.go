// Package postgres persists lockout records in PostgreSQL.
// This store is pure I/O; lock checks and window logic belong in the service.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"biogate/internal/lockout"
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
CREATE TABLE IF NOT EXISTS lockout_states (
	identity_id     UUID PRIMARY KEY,
	failure_count   INT NOT NULL DEFAULT 0,
	locked_until    TIMESTAMPTZ,
	last_failure_at TIMESTAMPTZ
)`

func (s *Store) Get(ctx context.Context, id domain.IdentityID) (*lockout.Record, error) {
	query := `
		SELECT identity_id, failure_count, locked_until, last_failure_at
		FROM lockout_states
		WHERE identity_id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id.String())

	var rec lockout.Record
	var idStr string
	var lockedUntil, lastFailure sql.NullTime
	if err := row.Scan(&idStr, &rec.FailureCount, &lockedUntil, &lastFailure); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lockout record: %w", err)
	}

	parsed, err := domain.ParseIdentityID(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id in lockout_states: %w", err)
	}
	rec.IdentityID = parsed
	if lockedUntil.Valid {
		rec.LockedUntil = &lockedUntil.Time
	}
	if lastFailure.Valid {
		rec.LastFailureAt = lastFailure.Time
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *lockout.Record) error {
	query := `
		INSERT INTO lockout_states (identity_id, failure_count, locked_until, last_failure_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO UPDATE SET
			failure_count = EXCLUDED.failure_count,
			locked_until = EXCLUDED.locked_until,
			last_failure_at = EXCLUDED.last_failure_at
	`
	var lastFailure sql.NullTime
	if !rec.LastFailureAt.IsZero() {
		lastFailure = sql.NullTime{Time: rec.LastFailureAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.IdentityID.String(),
		rec.FailureCount,
		rec.LockedUntil,
		lastFailure,
	)
	if err != nil {
		return fmt.Errorf("put lockout record: %w", err)
	}
	return nil
}
