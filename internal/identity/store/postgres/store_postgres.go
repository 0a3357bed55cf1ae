// Package postgres persists identities and protected template versions in
// PostgreSQL. Template history is append-only: re-enrollment inserts a new
// version and flags the predecessor superseded.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"biogate/internal/identity"
	"biogate/internal/template"
	"biogate/pkg/domain"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema lists the tables this store expects. Applied by migrations; kept
// here so integration tests can bootstrap a scratch database.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	id            UUID PRIMARY KEY,
	salt          BYTEA NOT NULL,
	binding_proof TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS protected_templates (
	id          UUID PRIMARY KEY,
	identity_id UUID NOT NULL REFERENCES identities(id),
	modality    TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	salt        BYTEA NOT NULL,
	version     INT NOT NULL,
	superseded  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (identity_id, modality, version)
)`

func (s *Store) Ensure(ctx context.Context, id domain.IdentityID) (*identity.Identity, error) {
	salt, err := template.NewSalt()
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO identities (id, salt, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, salt, binding_proof, created_at
	`
	return s.scanIdentity(ctx, s.db.QueryRowContext(ctx, query, id.String(), salt, time.Now().UTC()))
}

func (s *Store) Get(ctx context.Context, id domain.IdentityID) (*identity.Identity, error) {
	query := `SELECT id, salt, binding_proof, created_at FROM identities WHERE id = $1`
	ident, err := s.scanIdentity(ctx, s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	}
	return ident, err
}

func (s *Store) scanIdentity(ctx context.Context, row *sql.Row) (*identity.Identity, error) {
	var ident identity.Identity
	var idStr string
	if err := row.Scan(&idStr, &ident.Salt, &ident.BindingProof, &ident.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseIdentityID(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id: %w", err)
	}
	ident.ID = parsed

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT modality FROM protected_templates WHERE identity_id = $1 AND NOT superseded`,
		idStr)
	if err != nil {
		return nil, fmt.Errorf("list enrolled modalities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		ident.Enrolled = append(ident.Enrolled, domain.Modality(m))
	}
	return &ident, rows.Err()
}

func (s *Store) ActiveTemplate(ctx context.Context, id domain.IdentityID, m domain.Modality) (*template.ProtectedTemplate, error) {
	query := `
		SELECT id, identity_id, modality, payload, salt, version, superseded, created_at
		FROM protected_templates
		WHERE identity_id = $1 AND modality = $2 AND NOT superseded
		ORDER BY version DESC
		LIMIT 1
	`
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, query, id.String(), m.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active template: %w", err)
	}
	return tpl, nil
}

func (s *Store) SaveTemplate(ctx context.Context, tpl *template.ProtectedTemplate) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save template: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE protected_templates SET superseded = TRUE WHERE identity_id = $1 AND modality = $2`,
		tpl.IdentityID.String(), tpl.Modality.String())
	if err != nil {
		return 0, fmt.Errorf("supersede templates: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM protected_templates WHERE identity_id = $1 AND modality = $2`,
		tpl.IdentityID.String(), tpl.Modality.String()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("next template version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO protected_templates (id, identity_id, modality, payload, salt, version, superseded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		uuid.NewString(), tpl.IdentityID.String(), tpl.Modality.String(),
		tpl.Payload, tpl.Salt, version, tpl.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save template: %w", err)
	}
	return version, nil
}

func (s *Store) TemplateHistory(ctx context.Context, id domain.IdentityID, m domain.Modality) ([]*template.ProtectedTemplate, error) {
	query := `
		SELECT id, identity_id, modality, payload, salt, version, superseded, created_at
		FROM protected_templates
		WHERE identity_id = $1 AND modality = $2
		ORDER BY version ASC
	`
	rows, err := s.db.QueryContext(ctx, query, id.String(), m.String())
	if err != nil {
		return nil, fmt.Errorf("template history: %w", err)
	}
	defer rows.Close()

	var out []*template.ProtectedTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) SetBindingProof(ctx context.Context, id domain.IdentityID, proof string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET binding_proof = $2 WHERE id = $1`, id.String(), proof)
	if err != nil {
		return fmt.Errorf("set binding proof: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*template.ProtectedTemplate, error) {
	var tpl template.ProtectedTemplate
	var idStr, identityStr, modality string
	if err := row.Scan(&idStr, &identityStr, &modality, &tpl.Payload, &tpl.Salt,
		&tpl.Version, &tpl.Superseded, &tpl.CreatedAt); err != nil {
		return nil, err
	}
	tid, err := domain.ParseTemplateID(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt template id: %w", err)
	}
	iid, err := domain.ParseIdentityID(identityStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity id: %w", err)
	}
	tpl.ID = tid
	tpl.IdentityID = iid
	tpl.Modality = domain.Modality(modality)
	return &tpl, nil
}
