// Package identity owns enrolled subjects and their protected template
// versions. Raw feature vectors never reach this package; only codec output
// is stored.
package identity

import (
	"context"

	"biogate/internal/template"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// ErrNotFound keeps identity-store 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "identity not found")

// Store persists identities and their template versions.
//
// SaveTemplate supersedes any currently active template for the same
// modality (the old version is retained for audit, flagged superseded) and
// returns the new version number, starting at 1.
type Store interface {
	// Ensure returns the identity, creating it with a fresh protection salt
	// when missing.
	Ensure(ctx context.Context, id domain.IdentityID) (*Identity, error)

	// Get returns the identity or ErrNotFound.
	Get(ctx context.Context, id domain.IdentityID) (*Identity, error)

	// ActiveTemplate returns the active template for the modality, or
	// (nil, nil) when none is enrolled.
	ActiveTemplate(ctx context.Context, id domain.IdentityID, m domain.Modality) (*template.ProtectedTemplate, error)

	// SaveTemplate stores a new template version and makes it active.
	SaveTemplate(ctx context.Context, tpl *template.ProtectedTemplate) (version int, err error)

	// TemplateHistory returns all versions for a modality, oldest first.
	TemplateHistory(ctx context.Context, id domain.IdentityID, m domain.Modality) ([]*template.ProtectedTemplate, error)

	// SetBindingProof attaches the DID binding proof to the identity.
	SetBindingProof(ctx context.Context, id domain.IdentityID, proof string) error
}
