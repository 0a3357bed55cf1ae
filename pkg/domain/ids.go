// Package domain holds typed identifiers and shared value types.
// Typed IDs make it a compile error to pass a template ID where an identity
// ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "biogate/pkg/domain-errors"
)

// IdentityID identifies an enrolled subject.
type IdentityID uuid.UUID

// TemplateID identifies one stored protected template version.
type TemplateID uuid.UUID

// NewIdentityID generates a fresh identity ID.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

// NewTemplateID generates a fresh template ID.
func NewTemplateID() TemplateID { return TemplateID(uuid.New()) }

// ParseIdentityID constructs an IdentityID from external input.
//
// Invariant: IDs must be valid, non-empty, non-nil UUIDs. Call at trust
// boundaries; direct casting bypasses validation.
func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity id")
	if err != nil {
		return IdentityID{}, err
	}
	return IdentityID(u), nil
}

// ParseTemplateID constructs a TemplateID from external input.
func ParseTemplateID(s string) (TemplateID, error) {
	u, err := parseUUID(s, "template id")
	if err != nil {
		return TemplateID{}, err
	}
	return TemplateID(u), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil UUID", what)
	}
	return u, nil
}

func (id IdentityID) String() string { return uuid.UUID(id).String() }
func (id IdentityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id TemplateID) String() string { return uuid.UUID(id).String() }
func (id TemplateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
