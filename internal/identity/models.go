package identity

import (
	"time"

	"biogate/pkg/domain"
)

// Identity is an enrolled subject: a stable identifier, the protection salt
// all of its templates derive from, and at most one active template per
// modality. Owned exclusively by the verification orchestrator; mutated only
// through enroll operations.
type Identity struct {
	ID        domain.IdentityID `json:"id"`
	Salt      []byte            `json:"salt"`
	CreatedAt time.Time         `json:"created_at"`

	// BindingProof is the optional DID binding proof issued on first
	// enrollment: a compact JWS binding the identity to its template digest.
	BindingProof string `json:"binding_proof,omitempty"`

	// Enrolled lists modalities with an active template.
	Enrolled []domain.Modality `json:"enrolled"`
}

// HasModality reports whether an active template exists for the modality.
func (i *Identity) HasModality(m domain.Modality) bool {
	for _, e := range i.Enrolled {
		if e == m {
			return true
		}
	}
	return false
}
