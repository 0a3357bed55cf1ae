package template

import (
	"crypto/sha256"
	"time"

	"biogate/pkg/domain"
)

// ProtectedTemplate is the storable, protected representation of one
// biometric capture. The payload is produced only by the Codec; raw feature
// vectors never persist. Immutable once created; re-enrollment supersedes
// rather than mutates, with the old version retained for audit.
type ProtectedTemplate struct {
	ID         domain.TemplateID `json:"id"`
	IdentityID domain.IdentityID `json:"identity_id"`
	Modality   domain.Modality   `json:"modality"`
	Payload    []byte            `json:"payload"`
	Salt       []byte            `json:"salt"`
	Version    int               `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	Superseded bool              `json:"superseded"`
}

// Digest returns the SHA-256 of the protected payload. Used for audit
// payload digests and DID binding proofs; never reveals the feature vector.
func (t *ProtectedTemplate) Digest() []byte {
	sum := sha256.Sum256(t.Payload)
	return sum[:]
}
