package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"biogate/pkg/domain"
)

// EventType classifies audit events.
type EventType string

const (
	EventEnroll  EventType = "enroll"
	EventVerify  EventType = "verify"
	EventLockout EventType = "lockout"
	EventUnlock  EventType = "unlock"
)

// Event is emitted from domain logic to capture one enrollment or
// verification outcome. Keep it transport-agnostic so stores and sinks can
// fan out.
type Event struct {
	Type       EventType         `json:"type"`
	IdentityID domain.IdentityID `json:"-"`
	Timestamp  time.Time         `json:"timestamp"`

	// Decision is the surfaced outcome: enrolled, accept, reject, lockout.
	Decision string            `json:"decision,omitempty"`
	Reason   domain.ReasonCode `json:"reason,omitempty"`

	FusedScore float64                     `json:"fused_score,omitempty"`
	Scores     map[domain.Modality]float64 `json:"scores,omitempty"`
	Modalities []domain.Modality           `json:"modalities,omitempty"`

	// TemplateVersion and TemplateDigest describe the template an enroll
	// event created. The digest covers the protected payload only; nothing
	// biometric is recoverable from it.
	TemplateVersion int    `json:"template_version,omitempty"`
	TemplateDigest  []byte `json:"template_digest,omitempty"`
}

// payloadEnvelope fixes the canonical serialization of an event. The identity
// ID is folded in explicitly so the digest covers it.
type payloadEnvelope struct {
	IdentityID string `json:"identity_id"`
	Event
}

// Canonicalize returns the canonical JSON payload of the event and its
// SHA-256 content digest. encoding/json emits struct fields in declaration
// order and map keys sorted, so the encoding is stable.
func (e Event) Canonicalize() (payload, digest []byte, err error) {
	payload, err = json.Marshal(payloadEnvelope{
		IdentityID: e.IdentityID.String(),
		Event:      e,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("canonicalize audit event: %w", err)
	}
	sum := sha256.Sum256(payload)
	return payload, sum[:], nil
}

// Record is one persisted link of the audit chain. Append-only: the chain
// from record 1 to record N must recompute to the stored link hashes exactly,
// so a missing or altered decision is detectable.
type Record struct {
	Seq        uint64            `json:"seq"`
	Type       EventType         `json:"type"`
	IdentityID domain.IdentityID `json:"identity_id"`
	Payload    []byte            `json:"payload"`
	Digest     []byte            `json:"digest"`
	Timestamp  time.Time         `json:"timestamp"`
	LinkHash   []byte            `json:"link_hash"`
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Link computes the link hash for a record: H(prevLink || digest). The
// genesis record links from a zero-filled hash.
func Link(prevLink, digest []byte) []byte {
	h := sha256.New()
	if len(prevLink) == 0 {
		prevLink = make([]byte, sha256.Size)
	}
	h.Write(prevLink)
	h.Write(digest)
	return h.Sum(nil)
}
