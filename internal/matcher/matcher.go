// Package matcher scores the similarity of two protected templates of the
// same modality. Scoring happens entirely in the protected bit-code space;
// raw feature vectors are never seen here.
package matcher

import (
	"math/bits"

	"biogate/internal/template"
	dErrors "biogate/pkg/domain-errors"
)

// Opener decrypts a protected payload into its comparable bit code.
// Implemented by the template codec.
type Opener interface {
	Open(tpl *template.ProtectedTemplate) ([]byte, error)
}

// Matcher computes Hamming similarity over opened bit codes. Deterministic
// and side-effect-free; safe for unbounded parallel use.
type Matcher struct {
	opener Opener
}

func New(opener Opener) *Matcher {
	return &Matcher{opener: opener}
}

// Score returns the similarity of stored and live in [0,1].
// Identical templates score exactly 1.0, and no other template can score
// higher against stored than stored itself (Hamming similarity is maximal at
// distance zero).
func (m *Matcher) Score(stored, live *template.ProtectedTemplate) (float64, error) {
	if stored == nil || live == nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "both templates are required")
	}
	if stored.Modality != live.Modality {
		return 0, dErrors.Newf(dErrors.CodeModalityMismatch,
			"cannot compare %s template against %s template", stored.Modality, live.Modality)
	}

	a, err := m.opener.Open(stored)
	if err != nil {
		return 0, err
	}
	b, err := m.opener.Open(live)
	if err != nil {
		return 0, err
	}
	if len(a) != len(b) || len(a) == 0 {
		return 0, dErrors.Newf(dErrors.CodeInvariantViolation,
			"bit codes differ in width: %d vs %d bytes", len(a), len(b))
	}

	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}

	score := 1 - float64(dist)/float64(len(a)*8)
	return clamp(score), nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
