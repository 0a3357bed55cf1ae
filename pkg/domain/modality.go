package domain

import dErrors "biogate/pkg/domain-errors"

// Modality is a biometric evidence channel.
// Invariant: the value must be one of the supported modalities.
//
// Usage: construct via ParseModality at trust boundaries; direct casting
// bypasses validation.
type Modality string

const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityIris        Modality = "iris"
	ModalityVoice       Modality = "voice"
)

// validModalities is the single source of truth for supported modalities.
var validModalities = map[Modality]bool{
	ModalityFingerprint: true,
	ModalityFace:        true,
	ModalityIris:        true,
	ModalityVoice:       true,
}

// ParseModality constructs a Modality from external input.
//
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseModality(s string) (Modality, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "modality cannot be empty")
	}
	m := Modality(s)
	if !m.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported modality %q", s)
	}
	return m, nil
}

// IsValid checks if the modality is one of the supported enum values.
func (m Modality) IsValid() bool {
	return validModalities[m]
}

// String returns the string representation.
func (m Modality) String() string { return string(m) }
