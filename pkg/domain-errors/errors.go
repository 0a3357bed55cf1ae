// Package domainerrors provides coded errors so services can branch on
// failure class without string matching. Codes map 1:1 to the verification
// error taxonomy; transports translate them at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks caller errors (malformed or wrong-dimension
	// feature vectors). Rejected before any identity-scoped state is touched.
	CodeInvalidInput Code = "invalid_input"

	// CodeModalityMismatch marks a programming or configuration error where
	// two templates from different modalities were compared. Fatal, surfaced.
	CodeModalityMismatch Code = "modality_mismatch"

	// CodeNoEvidence marks a verify call that supplied zero usable modalities.
	CodeNoEvidence Code = "no_evidence"

	// CodeConflict marks operations rejected by uniqueness policy, such as
	// re-enrolling a modality when overwrite is forbidden.
	CodeConflict Code = "conflict"

	// CodeNotFound marks lookups for identities or templates that do not exist.
	CodeNotFound Code = "not_found"

	// CodeUnavailable marks persistence or timeout failures. Retryable by the
	// caller with backoff; never converted into an accept or reject.
	CodeUnavailable Code = "unavailable"

	// CodeTamperDetected marks an audit chain verification mismatch. Fatal:
	// trust in subsequent decisions is halted pending investigation.
	CodeTamperDetected Code = "tamper_detected"

	// CodeInvariantViolation marks broken internal invariants.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal marks unexpected internal failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so callers always have something to branch on.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is supports errors.Is against sentinel coded errors: two domain errors match
// when their codes match.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}
