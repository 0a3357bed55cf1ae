package verification

import (
	"time"

	"biogate/pkg/domain"
)

// Status is the surfaced outcome of a public operation.
type Status string

const (
	StatusEnrolled Status = "enrolled"
	StatusAccept   Status = "accept"
	StatusReject   Status = "reject"
	StatusLockout  Status = "lockout"
)

// Capture is one live biometric sample handed in by the capture source. The
// liveness flag is trusted as given; liveness detection itself happens
// upstream.
type Capture struct {
	Modality domain.Modality
	Vector   []float64
	Liveness bool
}

// EnrollResult reports a completed enrollment.
type EnrollResult struct {
	Status          Status
	TemplateVersion int
	// BindingProof is set on first enrollment when proof issuance is
	// configured.
	BindingProof string
}

// VerifyResult reports one verification decision. Exactly one result (and
// one audit record) exists per verify call.
type VerifyResult struct {
	Status     Status
	FusedScore float64
	Reason     domain.ReasonCode
	Scores     map[domain.Modality]float64
	// LockedUntil is set when Status is lockout.
	LockedUntil *time.Time
}

// AuditVerifyResult reports a chain verification run.
type AuditVerifyResult struct {
	OK       bool
	FirstBad uint64
}
