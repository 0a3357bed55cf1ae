package domain

// ReasonCode explains a verification decision. Carried on results and audit
// records so the outcome of any attempt can be reconstructed later.
type ReasonCode string

const (
	ReasonOK              ReasonCode = "ok"
	ReasonBelowThreshold  ReasonCode = "below_threshold"
	ReasonFloorViolation  ReasonCode = "floor_violation"
	ReasonNoEvidence      ReasonCode = "no_evidence"
	ReasonLockout         ReasonCode = "lockout"
	ReasonAlreadyEnrolled ReasonCode = "already_enrolled"
)
