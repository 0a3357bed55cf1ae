package lockout

import (
	"time"

	"biogate/pkg/domain"
)

// State names the two lockout states. No terminal state: identities cycle
// between Open and Locked for their whole lifetime.
type State string

const (
	StateOpen   State = "open"
	StateLocked State = "locked"
)

// Record tracks consecutive verification failures for one identity.
// Mutated atomically per attempt under the identity lock; reset, never
// deleted.
type Record struct {
	IdentityID    domain.IdentityID `json:"identity_id"`
	FailureCount  int               `json:"failure_count"`
	LockedUntil   *time.Time        `json:"locked_until,omitempty"`
	LastFailureAt time.Time         `json:"last_failure_at"`
}

// StateAt reports the effective state at the given instant. A lockout whose
// deadline has passed reads as Open; the caller persists the reopen lazily on
// the next attempt.
func (r *Record) StateAt(now time.Time) State {
	if r.LockedUntil != nil && now.Before(*r.LockedUntil) {
		return StateLocked
	}
	return StateOpen
}

// WindowExpired reports whether the failure window has elapsed since the last
// failure, meaning the counter restarts on the next failure.
func (r *Record) WindowExpired(now time.Time, window time.Duration) bool {
	return !r.LastFailureAt.IsZero() && now.Sub(r.LastFailureAt) > window
}

// Clone returns a copy so callers can snapshot state for rollback.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LockedUntil != nil {
		u := *r.LockedUntil
		cp.LockedUntil = &u
	}
	return &cp
}
