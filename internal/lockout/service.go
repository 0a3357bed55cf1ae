// Package lockout enforces brute-force resistance: a per-identity failure
// counter with a sliding window and exponential, capped lockout backoff.
//
// The store layer is pure I/O; all state-machine logic lives here. Callers
// (the verification orchestrator) serialize access per identity, so the
// service itself performs plain read-modify-write against the store.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"biogate/internal/platform/clock"
	"biogate/internal/platform/config"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// Store persists lockout records. Implementations must treat a missing
// record as (nil, nil), not an error.
type Store interface {
	Get(ctx context.Context, id domain.IdentityID) (*Record, error)
	Put(ctx context.Context, rec *Record) error
}

// Service is the per-identity lockout state machine.
type Service struct {
	store  Store
	cfg    config.LockoutConfig
	clock  clock.Clock
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func New(store Store, cfg config.LockoutConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	if cfg.MaxFailures <= 0 {
		return nil, errors.New("max failures must be positive")
	}
	svc := &Service{
		store:  store,
		cfg:    cfg,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Status returns the effective state for an identity plus the lockout
// deadline when locked. Identities with no record are Open with a zero
// counter.
func (s *Service) Status(ctx context.Context, id domain.IdentityID) (State, *Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "read lockout state")
	}
	if rec == nil {
		rec = &Record{IdentityID: id}
	}
	return rec.StateAt(s.clock.Now()), rec, nil
}

// RecordFailure registers one failed attempt and reports whether the
// identity transitioned to Locked as a result. The counter restarts when the
// sliding window has lapsed since the previous failure.
func (s *Service) RecordFailure(ctx context.Context, id domain.IdentityID) (rec *Record, lockedNow bool, err error) {
	now := s.clock.Now()

	rec, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "read lockout state")
	}
	if rec == nil {
		rec = &Record{IdentityID: id}
	}

	if rec.WindowExpired(now, s.cfg.FailureWindow) {
		rec.FailureCount = 0
	}
	rec.FailureCount++
	rec.LastFailureAt = now
	rec.LockedUntil = nil

	if rec.FailureCount >= s.cfg.MaxFailures {
		until := now.Add(s.Backoff(rec.FailureCount))
		rec.LockedUntil = &until
		lockedNow = true
		s.logger.Warn("identity locked out",
			"identity_id", id.String(),
			"failures", rec.FailureCount,
			"locked_until", until,
		)
	}

	if err := s.store.Put(ctx, rec); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "persist lockout state")
	}
	return rec, lockedNow, nil
}

// RecordSuccess resets the failure counter after an accepted verification.
// The record is reset in place, never deleted.
func (s *Service) RecordSuccess(ctx context.Context, id domain.IdentityID) error {
	rec := &Record{IdentityID: id}
	if err := s.store.Put(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "reset lockout state")
	}
	return nil
}

// Clear is the operator unlock: it zeroes the counter and removes any active
// lockout deadline.
func (s *Service) Clear(ctx context.Context, id domain.IdentityID) error {
	if err := s.store.Put(ctx, &Record{IdentityID: id}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "clear lockout state")
	}
	s.logger.Info("lockout cleared", "identity_id", id.String())
	return nil
}

// Restore writes a previously snapshotted record back, compensating a
// mutation whose companion audit append failed.
func (s *Service) Restore(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "restore lockout state")
	}
	return nil
}

// Backoff returns the lockout duration for the given consecutive failure
// count: base * 2^(failures - maxFailures), capped at the configured maximum.
func (s *Service) Backoff(failures int) time.Duration {
	exp := failures - s.cfg.MaxFailures
	if exp < 0 {
		exp = 0
	}
	d := s.cfg.BackoffBase
	for i := 0; i < exp; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if d > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return d
}
