// Package verification composes the template codec, matcher, fusion policy,
// lockout tracker, and audit chain into the public enroll/verify operations.
// It is the only package with knowledge of all of them.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"biogate/internal/audit"
	"biogate/internal/fusion"
	"biogate/internal/identity"
	"biogate/internal/identity/didproof"
	"biogate/internal/lockout"
	"biogate/internal/matcher"
	"biogate/internal/platform/clock"
	"biogate/internal/platform/metrics"
	"biogate/internal/template"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// Service is the verification orchestrator.
//
// Concurrency model: requests for different identities run fully in
// parallel; all mutations for one identity serialize on a keyed lock. The
// audit chain serializes its own append path internally.
type Service struct {
	codec      *template.Codec
	matcher    *matcher.Matcher
	policy     fusion.Policy
	lockouts   *lockout.Service
	identities identity.Store
	chain      *audit.Chain

	proofs *didproof.Signer // nil disables binding proofs
	clock  clock.Clock
	logger *slog.Logger
	meter  *metrics.Metrics
	tracer trace.Tracer

	locks         keyedLocks
	allowReenroll bool
	storeTimeout  time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.meter = m }
}

func WithProofSigner(signer *didproof.Signer) Option {
	return func(s *Service) { s.proofs = signer }
}

func WithReenroll(allow bool) Option {
	return func(s *Service) { s.allowReenroll = allow }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.storeTimeout = d }
}

func New(
	codec *template.Codec,
	m *matcher.Matcher,
	policy fusion.Policy,
	lockouts *lockout.Service,
	identities identity.Store,
	chain *audit.Chain,
	opts ...Option,
) (*Service, error) {
	if codec == nil || m == nil || lockouts == nil || identities == nil || chain == nil {
		return nil, errors.New("codec, matcher, lockout service, identity store, and audit chain are required")
	}
	svc := &Service{
		codec:         codec,
		matcher:       m,
		policy:        policy,
		lockouts:      lockouts,
		identities:    identities,
		chain:         chain,
		clock:         clock.Real{},
		logger:        slog.Default(),
		meter:         metrics.NewForTest(),
		tracer:        otel.Tracer("biogate/verification"),
		allowReenroll: true,
		storeTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Enroll protects a raw feature vector and stores it as the identity's
// active template for the modality. Invalid vectors are rejected before any
// identity-scoped state is touched; everything after that produces exactly
// one audit record.
func (s *Service) Enroll(ctx context.Context, identityID domain.IdentityID, modality domain.Modality, vector []float64) (*EnrollResult, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Enroll",
		trace.WithAttributes(attribute.String("modality", modality.String())))
	defer span.End()

	if err := s.codec.Validate(vector, modality); err != nil {
		return nil, err
	}

	mu := s.locks.forIdentity(identityID)
	mu.Lock()
	defer mu.Unlock()

	ident, err := s.ensureIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	active, err := s.activeTemplate(ctx, identityID, modality)
	if err != nil {
		return nil, err
	}
	if active != nil && !s.allowReenroll {
		if _, err := s.appendAudit(ctx, audit.Event{
			Type:       audit.EventEnroll,
			IdentityID: identityID,
			Timestamp:  s.clock.Now(),
			Decision:   string(StatusReject),
			Reason:     domain.ReasonAlreadyEnrolled,
			Modalities: []domain.Modality{modality},
		}); err != nil {
			return nil, err
		}
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"identity already enrolled for %s and re-enrollment is disabled", modality)
	}

	tpl, err := s.codec.Protect(vector, modality, ident.Salt)
	if err != nil {
		return nil, err
	}
	tpl.IdentityID = identityID
	tpl.ID = domain.NewTemplateID()

	version, err := s.saveTemplate(ctx, tpl)
	if err != nil {
		return nil, err
	}
	tpl.Version = version

	result := &EnrollResult{Status: StatusEnrolled, TemplateVersion: version}
	if s.proofs != nil && ident.BindingProof == "" {
		proof, err := s.proofs.BindingProof(identityID, modality, tpl.Digest())
		if err != nil {
			return nil, err
		}
		if err := s.identities.SetBindingProof(ctx, identityID, proof); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store binding proof")
		}
		result.BindingProof = proof
	}

	if _, err := s.appendAudit(ctx, audit.Event{
		Type:            audit.EventEnroll,
		IdentityID:      identityID,
		Timestamp:       s.clock.Now(),
		Decision:        string(StatusEnrolled),
		Reason:          domain.ReasonOK,
		Modalities:      []domain.Modality{modality},
		TemplateVersion: version,
		TemplateDigest:  tpl.Digest(),
	}); err != nil {
		return nil, err
	}

	s.meter.Enrollments.Inc()
	s.logger.Info("template enrolled",
		"identity_id", identityID.String(),
		"modality", modality.String(),
		"version", version,
	)
	return result, nil
}

// Verify matches live captures against the identity's enrolled templates and
// returns a calibrated decision. The lockout tracker is consulted first: a
// locked identity is rejected without ever invoking the matcher. The lockout
// mutation and the audit append for one attempt apply as a single unit:
// both or neither.
func (s *Service) Verify(ctx context.Context, identityID domain.IdentityID, captures []Capture) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	if s.chain.Halted() {
		return nil, dErrors.New(dErrors.CodeTamperDetected,
			"audit chain integrity is compromised; decisions are suspended")
	}
	if len(captures) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one capture is required")
	}
	for _, c := range captures {
		if err := s.codec.Validate(c.Vector, c.Modality); err != nil {
			return nil, err
		}
	}

	ident, err := s.getIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	mu := s.locks.forIdentity(identityID)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		// Abandoned before any mutation: surface without touching state.
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "request abandoned")
	}

	state, rec, err := s.lockoutStatus(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if state == lockout.StateLocked {
		// Short-circuit: no scoring, counter untouched, but the refusal is
		// still audited.
		if _, err := s.appendAudit(ctx, audit.Event{
			Type:       audit.EventVerify,
			IdentityID: identityID,
			Timestamp:  s.clock.Now(),
			Decision:   string(StatusLockout),
			Reason:     domain.ReasonLockout,
		}); err != nil {
			return nil, err
		}
		s.meter.Verifications.WithLabelValues(string(StatusLockout)).Inc()
		return &VerifyResult{
			Status:      StatusLockout,
			Reason:      domain.ReasonLockout,
			LockedUntil: rec.LockedUntil,
		}, nil
	}

	scores, scoredModalities, err := s.scoreCaptures(ctx, ident, captures)
	if err != nil {
		return nil, err
	}

	var decision fusion.Decision
	if len(scores) == 0 {
		// Every capture was excluded (failed liveness or unenrolled
		// modality): reject with reason, never a silent decision.
		decision = fusion.Decision{Accept: false, Reason: domain.ReasonNoEvidence}
	} else {
		decision, err = s.policy.Decide(scores)
		if err != nil {
			return nil, err
		}
	}

	return s.commitAttempt(ctx, identityID, rec, decision, scores, scoredModalities)
}

// commitAttempt applies the lockout transition and audit append for one
// scored attempt as an atomic unit: a failed audit append rolls the lockout
// mutation back and the attempt surfaces as Unavailable.
func (s *Service) commitAttempt(
	ctx context.Context,
	identityID domain.IdentityID,
	prev *lockout.Record,
	decision fusion.Decision,
	scores map[domain.Modality]float64,
	modalities []domain.Modality,
) (*VerifyResult, error) {
	snapshot := prev.Clone()

	var lockedNow bool
	var lockedUntil *time.Time
	if decision.Accept {
		if err := s.retryStore(ctx, func(ctx context.Context) error {
			return s.lockouts.RecordSuccess(ctx, identityID)
		}); err != nil {
			return nil, err
		}
	} else {
		var rec *lockout.Record
		err := s.retryStore(ctx, func(ctx context.Context) error {
			var err error
			rec, lockedNow, err = s.lockouts.RecordFailure(ctx, identityID)
			return err
		})
		if err != nil {
			return nil, err
		}
		lockedUntil = rec.LockedUntil
	}

	status := StatusReject
	if decision.Accept {
		status = StatusAccept
	}

	now := s.clock.Now()
	if _, err := s.appendAudit(ctx, audit.Event{
		Type:       audit.EventVerify,
		IdentityID: identityID,
		Timestamp:  now,
		Decision:   string(status),
		Reason:     decision.Reason,
		FusedScore: decision.FusedScore,
		Scores:     scores,
		Modalities: modalities,
	}); err != nil {
		if restoreErr := s.lockouts.Restore(ctx, snapshot); restoreErr != nil {
			s.logger.Error("lockout rollback failed after audit append failure",
				"identity_id", identityID.String(), "error", restoreErr)
		}
		return nil, err
	}

	if lockedNow {
		// The transition itself is a separate auditable event. Appended after
		// the attempt record; chain order preserves causality.
		if _, err := s.appendAudit(ctx, audit.Event{
			Type:       audit.EventLockout,
			IdentityID: identityID,
			Timestamp:  now,
			Reason:     domain.ReasonLockout,
		}); err != nil {
			s.logger.Error("lockout transition audit append failed",
				"identity_id", identityID.String(), "error", err)
		}
		s.meter.LockoutsTriggered.Inc()
	}

	s.meter.Verifications.WithLabelValues(string(status)).Inc()
	return &VerifyResult{
		Status:      status,
		FusedScore:  decision.FusedScore,
		Reason:      decision.Reason,
		Scores:      scores,
		LockedUntil: lockedUntil,
	}, nil
}

// scoreCaptures runs codec and matcher for each usable capture in parallel.
// Both are pure, so no locking is needed.
func (s *Service) scoreCaptures(ctx context.Context, ident *identity.Identity, captures []Capture) (map[domain.Modality]float64, []domain.Modality, error) {
	var mu sync.Mutex
	scores := make(map[domain.Modality]float64)
	var scored []domain.Modality

	g, ctx := errgroup.WithContext(ctx)
	for _, capture := range captures {
		if !capture.Liveness {
			s.logger.Debug("capture excluded: liveness not asserted",
				"identity_id", ident.ID.String(), "modality", capture.Modality.String())
			continue
		}
		if !ident.HasModality(capture.Modality) {
			s.logger.Debug("capture excluded: modality not enrolled",
				"identity_id", ident.ID.String(), "modality", capture.Modality.String())
			continue
		}

		g.Go(func() error {
			stored, err := s.activeTemplate(ctx, ident.ID, capture.Modality)
			if err != nil {
				return err
			}
			if stored == nil {
				return nil
			}

			live, err := s.codec.PrepareForMatch(capture.Vector, capture.Modality, ident.Salt)
			if err != nil {
				return err
			}

			start := time.Now()
			score, err := s.matcher.Score(stored, live)
			if err != nil {
				return err
			}
			s.meter.MatchDuration.Observe(time.Since(start).Seconds())

			mu.Lock()
			scores[capture.Modality] = score
			scored = append(scored, capture.Modality)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scores, scored, nil
}

// AuditVerify recomputes the audit chain over [from, to]. A detected
// mismatch halts all subsequent decisions until ResetTamperHalt.
func (s *Service) AuditVerify(ctx context.Context, from, to uint64) (*AuditVerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "verification.AuditVerify")
	defer span.End()

	ok, firstBad, err := s.chain.VerifyChain(ctx, from, to)
	if err != nil {
		return nil, err
	}
	outcome := "ok"
	if !ok {
		outcome = "tamper"
	}
	s.meter.ChainVerifications.WithLabelValues(outcome).Inc()
	return &AuditVerifyResult{OK: ok, FirstBad: firstBad}, nil
}

// ResetTamperHalt re-enables decisions after an operator has investigated a
// tamper report.
func (s *Service) ResetTamperHalt() {
	s.chain.ResetHalt()
	s.logger.Warn("audit tamper halt cleared by operator")
}

// Unlock is the operator override clearing an identity's lockout state. The
// clear is audited as an unlock event.
func (s *Service) Unlock(ctx context.Context, identityID domain.IdentityID) error {
	mu := s.locks.forIdentity(identityID)
	mu.Lock()
	defer mu.Unlock()

	_, prev, err := s.lockoutStatus(ctx, identityID)
	if err != nil {
		return err
	}
	if err := s.lockouts.Clear(ctx, identityID); err != nil {
		return err
	}
	if _, err := s.appendAudit(ctx, audit.Event{
		Type:       audit.EventUnlock,
		IdentityID: identityID,
		Timestamp:  s.clock.Now(),
		Reason:     domain.ReasonOK,
	}); err != nil {
		if restoreErr := s.lockouts.Restore(ctx, prev); restoreErr != nil {
			s.logger.Error("lockout rollback failed after audit append failure",
				"identity_id", identityID.String(), "error", restoreErr)
		}
		return err
	}
	return nil
}

// BindingProof returns the identity's stored DID binding proof.
func (s *Service) BindingProof(ctx context.Context, identityID domain.IdentityID) (string, error) {
	ident, err := s.getIdentity(ctx, identityID)
	if err != nil {
		return "", err
	}
	return ident.BindingProof, nil
}

// --- store access helpers -------------------------------------------------

// retryStore runs a persistence operation under the store timeout, retrying
// once on failure before surfacing Unavailable.
func (s *Service) retryStore(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		return fn(opCtx)
	}
	if err := attempt(); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(ctx.Err(), dErrors.CodeUnavailable, "request abandoned")
		}
		if err := attempt(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "persistence failure")
		}
	}
	return nil
}

func (s *Service) ensureIdentity(ctx context.Context, id domain.IdentityID) (*identity.Identity, error) {
	var ident *identity.Identity
	err := s.retryStore(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.identities.Ensure(ctx, id)
		return err
	})
	return ident, err
}

func (s *Service) getIdentity(ctx context.Context, id domain.IdentityID) (*identity.Identity, error) {
	var ident *identity.Identity
	err := s.retryStore(ctx, func(ctx context.Context) error {
		var err error
		ident, err = s.identities.Get(ctx, id)
		if err != nil && dErrors.HasCode(err, dErrors.CodeNotFound) {
			// Not a persistence failure; do not retry or mask.
			ident = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, identity.ErrNotFound
	}
	return ident, nil
}

func (s *Service) activeTemplate(ctx context.Context, id domain.IdentityID, m domain.Modality) (*template.ProtectedTemplate, error) {
	var tpl *template.ProtectedTemplate
	err := s.retryStore(ctx, func(ctx context.Context) error {
		var err error
		tpl, err = s.identities.ActiveTemplate(ctx, id, m)
		return err
	})
	return tpl, err
}

func (s *Service) saveTemplate(ctx context.Context, tpl *template.ProtectedTemplate) (int, error) {
	var version int
	err := s.retryStore(ctx, func(ctx context.Context) error {
		var err error
		version, err = s.identities.SaveTemplate(ctx, tpl)
		return err
	})
	return version, err
}

func (s *Service) lockoutStatus(ctx context.Context, id domain.IdentityID) (lockout.State, *lockout.Record, error) {
	var state lockout.State
	var rec *lockout.Record
	err := s.retryStore(ctx, func(ctx context.Context) error {
		var err error
		state, rec, err = s.lockouts.Status(ctx, id)
		return err
	})
	return state, rec, err
}

func (s *Service) appendAudit(ctx context.Context, ev audit.Event) (*audit.Record, error) {
	rec, err := s.chain.Append(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.meter.AuditAppends.Inc()
	return rec, nil
}
