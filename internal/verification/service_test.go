package verification_test

import (
	"bytes"
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"biogate/internal/audit"
	auditmem "biogate/internal/audit/store/memory"
	"biogate/internal/fusion"
	"biogate/internal/identity/didproof"
	identmem "biogate/internal/identity/store/memory"
	"biogate/internal/lockout"
	lockmem "biogate/internal/lockout/store/memory"
	"biogate/internal/matcher"
	"biogate/internal/platform/clock"
	"biogate/internal/platform/config"
	"biogate/internal/template"
	"biogate/internal/verification"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// countingOpener wraps the codec so tests can assert whether the matcher ran.
type countingOpener struct {
	inner *template.Codec
	calls atomic.Int64
}

func (o *countingOpener) Open(tpl *template.ProtectedTemplate) ([]byte, error) {
	o.calls.Add(1)
	return o.inner.Open(tpl)
}

// flakyAuditStore delegates to the in-memory audit store but fails appends on
// demand, including the retry.
type flakyAuditStore struct {
	*auditmem.Store
	failAppends atomic.Bool
}

func (s *flakyAuditStore) Append(ctx context.Context, rec *audit.Record) error {
	if s.failAppends.Load() {
		return dErrors.New(dErrors.CodeUnavailable, "append refused")
	}
	return s.Store.Append(ctx, rec)
}

// vec produces a deterministic feature vector. Phase math.Pi negates every
// component, which flips every projected bit and scores exactly 0 against
// phase 0. That keeps accept and reject outcomes fully deterministic.
func vec(n int, phase float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Sin(float64(i)*1.3 + phase)
	}
	return v
}

const (
	fpDims   = 8
	faceDims = 16
)

type ServiceSuite struct {
	suite.Suite
	ctx context.Context

	codec      *template.Codec
	opener     *countingOpener
	lockouts   *lockout.Service
	lockStore  *lockmem.Store
	identities *identmem.Store
	auditStore *flakyAuditStore
	chain      *audit.Chain
	clock      *clock.Fake
	svc        *verification.Service

	id domain.IdentityID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	codec, err := template.NewCodec(bytes.Repeat([]byte{0x42}, 32), config.CodecConfig{
		FingerprintDims: fpDims,
		FaceDims:        faceDims,
		IrisDims:        32,
		VoiceDims:       12,
		CodeBits:        128,
	})
	s.Require().NoError(err)
	s.codec = codec
	s.opener = &countingOpener{inner: codec}

	s.lockStore = lockmem.New()
	s.lockouts, err = lockout.New(s.lockStore, config.LockoutConfig{
		MaxFailures:   3,
		FailureWindow: 15 * time.Minute,
		BackoffBase:   time.Minute,
		BackoffMax:    8 * time.Minute,
	}, lockout.WithClock(s.clock))
	s.Require().NoError(err)

	s.identities = identmem.New()
	s.auditStore = &flakyAuditStore{Store: auditmem.New()}
	s.chain, err = audit.NewChain(s.ctx, s.auditStore)
	s.Require().NoError(err)

	policy := fusion.NewPolicy(config.FusionConfig{
		Threshold:         0.7,
		Floor:             0.5,
		FingerprintWeight: 0.6,
		FaceWeight:        0.4,
		IrisWeight:        0.2,
		VoiceWeight:       0.1,
	})

	s.svc, err = verification.New(
		codec,
		matcher.New(s.opener),
		policy,
		s.lockouts,
		s.identities,
		s.chain,
		verification.WithClock(s.clock),
		verification.WithProofSigner(didproof.NewSigner(bytes.Repeat([]byte{0x11}, 32), "biogate-test")),
	)
	s.Require().NoError(err)

	s.id = domain.NewIdentityID()
	res, err := s.svc.Enroll(s.ctx, s.id, domain.ModalityFingerprint, vec(fpDims, 0))
	s.Require().NoError(err)
	s.Require().Equal(verification.StatusEnrolled, res.Status)
	s.Require().Equal(1, res.TemplateVersion)
	s.Require().NotEmpty(res.BindingProof, "first enrollment issues a binding proof")
}

func (s *ServiceSuite) goodCapture() []verification.Capture {
	return []verification.Capture{
		{Modality: domain.ModalityFingerprint, Vector: vec(fpDims, 0), Liveness: true},
	}
}

func (s *ServiceSuite) badCapture() []verification.Capture {
	return []verification.Capture{
		{Modality: domain.ModalityFingerprint, Vector: vec(fpDims, math.Pi), Liveness: true},
	}
}

func (s *ServiceSuite) TestVerifyAccept() {
	head := s.chain.Head()

	res, err := s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusAccept, res.Status)
	s.Equal(domain.ReasonOK, res.Reason)
	s.Equal(1.0, res.FusedScore)
	s.Equal(1.0, res.Scores[domain.ModalityFingerprint])

	s.Equal(head+1, s.chain.Head(), "every decision appends exactly one record")

	_, rec, err := s.lockouts.Status(s.ctx, s.id)
	s.Require().NoError(err)
	s.Equal(0, rec.FailureCount, "an accept resets the failure counter")
}

func (s *ServiceSuite) TestVerifyRejectBelowFloor() {
	res, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusReject, res.Status)
	s.Equal(domain.ReasonFloorViolation, res.Reason)
	s.Equal(0.0, res.Scores[domain.ModalityFingerprint])

	_, rec, err := s.lockouts.Status(s.ctx, s.id)
	s.Require().NoError(err)
	s.Equal(1, rec.FailureCount)
}

func (s *ServiceSuite) TestMultiModalFloorViolation() {
	_, err := s.svc.Enroll(s.ctx, s.id, domain.ModalityFace, vec(faceDims, 0))
	s.Require().NoError(err)

	res, err := s.svc.Verify(s.ctx, s.id, []verification.Capture{
		{Modality: domain.ModalityFingerprint, Vector: vec(fpDims, 0), Liveness: true},
		{Modality: domain.ModalityFace, Vector: vec(faceDims, math.Pi), Liveness: true},
	})
	s.Require().NoError(err)
	s.Equal(verification.StatusReject, res.Status,
		"a strong fused score cannot carry a modality below the floor")
	s.Equal(domain.ReasonFloorViolation, res.Reason)
	s.Equal(1.0, res.Scores[domain.ModalityFingerprint])
	s.Equal(0.0, res.Scores[domain.ModalityFace])
}

func (s *ServiceSuite) TestFourFailuresLockWithoutScoringTheFourth() {
	for i := 0; i < 3; i++ {
		res, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
		s.Require().NoError(err)
		s.Require().Equal(verification.StatusReject, res.Status, "attempt %d", i+1)
	}
	scored := s.opener.calls.Load()

	res, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusLockout, res.Status)
	s.Equal(domain.ReasonLockout, res.Reason)
	s.Require().NotNil(res.LockedUntil)
	s.Equal(s.clock.Now().Add(time.Minute), *res.LockedUntil)

	s.Equal(scored, s.opener.calls.Load(),
		"a locked identity must be refused before the matcher runs")
}

func (s *ServiceSuite) TestLockoutExpiresThenAcceptSucceeds() {
	for i := 0; i < 3; i++ {
		_, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
		s.Require().NoError(err)
	}
	res, err := s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)
	s.Require().Equal(verification.StatusLockout, res.Status)

	s.clock.Advance(time.Minute + time.Second)

	res, err = s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusAccept, res.Status)
}

func (s *ServiceSuite) TestOperatorUnlock() {
	for i := 0; i < 3; i++ {
		_, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
		s.Require().NoError(err)
	}

	s.Require().NoError(s.svc.Unlock(s.ctx, s.id))

	res, err := s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusAccept, res.Status)
}

func (s *ServiceSuite) TestReenrollBumpsVersion() {
	res, err := s.svc.Enroll(s.ctx, s.id, domain.ModalityFingerprint, vec(fpDims, 0.2))
	s.Require().NoError(err)
	s.Equal(2, res.TemplateVersion)
	s.Empty(res.BindingProof, "the binding proof is issued once, on first enrollment")

	tpl, err := s.identities.ActiveTemplate(s.ctx, s.id, domain.ModalityFingerprint)
	s.Require().NoError(err)
	s.Equal(2, tpl.Version)
}

func (s *ServiceSuite) TestReenrollDisabled() {
	svc, err := verification.New(
		s.codec, matcher.New(s.opener), fusion.NewPolicy(config.FusionConfig{Threshold: 0.7, Floor: 0.5, FingerprintWeight: 1}),
		s.lockouts, s.identities, s.chain,
		verification.WithClock(s.clock),
		verification.WithReenroll(false),
	)
	s.Require().NoError(err)

	head := s.chain.Head()
	_, err = svc.Enroll(s.ctx, s.id, domain.ModalityFingerprint, vec(fpDims, 0))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(head+1, s.chain.Head(), "the refused enrollment is still audited")
}

func (s *ServiceSuite) TestLivenessFailureYieldsNoEvidence() {
	scored := s.opener.calls.Load()

	res, err := s.svc.Verify(s.ctx, s.id, []verification.Capture{
		{Modality: domain.ModalityFingerprint, Vector: vec(fpDims, 0), Liveness: false},
	})
	s.Require().NoError(err)
	s.Equal(verification.StatusReject, res.Status)
	s.Equal(domain.ReasonNoEvidence, res.Reason)
	s.Equal(scored, s.opener.calls.Load())

	_, rec, err := s.lockouts.Status(s.ctx, s.id)
	s.Require().NoError(err)
	s.Equal(1, rec.FailureCount, "a no-evidence attempt still counts as a failure")
}

func (s *ServiceSuite) TestUnenrolledModalityYieldsNoEvidence() {
	res, err := s.svc.Verify(s.ctx, s.id, []verification.Capture{
		{Modality: domain.ModalityVoice, Vector: vec(12, 0), Liveness: true},
	})
	s.Require().NoError(err)
	s.Equal(verification.StatusReject, res.Status)
	s.Equal(domain.ReasonNoEvidence, res.Reason)
}

func (s *ServiceSuite) TestUnknownIdentity() {
	_, err := s.svc.Verify(s.ctx, domain.NewIdentityID(), s.goodCapture())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestEmptyCapturesRejectedBeforeAnyState() {
	head := s.chain.Head()
	_, err := s.svc.Verify(s.ctx, s.id, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Equal(head, s.chain.Head())
}

func (s *ServiceSuite) TestWrongDimensionsRejected() {
	_, err := s.svc.Verify(s.ctx, s.id, []verification.Capture{
		{Modality: domain.ModalityFingerprint, Vector: vec(fpDims+1, 0), Liveness: true},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestTamperHaltsDecisions() {
	_, err := s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)

	s.auditStore.Corrupt(2, []byte(`{"forged":true}`))

	res, err := s.svc.AuditVerify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.False(res.OK)
	s.Equal(uint64(2), res.FirstBad)

	_, err = s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTamperDetected),
		"a halted chain suspends all decisions")

	s.svc.ResetTamperHalt()
	_, err = s.svc.Verify(s.ctx, s.id, s.goodCapture())
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestAuditFailureRollsLockoutBack() {
	_, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
	s.Require().NoError(err)

	s.auditStore.failAppends.Store(true)
	_, err = s.svc.Verify(s.ctx, s.id, s.badCapture())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.auditStore.failAppends.Store(false)

	_, rec, err := s.lockouts.Status(s.ctx, s.id)
	s.Require().NoError(err)
	s.Equal(1, rec.FailureCount,
		"an attempt that cannot be audited must not advance the counter")
}

func (s *ServiceSuite) TestConcurrentFailuresDoNotRacePastThreshold() {
	const attempts = 8
	head := s.chain.Head()

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
			require.NoError(s.T(), err)
		}()
	}
	wg.Wait()

	state, rec, err := s.lockouts.Status(s.ctx, s.id)
	s.Require().NoError(err)
	s.Equal(lockout.StateLocked, state)
	s.Equal(3, rec.FailureCount,
		"attempts after the lock transition must not advance the counter")

	// 8 verify records plus exactly one lockout transition record.
	s.Equal(head+attempts+1, s.chain.Head())

	res, err := s.svc.AuditVerify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(res.OK)
}

func (s *ServiceSuite) TestIndependentIdentities() {
	other := domain.NewIdentityID()
	_, err := s.svc.Enroll(s.ctx, other, domain.ModalityFingerprint, vec(fpDims, 0))
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		_, err := s.svc.Verify(s.ctx, s.id, s.badCapture())
		s.Require().NoError(err)
	}

	res, err := s.svc.Verify(s.ctx, other, s.goodCapture())
	s.Require().NoError(err)
	s.Equal(verification.StatusAccept, res.Status,
		"a lockout is scoped to one identity")
}

func (s *ServiceSuite) TestBindingProofVerifies() {
	proof, err := s.svc.BindingProof(s.ctx, s.id)
	s.Require().NoError(err)
	s.Require().NotEmpty(proof)

	claims, err := didproof.NewSigner(bytes.Repeat([]byte{0x11}, 32), "biogate-test").Verify(proof)
	s.Require().NoError(err)
	s.Equal(s.id.String(), claims.Subject)
}
