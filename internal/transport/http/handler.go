// Package httptransport is the thin HTTP layer over the verification
// service. Handlers decode, delegate, and encode; no domain logic lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"biogate/internal/platform/middleware"
	"biogate/internal/transport/http/shared"
	"biogate/internal/verification"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// Service is the verification surface the handlers delegate to.
type Service interface {
	Enroll(ctx context.Context, identityID domain.IdentityID, modality domain.Modality, vector []float64) (*verification.EnrollResult, error)
	Verify(ctx context.Context, identityID domain.IdentityID, captures []verification.Capture) (*verification.VerifyResult, error)
	AuditVerify(ctx context.Context, from, to uint64) (*verification.AuditVerifyResult, error)
	Unlock(ctx context.Context, identityID domain.IdentityID) error
	ResetTamperHalt()
}

// HealthChecker reports backing-store reachability for /healthz.
type HealthChecker func(ctx context.Context) error

// Handler handles the verification endpoints.
type Handler struct {
	logger   *slog.Logger
	svc      Service
	operator middleware.OperatorValidator
	health   HealthChecker
}

type Option func(*Handler)

// WithOperatorValidator guards the operator endpoints with bearer auth.
func WithOperatorValidator(v middleware.OperatorValidator) Option {
	return func(h *Handler) { h.operator = v }
}

// WithHealthChecker adds a dependency probe to /healthz.
func WithHealthChecker(fn HealthChecker) Option {
	return func(h *Handler) { h.health = fn }
}

func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{logger: logger, svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers all routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/identities/{id}/enroll", h.handleEnroll)
		r.Post("/identities/{id}/verify", h.handleVerify)
		r.Get("/audit/verify", h.handleAuditVerify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(h.operator, h.logger))
			r.Post("/identities/{id}/unlock", h.handleUnlock)
			r.Post("/audit/reset-halt", h.handleResetHalt)
		})
	})
}

type enrollRequest struct {
	Modality string    `json:"modality"`
	Vector   []float64 `json:"vector"`
}

type enrollResponse struct {
	Status          verification.Status `json:"status"`
	TemplateVersion int                 `json:"template_version"`
	BindingProof    string              `json:"binding_proof,omitempty"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	modality, err := domain.ParseModality(req.Modality)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	res, err := h.svc.Enroll(ctx, identityID, modality, req.Vector)
	if err != nil {
		h.logError(ctx, "enroll failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, enrollResponse{
		Status:          res.Status,
		TemplateVersion: res.TemplateVersion,
		BindingProof:    res.BindingProof,
	})
}

type captureRequest struct {
	Modality string    `json:"modality"`
	Vector   []float64 `json:"vector"`
	Liveness bool      `json:"liveness"`
}

type verifyRequest struct {
	Captures []captureRequest `json:"captures"`
}

type verifyResponse struct {
	Status      verification.Status `json:"status"`
	FusedScore  float64             `json:"fused_score"`
	Reason      domain.ReasonCode   `json:"reason"`
	Scores      map[string]float64  `json:"scores,omitempty"`
	LockedUntil *time.Time          `json:"locked_until,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	captures := make([]verification.Capture, 0, len(req.Captures))
	for _, c := range req.Captures {
		modality, err := domain.ParseModality(c.Modality)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		captures = append(captures, verification.Capture{
			Modality: modality,
			Vector:   c.Vector,
			Liveness: c.Liveness,
		})
	}

	res, err := h.svc.Verify(ctx, identityID, captures)
	if err != nil {
		h.logError(ctx, "verify failed", err)
		shared.WriteError(w, err)
		return
	}

	scores := make(map[string]float64, len(res.Scores))
	for m, v := range res.Scores {
		scores[m.String()] = v
	}
	shared.WriteJSON(w, http.StatusOK, verifyResponse{
		Status:      res.Status,
		FusedScore:  res.FusedScore,
		Reason:      res.Reason,
		Scores:      scores,
		LockedUntil: res.LockedUntil,
	})
}

type auditVerifyResponse struct {
	OK       bool   `json:"ok"`
	FirstBad uint64 `json:"first_bad,omitempty"`
}

func (h *Handler) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from, err := parseSeq(r.URL.Query().Get("from"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	to, err := parseSeq(r.URL.Query().Get("to"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	res, err := h.svc.AuditVerify(ctx, from, to)
	if err != nil {
		h.logError(ctx, "audit verification failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, auditVerifyResponse{OK: res.OK, FirstBad: res.FirstBad})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.svc.Unlock(ctx, identityID); err != nil {
		h.logError(ctx, "unlock failed", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetHalt(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetTamperHalt()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	log := h.logger.WarnContext
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable) {
		log = h.logger.ErrorContext
	}
	log(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}

func parseSeq(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "invalid sequence number %q", raw)
	}
	return v, nil
}
