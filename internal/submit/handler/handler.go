package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"formgate/internal/form"
	"formgate/internal/platform/metrics"
	"formgate/internal/platform/middleware"
	"formgate/internal/submit"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
)

// Service defines the submission operations the handler needs.
type Service interface {
	Begin(ctx context.Context, sessionID domain.SessionID, assertion string) (*submit.Result, error)
	Resume(ctx context.Context, sessionID domain.SessionID, token, assertion string) (*submit.Result, error)
}

// Handler exposes the submission endpoints: starting a submission and
// resuming one after the identity hand-off.
type Handler struct {
	logger    *slog.Logger
	service   Service
	metrics   *metrics.Metrics
	validator middleware.SessionTokenValidator
	limiter   func(http.Handler) http.Handler
}

// New creates a submission Handler. limiter may be nil when rate limiting is
// disabled.
func New(
	service Service,
	validator middleware.SessionTokenValidator,
	logger *slog.Logger,
	m *metrics.Metrics,
	limiter func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   m,
		validator: validator,
		limiter:   limiter,
	}
}

// Register registers the submission routes with the router. Everything
// requires a session token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(h.validator, h.logger))
			if h.limiter != nil {
				r.Use(h.limiter)
			}
			r.Post("/v1/submissions", h.handleBegin)
			r.Post("/v1/submissions/resume", h.handleResume)
		})
	})
}

type beginRequest struct {
	Assertion string `json:"assertion"`
}

type resumeRequest struct {
	HandoffToken string `json:"handoff_token"`
	Assertion    string `json:"assertion"`
}

type submissionResponse struct {
	Status        string            `json:"status"`
	SubmissionID  string            `json:"submission_id,omitempty"`
	AuthorizeURL  string            `json:"authorize_url,omitempty"`
	HandoffToken  string            `json:"handoff_token,omitempty"`
	FieldErrors   []form.FieldError `json:"field_errors,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Message       string            `json:"message,omitempty"`
	AutoSubmitted bool              `json:"auto_submitted,omitempty"`
}

func toSubmissionResponse(result *submit.Result) submissionResponse {
	resp := submissionResponse{
		Status:        string(result.Status),
		AuthorizeURL:  result.AuthorizeURL,
		HandoffToken:  result.HandoffToken,
		FieldErrors:   result.FieldErrors,
		Reason:        string(result.Reason),
		Message:       result.Message,
		AutoSubmitted: result.AutoSubmitted,
	}
	if !result.SubmissionID.IsNil() {
		resp.SubmissionID = result.SubmissionID.String()
	}
	return resp
}

// statusFor maps a submission outcome to its HTTP status. Outcomes are not
// transport errors: a rejected or invalid submission is still a completed
// request, just not a 2xx one.
func statusFor(result *submit.Result) int {
	switch result.Status {
	case submit.StatusSubmitted:
		return http.StatusCreated
	case submit.StatusInvalid:
		return http.StatusBadRequest
	case submit.StatusRejected:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// handleBegin runs the validity gate and either delivers the submission or
// hands the applicant off to the identity provider. The body is optional: an
// absent assertion means no credential is in hand yet.
func (h *Handler) handleBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.service.Begin(ctx, sessionID, req.Assertion)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to begin submission",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, statusFor(result), toSubmissionResponse(result))
}

// handleResume completes a submission after the identity provider sent the
// applicant back with a credential and the hand-off token.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.HandoffToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing hand-off token"))
		return
	}
	if req.Assertion == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing identity assertion"))
		return
	}

	result, err := h.service.Resume(ctx, sessionID, req.HandoffToken, req.Assertion)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to resume submission",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, statusFor(result), toSubmissionResponse(result))
}
