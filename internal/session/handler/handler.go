package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"formgate/internal/platform/metrics"
	"formgate/internal/platform/middleware"
	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
)

// Service defines the session operations the handler needs.
type Service interface {
	Start(ctx context.Context, variant domain.FormVariant) (*models.Session, string, error)
	Get(ctx context.Context, sessionID domain.SessionID) (*models.Session, error)
	End(ctx context.Context, sessionID domain.SessionID) error
}

// Handler exposes the session endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	metrics   *metrics.Metrics
	validator middleware.SessionTokenValidator
	limiter   func(http.Handler) http.Handler
}

// New creates a session Handler. limiter may be nil when rate limiting is
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

// Register registers the session routes with the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter)
			}
			r.Post("/v1/sessions", h.handleStart)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(h.validator, h.logger))
			r.Get("/v1/sessions/me", h.handleGet)
			r.Delete("/v1/sessions/me", h.handleEnd)
		})
	})
}

type startSessionRequest struct {
	FormVariant string `json:"form_variant"`
}

type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	FormVariant string    `json:"form_variant"`
	Token       string    `json:"token,omitempty"`
	Phase       string    `json:"phase"`
	DeviceLabel string    `json:"device_label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toSessionResponse(sess *models.Session, token string) sessionResponse {
	return sessionResponse{
		SessionID:   sess.ID.String(),
		FormVariant: sess.FormVariant.String(),
		Token:       token,
		Phase:       string(sess.WizardState.Phase),
		DeviceLabel: sess.DeviceLabel,
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}
}

// handleStart creates a session for the requested form variant and returns
// its bearer token.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	variant, err := domain.ParseFormVariant(req.FormVariant)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown form variant"))
		return
	}

	sess, token, err := h.service.Start(ctx, variant)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to start session",
			"error", err,
			"variant", variant.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toSessionResponse(sess, token))
}

// handleGet returns the caller's session.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	sess, err := h.service.Get(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to load session",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(sess, ""))
}

// handleEnd deletes the caller's session.
func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	if err := h.service.End(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "failed to end session",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
