package ticketing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"formgate/internal/archive"
	"formgate/internal/audit"
	"formgate/internal/platform/metrics"
	"formgate/internal/platform/middleware"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
	"formgate/pkg/platform/sentinel"
)

// maxBodyBytes caps webhook bodies. Ticket events are small; anything larger
// is not ours.
const maxBodyBytes = 1 << 20

// Archive is the slice of the submission store the webhook needs.
type Archive interface {
	FindByID(ctx context.Context, id domain.SubmissionID) (*archive.Record, error)
	UpdateTicketState(ctx context.Context, id domain.SubmissionID, state archive.TicketState, eventID string) (bool, error)
}

// Handler receives ticket lifecycle webhooks. Deliveries are authenticated by
// the body signature, not by a session token.
type Handler struct {
	logger  *slog.Logger
	archive Archive
	metrics *metrics.Metrics
	audit   *audit.Publisher
	secret  string
}

// New creates a webhook Handler. An empty secret rejects every delivery.
// publisher may be nil when no trail is wanted.
func New(
	archiveStore Archive,
	secret string,
	logger *slog.Logger,
	m *metrics.Metrics,
	publisher *audit.Publisher) *Handler {
	return &Handler{
		logger:  logger,
		archive: archiveStore,
		metrics: m,
		audit:   publisher,
		secret:  secret,
	}
}

// Register registers the webhook route with the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Post("/webhooks/ticketing", h.handleDelivery)
	})
}

// ticketEvent is the provider's delivery body.
type ticketEvent struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
}

type deliveryResponse struct {
	Status string `json:"status"`
}

// stateForType maps provider event types onto the ticket lifecycle. Unknown
// types are acknowledged and dropped so new provider events never turn into
// retry storms.
func stateForType(eventType string) (archive.TicketState, bool) {
	switch eventType {
	case "ticket.issued":
		return archive.TicketIssued, true
	case "ticket.paid":
		return archive.TicketPaid, true
	default:
		return archive.TicketNone, false
	}
}

// handleDelivery verifies, decodes, and applies one delivery. Replies never
// echo request content: a caller probing the endpoint learns only status
// codes.
func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable webhook body"))
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(ctx, "webhook signature rejected",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	var event ticketEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid webhook body"))
		return
	}
	if strings.TrimSpace(event.EventID) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing event_id"))
		return
	}

	state, known := stateForType(event.Type)
	if !known {
		httputil.WriteJSON(w, http.StatusOK, deliveryResponse{Status: "ignored"})
		return
	}

	submissionID, err := domain.ParseSubmissionID(event.SubmissionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid submission_id"))
		return
	}

	// Not found stays a 404 so a delivery racing the archive write gets
	// retried by the provider rather than dropped.
	record, err := h.archive.FindByID(ctx, submissionID)
	if err != nil {
		h.writeStoreError(ctx, w, err, submissionID)
		return
	}

	applied, err := h.archive.UpdateTicketState(ctx, submissionID, state, event.EventID)
	if err != nil {
		h.writeStoreError(ctx, w, err, submissionID)
		return
	}
	if !applied {
		httputil.WriteJSON(w, http.StatusOK, deliveryResponse{Status: "already_applied"})
		return
	}

	h.emitConfirmed(ctx, record, state)
	httputil.WriteJSON(w, http.StatusOK, deliveryResponse{Status: "applied"})
}

func (h *Handler) writeStoreError(ctx context.Context, w http.ResponseWriter, err error, id domain.SubmissionID) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown submission"))
		return
	}
	h.logger.ErrorContext(ctx, "webhook archive update failed",
		"error", err,
		"submission_id", id.String(),
		"request_id", middleware.GetRequestID(ctx),
	)
	httputil.WriteError(w, err)
}

// emitConfirmed puts the state change on the session's trail. Only applied
// transitions land there, so redeliveries never duplicate trail entries.
func (h *Handler) emitConfirmed(ctx context.Context, record *archive.Record, state archive.TicketState) {
	if h.audit == nil {
		return
	}
	event := audit.Event{
		SessionID:   record.SessionID,
		Action:      audit.ActionTicketConfirmed,
		FormVariant: record.FormVariant,
		Outcome:     string(state),
		RequestID:   middleware.GetRequestID(ctx),
	}
	if err := h.audit.Emit(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "audit emit failed",
			"error", err,
			"action", event.Action,
			"session_id", event.SessionID.String(),
		)
	}
}
