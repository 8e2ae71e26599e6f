// Package handler exposes the submission archive to support tooling: a
// paged, filterable list plus a full-record detail view. Both sit behind
// the admin token.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"formgate/internal/archive"
	archivestore "formgate/internal/archive/store"
	"formgate/internal/platform/metrics"
	"formgate/internal/platform/middleware"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
	"formgate/pkg/platform/sentinel"
)

// maxListLimit caps one page regardless of what the caller asks for.
const maxListLimit = 200

// Store is the archive access the handler needs.
type Store interface {
	FindByID(ctx context.Context, id domain.SubmissionID) (*archive.Record, error)
	List(ctx context.Context, filter archivestore.ListFilter) ([]*archive.Record, int, error)
}

// Handler exposes the archive read endpoints.
type Handler struct {
	logger  *slog.Logger
	store   Store
	metrics *metrics.Metrics
	token   string
}

// New creates an archive Handler. adminToken guards every route; empty
// rejects all requests.
func New(st Store, adminToken string, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		store:   st,
		metrics: m,
		token:   adminToken,
	}
}

// Register registers the archive routes with the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Use(middleware.RequireAdminToken(h.token, h.logger))

		r.Get("/admin/submissions", h.handleList)
		r.Get("/admin/submissions/{submission_id}", h.handleDetail)
	})
}

type listResponse struct {
	Submissions []submissionSummary `json:"submissions"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// submissionSummary is one list row: enough to find a record without
// shipping every payload snapshot on every page.
type submissionSummary struct {
	ID            domain.SubmissionID `json:"id"`
	SessionID     domain.SessionID    `json:"session_id"`
	FormVariant   domain.FormVariant  `json:"form_variant"`
	Email         string              `json:"email,omitempty"`
	Outcome       archive.Outcome     `json:"outcome"`
	Reason        string              `json:"reason,omitempty"`
	AutoSubmitted bool                `json:"auto_submitted"`
	TicketState   archive.TicketState `json:"ticket_state"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toSummary(record *archive.Record) submissionSummary {
	return submissionSummary{
		ID:            record.ID,
		SessionID:     record.SessionID,
		FormVariant:   record.FormVariant,
		Email:         record.Email,
		Outcome:       record.Outcome,
		Reason:        record.Reason,
		AutoSubmitted: record.AutoSubmitted,
		TicketState:   record.TicketState,
		CreatedAt:     record.CreatedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive list failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return
	}

	resp := listResponse{
		Submissions: make([]submissionSummary, 0, len(records)),
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	for _, record := range records {
		resp.Submissions = append(resp.Submissions, toSummary(record))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	submissionID, err := domain.ParseSubmissionID(chi.URLParam(r, "submission_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid submission id"))
		return
	}

	record, err := h.store.FindByID(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown submission"))
			return
		}
		h.logger.ErrorContext(r.Context(), "archive lookup failed",
			"error", err,
			"submission_id", submissionID.String(),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

// listFilterFromQuery parses the paging and filter parameters. The limit
// falls back to the store default and is capped at maxListLimit.
func listFilterFromQuery(r *http.Request) (archivestore.ListFilter, error) {
	q := r.URL.Query()
	filter := archivestore.ListFilter{Limit: archivestore.DefaultListLimit}

	if raw := q.Get("form_variant"); raw != "" {
		variant, err := domain.ParseFormVariant(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown form_variant %q", raw))
		}
		filter.FormVariant = variant
	}
	for _, raw := range q["outcome"] {
		outcome := archive.Outcome(raw)
		if outcome != archive.OutcomeSubmitted && outcome != archive.OutcomeFailed {
			return filter, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown outcome %q", raw))
		}
		filter.Outcomes = append(filter.Outcomes, outcome)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, dErrors.New(dErrors.CodeValidation, "offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}
