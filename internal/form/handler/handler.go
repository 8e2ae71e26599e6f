package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"formgate/internal/form"
	"formgate/internal/platform/metrics"
	"formgate/internal/platform/middleware"
	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
)

// Service defines the wizard operations the handler needs.
type Service interface {
	LoadWizard(ctx context.Context, sessionID domain.SessionID) (*models.Session, *form.Wizard, error)
	SaveWizard(ctx context.Context, sess *models.Session, wiz *form.Wizard) error
}

// Handler exposes the form wizard endpoints: reading the current form state
// and recording answers.
type Handler struct {
	logger    *slog.Logger
	service   Service
	metrics   *metrics.Metrics
	validator middleware.SessionTokenValidator
}

// New creates a wizard Handler.
func New(
	service Service,
	validator middleware.SessionTokenValidator,
	logger *slog.Logger,
	m *metrics.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the wizard routes with the router. Everything requires
// a session token.
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
			r.Use(middleware.RequireSession(h.validator, h.logger))
			r.Get("/v1/wizard", h.handleGetWizard)
			r.Put("/v1/wizard/answers", h.handleSetAnswers)
		})
	})
}

type setAnswersRequest struct {
	Answers map[string]form.Value `json:"answers"`
}

type rowView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// questionView is one visible question with its schema position and the
// required flag already resolved under the variant rule.
type questionView struct {
	Index    int       `json:"index"`
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
	Rows     []rowView `json:"rows,omitempty"`
	Columns  []string  `json:"columns,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	MinLabel string    `json:"min_label,omitempty"`
	MaxLabel string    `json:"max_label,omitempty"`
}

type wizardResponse struct {
	SessionID   string            `json:"session_id"`
	FormVariant string            `json:"form_variant"`
	Phase       string            `json:"phase"`
	Valid       bool              `json:"valid"`
	Questions   []questionView    `json:"questions"`
	Answers     form.AnswerMap    `json:"answers"`
	Errors      []form.FieldError `json:"errors,omitempty"`
}

// toWizardResponse renders the applicant's view: visible questions only,
// visible answers only, and inline errors for touched questions. Hidden
// branch answers stay recorded server-side but never leave the wizard.
func toWizardResponse(sess *models.Session, wiz *form.Wizard) wizardResponse {
	schema := wiz.Schema()
	questions := make([]questionView, 0, schema.Len())
	for _, i := range wiz.VisibleIndices() {
		q := &schema.Questions[i]
		view := questionView{
			Index:    i,
			ID:       q.ID,
			Kind:     string(q.Kind),
			Label:    q.Label,
			Required: wiz.IsRequired(q),
			Options:  q.Options,
			Columns:  q.Columns,
			Min:      q.Min,
			Max:      q.Max,
			MinLabel: q.MinLabel,
			MaxLabel: q.MaxLabel,
		}
		for _, row := range q.Rows {
			view.Rows = append(view.Rows, rowView{ID: row.ID, Label: row.Label})
		}
		questions = append(questions, view)
	}

	return wizardResponse{
		SessionID:   sess.ID.String(),
		FormVariant: sess.FormVariant.String(),
		Phase:       string(wiz.Phase()),
		Valid:       wiz.IsFormValid(),
		Questions:   questions,
		Answers:     wiz.VisibleAnswers(),
		Errors:      wiz.TouchedFieldErrors(),
	}
}

// handleGetWizard returns the caller's current form state.
func (h *Handler) handleGetWizard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	sess, wiz, err := h.service.LoadWizard(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to load wizard",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toWizardResponse(sess, wiz))
}

// handleSetAnswers records a batch of answers and returns the updated form
// state. The batch applies fully or not at all.
func (h *Handler) handleSetAnswers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req setAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Answers) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "no answers provided"))
		return
	}

	sess, wiz, err := h.service.LoadWizard(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to load wizard",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	// Reject unknown questions before touching the wizard so nothing is
	// half-applied.
	for qid := range req.Answers {
		if _, _, ok := wiz.Schema().QuestionByID(qid); !ok {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown question %s", qid)))
			return
		}
	}

	// Apply in schema order so a discriminator change lands before the
	// answers of its newly visible branch.
	for i := range wiz.Schema().Questions {
		qid := wiz.Schema().Questions[i].ID
		value, ok := req.Answers[qid]
		if !ok {
			continue
		}
		if err := wiz.SetAnswer(qid, value); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	if err := h.service.SaveWizard(ctx, sess, wiz); err != nil {
		h.logger.ErrorContext(ctx, "failed to save wizard",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toWizardResponse(sess, wiz))
}
