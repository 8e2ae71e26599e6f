package submit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"formgate/internal/archive"
	archivestore "formgate/internal/archive/store"
	"formgate/internal/audit"
	"formgate/internal/form"
	"formgate/internal/handoff"
	"formgate/internal/identity"
	"formgate/internal/identity/device"
	"formgate/internal/session"
	"formgate/internal/session/models"
	"formgate/internal/submit/metrics"
	"formgate/internal/wire"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/requestcontext"
)

// DefaultSubmitTimeout caps one backend delivery attempt. Past it the
// attempt counts as timed out even if the backend is still chewing.
const DefaultSubmitTimeout = 30 * time.Second

// Submitter delivers a payload to the form backend. Implemented by the
// forms client; faked in tests.
type Submitter interface {
	Submit(ctx context.Context, variant domain.FormVariant, payload wire.Payload, bearer string) error
}

// DeviceLabeler matches the device package surface used on the resume path.
type DeviceLabeler interface {
	Label(userAgent string) string
	Fingerprint(userAgent string) string
}

// Service runs the submission pipeline: the validity gate, the identity
// hand-off with its stashed payload, and the delivery to the form backend.
type Service struct {
	sessions *session.Service
	bridge   *handoff.Bridge
	verifier identity.Verifier
	forms    Submitter
	archive  archivestore.SubmissionStore
	devices  DeviceLabeler
	audit    *audit.Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	timeout  time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit sets the audit publisher.
func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithDevices sets the device labeler used to flag resume-time device
// changes on the audit trail.
func WithDevices(devices DeviceLabeler) Option {
	return func(s *Service) { s.devices = devices }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSubmitTimeout overrides the delivery timeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(sessions *session.Service, bridge *handoff.Bridge, verifier identity.Verifier, forms Submitter, archiveStore archivestore.SubmissionStore, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		bridge:   bridge,
		verifier: verifier,
		forms:    forms,
		archive:  archiveStore,
		logger:   slog.Default(),
		tracer:   otel.Tracer("formgate/submit"),
		now:      time.Now,
		timeout:  DefaultSubmitTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Begin runs the submission gate for a session. An invalid wizard stops at
// the gate with its field errors. A valid one is translated exactly once;
// with a credential in hand (the client passed a provider assertion) it is
// delivered immediately, otherwise the payload is stashed behind the
// identity hand-off and the applicant is sent to the provider.
func (s *Service) Begin(ctx context.Context, sessionID domain.SessionID, assertion string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "submit.begin",
		trace.WithAttributes(attribute.String("session_id", sessionID.String())))
	defer span.End()

	bearer := ""
	if assertion != "" {
		var err error
		bearer, err = s.verifier.Credential(ctx, assertion)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	sess, wiz, err := s.sessions.LoadWizard(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if wiz.Locked() {
		return nil, dErrors.New(dErrors.CodeConflict, "form already submitted")
	}

	if !wiz.IsFormValid() {
		// Surface every inline error at once and persist the touched marks
		// so a reload still shows them.
		wiz.MarkAllVisibleTouched()
		if err := s.sessions.SaveWizard(ctx, sess, wiz); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("outcome", "invalid"))
		return &Result{Status: StatusInvalid, FieldErrors: wiz.FieldErrors()}, nil
	}

	payload := wire.Translate(wiz)

	if bearer == "" {
		token, ok := s.bridge.Store(ctx, sess.ID, payload, sess.FormVariant)
		if !ok {
			return nil, dErrors.New(dErrors.CodeUnavailable, "could not stash submission")
		}
		s.metrics.IncrementHandoff(sess.FormVariant)
		s.emit(ctx, audit.Event{
			SessionID:   sess.ID,
			Action:      audit.ActionSubmissionStashed,
			FormVariant: sess.FormVariant,
			Outcome:     "ok",
			DeviceLabel: sess.DeviceLabel,
		})
		span.SetAttributes(attribute.String("outcome", "identity_required"))
		// The anti-replay token rides the hand-off as its state parameter,
		// so the provider echoes it back without knowing what it is.
		return &Result{
			Status:       StatusIdentityRequired,
			AuthorizeURL: s.verifier.AuthorizeURL(token),
			HandoffToken: token,
		}, nil
	}

	return s.deliver(ctx, sess, wiz, payload, bearer, false)
}

// Resume completes a submission after the identity hand-off returns. The
// anti-replay token is burned before the envelope is opened, so a replayed
// return can never reach the backend even when it races the first one. A
// resume that finds nothing deliverable reports StatusNoPending; the client
// may then call Begin with the assertion for a direct delivery.
func (s *Service) Resume(ctx context.Context, sessionID domain.SessionID, candidate, assertion string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "submit.resume",
		trace.WithAttributes(attribute.String("session_id", sessionID.String())))
	defer span.End()

	bearer, err := s.verifier.Credential(ctx, assertion)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sess, wiz, err := s.sessions.LoadWizard(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordReturn(ctx, sess)

	if wiz.Locked() {
		return nil, dErrors.New(dErrors.CodeConflict, "form already submitted")
	}

	if !s.bridge.ValidateAndConsume(ctx, sess.ID, candidate) {
		// A bad or replayed token burns the stash with it: a payload whose
		// anti-replay protection is gone must never be delivered.
		if s.bridge.HasPending(ctx, sess.ID) {
			s.bridge.Clear(ctx, sess.ID)
			s.emit(ctx, audit.Event{
				SessionID:   sess.ID,
				Action:      audit.ActionEnvelopeDiscarded,
				FormVariant: sess.FormVariant,
				Outcome:     "discarded",
				Reason:      "replay",
			})
		}
		s.metrics.IncrementResume(string(StatusNoPending))
		span.SetAttributes(attribute.String("outcome", string(StatusNoPending)))
		return &Result{Status: StatusNoPending}, nil
	}

	recovered := s.bridge.Retrieve(ctx, sess.ID)
	if recovered == nil {
		s.metrics.IncrementResume(string(StatusNoPending))
		span.SetAttributes(attribute.String("outcome", string(StatusNoPending)))
		return &Result{Status: StatusNoPending}, nil
	}

	result, err := s.deliver(ctx, sess, wiz, recovered.Payload, bearer, true)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementResume(string(result.Status))
	return result, nil
}

// deliver runs the backend submission and archives the attempt. The result
// is never an error for a backend rejection: rejections are classified and
// reported so the client can show the applicant what to do next.
func (s *Service) deliver(ctx context.Context, sess *models.Session, wiz *form.Wizard, payload wire.Payload, bearer string, auto bool) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "submit.deliver",
		trace.WithAttributes(
			attribute.String("session_id", sess.ID.String()),
			attribute.String("form_variant", sess.FormVariant.String()),
			attribute.Bool("auto", auto),
		))
	defer span.End()

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	submitErr := s.forms.Submit(submitCtx, sess.FormVariant, payload, bearer)
	s.metrics.ObserveDeliveryLatency(time.Since(start))

	now := s.now()
	record := &archive.Record{
		ID:            domain.NewSubmissionID(),
		SessionID:     sess.ID,
		FormVariant:   sess.FormVariant,
		Email:         applicantEmail(wiz),
		Payload:       payload,
		AutoSubmitted: auto,
		TicketState:   archive.TicketNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	action := audit.ActionSubmissionSubmitted
	if auto {
		action = audit.ActionSubmissionAutoSubmitted
	}

	if submitErr != nil {
		reason := classifyReason(submitErr)
		span.RecordError(submitErr)
		span.SetStatus(codes.Error, string(reason))

		record.Outcome = archive.OutcomeFailed
		record.Reason = string(reason)
		s.archiveRecord(ctx, record)

		s.metrics.IncrementSubmission(sess.FormVariant, string(reason))
		s.emit(ctx, audit.Event{
			SessionID:   sess.ID,
			Action:      action,
			FormVariant: sess.FormVariant,
			Outcome:     "failed",
			Reason:      string(reason),
			DeviceLabel: sess.DeviceLabel,
		})
		s.logger.WarnContext(ctx, "submission rejected",
			"error", submitErr,
			"session_id", sess.ID.String(),
			"reason", string(reason),
		)

		return &Result{
			Status:        StatusRejected,
			SubmissionID:  record.ID,
			Reason:        reason,
			Message:       reason.Copy(),
			AutoSubmitted: auto,
		}, nil
	}

	// The backend accepted. From here the submission exists whatever our
	// bookkeeping does, so lock-and-save failures are logged, not returned.
	if err := wiz.Lock(); err != nil {
		s.logger.ErrorContext(ctx, "lock after delivery", "error", err, "session_id", sess.ID.String())
	} else if err := s.sessions.SaveWizard(ctx, sess, wiz); err != nil {
		s.logger.ErrorContext(ctx, "persist locked wizard", "error", err, "session_id", sess.ID.String())
	}

	record.Outcome = archive.OutcomeSubmitted
	s.archiveRecord(ctx, record)

	s.metrics.IncrementSubmission(sess.FormVariant, "submitted")
	s.emit(ctx, audit.Event{
		SessionID:   sess.ID,
		Action:      action,
		FormVariant: sess.FormVariant,
		Outcome:     "ok",
		DeviceLabel: sess.DeviceLabel,
	})
	span.SetAttributes(attribute.String("outcome", "submitted"))

	return &Result{
		Status:        StatusSubmitted,
		SubmissionID:  record.ID,
		AutoSubmitted: auto,
	}, nil
}

// recordReturn writes the hand-off return on the audit trail, flagging a
// device change when both sides left a fingerprint.
func (s *Service) recordReturn(ctx context.Context, sess *models.Session) {
	userAgent := requestcontext.UserAgent(ctx)
	event := audit.Event{
		SessionID:   sess.ID,
		Action:      audit.ActionHandoffReturned,
		FormVariant: sess.FormVariant,
		Outcome:     "ok",
		DeviceLabel: s.deviceLabel(userAgent),
	}
	current := s.deviceFingerprint(userAgent)
	if current != "" && sess.DeviceFingerprint != "" && !device.Matches(sess.DeviceFingerprint, current) {
		event.Outcome = "device_changed"
		event.Reason = "device_mismatch"
		s.logger.WarnContext(ctx, "hand-off returned from a different device",
			"session_id", sess.ID.String(),
			"device_label", event.DeviceLabel,
		)
	}
	s.emit(ctx, event)
}

// archiveRecord writes the archive row. The archive is bookkeeping: a write
// failure is logged and the submission result stands.
func (s *Service) archiveRecord(ctx context.Context, record *archive.Record) {
	if err := s.archive.Create(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "archive submission",
			"error", err, "submission_id", record.ID.String())
	}
}

// applicantEmail lifts the email answer out of the wizard for the archive
// record, so support can search submissions without unpacking payloads.
func applicantEmail(wiz *form.Wizard) string {
	for _, i := range wiz.VisibleIndices() {
		q := wiz.Schema().Questions[i]
		if q.Role != form.RoleEmail {
			continue
		}
		if v, ok := wiz.Answer(q.ID); ok {
			return strings.TrimSpace(v.Text)
		}
	}
	return ""
}

func (s *Service) deviceLabel(userAgent string) string {
	if s.devices == nil {
		return ""
	}
	return s.devices.Label(userAgent)
}

func (s *Service) deviceFingerprint(userAgent string) string {
	if s.devices == nil {
		return ""
	}
	return s.devices.Fingerprint(userAgent)
}

// emit records an audit event; delivery problems are logged, never surfaced
// to the applicant.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"error", err,
			"action", event.Action,
			"session_id", event.SessionID.String(),
		)
	}
}
