// Package session owns applicant sessions: creation, the signed bearer that
// names them, wizard state persistence, and the per-session stash secret the
// payload bridge derives its encryption key from.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"formgate/internal/audit"
	"formgate/internal/form"
	"formgate/internal/session/metrics"
	"formgate/internal/session/models"
	"formgate/internal/session/store"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/sentinel"
	"formgate/pkg/requestcontext"
)

const stashSecretBytes = 32

// SchemaSource resolves the form definition for a variant. Implemented by
// the schema client; cached, so repeated calls are cheap.
type SchemaSource interface {
	Schema(ctx context.Context, variant domain.FormVariant) (*form.Schema, error)
}

// DeviceLabeler turns a User-Agent into a display label for audit records
// and a stable fingerprint for resume-time comparison.
type DeviceLabeler interface {
	Label(userAgent string) string
	Fingerprint(userAgent string) string
}

// Service manages applicant sessions.
type Service struct {
	store    store.SessionStore
	tokens   *TokenService
	schemas  SchemaSource
	devices  DeviceLabeler
	audit    *audit.Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	lifetime time.Duration
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

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLifetime overrides the session lifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *Service) { s.lifetime = d }
}

func New(st store.SessionStore, tokens *TokenService, schemas SchemaSource, devices DeviceLabeler, opts ...Option) *Service {
	s := &Service{
		store:    st,
		tokens:   tokens,
		schemas:  schemas,
		devices:  devices,
		logger:   slog.Default(),
		now:      time.Now,
		lifetime: models.DefaultLifetime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start creates a session for the given variant and returns it with its
// signed bearer token. The fresh wizard state is persisted immediately so a
// follow-up request on another instance sees the same session.
func (s *Service) Start(ctx context.Context, variant domain.FormVariant) (*models.Session, string, error) {
	schema, err := s.schemas.Schema(ctx, variant)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeUnavailable, "form schema unavailable")
	}

	secret := make([]byte, stashSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generate stash secret: %w", err)
	}

	now := s.now()
	userAgent := requestcontext.UserAgent(ctx)
	sess := &models.Session{
		ID:                domain.NewSessionID(),
		FormVariant:       variant,
		StashSecret:       secret,
		DeviceLabel:       s.deviceLabel(userAgent),
		DeviceFingerprint: s.deviceFingerprint(userAgent),
		WizardState:       form.NewWizard(schema).State(),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.lifetime),
		LastSeenAt:        now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	token, err := s.tokens.Generate(sess.ID, variant)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign session token")
	}

	s.metrics.IncrementStarted(variant)
	s.emit(ctx, audit.Event{
		SessionID:   sess.ID,
		Action:      audit.ActionSessionStarted,
		FormVariant: variant,
		Outcome:     "ok",
		DeviceLabel: sess.DeviceLabel,
	})
	return sess, token, nil
}

// Get loads a live session. Expired sessions surface as unauthorized so the
// client restarts instead of resuming a dead wizard.
func (s *Service) Get(ctx context.Context, sessionID domain.SessionID) (*models.Session, error) {
	sess, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if sess.Expired(s.now()) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
	}
	return sess, nil
}

// LoadWizard loads the session and rebuilds its wizard over the variant's
// schema.
func (s *Service) LoadWizard(ctx context.Context, sessionID domain.SessionID) (*models.Session, *form.Wizard, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	schema, err := s.schemas.Schema(ctx, sess.FormVariant)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "form schema unavailable")
	}
	return sess, form.NewWizardFromState(schema, sess.WizardState), nil
}

// SaveWizard persists the wizard's current state back onto the session.
func (s *Service) SaveWizard(ctx context.Context, sess *models.Session, wiz *form.Wizard) error {
	sess.WizardState = wiz.State()
	sess.LastSeenAt = s.now()
	if err := s.store.Update(ctx, sess); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	return nil
}

// StashSecret returns the session's envelope key material. Satisfies the
// payload bridge's key provider; an error here makes the bridge fall back to
// the unencrypted framing.
func (s *Service) StashSecret(ctx context.Context, sessionID domain.SessionID) ([]byte, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), sess.StashSecret...), nil
}

// End deletes the session. Ending an unknown session is not an error.
func (s *Service) End(ctx context.Context, sessionID domain.SessionID) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to end session")
	}
	s.metrics.IncrementEnded()
	return nil
}

// PurgeExpired removes expired sessions. Wired to a janitor ticker for the
// memory store; the redis store expires keys on its own.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.metrics.AddPurged(removed)
		s.logger.InfoContext(ctx, "purged expired sessions", "count", removed)
	}
	return removed, nil
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
