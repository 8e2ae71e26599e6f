// Package handoff carries a validated submission across the identity
// hand-off: the payload is sealed into a time-bounded, single-use envelope
// before the applicant leaves for the identity provider and recovered exactly
// once when they return.
package handoff

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"formgate/internal/audit"
	"formgate/internal/handoff/metrics"
	"formgate/internal/handoff/models"
	"formgate/internal/handoff/store"
	"formgate/internal/wire"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

// Bridge stashes and recovers pending submissions. Its read-side methods are
// total: storage faults, staleness, tampering, and replay all surface as "no
// pending submission", never as an error the caller must branch on.
type Bridge struct {
	store   store.StashStore
	keys    KeyProvider
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Publisher
	now     func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithAudit sets the audit publisher. Discarded envelopes land on the trail
// with their discard reason.
func WithAudit(publisher *audit.Publisher) Option {
	return func(b *Bridge) { b.audit = publisher }
}

// WithClock overrides the time source. The clock is injected for tests; no
// hidden time.Now() calls decide staleness.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New constructs a Bridge over the given stash store and key provider.
func New(st store.StashStore, keys KeyProvider, opts ...Option) *Bridge {
	b := &Bridge{
		store:  st,
		keys:   keys,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Store seals the payload and persists it together with the form variant and
// a freshly issued anti-replay token. It returns the token to embed in the
// identity hand-off and whether the stash succeeded. When no per-session key
// is available the envelope degrades to the checksum format, which defends
// against corruption but not tampering.
func (b *Bridge) Store(ctx context.Context, sessionID domain.SessionID, payload wire.Payload, variant domain.FormVariant) (string, bool) {
	canonical, err := payload.Canonical()
	if err != nil {
		b.logger.ErrorContext(ctx, "serialize payload", "error", err, "session_id", sessionID.String())
		return "", false
	}
	token, err := newToken()
	if err != nil {
		b.logger.ErrorContext(ctx, "issue anti-replay token", "error", err, "session_id", sessionID.String())
		return "", false
	}

	now := b.now()
	envelope, version := b.encode(ctx, sessionID, canonical, now)

	rec := &models.Record{
		SessionID:   sessionID,
		Envelope:    envelope,
		Version:     version,
		FormVariant: variant,
		Token:       &models.TokenRecord{Value: token, IssuedAt: now},
		CreatedAt:   now,
		ExpiresAt:   now.Add(models.EnvelopeLifetime),
	}
	if err := b.store.Put(ctx, rec); err != nil {
		b.logger.ErrorContext(ctx, "persist stashed submission", "error", err, "session_id", sessionID.String())
		return "", false
	}

	b.metrics.IncrementStored(version)
	return token, true
}

// encode produces the envelope bytes, preferring the sealed format and
// falling back to the checksum format when no key can be derived.
func (b *Bridge) encode(ctx context.Context, sessionID domain.SessionID, canonical []byte, now time.Time) ([]byte, string) {
	secret, err := b.keys.StashSecret(ctx, sessionID)
	if err == nil && len(secret) > 0 {
		envelope, sealErr := encodeSealed(deriveKey(secret), canonical, now)
		if sealErr == nil {
			return envelope, VersionSealed
		}
		b.logger.WarnContext(ctx, "seal envelope failed, using checksum fallback",
			"error", sealErr, "session_id", sessionID.String())
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		b.logger.WarnContext(ctx, "stash secret unavailable, using checksum fallback",
			"error", err, "session_id", sessionID.String())
	}

	envelope, err := encodeChecksum(canonical, now)
	if err != nil {
		// json.Marshal of the fixed envelope struct cannot realistically
		// fail; keep the method total anyway.
		b.logger.ErrorContext(ctx, "encode checksum envelope", "error", err, "session_id", sessionID.String())
		return nil, VersionChecksum
	}
	return envelope, VersionChecksum
}

// Retrieve recovers the stashed submission exactly once. The envelope is
// consumed by the attempt: a stale, tampered, or replayed stash is discarded
// and nil is returned, indistinguishable from no stash at all.
func (b *Bridge) Retrieve(ctx context.Context, sessionID domain.SessionID) *models.Recovered {
	start := time.Now()
	defer func() {
		b.metrics.ObserveConsumeLatency(time.Since(start))
	}()

	rec, err := b.store.ConsumeEnvelope(ctx, sessionID, b.now())
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			b.metrics.IncrementRetrieve("absent")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			b.metrics.IncrementRetrieve("replayed")
			b.logger.WarnContext(ctx, "stashed submission replay attempt", "session_id", sessionID.String())
		case errors.Is(err, sentinel.ErrExpired):
			b.discard(ctx, sessionID, "expired")
		default:
			b.logger.ErrorContext(ctx, "consume stashed submission", "error", err, "session_id", sessionID.String())
		}
		return nil
	}

	payload, storedAt, err := b.decode(ctx, sessionID, rec)
	if err != nil {
		b.discard(ctx, sessionID, "tampered")
		b.logger.WarnContext(ctx, "stashed submission failed integrity check",
			"error", err, "session_id", sessionID.String(), "version", rec.Version)
		return nil
	}
	if b.now().Sub(storedAt) > models.EnvelopeLifetime {
		b.discard(ctx, sessionID, "expired")
		return nil
	}

	// The envelope is consumed; drop the companion entries with it.
	b.clear(ctx, sessionID)
	b.metrics.IncrementRetrieve("ok")
	return &models.Recovered{Payload: payload, FormVariant: rec.FormVariant}
}

func (b *Bridge) decode(ctx context.Context, sessionID domain.SessionID, rec *models.Record) (wire.Payload, time.Time, error) {
	if rec.Version == VersionChecksum {
		return decodeChecksum(rec.Envelope)
	}
	secret, err := b.keys.StashSecret(ctx, sessionID)
	if err != nil || len(secret) == 0 {
		return nil, time.Time{}, errors.New("no stash secret for sealed envelope")
	}
	return decodeSealed(deriveKey(secret), rec.Envelope)
}

// HasPending reports whether a live stashed submission exists. It reads
// metadata only; the envelope stays sealed and unconsumed.
func (b *Bridge) HasPending(ctx context.Context, sessionID domain.SessionID) bool {
	pending, err := b.store.Peek(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrAlreadyUsed) {
			b.logger.ErrorContext(ctx, "peek stashed submission", "error", err, "session_id", sessionID.String())
		}
		return false
	}
	return pending.Age(b.now()) <= models.EnvelopeLifetime
}

// Clear tears down the stash unconditionally: envelope, form variant, and
// anti-replay token go together.
func (b *Bridge) Clear(ctx context.Context, sessionID domain.SessionID) {
	b.clear(ctx, sessionID)
}

// ValidateAndConsume checks a returned anti-replay token. The stored token is
// deleted by the attempt itself, so a candidate gets exactly one comparison
// whatever the outcome.
func (b *Bridge) ValidateAndConsume(ctx context.Context, sessionID domain.SessionID, candidate string) bool {
	tok, err := b.store.TakeToken(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			b.metrics.IncrementToken("absent")
		} else {
			b.logger.ErrorContext(ctx, "take anti-replay token", "error", err, "session_id", sessionID.String())
		}
		return false
	}
	if !tokenMatches(tok.Value, candidate) {
		b.metrics.IncrementToken("mismatch")
		b.logger.WarnContext(ctx, "anti-replay token mismatch", "session_id", sessionID.String())
		return false
	}
	if !tok.Fresh(b.now()) {
		b.metrics.IncrementToken("stale")
		return false
	}
	b.metrics.IncrementToken("ok")
	return true
}

func (b *Bridge) discard(ctx context.Context, sessionID domain.SessionID, outcome string) {
	b.clear(ctx, sessionID)
	b.metrics.IncrementRetrieve(outcome)
	if b.audit != nil {
		err := b.audit.Emit(ctx, audit.Event{
			SessionID: sessionID,
			Action:    audit.ActionEnvelopeDiscarded,
			Outcome:   "discarded",
			Reason:    outcome,
		})
		if err != nil {
			b.logger.WarnContext(ctx, "audit emit failed", "error", err, "action", audit.ActionEnvelopeDiscarded)
		}
	}
}

func (b *Bridge) clear(ctx context.Context, sessionID domain.SessionID) {
	if err := b.store.Delete(ctx, sessionID); err != nil {
		b.logger.ErrorContext(ctx, "clear stashed submission", "error", err, "session_id", sessionID.String())
	}
}
