package models

import (
	"time"

	"formgate/internal/form"
	domain "formgate/pkg/domain"
)

// DefaultLifetime bounds a session when no TTL is configured. Matches the
// session token TTL so the bearer and the record expire together.
const DefaultLifetime = 2 * time.Hour

// Session is one applicant filling one form variant. It carries the wizard
// state between requests and the per-session stash secret that keys the
// payload bridge.
type Session struct {
	ID          domain.SessionID   `json:"id"`
	FormVariant domain.FormVariant `json:"form_variant"`
	// StashSecret keys envelope encryption for this session. Generated at
	// session start, never sent to the client.
	StashSecret []byte `json:"stash_secret"`
	DeviceLabel string `json:"device_label,omitempty"`
	// DeviceFingerprint is compared on resume so a hand-off returning from a
	// different browser is flagged in the audit trail.
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	WizardState       form.State `json:"wizard_state"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
}

// Clone deep-copies the session so store reads and writes never alias.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.StashSecret = append([]byte(nil), s.StashSecret...)
	out.WizardState = s.WizardState.Clone()
	return &out
}

// Expired reports whether the session is past its lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}
