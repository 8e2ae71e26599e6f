// Package models holds the records the payload bridge persists between the
// submit intent and the identity-verified resumption.
package models

import (
	"errors"
	"time"

	"formgate/internal/wire"
	domain "formgate/pkg/domain"
)

const (
	// EnvelopeLifetime bounds how long a stashed payload stays retrievable.
	EnvelopeLifetime = 30 * time.Minute
	// TokenLifetime bounds the companion anti-replay token. It outlives the
	// envelope so a slow identity round-trip fails on staleness, not on a
	// vanished token, which keeps the user-facing copy accurate.
	TokenLifetime = time.Hour
)

// TokenRecord is the single-use anti-replay token issued alongside a stashed
// payload. The raw value round-trips through the identity provider's return
// URL; the stored copy is deleted after one validation attempt, valid or not.
type TokenRecord struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
}

// Fresh reports whether the token is within its validity window at now.
func (t *TokenRecord) Fresh(now time.Time) bool {
	return now.Sub(t.IssuedAt) <= TokenLifetime
}

// Record is one stashed submission: the sealed envelope, the form variant it
// belongs to, and the companion token. The three travel together; stores
// write and clear them as a unit.
type Record struct {
	SessionID   domain.SessionID
	Envelope    []byte
	Version     string
	FormVariant domain.FormVariant
	Token       *TokenRecord
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ValidateForConsume checks the record may still be consumed at now.
func (r *Record) ValidateForConsume(now time.Time) error {
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now) {
		return errors.New("stashed payload expired")
	}
	return nil
}

// Pending is the metadata view of a stashed record: enough to tell a client
// "you have something waiting" without touching the ciphertext.
type Pending struct {
	Version     string
	FormVariant domain.FormVariant
	StoredAt    time.Time
}

// Age returns how long the pending record has been stashed.
func (p *Pending) Age(now time.Time) time.Duration {
	return now.Sub(p.StoredAt)
}

// Recovered is a successfully retrieved submission, ready to auto-submit.
type Recovered struct {
	Payload     wire.Payload
	FormVariant domain.FormVariant
}
