// Package store defines the persistence boundary of the payload bridge.
package store

import (
	"context"
	"time"

	"formgate/internal/handoff/models"
	domain "formgate/pkg/domain"
)

// StashStore persists stashed submissions under the session-scoped entries
// pendingFormSubmission, pendingFormType, and antiReplayToken. The three are
// written together by Put and removed together by Delete.
//
// Error contract: methods return sentinel.ErrNotFound for absent records,
// sentinel.ErrExpired past the validity window, sentinel.ErrAlreadyUsed for a
// second consume of the same record, and wrapped infrastructure errors for
// everything else.
type StashStore interface {
	// Put stores the record, replacing any previous stash for the session.
	Put(ctx context.Context, rec *models.Record) error

	// ConsumeEnvelope performs the one-shot read of the stashed envelope:
	// a pending record transitions to consumed and is returned exactly once.
	// Subsequent calls, and calls for absent or expired records, fail with
	// the corresponding sentinel.
	ConsumeEnvelope(ctx context.Context, sessionID domain.SessionID, now time.Time) (*models.Record, error)

	// TakeToken removes and returns the anti-replay token. The token is gone
	// after the first call regardless of what the caller does with it.
	TakeToken(ctx context.Context, sessionID domain.SessionID) (*models.TokenRecord, error)

	// Peek returns stash metadata without consuming or decrypting anything.
	Peek(ctx context.Context, sessionID domain.SessionID) (*models.Pending, error)

	// Delete tears down all entries for the session unconditionally.
	Delete(ctx context.Context, sessionID domain.SessionID) error
}
