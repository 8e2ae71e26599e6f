package store

import (
	"context"
	"time"

	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
)

// SessionStore persists applicant sessions.
//
// Implementations return sentinel errors from pkg/platform/sentinel:
// ErrConflict when Create hits an existing ID, ErrNotFound when the session
// does not exist. Expiry is enforced by the caller (memory) or by TTL
// (redis); DeleteExpired exists for stores without native TTL.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID domain.SessionID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, sessionID domain.SessionID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
