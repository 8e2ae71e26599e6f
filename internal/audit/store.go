package audit

import (
	"context"

	domain "formgate/pkg/domain"
)

// Sink accepts audit events for delivery. Implementations may persist,
// forward to a broker, or enqueue for a background worker.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a queryable sink, used where the trail must be read back.
type Store interface {
	Sink
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
