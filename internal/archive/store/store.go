package store

import (
	"context"

	"formgate/internal/archive"
	domain "formgate/pkg/domain"
)

// DefaultListLimit caps List page sizes when the caller asks for none.
const DefaultListLimit = 50

// ListFilter narrows and pages List results. Zero values mean no filter;
// a Limit of zero falls back to DefaultListLimit.
type ListFilter struct {
	FormVariant domain.FormVariant
	Outcomes    []archive.Outcome
	Limit       int
	Offset      int
}

// SubmissionStore persists archived submission records.
//
// Implementations return sentinel errors from pkg/platform/sentinel:
// ErrConflict when Create hits an existing ID, ErrNotFound when the record
// does not exist.
type SubmissionStore interface {
	Create(ctx context.Context, record *archive.Record) error
	FindByID(ctx context.Context, id domain.SubmissionID) (*archive.Record, error)
	// List returns matching records newest first, plus the total count for
	// the filter so callers can page.
	List(ctx context.Context, filter ListFilter) ([]*archive.Record, int, error)
	// UpdateTicketState advances the record's ticket state and stamps the
	// provider event that caused it. Returns false without error when the
	// transition does not supersede the current state, which makes webhook
	// redeliveries idempotent.
	UpdateTicketState(ctx context.Context, id domain.SubmissionID, state archive.TicketState, eventID string) (bool, error)
}
