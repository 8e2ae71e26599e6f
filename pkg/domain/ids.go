// Package domain holds shared domain primitives: typed identifiers and the
// form variant. Typed IDs make it a compile error to pass a submission ID
// where a session ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "formgate/pkg/domain-errors"
)

// SessionID identifies one applicant session (one browser tab filling the form).
type SessionID uuid.UUID

// SubmissionID identifies an archived submission record.
type SubmissionID uuid.UUID

// EventID identifies an audit event.
type EventID uuid.UUID

func (id SessionID) String() string    { return uuid.UUID(id).String() }
func (id SubmissionID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string      { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SubmissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps IDs as canonical UUID strings in JSON and storage
// instead of raw byte arrays.
func (id SessionID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SubmissionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SessionID(parsed)
	return nil
}

func (id *SubmissionID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SubmissionID(parsed)
	return nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EventID(parsed)
	return nil
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewSubmissionID returns a fresh random submission ID.
func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }

// NewEventID returns a fresh random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. All Parse* functions funnel through here so every ID type
// rejects the same inputs.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be nil")
	}
	return parsed, nil
}

// ParseSessionID validates and converts a string into a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	parsed, err := parseUUID(s, "session")
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(parsed), nil
}

// ParseSubmissionID validates and converts a string into a SubmissionID.
func ParseSubmissionID(s string) (SubmissionID, error) {
	parsed, err := parseUUID(s, "submission")
	if err != nil {
		return SubmissionID{}, err
	}
	return SubmissionID(parsed), nil
}

// ParseEventID validates and converts a string into an EventID.
func ParseEventID(s string) (EventID, error) {
	parsed, err := parseUUID(s, "event")
	if err != nil {
		return EventID{}, err
	}
	return EventID(parsed), nil
}
