package audit

import (
	"time"

	domain "formgate/pkg/domain"
)

// Actions recorded on the submission trail.
const (
	ActionSessionStarted          = "session_started"
	ActionSubmissionStashed       = "submission_stashed"
	ActionHandoffReturned         = "handoff_returned"
	ActionSubmissionSubmitted     = "submission_submitted"
	ActionSubmissionAutoSubmitted = "submission_auto_submitted"
	ActionEnvelopeDiscarded       = "envelope_discarded"
	ActionTicketConfirmed         = "ticket_confirmed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID          domain.EventID     `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	SessionID   domain.SessionID   `json:"session_id"`
	Action      string             `json:"action"`
	FormVariant domain.FormVariant `json:"form_variant,omitempty"`
	Outcome     string             `json:"outcome,omitempty"`
	// Reason carries the discard or rejection cause: staleness, tamper,
	// replay, or a backend reason code.
	Reason      string `json:"reason,omitempty"`
	DeviceLabel string `json:"device_label,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}
