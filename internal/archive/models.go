// Package archive keeps the permanent record of submission attempts. A
// record is written for every delivery to the form backend, whatever the
// result, and updated later when the ticketing provider confirms a ticket
// or a payment for it.
package archive

import (
	"time"

	"formgate/internal/wire"
	domain "formgate/pkg/domain"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
)

// TicketState tracks the ticketing provider's view of a submission.
type TicketState string

const (
	// TicketNone means no ticketing event has arrived for the record.
	TicketNone TicketState = "none"
	// TicketIssued means a ticket exists but is not yet paid.
	TicketIssued TicketState = "ticketed"
	// TicketPaid means payment is confirmed.
	TicketPaid TicketState = "paid"
)

// rank orders ticket states along their lifecycle.
func (t TicketState) rank() int {
	switch t {
	case TicketIssued:
		return 1
	case TicketPaid:
		return 2
	default:
		return 0
	}
}

// Supersedes reports whether moving to t from current advances the record.
// Webhook deliveries arrive late and arrive twice; transitions that would
// move a record backwards or repeat its current state are refused.
func (t TicketState) Supersedes(current TicketState) bool {
	return t.rank() > current.rank()
}

// Record is one archived submission attempt. Payload is the exact multimap
// delivered to the form backend, kept verbatim for audits and support
// lookups. Email is lifted out of the payload when the schema carries an
// email question, so support can search without unpacking snapshots.
type Record struct {
	ID          domain.SubmissionID `json:"id"`
	SessionID   domain.SessionID    `json:"session_id"`
	FormVariant domain.FormVariant  `json:"form_variant"`
	Email       string              `json:"email,omitempty"`
	Payload     wire.Payload        `json:"payload"`
	Outcome     Outcome             `json:"outcome"`
	// Reason classifies failed outcomes, empty on success.
	Reason string `json:"reason,omitempty"`
	// AutoSubmitted marks deliveries triggered by an identity hand-off
	// return rather than a direct applicant action.
	AutoSubmitted bool        `json:"auto_submitted"`
	TicketState   TicketState `json:"ticket_state"`
	// TicketEventID is the provider event that last moved TicketState,
	// recorded for traceability.
	TicketEventID string    `json:"ticket_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone deep-copies the record so store reads and writes never alias.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = r.Payload.Clone()
	return &out
}
