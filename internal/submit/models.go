// Package submit drives a submission to the external form backend: the
// final validity gate, the identity hand-off when no credential is in hand,
// and the delivery that happens at most once per stashed payload.
package submit

import (
	"context"
	"errors"

	"formgate/internal/form"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

// Status tells the client what a submission attempt came to.
type Status string

const (
	// StatusSubmitted means the form backend accepted the delivery.
	StatusSubmitted Status = "submitted"
	// StatusIdentityRequired means the payload is stashed and the applicant
	// must pass identity verification before delivery.
	StatusIdentityRequired Status = "identity_required"
	// StatusInvalid means the wizard did not pass the validity gate; nothing
	// left the gateway.
	StatusInvalid Status = "invalid"
	// StatusRejected means the delivery ran and failed. Reason says why.
	StatusRejected Status = "rejected"
	// StatusNoPending means a resume found nothing deliverable: the stash
	// expired, was already consumed, or failed its integrity checks.
	StatusNoPending Status = "no_pending"
)

// Reason classifies a failed delivery.
type Reason string

const (
	ReasonValidationRejected  Reason = "validation_rejected"
	ReasonDuplicateSubmission Reason = "duplicate_submission"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonTimedOut            Reason = "timed_out"
	ReasonBackendUnavailable  Reason = "backend_unavailable"
)

// Copy returns the applicant-facing message for the reason.
func (r Reason) Copy() string {
	switch r {
	case ReasonValidationRejected:
		return "the form backend rejected the submission"
	case ReasonDuplicateSubmission:
		return "this application was already submitted"
	case ReasonRateLimited:
		return "too many attempts, please wait a moment"
	case ReasonTimedOut:
		return "the submission timed out, please retry"
	default:
		return "the form backend is unavailable, please retry later"
	}
}

// classifyReason folds a delivery error into the reason taxonomy. Anything
// unrecognized counts as the backend being unavailable, the only bucket
// where a retry is safe advice.
func classifyReason(err error) Reason {
	switch {
	case dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput):
		return ReasonValidationRejected
	case dErrors.HasCode(err, dErrors.CodeConflict):
		return ReasonDuplicateSubmission
	case dErrors.HasCode(err, dErrors.CodeTooManyRequests):
		return ReasonRateLimited
	case dErrors.HasCode(err, dErrors.CodeTimeout) || errors.Is(err, context.DeadlineExceeded):
		return ReasonTimedOut
	default:
		return ReasonBackendUnavailable
	}
}

// Result is the outcome of Begin or Resume. Which fields are set depends on
// Status; the handler shapes it into the response body.
type Result struct {
	Status Status
	// SubmissionID names the archive record once a delivery ran, whatever
	// its outcome.
	SubmissionID domain.SubmissionID
	// AuthorizeURL and HandoffToken accompany StatusIdentityRequired. The
	// token rides the hand-off as its state parameter and must come back
	// verbatim.
	AuthorizeURL string
	HandoffToken string
	// FieldErrors accompany StatusInvalid.
	FieldErrors []form.FieldError
	// Reason and Message accompany StatusRejected.
	Reason  Reason
	Message string
	// AutoSubmitted marks deliveries triggered by a hand-off return rather
	// than a direct applicant action.
	AutoSubmitted bool
}
