// Package httputil centralizes JSON response writing so every handler emits
// the same envelope shape.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "formgate/pkg/domain-errors"
)

// errorResponse is the wire shape for all error replies.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into an HTTP error response.
// Internal and invariant errors omit the description so infrastructure
// details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.GetCode(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodeInvariantViolation {
		resp.Description = errMessage(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

// errMessage prefers the domain error message over the full wrapped chain so
// wrapped infrastructure causes stay out of responses.
func errMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
