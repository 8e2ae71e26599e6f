package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "formgate/pkg/domain"
	"formgate/pkg/requestcontext"
)

// SessionTokenValidator validates the signed session token issued at session
// start and returns the session it belongs to.
type SessionTokenValidator interface {
	ValidateSessionToken(tokenString string) (id.SessionID, error)
}

// GetSessionID retrieves the authenticated session ID from the context.
func GetSessionID(ctx context.Context) id.SessionID {
	return requestcontext.SessionID(ctx)
}

// RequireSession guards wizard endpoints: requests must carry a valid session
// token in the Authorization header. The resolved session ID is stowed in the
// request context.
func RequireSession(validator SessionTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				ctx := r.Context()
				logger.WarnContext(ctx, "session required - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			sessionID, err := validator.ValidateSessionToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "session required - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired session token")
				return
			}

			ctx := requestcontext.WithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
