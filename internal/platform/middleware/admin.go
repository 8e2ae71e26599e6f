package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// RequireAdminToken guards the support surface: requests must carry the
// configured token in X-Admin-Token. An empty configured token rejects every
// request, so an unset deployment cannot expose the archive by accident.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
