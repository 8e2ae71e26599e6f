package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"formgate/internal/platform/middleware"
	"formgate/internal/ratelimit/metrics"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/platform/httputil"
	"formgate/pkg/requestcontext"
)

// Limiter is HTTP middleware over a Store. Keys prefer the session so one
// applicant cannot spend another's allowance; requests without a session fall
// back to the client IP.
type Limiter struct {
	store   Store
	scope   string
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithMetrics wires refusal counters.
func WithMetrics(m *metrics.Metrics) LimiterOption {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithLimiterClock overrides the Retry-After clock, for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a Limiter. scope names the guarded surface in keys,
// logs, and metrics, so several limiters can share one store.
func NewLimiter(store Store, scope string, limit int, window time.Duration, logger *slog.Logger, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:  store,
		scope:  scope,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware fits the limiter slot on the handlers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		result, err := l.store.Allow(ctx, l.key(ctx), l.limit, l.window)
		if err != nil {
			// The limiter protects capacity, not correctness. A broken
			// store fails open.
			l.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"scope", l.scope,
			)
			next.ServeHTTP(w, r)
			return
		}

		writeRateHeaders(w, result)
		if !result.Allowed {
			l.metrics.IncrementLimited(l.scope)
			l.logger.WarnContext(ctx, "request rate limited",
				"scope", l.scope,
				"request_id", middleware.GetRequestID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter(result)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequests, "too many requests, please slow down"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) key(ctx context.Context) string {
	if sessionID := middleware.GetSessionID(ctx); !sessionID.IsNil() {
		return l.scope + ":sess:" + sessionID.String()
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		return l.scope + ":ip:" + ip
	}
	return l.scope + ":anon"
}

// retryAfter rounds up to whole seconds; zero would invite an immediate
// retry that still gets refused.
func (l *Limiter) retryAfter(result *Result) int {
	wait := result.ResetAt.Sub(l.now())
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func writeRateHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
