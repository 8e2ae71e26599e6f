// Package ratelimit guards the expensive endpoints: session creation and
// submission delivery. Counting rides a sliding window so a burst straddling
// a window boundary cannot double the allowance.
package ratelimit

import (
	"context"
	"time"
)

// Result reports one allowance check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted request falls out of the window,
	// freeing a slot.
	ResetAt time.Time
}

// Store counts requests per key over a sliding window.
type Store interface {
	// Allow records one request against key when it fits within limit over
	// the window, and reports the outcome either way.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}
