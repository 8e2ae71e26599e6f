// Package bucket implements the sliding-window counters behind rate
// limiting.
package bucket

import (
	"context"
	"sync"
	"time"

	"formgate/internal/ratelimit"
)

// InMemoryStore tracks per-key request timestamps. One gateway process sees
// all traffic for its sessions, so an in-process window is enough; nothing
// here survives a restart.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   func() time.Time
}

// window holds the live timestamps for one key. Only stamps younger than
// span count against the limit.
type window struct {
	stamps []time.Time
	span   time.Duration
}

// Option configures an InMemoryStore.
type Option func(*InMemoryStore)

// WithClock overrides the window clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		windows: make(map[string]*window),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records one request against key if it still fits within limit.
func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, span time.Duration) (*ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w := s.windows[key]
	if w == nil {
		w = &window{span: span}
		s.windows[key] = w
	}
	w.span = span
	w.trim(now)

	if len(w.stamps) >= limit {
		return &ratelimit.Result{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   w.stamps[0].Add(span),
		}, nil
	}

	w.stamps = append(w.stamps, now)
	return &ratelimit.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.stamps),
		ResetAt:   w.stamps[0].Add(span),
	}, nil
}

// Reset clears the counter for a key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops windows whose stamps have all expired and returns how many
// were removed. Run it periodically; abandoned sessions otherwise pin their
// key forever.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for key, w := range s.windows {
		w.trim(now)
		if len(w.stamps) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.stamps); i++ {
		if w.stamps[i].After(cutoff) {
			break
		}
	}
	w.stamps = w.stamps[i:]
}
