package audit

import (
	"context"
	"sort"
	"sync"

	domain "formgate/pkg/domain"
)

// InMemoryStore keeps the audit trail in memory for tests/dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.SessionID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.SessionID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID domain.SessionID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[sessionID]...), nil
}

// ListRecent returns the most recent events across all sessions, newest
// first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Event
	for _, sessionEvents := range s.events {
		all = append(all, sessionEvents...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
