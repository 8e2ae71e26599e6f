package sessions

import (
	"context"
	"sync"
	"time"

	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in a map for development and tests.
// All reads and writes go through Clone so callers never share state with
// the store.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*models.Session
}

func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[domain.SessionID]*models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID domain.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemorySessionStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired removes sessions past their lifetime and returns how many
// were dropped. Run periodically; redis handles this with TTLs instead.
func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sessionID, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, sessionID)
			removed++
		}
	}
	return removed, nil
}
