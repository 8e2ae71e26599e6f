package stash

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"formgate/internal/handoff/models"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

// translateStashError converts domain errors from ValidateForConsume to sentinel errors.
func translateStashError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "expired"):
		return fmt.Errorf("%s: %w", msg, sentinel.ErrExpired)
	case strings.Contains(msg, "already used"):
		return fmt.Errorf("%s: %w", msg, sentinel.ErrAlreadyUsed)
	default:
		return fmt.Errorf("%s: %w", msg, sentinel.ErrInvalidState)
	}
}

// InMemoryStashStore keeps stashed submissions in memory for tests/dev.
//
// A session's stash is in one of three states: absent, pending, or consumed.
// Consumed sessions leave a tombstone so a replayed consume is told apart
// from a stash that never existed.
type InMemoryStashStore struct {
	mu       sync.RWMutex
	records  map[string]*models.Record
	consumed map[string]time.Time
}

// New constructs an empty in-memory stash store.
func New() *InMemoryStashStore {
	return &InMemoryStashStore{
		records:  make(map[string]*models.Record),
		consumed: make(map[string]time.Time),
	}
}

// Put stores the record. A new stash supersedes any earlier consumed state
// for the session.
func (s *InMemoryStashStore) Put(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.SessionID.String()
	s.records[key] = rec
	delete(s.consumed, key)
	return nil
}

// ConsumeEnvelope transitions a pending stash to consumed and returns it.
// Errors are returned as sentinel errors per store boundary contract.
func (s *InMemoryStashStore) ConsumeEnvelope(_ context.Context, sessionID domain.SessionID, now time.Time) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionID.String()
	rec, ok := s.records[key]
	if !ok {
		if _, used := s.consumed[key]; used {
			return nil, fmt.Errorf("stashed submission already used: %w", sentinel.ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("stashed submission not found: %w", sentinel.ErrNotFound)
	}

	if err := rec.ValidateForConsume(now); err != nil {
		return rec, translateStashError(err)
	}

	delete(s.records, key)
	s.consumed[key] = now
	return rec, nil
}

// TakeToken removes and returns the anti-replay token for the session.
func (s *InMemoryStashStore) TakeToken(_ context.Context, sessionID domain.SessionID) (*models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID.String()]
	if !ok || rec.Token == nil {
		return nil, fmt.Errorf("anti-replay token not found: %w", sentinel.ErrNotFound)
	}
	token := rec.Token
	rec.Token = nil
	return token, nil
}

// Peek returns stash metadata without consuming anything.
func (s *InMemoryStashStore) Peek(_ context.Context, sessionID domain.SessionID) (*models.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := sessionID.String()
	rec, ok := s.records[key]
	if !ok {
		if _, used := s.consumed[key]; used {
			return nil, fmt.Errorf("stashed submission already used: %w", sentinel.ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("stashed submission not found: %w", sentinel.ErrNotFound)
	}
	return &models.Pending{
		Version:     rec.Version,
		FormVariant: rec.FormVariant,
		StoredAt:    rec.CreatedAt,
	}, nil
}

// Delete removes the session's live entries. The consumed tombstone survives
// so replay detection keeps working after teardown.
func (s *InMemoryStashStore) Delete(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID.String())
	return nil
}

// DeleteExpired removes records past their expiry and tombstones older than
// the token lifetime, as of the given time. The time parameter is injected
// for testability (no hidden time.Now() calls).
func (s *InMemoryStashStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deletedCount := 0
	for key, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, key)
			deletedCount++
		}
	}
	for key, consumedAt := range s.consumed {
		if now.Sub(consumedAt) > models.TokenLifetime {
			delete(s.consumed, key)
		}
	}
	return deletedCount, nil
}
