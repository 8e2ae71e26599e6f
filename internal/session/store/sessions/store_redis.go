package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

func sessionKey(sessionID domain.SessionID) string {
	return "session:" + sessionID.String()
}

// RedisSessionStore persists sessions in Redis with a TTL matching the
// session lifetime, so expiry needs no janitor.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Create(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = models.DefaultLifetime
	}

	created, err := s.client.SetNX(ctx, sessionKey(session.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisSessionStore) FindByID(ctx context.Context, sessionID domain.SessionID) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", sentinel.ErrInvalidState)
	}
	return &session, nil
}

// Update overwrites an existing session and keeps its remaining TTL, so
// saving wizard progress never extends the session lifetime.
func (s *RedisSessionStore) Update(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	updated, err := s.client.SetXX(ctx, sessionKey(session.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !updated {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID domain.SessionID) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs already remove expired sessions.
func (s *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
