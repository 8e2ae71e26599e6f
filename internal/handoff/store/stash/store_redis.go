package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"formgate/internal/handoff"
	"formgate/internal/handoff/models"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

var (
	consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formgate_stash_consume_duration_ms",
		Help:    "Latency of one-shot stash consumption in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	})
)

// Redis key layout: one entry per stored fact, session-scoped, written and
// deleted as a unit. The consumed marker outlives the entries so replays are
// distinguishable from absence.
func envelopeKey(sessionID domain.SessionID) string {
	return "stash:" + sessionID.String() + ":pendingFormSubmission"
}

func variantKey(sessionID domain.SessionID) string {
	return "stash:" + sessionID.String() + ":pendingFormType"
}

func tokenKey(sessionID domain.SessionID) string {
	return "stash:" + sessionID.String() + ":antiReplayToken"
}

func consumedKey(sessionID domain.SessionID) string {
	return "stash:" + sessionID.String() + ":consumed"
}

// RedisStashStore is the Redis-backed stash store for distributed
// deployments where any instance may serve the identity return leg.
type RedisStashStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed stash store.
func NewRedis(client *redis.Client) *RedisStashStore {
	return &RedisStashStore{client: client}
}

// Put stores the record's entries in one pipeline. Envelope and variant carry
// the envelope TTL; the token carries its own longer lifetime.
func (s *RedisStashStore) Put(ctx context.Context, rec *models.Record) error {
	envelopeTTL := time.Until(rec.ExpiresAt)
	if envelopeTTL <= 0 {
		envelopeTTL = models.EnvelopeLifetime
	}

	tokenJSON, err := json.Marshal(rec.Token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, envelopeKey(rec.SessionID), rec.Envelope, envelopeTTL)
	pipe.Set(ctx, variantKey(rec.SessionID), rec.FormVariant.String(), envelopeTTL)
	pipe.Set(ctx, tokenKey(rec.SessionID), tokenJSON, models.TokenLifetime)
	pipe.Del(ctx, consumedKey(rec.SessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store stashed submission: %w", err)
	}
	return nil
}

// ConsumeEnvelope atomically removes and returns the envelope via GETDEL and
// leaves a consumed marker behind.
func (s *RedisStashStore) ConsumeEnvelope(ctx context.Context, sessionID domain.SessionID, now time.Time) (*models.Record, error) {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := s.client.GetDel(ctx, envelopeKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		used, usedErr := s.client.Exists(ctx, consumedKey(sessionID)).Result()
		if usedErr == nil && used > 0 {
			return nil, fmt.Errorf("stashed submission already used: %w", sentinel.ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("stashed submission not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("consume stashed submission: %w", err)
	}

	pipe := s.client.Pipeline()
	variantCmd := pipe.Get(ctx, variantKey(sessionID))
	pipe.Set(ctx, consumedKey(sessionID), "1", models.TokenLifetime)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("mark stashed submission consumed: %w", err)
	}

	rec := &models.Record{
		SessionID:   sessionID,
		Envelope:    []byte(raw),
		FormVariant: domain.FormVariant(variantCmd.Val()),
	}
	// Version and age live in the envelope's plaintext framing; reconstruct
	// them so expiry checks behave the same as the in-memory store.
	if version, storedAt, peekErr := handoff.PeekEnvelope(rec.Envelope); peekErr == nil {
		rec.Version = version
		rec.CreatedAt = storedAt
		rec.ExpiresAt = storedAt.Add(models.EnvelopeLifetime)
	}
	if err := rec.ValidateForConsume(now); err != nil {
		return rec, translateStashError(err)
	}
	return rec, nil
}

// TakeToken atomically removes and returns the anti-replay token via GETDEL.
func (s *RedisStashStore) TakeToken(ctx context.Context, sessionID domain.SessionID) (*models.TokenRecord, error) {
	raw, err := s.client.GetDel(ctx, tokenKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("anti-replay token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("take anti-replay token: %w", err)
	}
	var token models.TokenRecord
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("parse anti-replay token: %w", err)
	}
	return &token, nil
}

// Peek reads the envelope framing and the variant without consuming either.
func (s *RedisStashStore) Peek(ctx context.Context, sessionID domain.SessionID) (*models.Pending, error) {
	vals, err := s.client.MGet(ctx, envelopeKey(sessionID), variantKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek stashed submission: %w", err)
	}

	rawEnvelope, ok := vals[0].(string)
	if !ok {
		used, usedErr := s.client.Exists(ctx, consumedKey(sessionID)).Result()
		if usedErr == nil && used > 0 {
			return nil, fmt.Errorf("stashed submission already used: %w", sentinel.ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("stashed submission not found: %w", sentinel.ErrNotFound)
	}

	version, storedAt, err := handoff.PeekEnvelope([]byte(rawEnvelope))
	if err != nil {
		return nil, fmt.Errorf("unreadable envelope framing: %w", sentinel.ErrInvalidState)
	}

	pending := &models.Pending{Version: version, StoredAt: storedAt}
	if variant, ok := vals[1].(string); ok {
		pending.FormVariant = domain.FormVariant(variant)
	}
	return pending, nil
}

// Delete removes the session's live entries in one call so they disappear
// together. The consumed marker is left to expire on its own.
func (s *RedisStashStore) Delete(ctx context.Context, sessionID domain.SessionID) error {
	err := s.client.Del(ctx, envelopeKey(sessionID), variantKey(sessionID), tokenKey(sessionID)).Err()
	if err != nil {
		return fmt.Errorf("clear stashed submission: %w", err)
	}
	return nil
}
