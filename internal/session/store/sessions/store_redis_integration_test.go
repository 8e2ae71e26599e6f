//go:build integration

package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"formgate/internal/form"
	"formgate/internal/session/models"
	"formgate/internal/session/store/sessions"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
	"formgate/pkg/testutil/containers"
)

type RedisSessionStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *sessions.RedisSessionStore
	ctx   context.Context
}

func TestRedisSessionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSessionStoreSuite))
}

func (s *RedisSessionStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = sessions.NewRedis(s.redis.Client)
}

func (s *RedisSessionStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisSessionStoreSuite) makeSession(ttl time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:          domain.NewSessionID(),
		FormVariant: domain.VariantVisitor,
		StashSecret: []byte("0123456789abcdef0123456789abcdef"),
		DeviceLabel: "Firefox on Linux",
		WizardState: form.State{
			Phase:   form.PhaseNoMajorSelected,
			Answers: form.AnswerMap{"q-email": form.TextValue("dev@example.com")},
		},
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}
}

func (s *RedisSessionStoreSuite) TestCreateAndFindRoundTrip() {
	session := s.makeSession(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, session))

	found, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(session.ID, found.ID)
	s.Equal(session.FormVariant, found.FormVariant)
	s.Equal(session.StashSecret, found.StashSecret)
	s.Equal(session.DeviceLabel, found.DeviceLabel)
	s.Equal("dev@example.com", found.WizardState.Answers["q-email"].Text)
}

func (s *RedisSessionStoreSuite) TestCreateDuplicateConflicts() {
	session := s.makeSession(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, session))
	s.Require().ErrorIs(s.store.Create(s.ctx, session), sentinel.ErrConflict)
}

func (s *RedisSessionStoreSuite) TestSessionKeyCarriesTTL() {
	session := s.makeSession(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, session))

	ttl, err := s.redis.Client.TTL(s.ctx, "session:"+session.ID.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 55*time.Minute)
	s.LessOrEqual(ttl, time.Hour)
}

func (s *RedisSessionStoreSuite) TestUpdateKeepsRemainingTTL() {
	session := s.makeSession(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, session))

	session.WizardState.Phase = form.PhaseMajorSelected
	s.Require().NoError(s.store.Update(s.ctx, session))

	ttl, err := s.redis.Client.TTL(s.ctx, "session:"+session.ID.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 55*time.Minute)
	s.LessOrEqual(ttl, time.Hour)

	found, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(form.PhaseMajorSelected, found.WizardState.Phase)
}

func (s *RedisSessionStoreSuite) TestUpdateUnknownReturnsNotFound() {
	err := s.store.Update(s.ctx, s.makeSession(time.Hour))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisSessionStoreSuite) TestDeleteRemovesKey() {
	session := s.makeSession(time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, session))
	s.Require().NoError(s.store.Delete(s.ctx, session.ID))

	_, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
