package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"formgate/internal/form"
	"formgate/internal/session"
	"formgate/internal/session/handler/mocks"
	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/session-mocks.go -package=mocks Service

type SessionHandlerSuite struct {
	suite.Suite
	tokens *session.TokenService
}

func TestSessionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SessionHandlerSuite))
}

func (s *SessionHandlerSuite) SetupSuite() {
	s.tokens = session.NewTokenService("test-signing-key", "formgate", "formgate-applicants", time.Hour)
}

func (s *SessionHandlerSuite) newRouter(limiter func(http.Handler) http.Handler) (*chi.Mux, *mocks.MockService) {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	service := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(service, s.tokens, logger, nil, limiter).Register(r)
	return r, service
}

func sampleSession(variant domain.FormVariant) *models.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:          domain.NewSessionID(),
		FormVariant: variant,
		StashSecret: []byte("0123456789abcdef0123456789abcdef"),
		DeviceLabel: "Chrome on Mac OS",
		WizardState: form.State{Phase: form.PhaseNoMajorSelected},
		CreatedAt:   now,
		ExpiresAt:   now.Add(2 * time.Hour),
		LastSeenAt:  now,
	}
}

func (s *SessionHandlerSuite) TestStartSession() {
	r, service := s.newRouter(nil)
	sess := sampleSession(domain.VariantCompetitor)
	service.EXPECT().Start(gomock.Any(), domain.VariantCompetitor).Return(sess, "signed-token", nil)

	body, err := json.Marshal(map[string]string{"form_variant": "competitor"})
	s.Require().NoError(err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body)))

	s.Require().Equal(http.StatusCreated, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(sess.ID.String(), resp["session_id"])
	s.Equal("competitor", resp["form_variant"])
	s.Equal("signed-token", resp["token"])
	s.Equal("no_major_selected", resp["phase"])
}

func (s *SessionHandlerSuite) TestStartRejectsUnknownVariant() {
	r, _ := s.newRouter(nil)

	body := []byte(`{"form_variant":"exhibitor"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body)))

	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "invalid_input")
}

func (s *SessionHandlerSuite) TestStartRejectsMalformedBody() {
	r, _ := s.newRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader([]byte("{not json"))))

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *SessionHandlerSuite) TestStartSurfacesServiceUnavailable() {
	r, service := s.newRouter(nil)
	service.EXPECT().Start(gomock.Any(), domain.VariantVisitor).
		Return(nil, "", dErrors.New(dErrors.CodeUnavailable, "form schema unavailable"))

	body := []byte(`{"form_variant":"visitor"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body)))

	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *SessionHandlerSuite) TestGetSessionRequiresToken() {
	r, _ := s.newRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/me", nil))

	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *SessionHandlerSuite) TestGetSessionResolvesTokenToSession() {
	r, service := s.newRouter(nil)
	sess := sampleSession(domain.VariantVisitor)
	service.EXPECT().Get(gomock.Any(), sess.ID).Return(sess, nil)

	token, err := s.tokens.Generate(sess.ID, sess.FormVariant)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	s.Require().Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(sess.ID.String(), resp["session_id"])
	s.NotContains(resp, "token")
}

func (s *SessionHandlerSuite) TestEndSession() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	service.EXPECT().End(gomock.Any(), sessionID).Return(nil)

	token, err := s.tokens.Generate(sessionID, domain.VariantCompetitor)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	s.Equal(http.StatusNoContent, w.Code)
}

func (s *SessionHandlerSuite) TestStartGoesThroughRateLimiter() {
	limited := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r, _ := s.newRouter(limited)

	body := []byte(`{"form_variant":"competitor"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body)))

	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("30", w.Header().Get("Retry-After"))
}
