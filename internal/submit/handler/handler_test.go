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
	"formgate/internal/submit"
	"formgate/internal/submit/handler/mocks"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/submit-mocks.go -package=mocks Service

type SubmitHandlerSuite struct {
	suite.Suite
	tokens *session.TokenService
}

func TestSubmitHandlerSuite(t *testing.T) {
	suite.Run(t, new(SubmitHandlerSuite))
}

func (s *SubmitHandlerSuite) SetupSuite() {
	s.tokens = session.NewTokenService("test-signing-key", "formgate", "formgate-applicants", time.Hour)
}

func (s *SubmitHandlerSuite) newRouter(limiter func(http.Handler) http.Handler) (*chi.Mux, *mocks.MockService) {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	service := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(service, s.tokens, logger, nil, limiter).Register(r)
	return r, service
}

func (s *SubmitHandlerSuite) authedRequest(target string, body []byte, sessionID domain.SessionID) *http.Request {
	token, err := s.tokens.Generate(sessionID, domain.VariantCompetitor)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type submissionView struct {
	Status        string            `json:"status"`
	SubmissionID  string            `json:"submission_id"`
	AuthorizeURL  string            `json:"authorize_url"`
	HandoffToken  string            `json:"handoff_token"`
	FieldErrors   []form.FieldError `json:"field_errors"`
	Reason        string            `json:"reason"`
	Message       string            `json:"message"`
	AutoSubmitted bool              `json:"auto_submitted"`
}

func (s *SubmitHandlerSuite) decode(w *httptest.ResponseRecorder) submissionView {
	var resp submissionView
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *SubmitHandlerSuite) TestBeginRequiresToken() {
	r, _ := s.newRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/submissions", nil))

	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *SubmitHandlerSuite) TestBeginWithoutBodyHandsOffToIdentity() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	service.EXPECT().Begin(gomock.Any(), sessionID, "").Return(&submit.Result{
		Status:       submit.StatusIdentityRequired,
		AuthorizeURL: "https://idp.example/authorize?state=tok-1",
		HandoffToken: "tok-1",
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", nil, sessionID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Equal("identity_required", resp.Status)
	s.Equal("https://idp.example/authorize?state=tok-1", resp.AuthorizeURL)
	s.Equal("tok-1", resp.HandoffToken)
	s.Empty(resp.SubmissionID)
}

func (s *SubmitHandlerSuite) TestBeginWithAssertionDelivers() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	submissionID := domain.NewSubmissionID()
	service.EXPECT().Begin(gomock.Any(), sessionID, "idp-code-1").Return(&submit.Result{
		Status:       submit.StatusSubmitted,
		SubmissionID: submissionID,
	}, nil)

	body := []byte(`{"assertion":"idp-code-1"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", body, sessionID))

	s.Require().Equal(http.StatusCreated, w.Code)
	resp := s.decode(w)
	s.Equal("submitted", resp.Status)
	s.Equal(submissionID.String(), resp.SubmissionID)
	s.False(resp.AutoSubmitted)
}

func (s *SubmitHandlerSuite) TestBeginInvalidFormReportsFieldErrors() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	service.EXPECT().Begin(gomock.Any(), sessionID, "").Return(&submit.Result{
		Status: submit.StatusInvalid,
		FieldErrors: []form.FieldError{
			{QuestionID: "q-email", Message: "must be a valid email address"},
		},
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", []byte(`{}`), sessionID))

	s.Require().Equal(http.StatusBadRequest, w.Code)
	resp := s.decode(w)
	s.Equal("invalid", resp.Status)
	s.Require().Len(resp.FieldErrors, 1)
	s.Equal("q-email", resp.FieldErrors[0].QuestionID)
	s.Empty(resp.SubmissionID)
}

func (s *SubmitHandlerSuite) TestBeginBackendRejectionCarriesReason() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	submissionID := domain.NewSubmissionID()
	service.EXPECT().Begin(gomock.Any(), sessionID, "idp-code-1").Return(&submit.Result{
		Status:       submit.StatusRejected,
		SubmissionID: submissionID,
		Reason:       submit.ReasonDuplicateSubmission,
		Message:      "this application was already submitted",
	}, nil)

	body := []byte(`{"assertion":"idp-code-1"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", body, sessionID))

	s.Require().Equal(http.StatusBadGateway, w.Code)
	resp := s.decode(w)
	s.Equal("rejected", resp.Status)
	s.Equal("duplicate_submission", resp.Reason)
	s.Equal("this application was already submitted", resp.Message)
	s.Equal(submissionID.String(), resp.SubmissionID)
}

func (s *SubmitHandlerSuite) TestBeginMalformedBodyRejected() {
	r, _ := s.newRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", []byte(`{not json`), domain.NewSessionID()))

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *SubmitHandlerSuite) TestBeginLockedFormConflicts() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	service.EXPECT().Begin(gomock.Any(), sessionID, "").
		Return(nil, dErrors.New(dErrors.CodeConflict, "form already submitted"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", nil, sessionID))

	s.Equal(http.StatusConflict, w.Code)
	s.Contains(w.Body.String(), "form already submitted")
}

func (s *SubmitHandlerSuite) TestResumeValidatesBody() {
	r, _ := s.newRouter(nil)
	sessionID := domain.NewSessionID()

	for _, body := range []string{
		`{"assertion":"idp-code-1"}`,
		`{"handoff_token":"tok-1"}`,
		`{not json`,
		``,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, s.authedRequest("/v1/submissions/resume", []byte(body), sessionID))
		s.Equal(http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func (s *SubmitHandlerSuite) TestResumeAutoSubmits() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	submissionID := domain.NewSubmissionID()
	service.EXPECT().Resume(gomock.Any(), sessionID, "tok-1", "idp-code-1").Return(&submit.Result{
		Status:        submit.StatusSubmitted,
		SubmissionID:  submissionID,
		AutoSubmitted: true,
	}, nil)

	body := []byte(`{"handoff_token":"tok-1","assertion":"idp-code-1"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions/resume", body, sessionID))

	s.Require().Equal(http.StatusCreated, w.Code)
	resp := s.decode(w)
	s.Equal("submitted", resp.Status)
	s.Equal(submissionID.String(), resp.SubmissionID)
	s.True(resp.AutoSubmitted)
}

func (s *SubmitHandlerSuite) TestResumeWithNothingPending() {
	r, service := s.newRouter(nil)
	sessionID := domain.NewSessionID()
	service.EXPECT().Resume(gomock.Any(), sessionID, "tok-stale", "idp-code-1").
		Return(&submit.Result{Status: submit.StatusNoPending}, nil)

	body := []byte(`{"handoff_token":"tok-stale","assertion":"idp-code-1"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions/resume", body, sessionID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Equal("no_pending", resp.Status)
	s.Empty(resp.SubmissionID)
}

func (s *SubmitHandlerSuite) TestSubmissionsGoThroughRateLimiter() {
	limited := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r, _ := s.newRouter(limited)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest("/v1/submissions", nil, domain.NewSessionID()))

	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("30", w.Result().Header.Get("Retry-After"))
}
