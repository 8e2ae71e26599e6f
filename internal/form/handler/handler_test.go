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
	"formgate/internal/form/handler/mocks"
	"formgate/internal/session"
	"formgate/internal/session/models"
	domain "formgate/pkg/domain"
)

//go:generate mockgen -source=handler.go -destination=mocks/wizard-mocks.go -package=mocks Service

type WizardHandlerSuite struct {
	suite.Suite
	tokens *session.TokenService
}

func TestWizardHandlerSuite(t *testing.T) {
	suite.Run(t, new(WizardHandlerSuite))
}

func (s *WizardHandlerSuite) SetupSuite() {
	s.tokens = session.NewTokenService("test-signing-key", "formgate", "formgate-applicants", time.Hour)
}

func (s *WizardHandlerSuite) newRouter() (*chi.Mux, *mocks.MockService) {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	service := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(service, s.tokens, logger, nil).Register(r)
	return r, service
}

func wizardSchema(variant domain.FormVariant) *form.Schema {
	return &form.Schema{
		Variant: variant,
		Questions: []form.Question{
			{ID: "q-email", Kind: form.KindShortText, Label: "Email address", Role: form.RoleEmail, Required: true},
			{ID: "q-track", Kind: form.KindSingleChoice, Label: "Track", Role: form.RoleBranchDiscriminator, Options: []string{"Robotics", "Software"}},
			{ID: "s-robotics", Kind: form.KindSectionHeader, Label: "Robotics"},
			{ID: "q-kit", Kind: form.KindShortText, Label: "Kit model"},
			{ID: "s-software", Kind: form.KindSectionHeader, Label: "Software"},
			{ID: "q-repo", Kind: form.KindShortText, Label: "Repository"},
		},
		Branches: map[string]form.Range{
			"Robotics": {Start: 2, End: 4},
			"Software": {Start: 4, End: form.OpenEnd},
		},
	}
}

func wizardSession(variant domain.FormVariant) *models.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:          domain.NewSessionID(),
		FormVariant: variant,
		WizardState: form.State{Phase: form.PhaseNoMajorSelected},
		CreatedAt:   now,
		ExpiresAt:   now.Add(2 * time.Hour),
		LastSeenAt:  now,
	}
}

func (s *WizardHandlerSuite) authedRequest(method, target string, body []byte, sessionID domain.SessionID) *http.Request {
	token, err := s.tokens.Generate(sessionID, domain.VariantVisitor)
	s.Require().NoError(err)

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type wizardView struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Valid     bool   `json:"valid"`
	Questions []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Required bool   `json:"required"`
	} `json:"questions"`
	Answers form.AnswerMap    `json:"answers"`
	Errors  []form.FieldError `json:"errors"`
}

func (s *WizardHandlerSuite) decode(w *httptest.ResponseRecorder) wizardView {
	var resp wizardView
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func questionIDs(resp wizardView) []string {
	out := make([]string, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		out = append(out, q.ID)
	}
	return out
}

func (s *WizardHandlerSuite) TestGetRequiresToken() {
	r, _ := s.newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/wizard", nil))

	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *WizardHandlerSuite) TestGetShowsOnlyPrefixBeforeMajor() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodGet, "/v1/wizard", nil, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Equal(sess.ID.String(), resp.SessionID)
	s.Equal("no_major_selected", resp.Phase)
	s.Equal([]string{"q-email", "q-track"}, questionIDs(resp))
	s.False(resp.Valid, "required email is absent")
}

func (s *WizardHandlerSuite) TestGetShowsChosenBranch() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	s.Require().NoError(wiz.SetAnswer("q-track", form.ChoicesValue("Robotics")))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodGet, "/v1/wizard", nil, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Equal("major_selected", resp.Phase)
	s.Equal([]string{"q-email", "q-track", "s-robotics", "q-kit"}, questionIDs(resp))
}

func (s *WizardHandlerSuite) TestCompetitorVariantMarksVisibleRequired() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantCompetitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantCompetitor))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodGet, "/v1/wizard", nil, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	for _, q := range resp.Questions {
		s.True(q.Required, "question %s should be required on the competitor form", q.ID)
	}
}

func (s *WizardHandlerSuite) TestPutRecordsAnswers() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)
	service.EXPECT().SaveWizard(gomock.Any(), sess, wiz).Return(nil)

	body := []byte(`{"answers":{"q-email":"ada@example.org","q-track":["Software"]}}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", body, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Equal("major_selected", resp.Phase)
	s.Equal([]string{"q-email", "q-track", "s-software", "q-repo"}, questionIDs(resp))
	s.Contains(resp.Answers, "q-email")
	s.True(resp.Valid)
}

func (s *WizardHandlerSuite) TestPutAppliesDiscriminatorBeforeBranchAnswers() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	s.Require().NoError(wiz.SetAnswer("q-track", form.ChoicesValue("Software")))
	s.Require().NoError(wiz.SetAnswer("q-repo", form.TextValue("github.com/ada/rover")))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)
	service.EXPECT().SaveWizard(gomock.Any(), sess, wiz).Return(nil)

	body := []byte(`{"answers":{"q-track":["Robotics"],"q-kit":"V5 kit"}}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", body, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code)
	resp := s.decode(w)
	s.Contains(resp.Answers, "q-kit", "answers for the new branch survive the switch")

	// The old branch's answer was discarded by the discriminator change, not
	// merely hidden.
	_, kept := wiz.Answer("q-repo")
	s.False(kept)
}

func (s *WizardHandlerSuite) TestPutRejectsUnknownQuestion() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)

	body := []byte(`{"answers":{"q-ghost":"boo"}}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", body, sess.ID))

	s.Equal(http.StatusNotFound, w.Code)
	s.Contains(w.Body.String(), "unknown question")
}

func (s *WizardHandlerSuite) TestPutRejectsLockedForm() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizardFromState(wizardSchema(domain.VariantVisitor), form.State{Phase: form.PhaseLocked})
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)

	body := []byte(`{"answers":{"q-email":"ada@example.org"}}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", body, sess.ID))

	s.Equal(http.StatusConflict, w.Code)
}

func (s *WizardHandlerSuite) TestPutRejectsEmptyBatch() {
	r, _ := s.newRouter()
	sessionID := domain.NewSessionID()

	for _, body := range []string{`{"answers":{}}`, `{}`, `{not json`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", []byte(body), sessionID))
		s.Equal(http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func (s *WizardHandlerSuite) TestPutSavesInvalidAnswersAndReportsInlineErrors() {
	r, service := s.newRouter()
	sess := wizardSession(domain.VariantVisitor)
	wiz := form.NewWizard(wizardSchema(domain.VariantVisitor))
	service.EXPECT().LoadWizard(gomock.Any(), sess.ID).Return(sess, wiz, nil)
	service.EXPECT().SaveWizard(gomock.Any(), sess, wiz).Return(nil)

	body := []byte(`{"answers":{"q-email":"not-an-email"}}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, s.authedRequest(http.MethodPut, "/v1/wizard/answers", body, sess.ID))

	s.Require().Equal(http.StatusOK, w.Code, "invalid content is saved, validity only gates submission")
	resp := s.decode(w)
	s.False(resp.Valid)
	s.Require().Len(resp.Errors, 1)
	s.Equal("q-email", resp.Errors[0].QuestionID)
	s.Equal("must be a valid email address", resp.Errors[0].Message)
}
