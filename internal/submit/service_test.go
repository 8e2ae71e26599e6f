package submit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"formgate/internal/archive"
	"formgate/internal/archive/store/submissions"
	"formgate/internal/audit"
	"formgate/internal/form"
	"formgate/internal/handoff"
	handoffmodels "formgate/internal/handoff/models"
	"formgate/internal/handoff/store/stash"
	"formgate/internal/session"
	"formgate/internal/session/store/sessions"
	"formgate/internal/wire"
	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
	"formgate/pkg/requestcontext"
)

type stubSchemas struct {
	schema *form.Schema
}

func (s *stubSchemas) Schema(_ context.Context, variant domain.FormVariant) (*form.Schema, error) {
	copied := *s.schema
	copied.Variant = variant
	return &copied, nil
}

// stubDevices derives label and fingerprint straight from the User-Agent so
// tests can force a device change by switching agents.
type stubDevices struct{}

func (stubDevices) Label(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	return "Browser " + userAgent
}

func (stubDevices) Fingerprint(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	return "fp:" + userAgent
}

type stubVerifier struct {
	err error
}

func (v *stubVerifier) AuthorizeURL(state string) string {
	return "https://idp.example/authorize?state=" + state
}

func (v *stubVerifier) Credential(_ context.Context, assertion string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return "bearer-for-" + assertion, nil
}

type submitCall struct {
	variant     domain.FormVariant
	payload     wire.Payload
	bearer      string
	hasDeadline bool
}

type stubSubmitter struct {
	mu    sync.Mutex
	err   error
	hang  bool
	calls []submitCall
}

func (f *stubSubmitter) Submit(ctx context.Context, variant domain.FormVariant, payload wire.Payload, bearer string) error {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	f.calls = append(f.calls, submitCall{variant: variant, payload: payload.Clone(), bearer: bearer, hasDeadline: hasDeadline})
	err, hang := f.err, f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *stubSubmitter) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *stubSubmitter) hangUntilDeadline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = true
}

func (f *stubSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *stubSubmitter) lastCall() *submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	call := f.calls[len(f.calls)-1]
	return &call
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func submitSchema() *form.Schema {
	return &form.Schema{
		Questions: []form.Question{
			{ID: "q-email", ExternalFieldID: "entry.1001", Kind: form.KindShortText, Label: "Email address", Role: form.RoleEmail},
			{ID: "q-track", ExternalFieldID: "entry.1002", Kind: form.KindSingleChoice, Label: "Track", Role: form.RoleBranchDiscriminator, Options: []string{"Robotics", "Software"}},
			{ID: "q-kit", ExternalFieldID: "entry.1003", Kind: form.KindShortText, Label: "Kit model"},
		},
		Branches: map[string]form.Range{
			"Robotics": {Start: 2, End: form.OpenEnd},
			"Software": {Start: 3, End: form.OpenEnd},
		},
	}
}

type SubmitServiceSuite struct {
	suite.Suite

	clock     *testClock
	sessions  *session.Service
	bridge    *handoff.Bridge
	verifier  *stubVerifier
	forms     *stubSubmitter
	archived  *submissions.InMemoryStore
	trail     *audit.InMemoryStore
	service   *Service
	ctx       context.Context
	sessionID domain.SessionID
}

func TestSubmitServiceSuite(t *testing.T) {
	suite.Run(t, new(SubmitServiceSuite))
}

func (s *SubmitServiceSuite) SetupTest() {
	s.clock = &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.trail = audit.NewInMemoryStore()
	publisher := audit.NewPublisher(s.trail)

	s.sessions = session.New(
		sessions.New(),
		session.NewTokenService("test-signing-key", "formgate", "formgate-applicants", time.Hour),
		&stubSchemas{schema: submitSchema()},
		stubDevices{},
		session.WithClock(s.clock.Now),
	)
	s.bridge = handoff.New(stash.New(), s.sessions,
		handoff.WithClock(s.clock.Now),
		handoff.WithAudit(publisher),
	)
	s.verifier = &stubVerifier{}
	s.forms = &stubSubmitter{}
	s.archived = submissions.New(submissions.WithClock(s.clock.Now))

	s.service = New(s.sessions, s.bridge, s.verifier, s.forms, s.archived,
		WithDevices(stubDevices{}),
		WithAudit(publisher),
		WithClock(s.clock.Now),
	)

	s.ctx = requestcontext.WithClientMetadata(context.Background(), "203.0.113.7", "agent-a")
	sess, _, err := s.sessions.Start(s.ctx, domain.VariantCompetitor)
	s.Require().NoError(err)
	s.sessionID = sess.ID
}

func (s *SubmitServiceSuite) fillValidForm() {
	_, wiz, err := s.sessions.LoadWizard(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.Require().NoError(wiz.SetAnswer("q-email", form.TextValue("dev@example.com")))
	s.Require().NoError(wiz.SetAnswer("q-track", form.ChoicesValue("Robotics")))
	s.Require().NoError(wiz.SetAnswer("q-kit", form.TextValue("V5")))
	sess, err := s.sessions.Get(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.SaveWizard(s.ctx, sess, wiz))
}

func (s *SubmitServiceSuite) trailActions() []string {
	events, err := s.trail.ListBySession(context.Background(), s.sessionID)
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *SubmitServiceSuite) TestBeginInvalidFormStopsAtTheGate() {
	result, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	s.Equal(StatusInvalid, result.Status)
	s.NotEmpty(result.FieldErrors)
	s.Zero(s.forms.callCount())
	s.False(s.bridge.HasPending(s.ctx, s.sessionID), "nothing is stashed for an invalid form")

	// The touched marks persist so a reload still shows the errors inline.
	_, wiz, err := s.sessions.LoadWizard(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.NotEmpty(wiz.TouchedFieldErrors())
}

func (s *SubmitServiceSuite) TestBeginWithoutCredentialStashesAndHandsOff() {
	s.fillValidForm()

	result, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	s.Equal(StatusIdentityRequired, result.Status)
	s.NotEmpty(result.HandoffToken)
	s.Equal("https://idp.example/authorize?state="+result.HandoffToken, result.AuthorizeURL,
		"the anti-replay token rides the hand-off as its state")
	s.True(s.bridge.HasPending(s.ctx, s.sessionID))
	s.Zero(s.forms.callCount())
	s.Contains(s.trailActions(), audit.ActionSubmissionStashed)
}

func (s *SubmitServiceSuite) TestBeginWithAssertionDeliversDirectly() {
	s.fillValidForm()

	result, err := s.service.Begin(s.ctx, s.sessionID, "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusSubmitted, result.Status)
	s.False(result.SubmissionID.IsNil())
	s.False(result.AutoSubmitted)

	call := s.forms.lastCall()
	s.Require().NotNil(call)
	s.Equal(domain.VariantCompetitor, call.variant)
	s.Equal("bearer-for-assertion-1", call.bearer)
	s.Equal("dev@example.com", call.payload.Get("entry.1001"))
	s.Equal("Robotics", call.payload.Get("entry.1002"))
	s.True(call.hasDeadline, "delivery runs under the submit timeout guard")

	_, wiz, err := s.sessions.LoadWizard(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.True(wiz.Locked())

	record, err := s.archived.FindByID(s.ctx, result.SubmissionID)
	s.Require().NoError(err)
	s.Equal(archive.OutcomeSubmitted, record.Outcome)
	s.Equal("dev@example.com", record.Email)
	s.False(record.AutoSubmitted)

	s.Contains(s.trailActions(), audit.ActionSubmissionSubmitted)
}

func (s *SubmitServiceSuite) TestBeginLockedFormConflicts() {
	s.fillValidForm()
	_, err := s.service.Begin(s.ctx, s.sessionID, "assertion-1")
	s.Require().NoError(err)

	_, err = s.service.Begin(s.ctx, s.sessionID, "assertion-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(1, s.forms.callCount(), "a locked form never reaches the backend again")
}

func (s *SubmitServiceSuite) TestBeginInvalidAssertionRejected() {
	s.fillValidForm()
	s.verifier.err = dErrors.New(dErrors.CodeUnauthorized, "invalid assertion")

	_, err := s.service.Begin(s.ctx, s.sessionID, "assertion-bad")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(s.forms.callCount())
}

func (s *SubmitServiceSuite) TestResumeAutoSubmitsExactlyOnce() {
	s.fillValidForm()
	begun, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	result, err := s.service.Resume(s.ctx, s.sessionID, begun.HandoffToken, "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusSubmitted, result.Status)
	s.True(result.AutoSubmitted)
	s.Equal(1, s.forms.callCount())
	s.Equal("bearer-for-assertion-1", s.forms.lastCall().bearer)

	record, err := s.archived.FindByID(s.ctx, result.SubmissionID)
	s.Require().NoError(err)
	s.True(record.AutoSubmitted)

	actions := s.trailActions()
	s.Contains(actions, audit.ActionHandoffReturned)
	s.Contains(actions, audit.ActionSubmissionAutoSubmitted)

	// A replayed return finds the form locked before anything else runs.
	_, err = s.service.Resume(s.ctx, s.sessionID, begun.HandoffToken, "assertion-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(1, s.forms.callCount())
}

func (s *SubmitServiceSuite) TestResumeWithWrongTokenBurnsStash() {
	s.fillValidForm()
	_, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	result, err := s.service.Resume(s.ctx, s.sessionID, "forged-token", "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusNoPending, result.Status)
	s.Zero(s.forms.callCount())
	s.False(s.bridge.HasPending(s.ctx, s.sessionID),
		"a payload that lost its anti-replay protection is discarded")

	events, err := s.trail.ListBySession(context.Background(), s.sessionID)
	s.Require().NoError(err)
	var discarded *audit.Event
	for i := range events {
		if events[i].Action == audit.ActionEnvelopeDiscarded {
			discarded = &events[i]
		}
	}
	s.Require().NotNil(discarded)
	s.Equal("replay", discarded.Reason)
}

func (s *SubmitServiceSuite) TestResumeWithoutStashReturnsNoPending() {
	s.fillValidForm()

	result, err := s.service.Resume(s.ctx, s.sessionID, "some-token", "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusNoPending, result.Status)
	s.Zero(s.forms.callCount())
	s.NotContains(s.trailActions(), audit.ActionEnvelopeDiscarded)
}

func (s *SubmitServiceSuite) TestResumeAfterEnvelopeLifetimeReturnsNoPending() {
	s.fillValidForm()
	begun, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	s.clock.Advance(handoffmodels.EnvelopeLifetime + time.Minute)

	result, err := s.service.Resume(s.ctx, s.sessionID, begun.HandoffToken, "assertion-1")
	s.Require().NoError(err)
	s.Equal(StatusNoPending, result.Status)
	s.Zero(s.forms.callCount())
}

func (s *SubmitServiceSuite) TestResumeBackendRejectionIsClassified() {
	s.fillValidForm()
	begun, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	s.forms.fail(dErrors.New(dErrors.CodeConflict, "already submitted"))

	result, err := s.service.Resume(s.ctx, s.sessionID, begun.HandoffToken, "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusRejected, result.Status)
	s.Equal(ReasonDuplicateSubmission, result.Reason)
	s.Equal("this application was already submitted", result.Message)
	s.True(result.AutoSubmitted)

	// A failed delivery does not lock the form; the applicant can fix and
	// retry through a fresh submit.
	_, wiz, err := s.sessions.LoadWizard(s.ctx, s.sessionID)
	s.Require().NoError(err)
	s.False(wiz.Locked())

	record, err := s.archived.FindByID(s.ctx, result.SubmissionID)
	s.Require().NoError(err)
	s.Equal(archive.OutcomeFailed, record.Outcome)
	s.Equal(string(ReasonDuplicateSubmission), record.Reason)

	s.False(s.bridge.HasPending(s.ctx, s.sessionID),
		"the envelope is consumed by the attempt, not restored on failure")
}

func (s *SubmitServiceSuite) TestDeliveryTimeoutGuard() {
	s.fillValidForm()
	s.forms.hangUntilDeadline()

	service := New(s.sessions, s.bridge, s.verifier, s.forms, s.archived,
		WithClock(s.clock.Now),
		WithSubmitTimeout(30*time.Millisecond),
	)

	result, err := service.Begin(s.ctx, s.sessionID, "assertion-1")
	s.Require().NoError(err)

	s.Equal(StatusRejected, result.Status)
	s.Equal(ReasonTimedOut, result.Reason)

	record, err := s.archived.FindByID(s.ctx, result.SubmissionID)
	s.Require().NoError(err)
	s.Equal(archive.OutcomeFailed, record.Outcome)
	s.Equal(string(ReasonTimedOut), record.Reason)
}

func (s *SubmitServiceSuite) TestResumeFlagsDeviceChange() {
	s.fillValidForm()
	begun, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	returnCtx := requestcontext.WithClientMetadata(context.Background(), "198.51.100.9", "agent-b")
	result, err := s.service.Resume(returnCtx, s.sessionID, begun.HandoffToken, "assertion-1")
	s.Require().NoError(err)
	s.Equal(StatusSubmitted, result.Status)

	events, err := s.trail.ListBySession(context.Background(), s.sessionID)
	s.Require().NoError(err)
	var returned *audit.Event
	for i := range events {
		if events[i].Action == audit.ActionHandoffReturned {
			returned = &events[i]
		}
	}
	s.Require().NotNil(returned)
	s.Equal("device_changed", returned.Outcome)
	s.Equal("device_mismatch", returned.Reason)
	s.Equal("Browser agent-b", returned.DeviceLabel)
}

func (s *SubmitServiceSuite) TestResumeInvalidAssertionRejected() {
	s.fillValidForm()
	begun, err := s.service.Begin(s.ctx, s.sessionID, "")
	s.Require().NoError(err)

	s.verifier.err = dErrors.New(dErrors.CodeUnauthorized, "invalid assertion")

	_, err = s.service.Resume(s.ctx, s.sessionID, begun.HandoffToken, "assertion-bad")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(s.forms.callCount())
	s.True(s.bridge.HasPending(s.ctx, s.sessionID),
		"a failed assertion leaves the stash intact for a proper return")
}
