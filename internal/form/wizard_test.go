package form

import (
	"testing"

	"github.com/stretchr/testify/suite"

	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

// testSchema builds the canonical branching fixture used across the package
// tests: a prefix (header, email, track), an Engineering branch, and a Design
// branch. The Culinary track declares no range on purpose.
func testSchema(variant domain.FormVariant) *Schema {
	min := 1.0
	max := 5.0
	return &Schema{
		Variant: variant,
		Questions: []Question{
			{ID: "q-header", Kind: KindSectionHeader, Label: "Applicant details"},
			{ID: "q-email", ExternalFieldID: "entry.1001", Kind: KindShortText, Label: "Email address", Role: RoleEmail, Required: true},
			{ID: "q-track", ExternalFieldID: "entry.1002", Kind: KindSingleChoice, Label: "Competition track", Role: RoleBranchDiscriminator, Required: true,
				Options: []string{"Engineering", "Design", "Culinary"}},
			{ID: "q-name", ExternalFieldID: "entry.1003", Kind: KindShortText, Label: "Full name", Role: RolePlain, Required: true},
			{ID: "q-student-id", ExternalFieldID: "entry.1004", Kind: KindShortText, Label: "Student ID", Role: RoleIdentifier},
			{ID: "q-rating", ExternalFieldID: "entry.1005", Kind: KindStarRating, Label: "Experience level", Role: RoleNumeric, Min: &min, Max: &max, Optional: true},
			{ID: "q-portfolio", ExternalFieldID: "entry.2001", Kind: KindShortText, Label: "Portfolio URL", Role: RolePlain, Required: true},
			{ID: "q-specialty", ExternalFieldID: "entry.2002", Kind: KindSingleChoice, Label: "Design specialty",
				Options: []string{"Graphic", "Industrial", "Other"}},
		},
		Branches: map[string]Range{
			"Engineering": {Start: 3, End: 6},
			"Design":      {Start: 6, End: OpenEnd},
		},
	}
}

type WizardSuite struct {
	suite.Suite
	wizard *Wizard
}

func (s *WizardSuite) SetupTest() {
	s.wizard = NewWizard(testSchema(domain.VariantVisitor))
}

func TestWizardSuite(t *testing.T) {
	suite.Run(t, new(WizardSuite))
}

func (s *WizardSuite) TestPhaseTransitions() {
	s.Run("starts with no track selected", func() {
		s.Equal(PhaseNoMajorSelected, s.wizard.Phase())
	})

	s.Run("selecting a track advances the phase", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Equal(PhaseMajorSelected, s.wizard.Phase())
	})

	s.Run("clearing the track returns to the initial phase", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.SetAnswer("q-track", Value{}))
		s.Equal(PhaseNoMajorSelected, s.wizard.Phase())
	})

	s.Run("lock is terminal", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.Lock())
		s.True(s.wizard.Locked())

		err := s.wizard.Lock()
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *WizardSuite) TestSetAnswerGuards() {
	s.Run("rejects writes after lock", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.Lock())

		err := s.wizard.SetAnswer("q-email", TextValue("a@b.se"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects unknown questions", func() {
		err := s.wizard.SetAnswer("q-nope", TextValue("x"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejects answers to section headers", func() {
		err := s.wizard.SetAnswer("q-header", TextValue("hi"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("setting an empty value clears the entry", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-email", TextValue("a@b.se")))
		s.Require().NoError(s.wizard.SetAnswer("q-email", TextValue("")))
		_, ok := s.wizard.Answer("q-email")
		s.False(ok)
	})
}

func (s *WizardSuite) TestVisibility() {
	s.Run("only the prefix is visible before a track is chosen", func() {
		s.Equal([]int{0, 1, 2}, s.wizard.VisibleIndices())
	})

	s.Run("engineering shows its declared range", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Equal([]int{0, 1, 2, 3, 4, 5}, s.wizard.VisibleIndices())
	})

	s.Run("open-ended range extends to the end of the form", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Design")))
		s.Equal([]int{0, 1, 2, 6, 7}, s.wizard.VisibleIndices())
	})

	s.Run("track without a declared range shows everything", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Culinary")))
		s.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7}, s.wizard.VisibleIndices())
	})

	s.Run("non-branching schema shows everything", func() {
		flat := &Schema{
			Variant: domain.VariantVisitor,
			Questions: []Question{
				{ID: "a", Kind: KindShortText, Label: "A"},
				{ID: "b", Kind: KindShortText, Label: "B"},
			},
		}
		w := NewWizard(flat)
		s.Equal([]int{0, 1}, w.VisibleIndices())
	})
}

func (s *WizardSuite) TestMajorChangeTruncation() {
	s.Run("answers after the track question are discarded on change", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-email", TextValue("pat@example.se")))
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.SetAnswer("q-name", TextValue("Pat Smith")))
		s.Require().NoError(s.wizard.SetAnswer("q-student-id", TextValue("12-345")))

		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Design")))

		_, hasName := s.wizard.Answer("q-name")
		_, hasID := s.wizard.Answer("q-student-id")
		s.False(hasName)
		s.False(hasID)

		// Everything at or before the track question survives.
		email, hasEmail := s.wizard.Answer("q-email")
		s.True(hasEmail)
		s.Equal("pat@example.se", email.Text)
		s.Equal("Design", s.wizard.MajorValue())
	})

	s.Run("re-selecting the same track keeps answers", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.SetAnswer("q-name", TextValue("Pat Smith")))

		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))

		_, hasName := s.wizard.Answer("q-name")
		s.True(hasName)
	})

	s.Run("clearing the track also truncates", func() {
		s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
		s.Require().NoError(s.wizard.SetAnswer("q-name", TextValue("Pat Smith")))

		s.Require().NoError(s.wizard.SetAnswer("q-track", Value{}))

		_, hasName := s.wizard.Answer("q-name")
		s.False(hasName)
	})
}

func (s *WizardSuite) TestVisibleAnswersExcludesHidden() {
	s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
	s.Require().NoError(s.wizard.SetAnswer("q-name", TextValue("Pat Smith")))

	// Flip to Design: the hidden engineering answers were discarded, and the
	// visible set tracks the new branch.
	s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Design")))
	s.Require().NoError(s.wizard.SetAnswer("q-portfolio", TextValue("https://pat.example")))

	visible := s.wizard.VisibleAnswers()
	s.Contains(visible, "q-portfolio")
	s.NotContains(visible, "q-name")
}

func (s *WizardSuite) TestStateRoundTrip() {
	s.Require().NoError(s.wizard.SetAnswer("q-email", TextValue("pat@example.se")))
	s.Require().NoError(s.wizard.SetAnswer("q-track", ChoicesValue("Engineering")))
	s.Require().NoError(s.wizard.SetAnswer("q-name", TextValue("Pat Smith")))
	s.wizard.MarkAllVisibleTouched()

	state := s.wizard.State()
	restored := NewWizardFromState(testSchema(domain.VariantVisitor), state)

	s.Equal(s.wizard.Phase(), restored.Phase())
	s.Equal(s.wizard.Answers(), restored.Answers())
	s.True(restored.Touched("q-name"))

	// The snapshot is a deep copy: mutating the restored wizard must not
	// leak back into the original.
	s.Require().NoError(restored.SetAnswer("q-name", TextValue("Someone Else")))
	original, _ := s.wizard.Answer("q-name")
	s.Equal("Pat Smith", original.Text)
}
