package form

import (
	dErrors "formgate/pkg/domain-errors"
)

// Phase is the wizard lifecycle state.
type Phase string

const (
	// PhaseNoMajorSelected: only the questions up to and including the branch
	// discriminator are visible.
	PhaseNoMajorSelected Phase = "no_major_selected"
	// PhaseMajorSelected: a branch is chosen and its questions are visible.
	PhaseMajorSelected Phase = "major_selected"
	// PhaseLocked: the form was submitted successfully. Terminal; answers are
	// immutable.
	PhaseLocked Phase = "locked_for_submission"
)

// State is the serializable wizard state persisted with the session.
type State struct {
	Phase   Phase           `json:"phase"`
	Answers AnswerMap       `json:"answers"`
	Touched map[string]bool `json:"touched,omitempty"`
}

// Clone deep-copies the state so persisted sessions never alias a live
// wizard's maps.
func (s State) Clone() State {
	out := State{Phase: s.Phase, Answers: s.Answers.Clone()}
	if s.Touched != nil {
		out.Touched = make(map[string]bool, len(s.Touched))
		for k, v := range s.Touched {
			out.Touched[k] = v
		}
	}
	return out
}

// Wizard drives one applicant through a schema: it records answers, derives
// visibility from the branch discriminator, and gates submission on validity.
type Wizard struct {
	schema  *Schema
	phase   Phase
	answers AnswerMap
	touched map[string]bool
}

// NewWizard starts a fresh wizard over the given schema.
func NewWizard(schema *Schema) *Wizard {
	return &Wizard{
		schema:  schema,
		phase:   PhaseNoMajorSelected,
		answers: make(AnswerMap),
		touched: make(map[string]bool),
	}
}

// NewWizardFromState rebuilds a wizard from persisted state.
func NewWizardFromState(schema *Schema, state State) *Wizard {
	w := NewWizard(schema)
	if state.Phase != "" {
		w.phase = state.Phase
	}
	for k, v := range state.Answers {
		w.answers[k] = v.clone()
	}
	for k, v := range state.Touched {
		w.touched[k] = v
	}
	return w
}

// State snapshots the wizard for persistence.
func (w *Wizard) State() State {
	touched := make(map[string]bool, len(w.touched))
	for k, v := range w.touched {
		touched[k] = v
	}
	return State{
		Phase:   w.phase,
		Answers: w.answers.Clone(),
		Touched: touched,
	}
}

// Schema returns the schema the wizard runs over.
func (w *Wizard) Schema() *Schema { return w.schema }

// Phase returns the current lifecycle phase.
func (w *Wizard) Phase() Phase { return w.phase }

// Locked reports whether the wizard reached its terminal phase.
func (w *Wizard) Locked() bool { return w.phase == PhaseLocked }

// MajorValue returns the recorded branch-discriminator answer, empty when
// none is chosen or the schema has no discriminator.
func (w *Wizard) MajorValue() string {
	mi := w.schema.MajorIndex()
	if mi < 0 {
		return ""
	}
	v, ok := w.answers[w.schema.Questions[mi].ID]
	if !ok {
		return ""
	}
	selected := v.Selected()
	if len(selected) == 0 {
		return ""
	}
	return selected[0]
}

// SetAnswer records an answer. Setting an empty value clears the entry.
// Changing the branch-discriminator answer discards every answer recorded
// after the discriminator's position; answers at or before it survive.
func (w *Wizard) SetAnswer(questionID string, value Value) error {
	if w.phase == PhaseLocked {
		return dErrors.New(dErrors.CodeConflict, "form is locked after submission")
	}

	q, idx, ok := w.schema.QuestionByID(questionID)
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "unknown question")
	}
	if !q.Kind.AcceptsAnswer() {
		return dErrors.New(dErrors.CodeInvalidInput, "question does not accept answers")
	}

	mi := w.schema.MajorIndex()
	if idx == mi {
		w.setMajorAnswer(q, value)
	} else if value.IsEmpty() {
		delete(w.answers, questionID)
	} else {
		w.answers[questionID] = value.clone()
	}

	w.touched[questionID] = true
	return nil
}

// setMajorAnswer handles the branch-discriminator write: on a changed value
// everything positioned after the discriminator is discarded.
func (w *Wizard) setMajorAnswer(q *Question, value Value) {
	previous := w.MajorValue()

	if value.IsEmpty() {
		delete(w.answers, q.ID)
	} else {
		w.answers[q.ID] = value.clone()
	}
	current := w.MajorValue()

	if previous != current {
		w.discardAfterMajor()
	}

	if current == "" {
		w.phase = PhaseNoMajorSelected
	} else {
		w.phase = PhaseMajorSelected
	}
}

func (w *Wizard) discardAfterMajor() {
	mi := w.schema.MajorIndex()
	for i := mi + 1; i < w.schema.Len(); i++ {
		qid := w.schema.Questions[i].ID
		delete(w.answers, qid)
		delete(w.touched, qid)
	}
}

// Answer returns the recorded value for a question.
func (w *Wizard) Answer(questionID string) (Value, bool) {
	v, ok := w.answers[questionID]
	return v, ok
}

// Answers returns a copy of all recorded answers.
func (w *Wizard) Answers() AnswerMap {
	return w.answers.Clone()
}

// IsVisible reports whether the question at index i is currently shown.
// Questions at or before the branch discriminator are always visible. After
// it, visibility follows the chosen branch's range; a chosen branch with no
// declared range shows everything; no chosen branch shows nothing.
func (w *Wizard) IsVisible(i int) bool {
	if i < 0 || i >= w.schema.Len() {
		return false
	}
	mi := w.schema.MajorIndex()
	if mi < 0 {
		// Non-branching form: everything is visible.
		return true
	}
	if i <= mi {
		return true
	}
	major := w.MajorValue()
	if major == "" {
		return false
	}
	r, ok := w.schema.Branches[major]
	if !ok {
		return true
	}
	return r.Contains(i)
}

// VisibleIndices lists the indices of currently visible questions in order.
func (w *Wizard) VisibleIndices() []int {
	out := make([]int, 0, w.schema.Len())
	for i := 0; i < w.schema.Len(); i++ {
		if w.IsVisible(i) {
			out = append(out, i)
		}
	}
	return out
}

// VisibleAnswers returns the answers of currently visible questions only.
// Hidden answers stay recorded but never leave the wizard.
func (w *Wizard) VisibleAnswers() AnswerMap {
	out := make(AnswerMap)
	for _, i := range w.VisibleIndices() {
		qid := w.schema.Questions[i].ID
		if v, ok := w.answers[qid]; ok {
			out[qid] = v.clone()
		}
	}
	return out
}

// Touch marks a question as interacted-with so inline errors may surface.
func (w *Wizard) Touch(questionID string) {
	w.touched[questionID] = true
}

// Touched reports whether a question has been interacted with.
func (w *Wizard) Touched(questionID string) bool {
	return w.touched[questionID]
}

// MarkAllVisibleTouched marks every visible question touched. Called when a
// submit attempt fails validation so all inline errors surface at once.
func (w *Wizard) MarkAllVisibleTouched() {
	for _, i := range w.VisibleIndices() {
		w.touched[w.schema.Questions[i].ID] = true
	}
}

// Lock transitions the wizard to its terminal phase after a successful
// submission. Locking twice is an error.
func (w *Wizard) Lock() error {
	if w.phase == PhaseLocked {
		return dErrors.New(dErrors.CodeConflict, "form is already locked")
	}
	w.phase = PhaseLocked
	return nil
}
