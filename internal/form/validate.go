package form

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
)

// FieldError describes why one question's answer is invalid.
type FieldError struct {
	QuestionID string `json:"question_id"`
	Message    string `json:"message"`
}

var (
	identifierPattern = regexp.MustCompile(`^[0-9-]+$`)
	phonePattern      = regexp.MustCompile(`^[0-9+\-() ]+$`)
)

// IsRequired resolves required-ness under the variant rule: competitor forms
// treat every visible question as required unless explicitly optional.
func (w *Wizard) IsRequired(q *Question) bool {
	if !q.Kind.AcceptsAnswer() {
		return false
	}
	if q.Required {
		return true
	}
	return w.schema.Variant.AllRequiredByDefault() && !q.Optional
}

// ValidateQuestion checks one question's current answer. A nil result means
// the answer is acceptable. Hidden questions are always acceptable; they
// never hold up submission.
func (w *Wizard) ValidateQuestion(i int) *FieldError {
	if !w.IsVisible(i) {
		return nil
	}
	q := &w.schema.Questions[i]
	value, ok := w.answers[q.ID]
	absent := !ok || value.IsEmpty()

	if absent {
		if w.IsRequired(q) {
			return &FieldError{QuestionID: q.ID, Message: "this question is required"}
		}
		// Absent and optional: no content rules run on nothing.
		return nil
	}

	return w.validateContent(q, value)
}

// validateContent applies the role's content rule family. Exactly one family
// applies per question; answers that are not free text carry no content rules
// except numeric scales, which must sit inside their bounds.
func (w *Wizard) validateContent(q *Question, value Value) *FieldError {
	if q.Kind.IsNumericScale() {
		return w.checkNumeric(q, strings.TrimSpace(value.Text))
	}
	if !q.Kind.IsFreeText() {
		return nil
	}

	text := strings.TrimSpace(value.Text)
	if text == "" {
		return nil
	}

	switch q.Role {
	case RoleIdentifier:
		if !identifierPattern.MatchString(text) {
			return &FieldError{QuestionID: q.ID, Message: "must contain only digits and dashes"}
		}
	case RolePhone:
		if !phonePattern.MatchString(text) {
			return &FieldError{QuestionID: q.ID, Message: "must be a valid phone number"}
		}
	case RoleEmail:
		if !govalidator.IsEmail(text) {
			return &FieldError{QuestionID: q.ID, Message: "must be a valid email address"}
		}
	case RoleNumeric:
		return w.checkNumeric(q, text)
	}
	return nil
}

func (w *Wizard) checkNumeric(q *Question, text string) *FieldError {
	if text == "" {
		return nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return &FieldError{QuestionID: q.ID, Message: "must be a number"}
	}
	if q.Min != nil && n < *q.Min {
		return &FieldError{QuestionID: q.ID, Message: fmt.Sprintf("must be at least %s", formatBound(*q.Min))}
	}
	if q.Max != nil && n > *q.Max {
		return &FieldError{QuestionID: q.ID, Message: fmt.Sprintf("must be at most %s", formatBound(*q.Max))}
	}
	return nil
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FieldErrors collects the errors of every visible invalid question.
func (w *Wizard) FieldErrors() []FieldError {
	var out []FieldError
	for i := 0; i < w.schema.Len(); i++ {
		if fe := w.ValidateQuestion(i); fe != nil {
			out = append(out, *fe)
		}
	}
	return out
}

// TouchedFieldErrors collects errors only for questions the applicant has
// interacted with, which is what inline rendering shows.
func (w *Wizard) TouchedFieldErrors() []FieldError {
	var out []FieldError
	for i := 0; i < w.schema.Len(); i++ {
		q := &w.schema.Questions[i]
		if !w.touched[q.ID] {
			continue
		}
		if fe := w.ValidateQuestion(i); fe != nil {
			out = append(out, *fe)
		}
	}
	return out
}

// IsFormValid is the sole submission gate: every visible question's answer
// must pass validation. Hidden questions never participate.
func (w *Wizard) IsFormValid() bool {
	return len(w.FieldErrors()) == 0
}
