// Package form implements the branching form wizard: schema, answers,
// visibility, and validation. Everything here is pure domain logic; transports
// and stores live elsewhere.
package form

import (
	domain "formgate/pkg/domain"
)

// Kind enumerates the question types the wizard renders and validates.
type Kind string

const (
	KindShortText     Kind = "short_text"
	KindLongText      Kind = "long_text"
	KindSingleChoice  Kind = "single_choice"
	KindMultiChoice   Kind = "multi_choice"
	KindDropdown      Kind = "dropdown"
	KindLinearScale   Kind = "linear_scale"
	KindStarRating    Kind = "star_rating"
	KindChoiceGrid    Kind = "choice_grid"
	KindCheckboxGrid  Kind = "checkbox_grid"
	KindDate          Kind = "date"
	KindTime          Kind = "time"
	KindDateTime      Kind = "datetime"
	KindDuration      Kind = "duration"
	KindSectionHeader Kind = "section_header"
)

// IsFreeText reports whether answers arrive as free-form text, which is the
// only place content rules (email, phone, identifier, numeric) apply.
func (k Kind) IsFreeText() bool {
	return k == KindShortText || k == KindLongText
}

// IsChoice reports whether the question presents a declared option set.
func (k Kind) IsChoice() bool {
	return k == KindSingleChoice || k == KindMultiChoice || k == KindDropdown
}

// IsGrid reports whether answers are recorded per row.
func (k Kind) IsGrid() bool {
	return k == KindChoiceGrid || k == KindCheckboxGrid
}

// IsNumericScale reports whether the answer is a number picked off a bounded
// scale.
func (k Kind) IsNumericScale() bool {
	return k == KindLinearScale || k == KindStarRating
}

// AcceptsAnswer reports whether the question records an answer at all.
// Section headers are display-only.
func (k Kind) AcceptsAnswer() bool {
	return k != KindSectionHeader
}

// Role annotates what a question's content represents so validation does not
// have to sniff labels. Roles are assigned by the schema, or inferred once at
// ingestion (see InferRole); the wizard itself never inspects labels.
type Role string

const (
	RolePlain Role = "plain"
	// RoleBranchDiscriminator marks the single question whose answer selects
	// the visible branch of the form.
	RoleBranchDiscriminator Role = "branch_discriminator"
	RoleEmail               Role = "email"
	RolePhone               Role = "phone"
	RoleIdentifier          Role = "identifier"
	RoleNumeric             Role = "numeric"
)

// Row is one row of a grid question. Rows carry their own external field IDs
// because the backend treats each grid row as a separate field.
type Row struct {
	ID              string `json:"id"`
	ExternalFieldID string `json:"external_field_id,omitempty"`
	Label           string `json:"label"`
}

// Question is one entry of a form schema.
type Question struct {
	ID string `json:"id"`
	// ExternalFieldID is the backend's field identifier. Questions without
	// one are rendered but never translated.
	ExternalFieldID string `json:"external_field_id,omitempty"`
	Kind            Kind   `json:"kind"`
	Label           string `json:"label"`
	Role            Role   `json:"role,omitempty"`
	Required        bool   `json:"required,omitempty"`
	// Optional opts a question out of the competitor-variant rule that every
	// visible question is required.
	Optional bool     `json:"optional,omitempty"`
	Options  []string `json:"options,omitempty"`
	Rows     []Row    `json:"rows,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	// Min and Max bound numeric answers (scales, numeric text).
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	MinLabel string   `json:"min_label,omitempty"`
	MaxLabel string   `json:"max_label,omitempty"`
}

// HasOption reports whether value is one of the question's declared options.
func (q *Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// OpenEnd marks a branch range with no upper bound.
const OpenEnd = -1

// Range is a half-open index range [Start, End) of schema positions.
// End == OpenEnd means the range extends to the end of the form.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether index i falls inside the range.
func (r Range) Contains(i int) bool {
	if i < r.Start {
		return false
	}
	return r.End == OpenEnd || i < r.End
}

// Schema is the ordered question list for one form variant plus the branch
// table. Schemas are immutable for the lifetime of a session.
type Schema struct {
	Variant   domain.FormVariant `json:"variant"`
	Questions []Question         `json:"questions"`
	// Branches maps a branch-discriminator option value to the index range of
	// questions that become visible when it is chosen.
	Branches map[string]Range `json:"branches,omitempty"`
}

// MajorIndex returns the position of the branch-discriminator question, or -1
// if the schema has none (non-branching forms).
func (s *Schema) MajorIndex() int {
	for i := range s.Questions {
		if s.Questions[i].Role == RoleBranchDiscriminator {
			return i
		}
	}
	return -1
}

// QuestionByID finds a question and its index by ID.
func (s *Schema) QuestionByID(questionID string) (*Question, int, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == questionID {
			return &s.Questions[i], i, true
		}
	}
	return nil, -1, false
}

// Len returns the number of questions.
func (s *Schema) Len() int {
	return len(s.Questions)
}
