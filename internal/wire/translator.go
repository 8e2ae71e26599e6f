package wire

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"formgate/internal/form"
)

// OtherSentinel is the marker value the form backend expects under a choice
// field when the respondent picked the free-text "other" option.
const OtherSentinel = "__other_option__"

// otherResponseSuffix carries the free text that accompanies OtherSentinel.
const otherResponseSuffix = ".other_option_response"

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern   = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// Translate converts the wizard's currently visible answers into a backend
// payload. It is a pure function of the wizard's schema and answer state:
// calling it any number of times yields equal payloads and never mutates the
// wizard.
//
// Hidden questions are excluded, empty answers are omitted, and questions
// without an external field ID are skipped because the backend has no slot
// for them. Grid answers are keyed by each row's own external field ID.
func Translate(wiz *form.Wizard) Payload {
	payload := make(Payload)
	schema := wiz.Schema()
	for _, i := range wiz.VisibleIndices() {
		q := schema.Questions[i]
		val, ok := wiz.Answer(q.ID)
		if !ok || val.IsEmpty() {
			continue
		}
		translateQuestion(payload, q, val)
	}
	return payload
}

func translateQuestion(p Payload, q form.Question, val form.Value) {
	if q.Kind.IsGrid() {
		translateGrid(p, q, val)
		return
	}
	if q.ExternalFieldID == "" {
		return
	}
	switch q.Kind {
	case form.KindDate:
		addDate(p, q.ExternalFieldID, val.Date)
	case form.KindTime:
		addClock(p, q.ExternalFieldID, val.Clock)
	case form.KindDateTime:
		addDate(p, q.ExternalFieldID, val.Date)
		addClock(p, q.ExternalFieldID, val.Clock)
	case form.KindDuration:
		addSpan(p, q.ExternalFieldID, val.Span)
	case form.KindMultiChoice:
		addChoices(p, q, val.Selected())
	case form.KindSingleChoice:
		addChoices(p, q, val.Selected())
	case form.KindDropdown:
		// Dropdowns have no free-text slot, so values pass through as-is.
		for _, c := range val.Selected() {
			p.Add(q.ExternalFieldID, c)
		}
	default:
		addText(p, q.ExternalFieldID, val.Text)
	}
}

// addChoices maps selected values onto the field key. Values outside the
// declared option set represent a free-text "other" response: the sentinel is
// emitted once under the field key and the text itself goes to the companion
// other-response key.
func addChoices(p Payload, q form.Question, selected []string) {
	var others []string
	for _, c := range selected {
		if c == "" {
			continue
		}
		if len(q.Options) > 0 && !q.HasOption(c) {
			others = append(others, c)
			continue
		}
		p.Add(q.ExternalFieldID, c)
	}
	if len(others) == 0 {
		return
	}
	p.Add(q.ExternalFieldID, OtherSentinel)
	p.Add(q.ExternalFieldID+otherResponseSuffix, strings.Join(others, ", "))
}

func translateGrid(p Payload, q form.Question, val form.Value) {
	for _, row := range q.Rows {
		if row.ExternalFieldID == "" {
			continue
		}
		rv, ok := val.Rows[row.ID]
		if !ok {
			continue
		}
		for _, c := range rv.Choices {
			if c == "" {
				continue
			}
			p.Add(row.ExternalFieldID, c)
		}
	}
}

// addText emits a free-text answer. Texts shaped like an ISO date or a wall
// clock are decomposed into the backend's component keys so a date typed into
// a generic text question still lands in the structured slots.
func addText(p Payload, fieldID, text string) {
	if text == "" {
		return
	}
	if isoDatePattern.MatchString(text) {
		if t, err := time.Parse("2006-01-02", text); err == nil {
			addDate(p, fieldID, &form.Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()})
			return
		}
	}
	if clockPattern.MatchString(text) {
		if t, err := time.Parse("15:04", text); err == nil {
			addClock(p, fieldID, &form.Clock{Hour: t.Hour(), Minute: t.Minute()})
			return
		}
	}
	p.Add(fieldID, text)
}

func addDate(p Payload, fieldID string, d *form.Date) {
	if d == nil {
		return
	}
	p.Add(fieldID+"_year", strconv.Itoa(d.Year))
	p.Add(fieldID+"_month", strconv.Itoa(d.Month))
	p.Add(fieldID+"_day", strconv.Itoa(d.Day))
}

func addClock(p Payload, fieldID string, c *form.Clock) {
	if c == nil {
		return
	}
	p.Add(fieldID+"_hour", strconv.Itoa(c.Hour))
	p.Add(fieldID+"_minute", strconv.Itoa(c.Minute))
}

func addSpan(p Payload, fieldID string, s *form.Span) {
	if s == nil {
		return
	}
	p.Add(fieldID+"_hour", strconv.Itoa(s.Hours))
	p.Add(fieldID+"_minute", strconv.Itoa(s.Minutes))
	p.Add(fieldID+"_second", strconv.Itoa(s.Seconds))
}
