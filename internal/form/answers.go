package form

import (
	"encoding/json"
	"fmt"
)

// Value is one recorded answer. At most one of the value families is set,
// except datetime answers which carry both Date and Clock.
type Value struct {
	Text    string
	Choices []string
	Rows    map[string]RowValue
	Date    *Date
	Clock   *Clock
	Span    *Span
}

// RowValue is the selection for a single grid row.
type RowValue struct {
	Choices []string
}

// Date is a calendar date answer.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// Clock is a time-of-day answer.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Span is a duration answer.
type Span struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// AnswerMap holds recorded answers keyed by question ID. Only non-empty
// values are recorded; setting an empty value deletes the entry.
type AnswerMap map[string]Value

// TextValue builds a free-text answer.
func TextValue(s string) Value { return Value{Text: s} }

// ChoicesValue builds a choice answer; single-choice questions use one element.
func ChoicesValue(choices ...string) Value { return Value{Choices: choices} }

// DateValue builds a date answer.
func DateValue(year, month, day int) Value {
	return Value{Date: &Date{Year: year, Month: month, Day: day}}
}

// ClockValue builds a time-of-day answer.
func ClockValue(hour, minute int) Value {
	return Value{Clock: &Clock{Hour: hour, Minute: minute}}
}

// DateTimeValue builds a combined date and time answer.
func DateTimeValue(year, month, day, hour, minute int) Value {
	return Value{
		Date:  &Date{Year: year, Month: month, Day: day},
		Clock: &Clock{Hour: hour, Minute: minute},
	}
}

// SpanValue builds a duration answer.
func SpanValue(hours, minutes, seconds int) Value {
	return Value{Span: &Span{Hours: hours, Minutes: minutes, Seconds: seconds}}
}

// GridValue builds a grid answer from row ID to selected columns.
func GridValue(rows map[string][]string) Value {
	rv := make(map[string]RowValue, len(rows))
	for rowID, choices := range rows {
		rv[rowID] = RowValue{Choices: choices}
	}
	return Value{Rows: rv}
}

// IsEmpty reports whether the value records nothing: empty string, empty
// selection set, or a grid with no selected rows.
func (v Value) IsEmpty() bool {
	if v.Text != "" || len(v.Choices) > 0 || v.Date != nil || v.Clock != nil || v.Span != nil {
		return false
	}
	for _, row := range v.Rows {
		if len(row.Choices) > 0 {
			return false
		}
	}
	return true
}

// Selected returns the chosen values for choice-shaped answers: the choice
// set when present, otherwise the text as a single selection.
func (v Value) Selected() []string {
	if len(v.Choices) > 0 {
		return v.Choices
	}
	if v.Text != "" {
		return []string{v.Text}
	}
	return nil
}

// MarshalJSON emits the most compact wire shape for the populated family.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Date != nil && v.Clock != nil:
		return json.Marshal(map[string]int{
			"year": v.Date.Year, "month": v.Date.Month, "day": v.Date.Day,
			"hour": v.Clock.Hour, "minute": v.Clock.Minute,
		})
	case v.Date != nil:
		return json.Marshal(v.Date)
	case v.Clock != nil:
		return json.Marshal(v.Clock)
	case v.Span != nil:
		return json.Marshal(v.Span)
	case v.Rows != nil:
		rows := make(map[string][]string, len(v.Rows))
		for rowID, row := range v.Rows {
			rows[rowID] = row.Choices
		}
		return json.Marshal(rows)
	case v.Choices != nil:
		return json.Marshal(v.Choices)
	default:
		return json.Marshal(v.Text)
	}
}

// UnmarshalJSON sniffs the wire shape: strings become Text, arrays become
// Choices, and objects are keyed structures (date, time, duration, or grid
// rows).
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v.Text = asString
		return nil
	}

	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		v.Choices = asList
		return nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("answer value: unsupported shape: %w", err)
	}

	if hasKeys(asObject, "year") {
		var d Date
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("answer value: bad date: %w", err)
		}
		v.Date = &d
		if hasKeys(asObject, "hour") {
			var c Clock
			if err := json.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("answer value: bad datetime: %w", err)
			}
			v.Clock = &c
		}
		return nil
	}

	if hasKeys(asObject, "hours") {
		var s Span
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("answer value: bad duration: %w", err)
		}
		v.Span = &s
		return nil
	}

	if hasKeys(asObject, "hour") {
		var c Clock
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("answer value: bad time: %w", err)
		}
		v.Clock = &c
		return nil
	}

	// Remaining objects are grid rows: row ID to selection.
	rows := make(map[string]RowValue, len(asObject))
	for rowID, raw := range asObject {
		var choices []string
		if err := json.Unmarshal(raw, &choices); err != nil {
			var single string
			if err := json.Unmarshal(raw, &single); err != nil {
				return fmt.Errorf("answer value: bad grid row %q", rowID)
			}
			choices = []string{single}
		}
		rows[rowID] = RowValue{Choices: choices}
	}
	v.Rows = rows
	return nil
}

func hasKeys(obj map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stored state cannot alias caller memory.
func (m AnswerMap) Clone() AnswerMap {
	if m == nil {
		return nil
	}
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	out := v
	if v.Choices != nil {
		out.Choices = append([]string(nil), v.Choices...)
	}
	if v.Rows != nil {
		rows := make(map[string]RowValue, len(v.Rows))
		for rowID, row := range v.Rows {
			rows[rowID] = RowValue{Choices: append([]string(nil), row.Choices...)}
		}
		out.Rows = rows
	}
	if v.Date != nil {
		d := *v.Date
		out.Date = &d
	}
	if v.Clock != nil {
		c := *v.Clock
		out.Clock = &c
	}
	if v.Span != nil {
		s := *v.Span
		out.Span = &s
	}
	return out
}
