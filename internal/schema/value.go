package schema

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Value is a decoded answer value. Which field is meaningful depends on Type.
type Value struct {
	Type    QuestionType
	Text    string
	Number  *float64
	Choices []string
}

// Display returns the value in its presentation shape: a string list for
// select types, a number for numeric answers, nil for files and text otherwise.
func (v Value) Display() any {
	switch {
	case v.Type.IsSelect():
		if v.Choices == nil {
			return []string{}
		}
		return v.Choices
	case v.Type.IsFile():
		return nil
	case v.Type == Number && v.Number != nil:
		return *v.Number
	default:
		return v.Text
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Display())
}

// EncodeValue converts a submitted raw JSON value into its stored text form.
// Select types are stored as a JSON array of strings, file answers carry no
// scalar value, everything else is stored as plain text. The second result is
// false when nothing should be stored.
func EncodeValue(t QuestionType, raw json.RawMessage) (string, bool) {
	if t.IsFile() || isNull(raw) {
		return "", false
	}
	if t.IsSelect() {
		encoded, err := json.Marshal(choices(raw))
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
	return scalarText(raw), true
}

// DecodeValue re-hydrates a stored answer value according to its type tag.
func DecodeValue(t QuestionType, stored *string) Value {
	value := Value{Type: t}
	if stored == nil || t.IsFile() {
		return value
	}
	text := *stored
	switch {
	case t.IsSelect():
		var items []string
		if err := json.Unmarshal([]byte(text), &items); err == nil {
			value.Choices = items
		} else if strings.TrimSpace(text) != "" {
			value.Choices = []string{text}
		}
	case t == Number:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			value.Number = &parsed
		}
		value.Text = text
	default:
		value.Text = text
	}
	return value
}

// IsBlank reports whether a submitted raw value counts as missing for
// required-question checks.
func IsBlank(raw json.RawMessage) bool {
	if isNull(raw) {
		return true
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return true
		}
		return strings.TrimSpace(s) == ""
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return true
		}
		for _, item := range items {
			if !IsBlank(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func choices(raw json.RawMessage) []string {
	trimmed := bytes.TrimSpace(raw)
	var items []json.RawMessage
	if trimmed[0] != '[' || json.Unmarshal(trimmed, &items) != nil {
		return []string{scalarText(trimmed)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if isNull(item) {
			continue
		}
		out = append(out, scalarText(item))
	}
	return out
}

func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
