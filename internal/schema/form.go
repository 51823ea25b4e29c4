// Package schema holds the form definition model shared by both stores.
package schema

import "time"

// QuestionType is the tag that drives validation and answer encoding.
type QuestionType string

const (
	ShortText    QuestionType = "short_text"
	LongText     QuestionType = "long_text"
	Number       QuestionType = "number"
	Date         QuestionType = "date"
	SingleSelect QuestionType = "single_select"
	MultiSelect  QuestionType = "multi_select"
	File         QuestionType = "file"
)

var questionTypes = map[QuestionType]struct{}{
	ShortText:    {},
	LongText:     {},
	Number:       {},
	Date:         {},
	SingleSelect: {},
	MultiSelect:  {},
	File:         {},
}

func (t QuestionType) Valid() bool {
	_, ok := questionTypes[t]
	return ok
}

func (t QuestionType) IsSelect() bool {
	return t == SingleSelect || t == MultiSelect
}

func (t QuestionType) IsFile() bool {
	return t == File
}

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

type Question struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Type        QuestionType `json:"type"`
	Required    bool         `json:"required"`
	Options     []Option     `json:"options,omitempty"`
	DateFormat  string       `json:"dateFormat,omitempty"`
	Order       int          `json:"order"`
}

// Form is a form definition plus its lifecycle flags.
type Form struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	HeaderText  string     `json:"headerText,omitempty"`
	Questions   []Question `json:"questions"`
	IsPublished bool       `json:"isPublished"`
	IsDeleted   bool       `json:"isDeleted"`
	Visibility  bool       `json:"visibility"`
	CreatedBy   string     `json:"createdBy"`
	PublishedBy string     `json:"publishedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Definition is the editable part of a form.
type Definition struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	HeaderText  string     `json:"headerText"`
	Questions   []Question `json:"questions"`
}

// Question returns the question with the given id.
func (f Form) Question(id string) (Question, bool) {
	for _, q := range f.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Locked reports whether structural edits are blocked for a form with the
// given response count.
func (f Form) Locked(responseCount int) bool {
	return f.IsPublished && responseCount > 0
}
