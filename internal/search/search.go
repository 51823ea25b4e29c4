// Package search keeps a Meilisearch index of form titles and descriptions.
// The index is an accelerator only; callers fall back to the form store.
package search

import (
	"time"

	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

// Query describes a form search.
type Query struct {
	Text string
	// IncludeUnpublished widens results to drafts and hidden forms.
	IncludeUnpublished bool
	Limit              int
	Offset             int
}

// FormRecord is the data we index for a form.
type FormRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublished bool   `json:"isPublished"`
	Visibility  bool   `json:"visibility"`
	IsDeleted   bool   `json:"isDeleted"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   int64  `json:"createdAt"`
}

// RecordFromForm maps a form to its index record.
func RecordFromForm(form schema.Form) FormRecord {
	return FormRecord{
		ID:          form.ID,
		Title:       form.Title,
		Description: form.Description,
		IsPublished: form.IsPublished,
		Visibility:  form.Visibility,
		IsDeleted:   form.IsDeleted,
		CreatedBy:   form.CreatedBy,
		CreatedAt:   form.CreatedAt.UTC().Truncate(time.Second).Unix(),
	}
}

// Backend runs searches and index writes. *Meili implements it.
type Backend interface {
	Healthy() bool
	Search(q Query) ([]string, int, error)
	IndexForms(records []FormRecord) error
	DeleteForm(id string) error
}
