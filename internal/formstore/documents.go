package formstore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

// FormDocument is the stored shape of a form in the forms collection.
type FormDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	Title       string             `bson:"title"`
	Description string             `bson:"description,omitempty"`
	HeaderText  string             `bson:"headerText,omitempty"`
	Questions   []QuestionDocument `bson:"questions"`
	IsPublished bool               `bson:"isPublished"`
	IsDeleted   bool               `bson:"isDeleted"`
	Visibility  bool               `bson:"visibility"`
	CreatedBy   string             `bson:"createdBy"`
	PublishedBy string             `bson:"publishedBy,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
	PublishedAt *time.Time         `bson:"publishedAt,omitempty"`
	DeletedAt   *time.Time         `bson:"deletedAt,omitempty"`
}

type QuestionDocument struct {
	ID          string           `bson:"id"`
	Label       string           `bson:"label"`
	Description string           `bson:"description,omitempty"`
	Type        string           `bson:"type"`
	Required    bool             `bson:"required"`
	Options     []OptionDocument `bson:"options,omitempty"`
	DateFormat  string           `bson:"dateFormat,omitempty"`
	Order       int              `bson:"order"`
}

type OptionDocument struct {
	ID    string `bson:"id"`
	Label string `bson:"label"`
	Order int    `bson:"order"`
}

func mapFormDocument(doc FormDocument) schema.Form {
	return schema.Form{
		ID:          doc.ID.Hex(),
		Title:       doc.Title,
		Description: doc.Description,
		HeaderText:  doc.HeaderText,
		Questions:   mapQuestionDocuments(doc.Questions),
		IsPublished: doc.IsPublished,
		IsDeleted:   doc.IsDeleted,
		Visibility:  doc.Visibility,
		CreatedBy:   doc.CreatedBy,
		PublishedBy: doc.PublishedBy,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		PublishedAt: doc.PublishedAt,
	}
}

func mapQuestionDocuments(docs []QuestionDocument) []schema.Question {
	questions := make([]schema.Question, 0, len(docs))
	for _, doc := range docs {
		var options []schema.Option
		for _, opt := range doc.Options {
			options = append(options, schema.Option{ID: opt.ID, Label: opt.Label, Order: opt.Order})
		}
		questions = append(questions, schema.Question{
			ID:          doc.ID,
			Label:       doc.Label,
			Description: doc.Description,
			Type:        schema.QuestionType(doc.Type),
			Required:    doc.Required,
			Options:     options,
			DateFormat:  doc.DateFormat,
			Order:       doc.Order,
		})
	}
	return questions
}

func questionDocuments(questions []schema.Question) []QuestionDocument {
	docs := make([]QuestionDocument, 0, len(questions))
	for _, q := range questions {
		var options []OptionDocument
		for _, opt := range q.Options {
			options = append(options, OptionDocument{ID: opt.ID, Label: opt.Label, Order: opt.Order})
		}
		docs = append(docs, QuestionDocument{
			ID:          q.ID,
			Label:       q.Label,
			Description: q.Description,
			Type:        string(q.Type),
			Required:    q.Required,
			Options:     options,
			DateFormat:  q.DateFormat,
			Order:       q.Order,
		})
	}
	return docs
}
