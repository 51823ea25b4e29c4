// Package formstore keeps form definitions in a MongoDB collection.
package formstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

// ErrNotFound is returned when a form is absent, soft-deleted, or the id is
// not a valid object id.
var ErrNotFound = errors.New("form not found")

// ListFilter narrows form listings. Soft-deleted forms are always excluded.
type ListFilter struct {
	// PublishedOnly restricts results to published and visible forms.
	PublishedOnly bool
	Search        string
}

type Repository struct {
	forms *mongo.Collection
}

func NewRepository(db *mongo.Database, collection string) *Repository {
	return &Repository{forms: db.Collection(collection)}
}

// EnsureIndexes creates the listing index. Safe to call on every start.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.forms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "isDeleted", Value: 1},
			{Key: "isPublished", Value: 1},
			{Key: "visibility", Value: 1},
			{Key: "createdAt", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("create form index: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.forms.Database().Client().Ping(ctx, nil)
}

// Insert stores form as a new document and returns it with its assigned id.
func (r *Repository) Insert(ctx context.Context, form schema.Form) (schema.Form, error) {
	doc := FormDocument{
		ID:          primitive.NewObjectID(),
		Title:       form.Title,
		Description: form.Description,
		HeaderText:  form.HeaderText,
		Questions:   questionDocuments(form.Questions),
		IsPublished: form.IsPublished,
		IsDeleted:   form.IsDeleted,
		Visibility:  form.Visibility,
		CreatedBy:   form.CreatedBy,
		PublishedBy: form.PublishedBy,
		CreatedAt:   form.CreatedAt,
		UpdatedAt:   form.UpdatedAt,
		PublishedAt: form.PublishedAt,
	}
	if _, err := r.forms.InsertOne(ctx, doc); err != nil {
		return schema.Form{}, fmt.Errorf("insert form: %w", err)
	}
	return mapFormDocument(doc), nil
}

func (r *Repository) Get(ctx context.Context, id string) (schema.Form, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return schema.Form{}, ErrNotFound
	}
	var doc FormDocument
	err = r.forms.FindOne(ctx, bson.M{"_id": objectID, "isDeleted": false}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return schema.Form{}, ErrNotFound
	}
	if err != nil {
		return schema.Form{}, fmt.Errorf("find form: %w", err)
	}
	return mapFormDocument(doc), nil
}

// GetMany returns the live forms among ids keyed by id. Unknown, invalid
// and soft-deleted ids are absent from the result.
func (r *Repository) GetMany(ctx context.Context, ids []string) (map[string]schema.Form, error) {
	objectIDs := objectIDs(ids)
	result := make(map[string]schema.Form, len(objectIDs))
	if len(objectIDs) == 0 {
		return result, nil
	}
	cursor, err := r.forms.Find(ctx, bson.M{"_id": bson.M{"$in": objectIDs}, "isDeleted": false})
	if err != nil {
		return nil, fmt.Errorf("find forms: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc FormDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode form: %w", err)
		}
		form := mapFormDocument(doc)
		result[form.ID] = form
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return result, nil
}

// List returns one page of forms, newest first, plus the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]schema.Form, int64, error) {
	mongoFilter := buildListFilter(filter)

	total, err := r.forms.CountDocuments(ctx, mongoFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if offset > 0 {
		findOpts.SetSkip(int64(offset))
	}

	cursor, err := r.forms.Find(ctx, mongoFilter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("find forms: %w", err)
	}
	defer cursor.Close(ctx)

	forms := make([]schema.Form, 0)
	for cursor.Next(ctx) {
		var doc FormDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decode form: %w", err)
		}
		forms = append(forms, mapFormDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate forms: %w", err)
	}
	return forms, total, nil
}

func buildListFilter(filter ListFilter) bson.M {
	mongoFilter := bson.M{"isDeleted": false}
	if filter.PublishedOnly {
		mongoFilter["isPublished"] = true
		mongoFilter["visibility"] = true
	}
	if keyword := strings.TrimSpace(filter.Search); keyword != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}
		mongoFilter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}
	}
	return mongoFilter
}

// ReplaceDefinition overwrites the editable fields of a live form. The
// question list is replaced wholesale.
func (r *Repository) ReplaceDefinition(ctx context.Context, id string, def schema.Definition, at time.Time) (bool, error) {
	return r.update(ctx, id, bson.M{}, bson.M{
		"title":       def.Title,
		"description": def.Description,
		"headerText":  def.HeaderText,
		"questions":   questionDocuments(def.Questions),
		"updatedAt":   at,
	})
}

// SetPublished reports whether the flag changed. Publishing records by as
// the publisher; unpublishing keeps the previous publisher for audit.
func (r *Repository) SetPublished(ctx context.Context, id string, published bool, by string, at time.Time) (bool, error) {
	set := bson.M{"isPublished": published, "updatedAt": at}
	if published {
		set["publishedBy"] = by
		set["publishedAt"] = at
	}
	return r.update(ctx, id, bson.M{"isPublished": bson.M{"$ne": published}}, set)
}

func (r *Repository) SetVisibility(ctx context.Context, id string, visible bool, at time.Time) (bool, error) {
	return r.update(ctx, id, bson.M{"visibility": bson.M{"$ne": visible}}, bson.M{"visibility": visible, "updatedAt": at})
}

// SoftDelete flags a live form as deleted and reports whether it was live.
func (r *Repository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(ctx, id, bson.M{}, bson.M{"isDeleted": true, "deletedAt": at, "updatedAt": at})
}

// HardDelete removes the document regardless of its deleted flag.
func (r *Repository) HardDelete(ctx context.Context, id string) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return false, nil
	}
	result, err := r.forms.DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		return false, fmt.Errorf("delete form: %w", err)
	}
	return result.DeletedCount > 0, nil
}

func (r *Repository) update(ctx context.Context, id string, extra bson.M, set bson.M) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return false, nil
	}
	filter := bson.M{"_id": objectID, "isDeleted": false}
	for k, v := range extra {
		filter[k] = v
	}
	result, err := r.forms.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("update form: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
		if err != nil {
			continue
		}
		out = append(out, objectID)
	}
	return out
}
