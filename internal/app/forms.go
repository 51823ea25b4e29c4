package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/gitrepo"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
	"github.com/naveen-disprz/formBuilderBackend/internal/search"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
	"github.com/naveen-disprz/formBuilderBackend/internal/util"
)

type ListFormsInput struct {
	Page     int
	PageSize int
	Search   string
	Role     rbac.Role
}

type FormList struct {
	Items    []schema.Form `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// CreateForm validates def and stores it as a draft owned by creatorID.
func (s *Service) CreateForm(ctx context.Context, def schema.Definition, creatorID string) (schema.Form, error) {
	def, err := normalizeDefinition(def)
	if err != nil {
		return schema.Form{}, err
	}

	now := s.now()
	form, err := s.forms.Insert(ctx, schema.Form{
		Title:       def.Title,
		Description: def.Description,
		HeaderText:  def.HeaderText,
		Questions:   def.Questions,
		IsPublished: false,
		IsDeleted:   false,
		Visibility:  true,
		CreatedBy:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return schema.Form{}, formDataAccess("insert form", err)
	}

	s.afterFormChange(ctx, form, creatorID, "Create form")
	return form, nil
}

// GetForm returns a live form regardless of its publish state.
func (s *Service) GetForm(ctx context.Context, formID string) (schema.Form, error) {
	form, err := s.forms.Get(ctx, formID)
	if errors.Is(err, formstore.ErrNotFound) {
		return schema.Form{}, errFormNotFound(formID)
	}
	if err != nil {
		return schema.Form{}, formDataAccess("get form", err)
	}
	return form, nil
}

// ViewForm is GetForm filtered through the role's visibility rule. Forms the
// caller may not see are reported as missing.
func (s *Service) ViewForm(ctx context.Context, formID string, role rbac.Role) (schema.Form, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return schema.Form{}, err
	}
	if !rbac.CanViewForm(role, form) {
		return schema.Form{}, errFormNotFound(formID)
	}
	return form, nil
}

// ListForms pages through the forms visible to the caller's role, newest
// first. Search text goes to the index when it is healthy and to the form
// store otherwise.
func (s *Service) ListForms(ctx context.Context, input ListFormsInput) (FormList, error) {
	page := store.Page{Number: input.Page, Size: input.PageSize}
	limit, offset := page.Bounds(s.cfg.MaxPageSize)
	number := offset/limit + 1
	privileged := rbac.Privileged(input.Role)
	text := strings.TrimSpace(input.Search)

	if text != "" && s.search != nil {
		ids, total, ok := s.search.Search(search.Query{
			Text:               text,
			IncludeUnpublished: privileged,
			Limit:              limit,
			Offset:             offset,
		})
		if ok {
			items, err := s.formsByID(ctx, ids, input.Role)
			if err != nil {
				return FormList{}, err
			}
			return FormList{Items: items, Total: total, Page: number, PageSize: limit}, nil
		}
	}

	items, total, err := s.forms.List(ctx, formstore.ListFilter{
		PublishedOnly: !privileged,
		Search:        text,
	}, limit, offset)
	if err != nil {
		return FormList{}, formDataAccess("list forms", err)
	}
	return FormList{Items: items, Total: int(total), Page: number, PageSize: limit}, nil
}

// formsByID loads index hits in index order. Hits that are stale in the index
// are dropped.
func (s *Service) formsByID(ctx context.Context, ids []string, role rbac.Role) ([]schema.Form, error) {
	items := make([]schema.Form, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	found, err := s.forms.GetMany(ctx, ids)
	if err != nil {
		return nil, formDataAccess("load search hits", err)
	}
	for _, id := range ids {
		form, ok := found[id]
		if ok && rbac.CanViewForm(role, form) {
			items = append(items, form)
		}
	}
	return items, nil
}

// UpdateForm replaces the definition of a form. Published forms that already
// have responses are locked; the count is read fresh on every attempt.
func (s *Service) UpdateForm(ctx context.Context, formID string, def schema.Definition, callerID string) (schema.Form, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return schema.Form{}, err
	}

	if form.IsPublished {
		count, err := s.responses.CountResponses(ctx, form.ID)
		if err != nil {
			return schema.Form{}, responseDataAccess("count responses", err)
		}
		if form.Locked(count) {
			return schema.Form{}, errFormLocked(form.ID, count)
		}
	}

	def, err = normalizeDefinition(def)
	if err != nil {
		return schema.Form{}, err
	}

	now := s.now()
	changed, err := s.forms.ReplaceDefinition(ctx, form.ID, def, now)
	if err != nil {
		return schema.Form{}, formDataAccess("replace form definition", err)
	}
	if !changed {
		return schema.Form{}, errFormNotFound(formID)
	}

	form.Title = def.Title
	form.Description = def.Description
	form.HeaderText = def.HeaderText
	form.Questions = def.Questions
	form.UpdatedAt = now

	s.afterFormChange(ctx, form, callerID, "Update form")
	return form, nil
}

// DeleteForm soft-deletes a form and reports whether a live form was flipped.
func (s *Service) DeleteForm(ctx context.Context, formID, callerID string) (bool, error) {
	deleted, err := s.forms.SoftDelete(ctx, formID, s.now())
	if err != nil {
		return false, formDataAccess("delete form", err)
	}
	if !deleted {
		return false, nil
	}

	if s.search != nil {
		s.search.DeleteForm(formID)
	}
	s.commitRevision(ctx, formID, gitrepo.Snapshot{IsDeleted: true}, callerID, "Delete form")
	return true, nil
}

// PublishForm marks a form published by publisherID. It reports false when
// the form was already published.
func (s *Service) PublishForm(ctx context.Context, formID, publisherID string) (bool, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return false, err
	}
	changed, err := s.forms.SetPublished(ctx, formID, true, publisherID, s.now())
	if err != nil {
		return false, formDataAccess("publish form", err)
	}
	if changed {
		s.refreshForm(ctx, formID, publisherID, "Publish form")
	}
	return changed, nil
}

// SetFormVisibility toggles whether learners can find a published form.
func (s *Service) SetFormVisibility(ctx context.Context, formID string, visible bool, callerID string) (bool, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return false, err
	}
	changed, err := s.forms.SetVisibility(ctx, formID, visible, s.now())
	if err != nil {
		return false, formDataAccess("set form visibility", err)
	}
	if changed {
		message := "Hide form"
		if visible {
			message = "Show form"
		}
		s.refreshForm(ctx, formID, callerID, message)
	}
	return changed, nil
}

// ListFormRevisions returns the definition history of a live form, newest
// first. It is empty when revision history is disabled.
func (s *Service) ListFormRevisions(ctx context.Context, formID string, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []gitrepo.Revision{}, nil
	}
	if limit <= 0 || limit > s.cfg.MaxPageSize {
		limit = store.DefaultPageSize
	}
	revisions, err := s.revisions.History(formID, limit)
	if err != nil {
		return nil, fmt.Errorf("form history: %w", err)
	}
	return revisions, nil
}

// GetFormRevision loads the definition stored at one revision of a live form.
func (s *Service) GetFormRevision(ctx context.Context, formID, hash string) (gitrepo.Snapshot, error) {
	if _, err := s.GetForm(ctx, formID); err != nil {
		return gitrepo.Snapshot{}, err
	}
	if s.revisions == nil {
		return gitrepo.Snapshot{}, errRevisionNotFound(formID, hash)
	}
	snapshot, err := s.revisions.Snapshot(formID, hash)
	if errors.Is(err, gitrepo.ErrRevisionNotFound) {
		return gitrepo.Snapshot{}, errRevisionNotFound(formID, hash)
	}
	if err != nil {
		return gitrepo.Snapshot{}, fmt.Errorf("form revision: %w", err)
	}
	return snapshot, nil
}

func (s *Service) refreshForm(ctx context.Context, formID, callerID, message string) {
	form, err := s.forms.Get(ctx, formID)
	if err != nil {
		log.Printf("forms: reload form %s after %q: %v", formID, message, err)
		return
	}
	s.afterFormChange(ctx, form, callerID, message)
}

func (s *Service) afterFormChange(ctx context.Context, form schema.Form, callerID, message string) {
	if s.search != nil {
		s.search.IndexForm(form)
	}
	s.commitRevision(ctx, form.ID, gitrepo.SnapshotOf(form), callerID, message)
}

func (s *Service) commitRevision(ctx context.Context, formID string, snapshot gitrepo.Snapshot, callerID, message string) {
	if s.revisions == nil {
		return
	}
	author := s.userName(ctx, callerID, map[string]string{})
	if _, err := s.revisions.Commit(formID, snapshot, author, message); err != nil {
		log.Printf("forms: record revision for %s: %v", formID, err)
	}
}

// normalizeDefinition trims the definition and checks it the same way for
// create and update. Questions are renumbered in submitted order; missing or
// repeated ids are replaced.
func normalizeDefinition(def schema.Definition) (schema.Definition, error) {
	def.Title = strings.TrimSpace(def.Title)
	def.Description = strings.TrimSpace(def.Description)
	def.HeaderText = strings.TrimSpace(def.HeaderText)
	if def.Title == "" {
		return schema.Definition{}, errValidation("Form title is required")
	}

	seen := make(map[string]struct{}, len(def.Questions))
	questions := make([]schema.Question, 0, len(def.Questions))
	for i, q := range def.Questions {
		q.ID = strings.TrimSpace(q.ID)
		q.Label = strings.TrimSpace(q.Label)
		q.Description = strings.TrimSpace(q.Description)
		q.Type = schema.QuestionType(strings.TrimSpace(string(q.Type)))

		if !q.Type.Valid() {
			return schema.Definition{}, errQuestionValidation(fmt.Sprintf("Question %d has unknown type %q", i+1, q.Type), i, q.ID)
		}
		if q.Label == "" {
			return schema.Definition{}, errQuestionValidation(fmt.Sprintf("Question %d needs a label", i+1), i, q.ID)
		}
		if _, dup := seen[q.ID]; q.ID == "" || dup {
			q.ID = util.NewID("q")
		}
		seen[q.ID] = struct{}{}

		if q.Type.IsSelect() {
			options := make([]schema.Option, 0, len(q.Options))
			for _, option := range q.Options {
				option.Label = strings.TrimSpace(option.Label)
				if option.Label == "" {
					continue
				}
				if strings.TrimSpace(option.ID) == "" {
					option.ID = util.NewID("opt")
				}
				option.Order = len(options)
				options = append(options, option)
			}
			if len(options) == 0 {
				return schema.Definition{}, errQuestionValidation(fmt.Sprintf("Question %q needs at least one option", q.Label), i, q.ID)
			}
			q.Options = options
		} else {
			q.Options = nil
		}
		if q.Type != schema.Date {
			q.DateFormat = ""
		}

		q.Order = i
		questions = append(questions, q)
	}
	def.Questions = questions
	return def, nil
}
