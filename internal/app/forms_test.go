package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

func TestCreateFormRejectsBlankTitle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateForm(context.Background(), schema.Definition{Title: "   "}, adminID)
	requireCode(t, err, CodeValidation)
	if len(env.forms.forms) != 0 {
		t.Fatal("invalid form must not be stored")
	}
}

func TestCreateFormRejectsSelectWithoutOptions(t *testing.T) {
	cases := []struct {
		name     string
		question schema.Question
	}{
		{name: "single select nil options", question: schema.Question{Label: "Pick", Type: schema.SingleSelect}},
		{name: "multi select empty options", question: schema.Question{Label: "Pick", Type: schema.MultiSelect, Options: []schema.Option{}}},
		{name: "only blank labels", question: schema.Question{Label: "Pick", Type: schema.SingleSelect, Options: []schema.Option{{Label: " "}}}},
		{name: "unknown type", question: schema.Question{Label: "Pick", Type: "slider"}},
		{name: "blank label", question: schema.Question{Label: "", Type: schema.ShortText}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			def := schema.Definition{Title: "Poll", Questions: []schema.Question{
				{Label: "Intro", Type: schema.ShortText},
				tc.question,
			}}
			_, err := env.svc.CreateForm(context.Background(), def, adminID)
			domainErr := requireCode(t, err, CodeQuestionValidation)
			details, _ := domainErr.Details.(map[string]any)
			if details["index"] != 1 {
				t.Fatalf("details = %v, want index 1", domainErr.Details)
			}
		})
	}
}

func TestCreateFormPersistsDraft(t *testing.T) {
	env := newTestEnv(t)
	def := schema.Definition{
		Title:       "  Onboarding  ",
		Description: "First week",
		Questions: []schema.Question{
			{ID: "team", Label: "Team", Type: schema.SingleSelect, Options: []schema.Option{{Label: "Core"}, {Label: ""}, {ID: "ops", Label: "Ops"}}},
			{Label: "Start", Type: schema.Date, DateFormat: "YYYY-MM-DD"},
			{ID: "team", Label: "Again", Type: schema.LongText, DateFormat: "ignored"},
		},
	}

	form, err := env.svc.CreateForm(context.Background(), def, adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if form.ID == "" || form.Title != "Onboarding" {
		t.Fatalf("unexpected form %+v", form)
	}
	if form.IsPublished || form.IsDeleted || !form.Visibility {
		t.Fatalf("new form should be a visible draft: %+v", form)
	}
	if form.CreatedBy != adminID {
		t.Fatalf("CreatedBy = %q, want %q", form.CreatedBy, adminID)
	}
	if len(form.Questions) != 3 {
		t.Fatalf("questions = %d, want 3", len(form.Questions))
	}

	team := form.Questions[0]
	if team.ID != "team" || len(team.Options) != 2 || team.Options[1].ID != "ops" || team.Options[1].Order != 1 {
		t.Fatalf("unexpected select question %+v", team)
	}
	if team.Options[0].ID == "" {
		t.Fatal("options without ids should get one")
	}
	if form.Questions[1].ID == "" || form.Questions[1].DateFormat != "YYYY-MM-DD" {
		t.Fatalf("unexpected date question %+v", form.Questions[1])
	}
	if dup := form.Questions[2]; dup.ID == "team" || dup.DateFormat != "" || dup.Order != 2 {
		t.Fatalf("duplicate id should be replaced and date format dropped: %+v", dup)
	}
}

func TestCreateFormWrapsStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	cause := errors.New("mongo down")
	env.forms.InsertFn = func(schema.Form) (schema.Form, error) { return schema.Form{}, cause }

	_, err := env.svc.CreateForm(context.Background(), surveyDefinition(), adminID)
	domainErr := requireCode(t, err, CodeFormDataAccess)
	if domainErr.Kind != KindDataAccess || !errors.Is(err, cause) {
		t.Fatalf("data access error should keep its cause: %v", err)
	}
}

func TestGetFormMissingOrDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GetForm(ctx, "000000000000000000000099")
	requireCode(t, err, CodeFormNotFound)

	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := env.svc.DeleteForm(ctx, form.ID, adminID); err != nil {
		t.Fatalf("DeleteForm: %v", err)
	}
	_, err = env.svc.GetForm(ctx, form.ID)
	requireCode(t, err, CodeFormNotFound)
}

func TestViewFormHidesDraftsFromLearners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	draft, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	if _, err := env.svc.ViewForm(ctx, draft.ID, rbac.RoleAdmin); err != nil {
		t.Fatalf("admin should see drafts: %v", err)
	}
	_, err = env.svc.ViewForm(ctx, draft.ID, rbac.RoleLearner)
	requireCode(t, err, CodeFormNotFound)

	if _, err := env.svc.PublishForm(ctx, draft.ID, adminID); err != nil {
		t.Fatalf("PublishForm: %v", err)
	}
	if _, err := env.svc.ViewForm(ctx, draft.ID, rbac.RoleLearner); err != nil {
		t.Fatalf("learner should see published form: %v", err)
	}
}

func TestListFormsFiltersByRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	live := env.publishedForm(t, schema.Definition{Title: "Live"})
	hidden := env.publishedForm(t, schema.Definition{Title: "Hidden"})
	if _, err := env.svc.SetFormVisibility(ctx, hidden.ID, false, adminID); err != nil {
		t.Fatalf("SetFormVisibility: %v", err)
	}
	if _, err := env.svc.CreateForm(ctx, schema.Definition{Title: "Draft"}, adminID); err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	gone, err := env.svc.CreateForm(ctx, schema.Definition{Title: "Gone"}, adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := env.svc.DeleteForm(ctx, gone.ID, adminID); err != nil {
		t.Fatalf("DeleteForm: %v", err)
	}

	learnerList, err := env.svc.ListForms(ctx, ListFormsInput{Role: rbac.RoleLearner})
	if err != nil {
		t.Fatalf("ListForms learner: %v", err)
	}
	if learnerList.Total != 1 || len(learnerList.Items) != 1 || learnerList.Items[0].ID != live.ID {
		t.Fatalf("learner list = %+v", learnerList)
	}

	adminList, err := env.svc.ListForms(ctx, ListFormsInput{Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("ListForms admin: %v", err)
	}
	if adminList.Total != 3 {
		t.Fatalf("admin total = %d, want 3", adminList.Total)
	}
	if adminList.Items[0].Title != "Draft" {
		t.Fatalf("newest form first, got %q", adminList.Items[0].Title)
	}
	if adminList.Page != 1 || adminList.PageSize != 20 {
		t.Fatalf("default paging = %d/%d", adminList.Page, adminList.PageSize)
	}
}

func TestListFormsClampsPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		if _, err := env.svc.CreateForm(ctx, schema.Definition{Title: title}, adminID); err != nil {
			t.Fatalf("CreateForm: %v", err)
		}
	}

	list, err := env.svc.ListForms(ctx, ListFormsInput{Page: 2, PageSize: 2, Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if list.Total != 3 || len(list.Items) != 1 || list.Items[0].Title != "A" || list.Page != 2 {
		t.Fatalf("page 2 = %+v", list)
	}

	list, err = env.svc.ListForms(ctx, ListFormsInput{Page: -4, PageSize: 5000, Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if list.Page != 1 || list.PageSize != 50 || len(list.Items) != 3 {
		t.Fatalf("clamped list = %+v", list)
	}

	list, err = env.svc.ListForms(ctx, ListFormsInput{Page: math.MaxInt, PageSize: 20, Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("ListForms(huge page): %v", err)
	}
	if list.Page < 1 || list.Total != 3 || len(list.Items) != 0 {
		t.Fatalf("huge page = %+v", list)
	}
}

func TestListFormsSearchFallsBackToStore(t *testing.T) {
	index := &fakeIndex{ok: false}
	env := newTestEnv(t, func(deps *Dependencies) { deps.Search = index })
	ctx := context.Background()
	env.publishedForm(t, schema.Definition{Title: "Exit interview"})
	env.publishedForm(t, schema.Definition{Title: "Lunch order"})

	list, err := env.svc.ListForms(ctx, ListFormsInput{Search: "EXIT", Role: rbac.RoleLearner})
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if len(index.queries) != 1 || index.queries[0].IncludeUnpublished {
		t.Fatalf("learner query should be sent to the index restricted: %+v", index.queries)
	}
	if list.Total != 1 || list.Items[0].Title != "Exit interview" {
		t.Fatalf("fallback list = %+v", list)
	}
}

func TestListFormsSearchUsesIndexOrder(t *testing.T) {
	index := &fakeIndex{ok: true}
	env := newTestEnv(t, func(deps *Dependencies) { deps.Search = index })
	ctx := context.Background()
	first := env.publishedForm(t, schema.Definition{Title: "First"})
	second := env.publishedForm(t, schema.Definition{Title: "Second"})
	draft, err := env.svc.CreateForm(ctx, schema.Definition{Title: "Draft"}, adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	index.ids = []string{second.ID, "000000000000000000000abc", draft.ID, first.ID}
	index.total = 4
	listCalls := env.forms.ListCalls

	list, err := env.svc.ListForms(ctx, ListFormsInput{Search: "s", Role: rbac.RoleLearner})
	if err != nil {
		t.Fatalf("ListForms: %v", err)
	}
	if env.forms.ListCalls != listCalls {
		t.Fatal("store should not be listed when the index answers")
	}
	if len(list.Items) != 2 || list.Items[0].ID != second.ID || list.Items[1].ID != first.ID {
		t.Fatalf("index hits should keep order and drop stale or hidden forms: %+v", list.Items)
	}
	if list.Total != 4 {
		t.Fatalf("Total = %d, want index estimate 4", list.Total)
	}
}

func TestUpdateFormLockedAfterFirstResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	form := env.publishedForm(t, surveyDefinition())

	def := surveyDefinition()
	def.Questions = append(def.Questions, schema.Question{Label: "Age", Type: schema.Number})
	updated, err := env.svc.UpdateForm(ctx, form.ID, def, adminID)
	if err != nil {
		t.Fatalf("published form with no responses should accept updates: %v", err)
	}
	if len(updated.Questions) != 2 || !updated.UpdatedAt.After(form.UpdatedAt) {
		t.Fatalf("update should replace questions and bump updatedAt: %+v", updated)
	}

	if _, err := env.svc.SubmitResponse(ctx, form.ID, []AnswerInput{textAnswer("name", "Alice")}, learnerID, ClientMeta{}); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	_, err = env.svc.UpdateForm(ctx, form.ID, surveyDefinition(), adminID)
	domainErr := requireCode(t, err, CodeFormLocked)
	if domainErr.Kind != KindConflict {
		t.Fatalf("kind = %s, want conflict", domainErr.Kind)
	}
	stored, _ := env.svc.GetForm(ctx, form.ID)
	if len(stored.Questions) != 2 {
		t.Fatal("locked form must keep its questions")
	}
}

func TestUpdateDraftIgnoresResponseCount(t *testing.T) {
	env := newTestEnv(t)
	env.responses.CountFn = func(string) (int, error) {
		t.Fatal("drafts cannot be locked; count should not be queried")
		return 0, nil
	}
	form, err := env.svc.CreateForm(context.Background(), surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := env.svc.UpdateForm(context.Background(), form.ID, schema.Definition{Title: "Renamed"}, adminID); err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
}

func TestUpdateFormByAnyAdmin(t *testing.T) {
	env := newTestEnv(t)
	form, err := env.svc.CreateForm(context.Background(), surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	updated, err := env.svc.UpdateForm(context.Background(), form.ID, schema.Definition{Title: "Edited by Grace"}, admin2ID)
	if err != nil {
		t.Fatalf("a different admin should manage the form: %v", err)
	}
	if updated.CreatedBy != adminID || updated.Title != "Edited by Grace" {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestUpdateFormValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.UpdateForm(ctx, "000000000000000000000099", surveyDefinition(), adminID)
	requireCode(t, err, CodeFormNotFound)

	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	_, err = env.svc.UpdateForm(ctx, form.ID, schema.Definition{Title: "Poll", Questions: []schema.Question{
		{Label: "Pick", Type: schema.MultiSelect},
	}}, adminID)
	requireCode(t, err, CodeQuestionValidation)

	_, err = env.svc.UpdateForm(ctx, form.ID, schema.Definition{Title: ""}, adminID)
	requireCode(t, err, CodeValidation)
}

func TestUpdateFormCountFailureIsResponseDataAccess(t *testing.T) {
	env := newTestEnv(t)
	form := env.publishedForm(t, surveyDefinition())
	cause := errors.New("pg timeout")
	env.responses.CountFn = func(string) (int, error) { return 0, cause }

	_, err := env.svc.UpdateForm(context.Background(), form.ID, surveyDefinition(), adminID)
	requireCode(t, err, CodeResponseDataAccess)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestDeleteFormIsIdempotent(t *testing.T) {
	index := &fakeIndex{ok: true}
	env := newTestEnv(t, func(deps *Dependencies) { deps.Search = index })
	ctx := context.Background()
	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	deleted, err := env.svc.DeleteForm(ctx, form.ID, adminID)
	if err != nil || !deleted {
		t.Fatalf("first delete = %v, %v", deleted, err)
	}
	deleted, err = env.svc.DeleteForm(ctx, form.ID, adminID)
	if err != nil || deleted {
		t.Fatalf("second delete = %v, %v", deleted, err)
	}
	if len(index.deleted) != 1 || index.deleted[0] != form.ID {
		t.Fatalf("index deletes = %v", index.deleted)
	}
}

func TestPublishForm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.PublishForm(ctx, "000000000000000000000099", adminID)
	requireCode(t, err, CodeFormNotFound)

	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	changed, err := env.svc.PublishForm(ctx, form.ID, admin2ID)
	if err != nil || !changed {
		t.Fatalf("publish = %v, %v", changed, err)
	}
	changed, err = env.svc.PublishForm(ctx, form.ID, adminID)
	if err != nil || changed {
		t.Fatalf("republish = %v, %v; want no change", changed, err)
	}

	stored, _ := env.svc.GetForm(ctx, form.ID)
	if !stored.IsPublished || stored.PublishedBy != admin2ID || stored.PublishedAt == nil {
		t.Fatalf("publish state not recorded: %+v", stored)
	}
}

func TestSetFormVisibilityIndependentOfPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	changed, err := env.svc.SetFormVisibility(ctx, form.ID, false, adminID)
	if err != nil || !changed {
		t.Fatalf("hide draft = %v, %v", changed, err)
	}
	stored, _ := env.svc.GetForm(ctx, form.ID)
	if stored.Visibility || stored.IsPublished {
		t.Fatalf("unexpected flags %+v", stored)
	}

	_, err = env.svc.SetFormVisibility(ctx, "000000000000000000000099", true, adminID)
	requireCode(t, err, CodeFormNotFound)
}

func TestFormChangesRecordRevisions(t *testing.T) {
	revisions := &fakeRevisions{}
	index := &fakeIndex{ok: true}
	env := newTestEnv(t, func(deps *Dependencies) {
		deps.Revisions = revisions
		deps.Search = index
	})
	ctx := context.Background()

	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := env.svc.UpdateForm(ctx, form.ID, schema.Definition{Title: "Survey v2"}, admin2ID); err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if _, err := env.svc.PublishForm(ctx, form.ID, adminID); err != nil {
		t.Fatalf("PublishForm: %v", err)
	}

	if len(revisions.commits) != 3 {
		t.Fatalf("commits = %v", revisions.commits)
	}
	if !strings.HasSuffix(revisions.commits[1], "|grace|Update form") {
		t.Fatalf("update commit should name the editor: %q", revisions.commits[1])
	}
	if len(index.indexed) != 3 {
		t.Fatalf("every change should be indexed, got %v", index.indexed)
	}

	history, err := env.svc.ListFormRevisions(ctx, form.ID, 10)
	if err != nil {
		t.Fatalf("ListFormRevisions: %v", err)
	}
	if len(history) != 3 || !strings.HasSuffix(history[0].Message, "Publish form") {
		t.Fatalf("history should be newest first: %+v", history)
	}

	original, err := env.svc.GetFormRevision(ctx, form.ID, history[2].Hash)
	if err != nil {
		t.Fatalf("GetFormRevision: %v", err)
	}
	if original.Title != "Survey" || original.IsPublished {
		t.Fatalf("first revision = %+v", original)
	}
	latest, err := env.svc.GetFormRevision(ctx, form.ID, history[0].Hash)
	if err != nil || latest.Title != "Survey v2" || !latest.IsPublished {
		t.Fatalf("latest revision = %+v, %v", latest, err)
	}
	_, err = env.svc.GetFormRevision(ctx, form.ID, "deadbeef")
	requireCode(t, err, CodeRevisionNotFound)
}

func TestRevisionFailureDoesNotFailUpdate(t *testing.T) {
	revisions := &fakeRevisions{err: errors.New("disk full")}
	env := newTestEnv(t, func(deps *Dependencies) { deps.Revisions = revisions })
	if _, err := env.svc.CreateForm(context.Background(), surveyDefinition(), adminID); err != nil {
		t.Fatalf("revision errors are best effort: %v", err)
	}
}

func TestListFormRevisionsWithoutHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	form, err := env.svc.CreateForm(ctx, surveyDefinition(), adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	history, err := env.svc.ListFormRevisions(ctx, form.ID, 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("history = %v, %v", history, err)
	}
	_, err = env.svc.ListFormRevisions(ctx, "000000000000000000000099", 0)
	requireCode(t, err, CodeFormNotFound)
	_, err = env.svc.GetFormRevision(ctx, form.ID, "abc1234")
	requireCode(t, err, CodeRevisionNotFound)
}

func TestGetFormStoreNotFoundSentinel(t *testing.T) {
	env := newTestEnv(t)
	env.forms.GetFn = func(string) (schema.Form, error) { return schema.Form{}, formstore.ErrNotFound }
	_, err := env.svc.GetForm(context.Background(), "anything")
	domainErr := requireCode(t, err, CodeFormNotFound)
	if domainErr.Cause != nil {
		t.Fatal("not found is a domain error, not a wrapped cause")
	}
}
