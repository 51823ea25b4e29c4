package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/naveen-disprz/formBuilderBackend/internal/authpw"
	"github.com/naveen-disprz/formBuilderBackend/internal/config"
	"github.com/naveen-disprz/formBuilderBackend/internal/email"
	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/gitrepo"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
	"github.com/naveen-disprz/formBuilderBackend/internal/search"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
)

type fakeFormRepo struct {
	mu     sync.Mutex
	forms  map[string]schema.Form
	nextID int

	InsertFn  func(schema.Form) (schema.Form, error)
	GetFn     func(string) (schema.Form, error)
	GetManyFn func([]string) (map[string]schema.Form, error)
	ListCalls int
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{forms: map[string]schema.Form{}}
}

func (f *fakeFormRepo) Insert(_ context.Context, form schema.Form) (schema.Form, error) {
	if f.InsertFn != nil {
		return f.InsertFn(form)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	form.ID = fmt.Sprintf("%024x", f.nextID)
	f.forms[form.ID] = form
	return form, nil
}

func (f *fakeFormRepo) Get(_ context.Context, id string) (schema.Form, error) {
	if f.GetFn != nil {
		return f.GetFn(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	if !ok || form.IsDeleted {
		return schema.Form{}, formstore.ErrNotFound
	}
	return form, nil
}

func (f *fakeFormRepo) GetMany(_ context.Context, ids []string) (map[string]schema.Form, error) {
	if f.GetManyFn != nil {
		return f.GetManyFn(ids)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]schema.Form{}
	for _, id := range ids {
		if form, ok := f.forms[id]; ok && !form.IsDeleted {
			out[id] = form
		}
	}
	return out, nil
}

func (f *fakeFormRepo) List(_ context.Context, filter formstore.ListFilter, limit, offset int) ([]schema.Form, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	matched := make([]schema.Form, 0)
	for _, form := range f.forms {
		if form.IsDeleted {
			continue
		}
		if filter.PublishedOnly && !(form.IsPublished && form.Visibility) {
			continue
		}
		if text := strings.ToLower(filter.Search); text != "" &&
			!strings.Contains(strings.ToLower(form.Title), text) &&
			!strings.Contains(strings.ToLower(form.Description), text) {
			continue
		}
		matched = append(matched, form)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (f *fakeFormRepo) ReplaceDefinition(_ context.Context, id string, def schema.Definition, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	if !ok || form.IsDeleted {
		return false, nil
	}
	form.Title = def.Title
	form.Description = def.Description
	form.HeaderText = def.HeaderText
	form.Questions = def.Questions
	form.UpdatedAt = at
	f.forms[id] = form
	return true, nil
}

func (f *fakeFormRepo) SetPublished(_ context.Context, id string, published bool, by string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	if !ok || form.IsDeleted || form.IsPublished == published {
		return false, nil
	}
	form.IsPublished = published
	if published {
		form.PublishedBy = by
		form.PublishedAt = &at
	}
	form.UpdatedAt = at
	f.forms[id] = form
	return true, nil
}

func (f *fakeFormRepo) SetVisibility(_ context.Context, id string, visible bool, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	if !ok || form.IsDeleted || form.Visibility == visible {
		return false, nil
	}
	form.Visibility = visible
	form.UpdatedAt = at
	f.forms[id] = form
	return true, nil
}

func (f *fakeFormRepo) SoftDelete(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	if !ok || form.IsDeleted {
		return false, nil
	}
	form.IsDeleted = true
	form.UpdatedAt = at
	f.forms[id] = form
	return true, nil
}

func (f *fakeFormRepo) Ping(context.Context) error { return nil }

type fakeResponseRepo struct {
	mu        sync.Mutex
	responses map[string]store.Response
	answers   []store.Answer
	files     map[string]store.File

	ResponseExistsFn func(formID, userID string) (bool, error)
	InsertResponseFn func(store.Response) error
	InsertAnswerFn   func(store.Answer) error
	CountFn          func(formID string) (int, error)
	PingErr          error
}

func newFakeResponseRepo() *fakeResponseRepo {
	return &fakeResponseRepo{
		responses: map[string]store.Response{},
		files:     map[string]store.File{},
	}
}

func (f *fakeResponseRepo) ResponseExists(_ context.Context, formID, userID string) (bool, error) {
	if f.ResponseExistsFn != nil {
		return f.ResponseExistsFn(formID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, response := range f.responses {
		if response.FormID == formID && response.SubmittedBy == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResponseRepo) CountResponses(_ context.Context, formID string) (int, error) {
	if f.CountFn != nil {
		return f.CountFn(formID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, response := range f.responses {
		if response.FormID == formID {
			count++
		}
	}
	return count, nil
}

func (f *fakeResponseRepo) InsertResponse(_ context.Context, item store.Response) error {
	if f.InsertResponseFn != nil {
		return f.InsertResponseFn(item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, response := range f.responses {
		if response.FormID == item.FormID && response.SubmittedBy == item.SubmittedBy {
			return store.ErrDuplicateResponse
		}
	}
	f.responses[item.ID] = item
	return nil
}

func (f *fakeResponseRepo) InsertAnswer(_ context.Context, item store.Answer) error {
	if f.InsertAnswerFn != nil {
		return f.InsertAnswerFn(item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, item)
	return nil
}

func (f *fakeResponseRepo) InsertFile(_ context.Context, item store.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, answer := range f.answers {
		if answer.ID == item.AnswerID {
			item.ResponseID = answer.ResponseID
		}
	}
	if item.StorageKey != "" {
		item.Content = nil
	}
	f.files[item.ID] = item
	return nil
}

func (f *fakeResponseRepo) GetResponse(_ context.Context, id string) (store.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	response, ok := f.responses[id]
	if !ok {
		return store.Response{}, sql.ErrNoRows
	}
	return response, nil
}

func (f *fakeResponseRepo) ListAnswers(_ context.Context, responseID string) ([]store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Answer, 0)
	for _, answer := range f.answers {
		if answer.ResponseID == responseID {
			items = append(items, answer)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (f *fakeResponseRepo) ListResponseFiles(_ context.Context, responseID string) ([]store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.File, 0)
	for _, file := range f.files {
		if file.ResponseID == responseID {
			file.Content = nil
			items = append(items, file)
		}
	}
	return items, nil
}

func (f *fakeResponseRepo) GetFile(_ context.Context, id string) (store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return store.File{}, sql.ErrNoRows
	}
	return file, nil
}

func (f *fakeResponseRepo) ListResponsesByForm(_ context.Context, formID string, page store.Page) ([]store.ResponseSummary, int, error) {
	return f.summaries(func(r store.Response) bool { return r.FormID == formID }, page)
}

func (f *fakeResponseRepo) ListResponsesByUser(_ context.Context, userID string, page store.Page) ([]store.ResponseSummary, int, error) {
	return f.summaries(func(r store.Response) bool { return r.SubmittedBy == userID }, page)
}

func (f *fakeResponseRepo) summaries(match func(store.Response) bool, page store.Page) ([]store.ResponseSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ResponseSummary, 0)
	for _, response := range f.responses {
		if !match(response) {
			continue
		}
		count := 0
		for _, answer := range f.answers {
			if answer.ResponseID == response.ID {
				count++
			}
		}
		items = append(items, store.ResponseSummary{
			ID:          response.ID,
			FormID:      response.FormID,
			SubmittedBy: response.SubmittedBy,
			SubmittedAt: response.SubmittedAt,
			AnswerCount: count,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SubmittedAt.After(items[j].SubmittedAt) })
	total := len(items)
	limit, offset := page.Bounds(store.DefaultMaxPage)
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

func (f *fakeResponseRepo) ListResponsesWithAnswers(_ context.Context, formID string) ([]store.ResponseWithAnswers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ResponseWithAnswers, 0)
	for _, response := range f.responses {
		if response.FormID != formID {
			continue
		}
		item := store.ResponseWithAnswers{Response: response}
		for _, answer := range f.answers {
			if answer.ResponseID == response.ID {
				item.Answers = append(item.Answers, answer)
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SubmittedAt.Before(items[j].SubmittedAt) })
	return items, nil
}

func (f *fakeResponseRepo) Ping(context.Context) error { return f.PingErr }

type fakeUsers struct {
	users map[string]store.User
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

type fakeAccounts struct {
	users   *fakeUsers
	ensured []authpw.SignUpRequest
}

func (f *fakeAccounts) SignUp(_ context.Context, req authpw.SignUpRequest) (store.User, error) {
	if req.Username == "" || req.Password == "" {
		return store.User{}, authpw.ErrMissingFields
	}
	for _, user := range f.users.users {
		if user.Username == req.Username {
			return store.User{}, authpw.ErrUsernameTaken
		}
	}
	user := store.User{ID: "user-" + req.Username, Username: req.Username, Email: req.Email, Role: string(rbac.RoleLearner)}
	f.users.users[user.ID] = user
	return user, nil
}

func (f *fakeAccounts) SignIn(_ context.Context, username, password string) (store.User, error) {
	for _, user := range f.users.users {
		if user.Username == username && password == "correct-horse" {
			return user, nil
		}
	}
	return store.User{}, authpw.ErrInvalidCredentials
}

func (f *fakeAccounts) EnsureAdmin(_ context.Context, req authpw.SignUpRequest) (bool, error) {
	f.ensured = append(f.ensured, req)
	return len(f.ensured) == 1, nil
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	return func() {
		delete(f.held, key)
		f.released++
	}, true, nil
}

type fakeIndex struct {
	ids     []string
	total   int
	ok      bool
	indexed []string
	deleted []string
	queries []search.Query
}

func (f *fakeIndex) Search(q search.Query) ([]string, int, bool) {
	f.queries = append(f.queries, q)
	return f.ids, f.total, f.ok
}

func (f *fakeIndex) IndexForm(form schema.Form) { f.indexed = append(f.indexed, form.ID) }

func (f *fakeIndex) DeleteForm(id string) { f.deleted = append(f.deleted, id) }

type fakeRevisions struct {
	commits   []string
	snapshots map[string]gitrepo.Snapshot
	err       error
}

func (f *fakeRevisions) Commit(formID string, snapshot gitrepo.Snapshot, author, message string) (gitrepo.Revision, error) {
	if f.err != nil {
		return gitrepo.Revision{}, f.err
	}
	f.commits = append(f.commits, formID+"|"+author+"|"+message)
	hash := fmt.Sprintf("%040d", len(f.commits))
	if f.snapshots == nil {
		f.snapshots = map[string]gitrepo.Snapshot{}
	}
	f.snapshots[formID+"@"+hash] = snapshot
	return gitrepo.Revision{Hash: hash, Message: message, Author: author}, nil
}

func (f *fakeRevisions) Snapshot(formID, hash string) (gitrepo.Snapshot, error) {
	snapshot, ok := f.snapshots[formID+"@"+hash]
	if !ok {
		return gitrepo.Snapshot{}, gitrepo.ErrRevisionNotFound
	}
	return snapshot, nil
}

func (f *fakeRevisions) History(string, int) ([]gitrepo.Revision, error) {
	revisions := make([]gitrepo.Revision, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		revisions = append(revisions, gitrepo.Revision{Hash: fmt.Sprintf("%040d", i+1), Message: f.commits[i]})
	}
	return revisions, nil
}

type fakeBlobs struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeBlobs) Put(_ context.Context, key string, content []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = append([]byte(nil), content...)
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return content, nil
}

type fakeNotifier struct {
	sent []email.ResponseNotification
	to   []string
}

func (f *fakeNotifier) IsConfigured() bool { return true }

func (f *fakeNotifier) SendResponseNotification(to string, data email.ResponseNotification) error {
	f.to = append(f.to, to)
	f.sent = append(f.sent, data)
	return nil
}

type testEnv struct {
	svc       *Service
	forms     *fakeFormRepo
	responses *fakeResponseRepo
	users     *fakeUsers
}

const (
	adminID   = "admin-1"
	admin2ID  = "admin-2"
	learnerID = "learner-1"
	learner2  = "learner-2"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:         "test-secret",
		JWTIssuer:         "forms-test",
		AccessTTL:         time.Hour,
		CORSOrigin:        "*",
		MaxPageSize:       50,
		SubmissionLockTTL: time.Second,
	}
}

// newTestEnv builds a service over in-memory stores. Its clock advances one
// second per call so ordering by time is deterministic.
func newTestEnv(t *testing.T, configure ...func(*Dependencies)) *testEnv {
	t.Helper()
	users := &fakeUsers{users: map[string]store.User{
		adminID:   {ID: adminID, Username: "ada", Email: "ada@example.com", Role: string(rbac.RoleAdmin)},
		admin2ID:  {ID: admin2ID, Username: "grace", Email: "grace@example.com", Role: string(rbac.RoleAdmin)},
		learnerID: {ID: learnerID, Username: "alice", Email: "alice@example.com", Role: string(rbac.RoleLearner)},
		learner2:  {ID: learner2, Username: "bob", Role: string(rbac.RoleLearner)},
	}}
	env := &testEnv{
		forms:     newFakeFormRepo(),
		responses: newFakeResponseRepo(),
		users:     users,
	}
	deps := Dependencies{
		Forms:     env.forms,
		Responses: env.responses,
		Users:     users,
		Accounts:  &fakeAccounts{users: users},
	}
	for _, fn := range configure {
		fn(&deps)
	}
	env.svc = New(testConfig(), deps)

	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	env.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	env.svc.async = func(fn func()) { fn() }
	return env
}

func surveyDefinition() schema.Definition {
	return schema.Definition{
		Title: "Survey",
		Questions: []schema.Question{
			{ID: "name", Label: "Name", Type: schema.ShortText, Required: true},
		},
	}
}

// publishedForm creates and publishes def as the first admin.
func (e *testEnv) publishedForm(t *testing.T, def schema.Definition) schema.Form {
	t.Helper()
	ctx := context.Background()
	form, err := e.svc.CreateForm(ctx, def, adminID)
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := e.svc.PublishForm(ctx, form.ID, adminID); err != nil {
		t.Fatalf("PublishForm: %v", err)
	}
	form, err = e.svc.GetForm(ctx, form.ID)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	return form
}

func textAnswer(questionID, value string) AnswerInput {
	return AnswerInput{QuestionID: questionID, Value: []byte(fmt.Sprintf("%q", value))}
}

func requireCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error %s, got %T: %v", code, err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", domainErr.Code, code, err)
	}
	return domainErr
}
