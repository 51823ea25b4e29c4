package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/naveen-disprz/formBuilderBackend/internal/auth"
	"github.com/naveen-disprz/formBuilderBackend/internal/authpw"
	"github.com/naveen-disprz/formBuilderBackend/internal/config"
	"github.com/naveen-disprz/formBuilderBackend/internal/email"
	"github.com/naveen-disprz/formBuilderBackend/internal/formstore"
	"github.com/naveen-disprz/formBuilderBackend/internal/gitrepo"
	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
	"github.com/naveen-disprz/formBuilderBackend/internal/search"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
	"github.com/naveen-disprz/formBuilderBackend/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type formRepository interface {
	Insert(context.Context, schema.Form) (schema.Form, error)
	Get(context.Context, string) (schema.Form, error)
	GetMany(context.Context, []string) (map[string]schema.Form, error)
	List(context.Context, formstore.ListFilter, int, int) ([]schema.Form, int64, error)
	ReplaceDefinition(context.Context, string, schema.Definition, time.Time) (bool, error)
	SetPublished(context.Context, string, bool, string, time.Time) (bool, error)
	SetVisibility(context.Context, string, bool, time.Time) (bool, error)
	SoftDelete(context.Context, string, time.Time) (bool, error)
	Ping(context.Context) error
}

type responseRepository interface {
	ResponseExists(context.Context, string, string) (bool, error)
	CountResponses(context.Context, string) (int, error)
	InsertResponse(context.Context, store.Response) error
	InsertAnswer(context.Context, store.Answer) error
	InsertFile(context.Context, store.File) error
	GetResponse(context.Context, string) (store.Response, error)
	ListAnswers(context.Context, string) ([]store.Answer, error)
	ListResponseFiles(context.Context, string) ([]store.File, error)
	GetFile(context.Context, string) (store.File, error)
	ListResponsesByForm(context.Context, string, store.Page) ([]store.ResponseSummary, int, error)
	ListResponsesByUser(context.Context, string, store.Page) ([]store.ResponseSummary, int, error)
	ListResponsesWithAnswers(context.Context, string) ([]store.ResponseWithAnswers, error)
	Ping(context.Context) error
}

type userDirectory interface {
	GetUserByID(context.Context, string) (store.User, error)
}

type accountService interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, string, string) (store.User, error)
	EnsureAdmin(context.Context, authpw.SignUpRequest) (bool, error)
}

type tokenRevocations interface {
	Revoke(context.Context, string, time.Time) error
	IsRevoked(context.Context, string) (bool, error)
}

type submissionLocker interface {
	Acquire(context.Context, string, time.Duration) (func(), bool, error)
}

type formIndex interface {
	Search(search.Query) ([]string, int, bool)
	IndexForm(schema.Form)
	DeleteForm(string)
}

type revisionLog interface {
	Commit(string, gitrepo.Snapshot, string, string) (gitrepo.Revision, error)
	History(string, int) ([]gitrepo.Revision, error)
	Snapshot(string, string) (gitrepo.Snapshot, error)
}

type blobStore interface {
	Put(context.Context, string, []byte, string) error
	Get(context.Context, string) ([]byte, error)
}

type responseNotifier interface {
	IsConfigured() bool
	SendResponseNotification(string, email.ResponseNotification) error
}

// Dependencies are the collaborators of Service. Forms, Responses, Users and
// Accounts are required; the rest are optional and disable their feature
// when nil.
type Dependencies struct {
	Forms       formRepository
	Responses   responseRepository
	Users       userDirectory
	Accounts    accountService
	Tokens      *auth.Issuer
	Revocations tokenRevocations
	Locks       submissionLocker
	Search      formIndex
	Revisions   revisionLog
	Blobs       blobStore
	Notifier    responseNotifier
}

type Service struct {
	cfg         config.Config
	forms       formRepository
	responses   responseRepository
	users       userDirectory
	accounts    accountService
	tokens      *auth.Issuer
	revocations tokenRevocations
	locks       submissionLocker
	search      formIndex
	revisions   revisionLog
	blobs       blobStore
	notifier    responseNotifier
	now         func() time.Time
	async       func(func())
}

func New(cfg config.Config, deps Dependencies) *Service {
	tokens := deps.Tokens
	if tokens == nil {
		tokens = auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)
	}
	return &Service{
		cfg:         cfg,
		forms:       deps.Forms,
		responses:   deps.Responses,
		users:       deps.Users,
		accounts:    deps.Accounts,
		tokens:      tokens,
		revocations: deps.Revocations,
		locks:       deps.Locks,
		search:      deps.Search,
		revisions:   deps.Revisions,
		blobs:       deps.Blobs,
		notifier:    deps.Notifier,
		now:         func() time.Time { return time.Now().UTC() },
		async:       func(fn func()) { go fn() },
	}
}

// Bootstrap seeds the configured administrator account.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminPassword == "" {
		return nil
	}
	created, err := s.accounts.EnsureAdmin(ctx, authpw.SignUpRequest{
		Username: s.cfg.AdminUsername,
		Email:    s.cfg.AdminEmail,
		Password: s.cfg.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Printf("forms: created admin account %q", s.cfg.AdminUsername)
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	role := rbac.Normalize(user.Role)
	jti := util.NewID("jti")
	token, claims, err := s.tokens.Issue(user.ID, user.Username, string(role), jti)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		Role:      role,
		JTI:       jti,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken resolves a bearer token to the caller. The role is read
// from the user record so demotions apply to live tokens.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, userDataAccess("load session user", err)
	}

	session := Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.Username,
		Role:     rbac.Normalize(user.Role),
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Logout revokes the session's access token. Without a revocation store the
// token stays valid until it expires.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.revocations == nil || session.JTI == "" {
		return nil
	}
	return s.revocations.Revoke(ctx, session.JTI, session.ExpiresAt)
}

// Ping checks both stores.
func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"postgres": s.responses.Ping(ctx),
		"mongo":    s.forms.Ping(ctx),
	}
}

// userName returns the username for id, or id itself when the lookup fails.
func (s *Service) userName(ctx context.Context, id string, cache map[string]string) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := id
	user, err := s.users.GetUserByID(ctx, id)
	if err == nil && strings.TrimSpace(user.Username) != "" {
		name = user.Username
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Printf("forms: look up user %s: %v", id, err)
	}
	cache[id] = name
	return name
}
