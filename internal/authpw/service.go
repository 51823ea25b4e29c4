// Package authpw provides username/password accounts backed by bcrypt hashes.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/naveen-disprz/formBuilderBackend/internal/rbac"
	"github.com/naveen-disprz/formBuilderBackend/internal/store"
	"github.com/naveen-disprz/formBuilderBackend/internal/util"
)

var (
	ErrMissingFields      = errors.New("username and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrUsernameTaken      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const minPasswordLength = 8

// UserStore is the account storage used by Service.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Username string
	Email    string
	Password string
}

// SignUp registers a learner account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	return s.create(ctx, req, rbac.RoleLearner)
}

// EnsureAdmin creates an admin account unless the username already exists.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, req SignUpRequest) (bool, error) {
	_, err := s.store.GetUserByUsername(ctx, req.Username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("look up admin: %w", err)
	}
	if _, err := s.create(ctx, req, rbac.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) create(ctx context.Context, req SignUpRequest, role rbac.Role) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewUUID(),
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Role:         string(role),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return store.User{}, ErrUsernameTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks the password and returns the account. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return store.User{}, ErrMissingFields
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
