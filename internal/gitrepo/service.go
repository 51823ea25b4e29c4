// Package gitrepo records every saved form definition as a commit in a
// per-form git repository, giving admins a revision history.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/naveen-disprz/formBuilderBackend/internal/schema"
)

const snapshotFile = "form.json"

// ErrRevisionNotFound is returned by Snapshot when the form has no such revision.
var ErrRevisionNotFound = errors.New("revision not found")

// Snapshot is the form state stored in each revision.
type Snapshot struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	HeaderText  string            `json:"headerText,omitempty"`
	Questions   []schema.Question `json:"questions"`
	IsPublished bool              `json:"isPublished"`
	Visibility  bool              `json:"visibility"`
	IsDeleted   bool              `json:"isDeleted"`
}

// SnapshotOf copies the revision-relevant fields of form.
func SnapshotOf(form schema.Form) Snapshot {
	questions := form.Questions
	if questions == nil {
		questions = []schema.Question{}
	}
	return Snapshot{
		Title:       form.Title,
		Description: form.Description,
		HeaderText:  form.HeaderText,
		Questions:   questions,
		IsPublished: form.IsPublished,
		Visibility:  form.Visibility,
		IsDeleted:   form.IsDeleted,
	}
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit writes snapshot as the next revision of formID, creating the
// repository on first use.
func (s *Service) Commit(formID string, snapshot Snapshot, author, message string) (Revision, error) {
	if !validFormID(formID) {
		return Revision{}, fmt.Errorf("invalid form id %q", formID)
	}
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(formID)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Revision{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@forms.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first. A form without a repository has an
// empty history.
func (s *Service) History(formID string, limit int) ([]Revision, error) {
	if !validFormID(formID) {
		return []Revision{}, nil
	}
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(formID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot loads the form state stored at revision hash. Abbreviated hashes
// are resolved.
func (s *Service) Snapshot(formID, hash string) (Snapshot, error) {
	if !validFormID(formID) || !validHash(hash) {
		return Snapshot{}, ErrRevisionNotFound
	}
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(formID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, ErrRevisionNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Snapshot{}, ErrRevisionNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(contents), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *Service) openOrInit(formID string) (*git.Repository, error) {
	path := s.repoPath(formID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(formID string) string {
	return filepath.Join(s.baseDir, formID)
}

func (s *Service) formLock(formID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[formID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[formID] = lock
	return lock
}

// validFormID keeps ids from escaping baseDir.
func validFormID(formID string) bool {
	if formID == "" || formID == "." || formID == ".." {
		return false
	}
	return !strings.ContainsAny(formID, `/\`)
}

// validHash accepts full or abbreviated hex commit hashes.
func validHash(hash string) bool {
	if len(hash) < 4 || len(hash) > 40 {
		return false
	}
	for _, r := range hash {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
