// Package gitfs is a local git-backed implementation of the document
// store gateway, used for development and self-hosted setups without a
// GitHub connection. Content hashes are git blob hashes, so the
// compare-and-swap semantics match the GitHub contents API.
package gitfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mdcms/api/internal/github"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	commitAuthor = "Markdown CMS"
	commitEmail  = "cms@localhost"
)

// Service serves file operations from local git repositories under
// baseDir, one repository per directory. The bearer token arguments are
// accepted and ignored so the GitHub client and this backend are
// interchangeable behind the same interface.
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

// EnsureRepo initializes the repository directory if it does not exist
// yet.
func (s *Service) EnsureRepo(repo string) error {
	lock := s.repoLock(repo)
	lock.Lock()
	defer lock.Unlock()
	return s.ensureRepo(repo)
}

// ensureRepo must be called with the repo lock held.
func (s *Service) ensureRepo(repo string) error {
	path := s.repoPath(repo)
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	if _, err := git.PlainInit(path, false); err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return fmt.Errorf("init repo: %w", err)
	}
	return nil
}

// ListDirectory lists the entries at path. Files carry their git blob
// hash so writes through this gateway can compare-and-swap on it.
func (s *Service) ListDirectory(ctx context.Context, token, repo, path string) ([]github.Entry, error) {
	dir := filepath.Join(s.repoPath(repo), filepath.FromSlash(path))
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, github.ErrNotFound
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	entries := make([]github.Entry, 0, len(items))
	for _, item := range items {
		if item.Name() == ".git" {
			continue
		}
		entryPath := joinRepoPath(path, item.Name())
		if item.IsDir() {
			entries = append(entries, github.Entry{Name: item.Name(), Path: entryPath, Type: "dir"})
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, item.Name()))
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", entryPath, err)
		}
		entries = append(entries, github.Entry{
			Name: item.Name(),
			Path: entryPath,
			Type: "file",
			SHA:  blobSHA(content),
			Size: int64(len(content)),
		})
	}
	return entries, nil
}

// ReadFile returns the file content and its blob hash.
func (s *Service) ReadFile(ctx context.Context, token, repo, path string) (github.File, error) {
	target := filepath.Join(s.repoPath(repo), filepath.FromSlash(path))
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return github.File{}, github.ErrNotFound
		}
		return github.File{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return github.File{}, github.ErrNotFile
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return github.File{}, fmt.Errorf("read file: %w", err)
	}
	return github.File{
		Name:    filepath.Base(target),
		Path:    path,
		SHA:     blobSHA(content),
		Content: content,
	}, nil
}

// WriteFile stores content and commits it. sha must match the current
// blob hash (or be empty for a new file); a mismatch fails with the same
// conflict error the GitHub client returns.
func (s *Service) WriteFile(ctx context.Context, token, repo, path string, content []byte, sha string) (github.WriteResult, error) {
	lock := s.repoLock(repo)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureRepo(repo); err != nil {
		return github.WriteResult{}, err
	}

	root := s.repoPath(repo)
	target := filepath.Join(root, filepath.FromSlash(path))

	current, err := os.ReadFile(target)
	switch {
	case err == nil:
		if sha == "" || sha != blobSHA(current) {
			return github.WriteResult{}, github.ErrConflict
		}
	case errors.Is(err, os.ErrNotExist):
		if sha != "" {
			return github.WriteResult{}, github.ErrConflict
		}
	default:
		return github.WriteResult{}, fmt.Errorf("read current file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return github.WriteResult{}, fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return github.WriteResult{}, fmt.Errorf("write file: %w", err)
	}

	commitSHA, err := s.commit(root, path)
	if err != nil {
		return github.WriteResult{}, err
	}

	return github.WriteResult{
		SHA: blobSHA(content),
		Commit: github.Commit{
			SHA:     commitSHA,
			Message: commitMessage(path),
		},
	}, nil
}

func (s *Service) commit(root, path string) (string, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(path); err != nil {
		return "", fmt.Errorf("git add %s: %w", path, err)
	}
	// A save that leaves the content unchanged is still a valid CAS
	// write; the worktree is clean then, so empty commits must pass.
	hash, err := worktree.Commit(commitMessage(path), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  commitAuthor,
			Email: commitEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return hash.String(), nil
}

func (s *Service) repoLock(repo string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[repo]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[repo] = lock
	return lock
}

func (s *Service) repoPath(repo string) string {
	return filepath.Join(s.baseDir, strings.ReplaceAll(repo, "/", "__"))
}

func blobSHA(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}

func commitMessage(path string) string {
	return fmt.Sprintf("Update %s via Markdown CMS", path)
}

func joinRepoPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
