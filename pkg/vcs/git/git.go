// Package git keeps an audit trail of tree snapshots in a local repository,
// optionally synced to a remote.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Status represents Git state following a commit attempt.
type Status struct {
	Committed bool
	Pending   bool
	Hash      string
}

// Repo wraps a local git repository rooted at the profile directory.
type Repo struct {
	repo *gogit.Repository
	dir  string
}

// Open opens the repository at dir, initializing one on the given branch if
// absent. When remoteURL is non-empty an "origin" remote is ensured.
func Open(dir, branch, remoteURL string) (*Repo, error) {
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
		if err == nil && branch != "" {
			head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
			err = repo.Storer.SetReference(head)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open repo at %s: %w", dir, err)
	}
	if remoteURL != "" {
		_, err := repo.Remote("origin")
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			_, err = repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{remoteURL},
			})
		}
		if err != nil {
			return nil, fmt.Errorf("configure remote: %w", err)
		}
	}
	return &Repo{repo: repo, dir: dir}, nil
}

// Commit stages paths (relative to the repo root, or absolute inside it) and
// records a snapshot. A clean worktree yields Committed=false without error.
func (r *Repo) Commit(ctx context.Context, message string, paths []string) (Status, error) {
	_ = ctx
	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{Pending: true}, err
	}
	for _, path := range paths {
		rel := path
		if filepath.IsAbs(path) {
			rel, err = filepath.Rel(r.dir, path)
			if err != nil {
				return Status{Pending: true}, fmt.Errorf("path %s outside repo: %w", path, err)
			}
		}
		if _, err := wt.Add(rel); err != nil {
			return Status{Pending: true}, fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	status, err := wt.Status()
	if err != nil {
		return Status{Pending: true}, err
	}
	if status.IsClean() {
		return Status{Committed: false, Pending: false}, nil
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "albd",
			Email: "albd@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return Status{Pending: true}, err
	}
	return Status{Committed: true, Hash: hash.String()}, nil
}

// Push sends the local history to origin.
func (r *Repo) Push(ctx context.Context) error {
	err := r.repo.PushContext(ctx, &gogit.PushOptions{RemoteName: "origin"})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Pull fetches and fast-forwards from origin.
func (r *Repo) Pull(ctx context.Context) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin"})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}
