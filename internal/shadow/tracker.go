// internal/shadow/tracker.go

// Package shadow implements workspace snapshots as commits in a shadow git
// repository: the git dir lives under the rewind data dir while the worktree
// is the task's workspace. The workspace's own .git (if any) is never
// touched.
package shadow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	commitAuthorName  = "rewind"
	commitAuthorEmail = "rewind@localhost"
)

// Tracker is the snapshot engine for one task's workspace
type Tracker struct {
	taskID        string
	workspacePath string
	repo          *git.Repository
	excludes      []gitignore.Pattern
}

// NewTracker opens or initializes the shadow repository for a task. The
// extra excludes come from user settings; the workspace's nested .git is
// always excluded.
func NewTracker(taskID, workspacePath, shadowDir string, excludes []string) (*Tracker, error) {
	if workspacePath == "" {
		return nil, fmt.Errorf("workspace path is empty")
	}
	if err := os.MkdirAll(shadowDir, 0755); err != nil {
		return nil, fmt.Errorf("create shadow dir: %w", err)
	}

	dotgit := osfs.New(shadowDir)
	worktree := osfs.New(workspacePath)
	storage := filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault())

	// Initialize without a worktree: go-git's Init would otherwise plant a
	// .git gitdir-link file inside the workspace, and fail when the
	// workspace is itself a git repository. The worktree is attached on
	// Open, which never writes to it.
	if _, statErr := os.Stat(filepath.Join(shadowDir, "HEAD")); statErr != nil {
		if _, err := git.Init(storage, nil); err != nil {
			return nil, fmt.Errorf("init shadow repository: %w", err)
		}
	}
	repo, err := git.Open(storage, worktree)
	if err != nil {
		return nil, fmt.Errorf("open shadow repository: %w", err)
	}

	patterns := make([]gitignore.Pattern, 0, len(excludes)+2)
	patterns = append(patterns,
		gitignore.ParsePattern(".git", nil),
		gitignore.ParsePattern(".git/**", nil),
	)
	for _, glob := range excludes {
		patterns = append(patterns, gitignore.ParsePattern(glob, nil))
	}

	return &Tracker{
		taskID:        taskID,
		workspacePath: workspacePath,
		repo:          repo,
		excludes:      patterns,
	}, nil
}

// TaskID returns the owning task's ID
func (t *Tracker) TaskID() string {
	return t.taskID
}

// WorkspacePath returns the tracked workspace root
func (t *Tracker) WorkspacePath() string {
	return t.workspacePath
}

// Commit stages the whole workspace and commits it, returning the checkpoint
// hash. Empty commits are allowed so every checkpoint resolves to a hash
// even when nothing changed.
func (t *Tracker) Commit(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wt, err := t.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get worktree: %w", err)
	}
	wt.Excludes = t.excludes

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage workspace: %w", err)
	}

	hash, err := wt.Commit(fmt.Sprintf("checkpoint %s", t.taskID), &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("commit workspace: %w", err)
	}

	return hash.String(), nil
}

// ResetHead hard-resets the workspace to the given checkpoint hash
func (t *Tracker) ResetHead(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wt, err := t.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	wt.Excludes = t.excludes

	if err := wt.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(hash),
		Mode:   git.HardReset,
	}); err != nil {
		return fmt.Errorf("reset to %s: %w", hash, err)
	}
	return nil
}

// commitTree resolves a checkpoint hash to its tree
func (t *Tracker) commitTree(hash string) (*object.Tree, error) {
	commit, err := t.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("resolve commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("resolve tree of %s: %w", hash, err)
	}
	return tree, nil
}
