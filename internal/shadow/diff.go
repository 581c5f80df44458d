// internal/shadow/diff.go
package shadow

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// FileDiff is one changed file between two checkpoints. Before/After hold
// full file contents; either may be empty for added or deleted files.
type FileDiff struct {
	RelativePath string `json:"relative_path"`
	AbsolutePath string `json:"absolute_path"`
	Before       string `json:"before"`
	After        string `json:"after"`
}

// DiffSet returns the files that changed between two checkpoint hashes
func (t *Tracker) DiffSet(ctx context.Context, lhs, rhs string) ([]FileDiff, error) {
	changes, err := t.changes(ctx, lhs, rhs)
	if err != nil {
		return nil, err
	}

	diffs := make([]FileDiff, 0, len(changes))
	for _, change := range changes {
		from, to, err := change.Files()
		if err != nil {
			return nil, fmt.Errorf("resolve changed files: %w", err)
		}

		diff := FileDiff{}
		if from != nil {
			diff.RelativePath = change.From.Name
			content, err := from.Contents()
			if err != nil {
				return nil, fmt.Errorf("read %s before: %w", change.From.Name, err)
			}
			diff.Before = content
		}
		if to != nil {
			diff.RelativePath = change.To.Name
			content, err := to.Contents()
			if err != nil {
				return nil, fmt.Errorf("read %s after: %w", change.To.Name, err)
			}
			diff.After = content
		}
		diff.AbsolutePath = filepath.Join(t.workspacePath, diff.RelativePath)
		diffs = append(diffs, diff)
	}

	return diffs, nil
}

// DiffCount returns the number of files that changed between two checkpoint
// hashes
func (t *Tracker) DiffCount(ctx context.Context, lhs, rhs string) (int, error) {
	changes, err := t.changes(ctx, lhs, rhs)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

func (t *Tracker) changes(ctx context.Context, lhs, rhs string) (object.Changes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fromTree, err := t.commitTree(lhs)
	if err != nil {
		return nil, err
	}
	toTree, err := t.commitTree(rhs)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	return changes, nil
}
