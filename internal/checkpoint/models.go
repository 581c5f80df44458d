// internal/checkpoint/models.go

// Package checkpoint orchestrates workspace and conversation checkpoints for
// a task: lazy tracker initialization, checkpoint creation, the restore
// state machine, and diff queries.
package checkpoint

import (
	"context"
	"errors"
	"strings"

	"rewind/internal/conversation"
	"rewind/internal/shadow"
	"rewind/internal/usage"
)

// Errors surfaced by checkpoint operations
var (
	// ErrCheckpointsDisabled means checkpoints are turned off in settings
	ErrCheckpointsDisabled = errors.New("checkpoints are disabled in settings")

	// ErrInitTimedOut is the fatal, sticky initialization failure. Once
	// recorded it disables checkpoints for the rest of the task.
	ErrInitTimedOut = errors.New("checkpoint tracker initialization timed out")

	// ErrNoCheckpointHash means neither the target message nor any earlier
	// message carries a checkpoint hash
	ErrNoCheckpointHash = errors.New("no valid checkpoint hash found")

	// ErrMessageNotFound means the restore target timestamp resolves to no
	// message
	ErrMessageNotFound = errors.New("message not found")
)

// IsTimeout reports whether an error belongs to the fatal timeout class
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInitTimedOut) || strings.Contains(err.Error(), "timed out")
}

func isTimeoutMessage(msg string) bool {
	return strings.Contains(msg, "timed out")
}

// RestoreMode selects which axes a restore affects
type RestoreMode string

const (
	RestoreTask             RestoreMode = "task"
	RestoreWorkspace        RestoreMode = "workspace"
	RestoreTaskAndWorkspace RestoreMode = "taskAndWorkspace"
)

// AffectsTask reports whether the mode truncates the conversation log
func (m RestoreMode) AffectsTask() bool {
	return m == RestoreTask || m == RestoreTaskAndWorkspace
}

// AffectsWorkspace reports whether the mode resets the workspace
func (m RestoreMode) AffectsWorkspace() bool {
	return m == RestoreWorkspace || m == RestoreTaskAndWorkspace
}

// Valid reports whether the mode is one of the three known values
func (m RestoreMode) Valid() bool {
	return m == RestoreTask || m == RestoreWorkspace || m == RestoreTaskAndWorkspace
}

// Tracker is the snapshot engine consumed by the manager. *shadow.Tracker
// satisfies it; tests substitute fakes.
type Tracker interface {
	Commit(ctx context.Context) (string, error)
	ResetHead(ctx context.Context, hash string) error
	DiffSet(ctx context.Context, lhs, rhs string) ([]shadow.FileDiff, error)
	DiffCount(ctx context.Context, lhs, rhs string) (int, error)
}

// TrackerFactory creates the tracker on first need. It may be slow (it can
// scan a large workspace), which is why the guard wraps it with a warning
// and timeout ladder.
type TrackerFactory func(ctx context.Context) (Tracker, error)

// RestoreResult is the state delta reported by a restore
type RestoreResult struct {
	Mode                   RestoreMode   `json:"mode"`
	TargetTs               int64         `json:"target_ts"`
	Hash                   string        `json:"hash,omitempty"`
	WorkspaceRestoreFailed bool          `json:"workspace_restore_failed,omitempty"`
	DiscardedMessages      int           `json:"discarded_messages"`
	Discarded              usage.Totals  `json:"discarded"`
	StaleEdits             []string      `json:"stale_edits,omitempty"`
}

// State is a read-only snapshot of manager internals for diagnostics
type State struct {
	TaskID            string                     `json:"task_id"`
	Enabled           bool                       `json:"enabled"`
	TrackerReady      bool                       `json:"tracker_ready"`
	Initializing      bool                       `json:"initializing"`
	ErrorMessage      string                     `json:"error_message,omitempty"`
	DeletedRange      *conversation.DeletedRange `json:"deleted_range,omitempty"`
	PendingStaleEdits []string                   `json:"pending_stale_edits,omitempty"`
	LastRestoreFailed bool                       `json:"last_restore_failed,omitempty"`
}
