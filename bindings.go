// bindings.go
package main

import (
	"context"

	"rewind/internal/checkpoint"
	"rewind/internal/config"
	"rewind/internal/conversation"
)

// Task-scoped operations exposed to the frontend / API layer. Each method
// resolves the open task and delegates to its checkpoint manager or log.

// SaveCheckpoint records a checkpoint for the task. Errors surface through
// the event hub, not the return value.
func (a *App) SaveCheckpoint(taskID string, isCompletion bool, completionTs int64, summary string) error {
	task, err := a.task(taskID)
	if err != nil {
		return err
	}
	task.Manager.SaveCheckpoint(a.ctx, isCompletion, completionTs, summary)
	return nil
}

// RestoreCheckpoint rolls the task back to the message at ts
func (a *App) RestoreCheckpoint(taskID string, ts int64, mode string, offset int) (*checkpoint.RestoreResult, error) {
	task, err := a.task(taskID)
	if err != nil {
		return nil, err
	}
	return task.Manager.RestoreCheckpoint(a.ctx, ts, checkpoint.RestoreMode(mode), offset)
}

// PresentMultifileDiff presents the files changed since a checkpoint
func (a *App) PresentMultifileDiff(taskID string, ts int64, sinceLastCompletion bool) error {
	task, err := a.task(taskID)
	if err != nil {
		return err
	}
	return task.Manager.PresentMultifileDiff(a.ctx, ts, sinceLastCompletion)
}

// DoesLatestTaskCompletionHaveNewChanges reports whether the most recent
// completion checkpoint introduced changes
func (a *App) DoesLatestTaskCompletionHaveNewChanges(taskID string) (bool, error) {
	task, err := a.task(taskID)
	if err != nil {
		return false, err
	}
	return task.Manager.DoesLatestTaskCompletionHaveNewChanges(a.ctx), nil
}

// CommitCheckpoint commits the workspace without attaching a checkpoint
// message, returning the hash (empty when checkpoints are unavailable)
func (a *App) CommitCheckpoint(taskID string) (string, error) {
	task, err := a.task(taskID)
	if err != nil {
		return "", err
	}
	return task.Manager.Commit(a.ctx), nil
}

// GetCheckpointState returns the task's checkpoint diagnostics snapshot
func (a *App) GetCheckpointState(taskID string) (checkpoint.State, error) {
	task, err := a.task(taskID)
	if err != nil {
		return checkpoint.State{}, err
	}
	return task.Manager.GetCurrentState(), nil
}

// InitCheckpointTracker eagerly initializes the task's snapshot engine
func (a *App) InitCheckpointTracker(taskID string) error {
	task, err := a.task(taskID)
	if err != nil {
		return err
	}
	_, err = task.Manager.CheckpointTrackerCheckAndInit(context.Background())
	return err
}

// TakePendingStaleEdits returns and clears the stale-edit warning left by
// the last task-only restore
func (a *App) TakePendingStaleEdits(taskID string) ([]string, error) {
	task, err := a.task(taskID)
	if err != nil {
		return nil, err
	}
	return task.Manager.TakePendingStaleEdits(), nil
}

// GetTaskMessages returns the task's conversation log. The messages are
// value copies: the response may be marshaled while a background commit is
// still attaching checkpoint metadata.
func (a *App) GetTaskMessages(taskID string) ([]conversation.Message, error) {
	task, err := a.task(taskID)
	if err != nil {
		return nil, err
	}
	return task.Log.Snapshot(), nil
}

// RecordMessage appends a message to the task log. The agent loop calls
// this for text, file-edit, command and completion activity.
func (a *App) RecordMessage(taskID string, msg *conversation.Message) (*conversation.Message, error) {
	task, err := a.task(taskID)
	if err != nil {
		return nil, err
	}
	return task.Log.AppendMessage(msg), nil
}

// RecordTurn appends an API-level turn, returning its history index
func (a *App) RecordTurn(taskID string, turn conversation.Turn) (int, error) {
	task, err := a.task(taskID)
	if err != nil {
		return 0, err
	}
	return task.Log.AppendTurn(turn), nil
}

// SaveTaskLog persists the task's log and history
func (a *App) SaveTaskLog(taskID string) error {
	task, err := a.task(taskID)
	if err != nil {
		return err
	}
	return task.Log.SaveAndUpdateHistory()
}

// GetSettings returns the loaded settings
func (a *App) GetSettings() *config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// UpdateSettings persists new settings. Open tasks keep the settings they
// were created with; new tasks pick these up.
func (a *App) UpdateSettings(settings *config.Settings) error {
	if err := config.SaveSettings(a.config.SettingsPath, settings); err != nil {
		return err
	}
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	return nil
}
