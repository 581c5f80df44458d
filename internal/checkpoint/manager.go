// internal/checkpoint/manager.go
package checkpoint

import (
	"context"
	"log"
	"sync"
	"time"

	"rewind/internal/conversation"
	"rewind/internal/eventhub"
	"rewind/internal/summary"
)

// completionLookback is how many trailing messages are scanned when
// suppressing a duplicate completion checkpoint
const completionLookback = 3

// Fallback initialization ladder, matching the settings defaults
const (
	defaultInitWarning = 7 * time.Second
	defaultInitTimeout = 15 * time.Second
)

// Options configures a Manager. One Manager exists per task and owns all of
// that task's checkpoint state; there is no process-wide registry.
type Options struct {
	TaskID         string
	Log            *conversation.Log
	Enabled        bool
	Hub            *eventhub.EventHub
	Summarizer     summary.Provider
	TrackerFactory TrackerFactory
	InitWarning    time.Duration
	InitTimeout    time.Duration

	// OnReinitialize is invoked after a successful restore so the caller can
	// tear down and rebuild its in-memory task view from the truncated log
	OnReinitialize func()
}

// Manager orchestrates checkpoint creation, restore, diff presentation and
// change detection for one task
type Manager struct {
	taskID     string
	log        *conversation.Log
	enabled    bool
	hub        *eventhub.EventHub
	summarizer summary.Provider
	guard      *InitializationGuard
	background *Background
	reinit     func()

	// trackerMu serializes every engine call (commit, reset, diff) so a
	// background commit can never interleave with a restore
	trackerMu sync.Mutex

	mu                sync.Mutex
	errorMessage      string
	deletedRange      *conversation.DeletedRange
	pendingStaleEdits []string
	lastRestoreFailed bool
}

// NewManager creates a checkpoint manager for one task
func NewManager(opts Options) *Manager {
	m := &Manager{
		taskID:     opts.TaskID,
		log:        opts.Log,
		enabled:    opts.Enabled,
		hub:        opts.Hub,
		summarizer: opts.Summarizer,
		background: &Background{},
		reinit:     opts.OnReinitialize,
	}
	if m.hub == nil {
		m.hub = eventhub.New(context.Background())
	}
	if opts.InitWarning <= 0 {
		opts.InitWarning = defaultInitWarning
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}

	onSlow := func() {
		m.hub.EmitTrackerInitSlow(m.taskID)
	}
	m.guard = NewInitializationGuard(opts.TrackerFactory, opts.InitWarning, opts.InitTimeout, onSlow)
	return m
}

// TaskID returns the owning task's ID
func (m *Manager) TaskID() string {
	return m.taskID
}

// SetTracker installs a tracker directly, bypassing lazy initialization
func (m *Manager) SetTracker(tracker Tracker) {
	m.guard.setReady(tracker)
	m.mu.Lock()
	m.errorMessage = ""
	m.mu.Unlock()
}

// SetErrorMessage records a user-visible checkpoint error. A message
// containing the timeout wording permanently disables checkpoints for this
// task.
func (m *Manager) SetErrorMessage(msg string) {
	m.mu.Lock()
	m.errorMessage = msg
	m.mu.Unlock()
}

// UpdateDeletedRange replaces the manager's record of previously truncated
// API history
func (m *Manager) UpdateDeletedRange(r *conversation.DeletedRange) {
	m.mu.Lock()
	m.deletedRange = r
	m.mu.Unlock()
}

// TakePendingStaleEdits returns and clears the stale-edit warning recorded
// by the last task-only restore
func (m *Manager) TakePendingStaleEdits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	edits := m.pendingStaleEdits
	m.pendingStaleEdits = nil
	return edits
}

// GetCurrentState returns a diagnostics snapshot of the manager
func (m *Manager) GetCurrentState() State {
	ready, initializing, guardErr := m.guard.snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	errMsg := m.errorMessage
	if errMsg == "" && guardErr != nil {
		errMsg = guardErr.Error()
	}
	return State{
		TaskID:            m.taskID,
		Enabled:           m.enabled,
		TrackerReady:      ready,
		Initializing:      initializing,
		ErrorMessage:      errMsg,
		DeletedRange:      m.deletedRange,
		PendingStaleEdits: append([]string(nil), m.pendingStaleEdits...),
		LastRestoreFailed: m.lastRestoreFailed,
	}
}

// WaitBackground joins all in-flight commit continuations
func (m *Manager) WaitBackground() {
	m.background.Wait()
}

// fatallyFailed reports whether the sticky timeout error was recorded
func (m *Manager) fatallyFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return isTimeoutMessage(m.errorMessage)
}

// CheckpointTrackerCheckAndInit ensures the tracker exists, recording and
// surfacing any initialization error
func (m *Manager) CheckpointTrackerCheckAndInit(ctx context.Context) (Tracker, error) {
	if !m.enabled {
		return nil, ErrCheckpointsDisabled
	}
	tracker, err := m.guard.EnsureInitialized(ctx)
	if err != nil {
		m.SetErrorMessage(err.Error())
		m.hub.EmitCheckpointError(m.taskID, err.Error())
		return nil, err
	}
	return tracker, nil
}

// SaveCheckpoint records a checkpoint of the current workspace state and
// attaches it to the conversation log. Failures are logged, never raised:
// checkpointing must not block the agent's primary loop.
func (m *Manager) SaveCheckpoint(ctx context.Context, isCompletion bool, completionTs int64, seedSummary string) {
	if !m.enabled || m.fatallyFailed() {
		return
	}

	// The checkpoint about to be created becomes the sole candidate for
	// checked-out status on the next workspace restore
	m.log.SetCheckedOutCheckpoint(0)

	tracker, err := m.guard.EnsureInitialized(ctx)
	if err != nil || tracker == nil {
		if err != nil {
			m.SetErrorMessage(err.Error())
			m.hub.EmitCheckpointError(m.taskID, err.Error())
		}
		log.Printf("checkpoint: save skipped for task %s, tracker unavailable: %v", m.taskID, err)
		return
	}

	if isCompletion {
		m.saveCompletionCheckpoint(ctx, tracker, completionTs, seedSummary)
		return
	}
	m.saveTaskCheckpoint(tracker, seedSummary)
}

// saveTaskCheckpoint appends a checkpoint-created message and commits in the
// background, attaching the hash once the commit resolves
func (m *Manager) saveTaskCheckpoint(tracker Tracker, seedSummary string) {
	if last := m.log.LastMessage(); last != nil && last.Kind == conversation.KindCheckpointCreated {
		// duplicate suppression: no intervening activity since the last one
		return
	}

	msg := m.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated})
	ts := msg.Ts

	m.background.Go(func() {
		ctx := context.Background()

		m.trackerMu.Lock()
		hash, err := tracker.Commit(ctx)
		m.trackerMu.Unlock()
		if err != nil {
			log.Printf("checkpoint: background commit failed for task %s: %v", m.taskID, err)
			return
		}

		text := seedSummary
		if text == "" {
			text = summary.Resolve(ctx, m.summarizer, m.windowSince(ts))
		}

		// Attachment goes through the log's lock: foreground readers may
		// be scanning or persisting the messages concurrently. A restore
		// may also have truncated the message away by now.
		if err := m.log.AttachCheckpointMeta(ts, hash, text); err != nil {
			log.Printf("checkpoint: message %d vanished before hash attachment: %v", ts, err)
			return
		}

		if err := m.log.SaveAndUpdateHistory(); err != nil {
			log.Printf("checkpoint: persist after commit failed for task %s: %v", m.taskID, err)
		}

		m.hub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
			TaskID:  m.taskID,
			Hash:    hash,
			Summary: text,
			Ts:      ts,
		})
	})
}

// saveCompletionCheckpoint commits synchronously and attaches the hash to
// the task's completion message
func (m *Manager) saveCompletionCheckpoint(ctx context.Context, tracker Tracker, completionTs int64, seedSummary string) {
	messages := m.log.Messages()

	// duplicate-completion suppression
	for i := len(messages) - 1; i >= 0 && i >= len(messages)-completionLookback; i-- {
		if messages[i].Kind == conversation.KindCompletionResult && messages[i].LastCheckpointHash != "" {
			return
		}
	}

	var target *conversation.Message
	if completionTs != 0 {
		msg, err := m.log.MessageByTs(completionTs)
		if err != nil {
			log.Printf("checkpoint: completion message %d not found: %v", completionTs, err)
			return
		}
		target = msg
	} else {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Kind == conversation.KindCompletionResult {
				target = messages[i]
				break
			}
		}
		if target == nil {
			log.Printf("checkpoint: no completion message to attach checkpoint for task %s", m.taskID)
			return
		}
	}

	m.trackerMu.Lock()
	hash, err := tracker.Commit(ctx)
	m.trackerMu.Unlock()
	if err != nil {
		log.Printf("checkpoint: completion commit failed for task %s: %v", m.taskID, err)
		m.hub.EmitCheckpointError(m.taskID, err.Error())
		return
	}

	if seedSummary == "" {
		seedSummary = summary.Resolve(ctx, m.summarizer, m.windowSince(target.Ts))
	}
	if err := m.log.AttachCheckpointMeta(target.Ts, hash, seedSummary); err != nil {
		log.Printf("checkpoint: completion message %d vanished before hash attachment: %v", target.Ts, err)
		return
	}

	if err := m.log.SaveAndUpdateHistory(); err != nil {
		log.Printf("checkpoint: persist after completion commit failed for task %s: %v", m.taskID, err)
	}

	m.hub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		TaskID:  m.taskID,
		Hash:    hash,
		Summary: seedSummary,
		Ts:      target.Ts,
	})
}

// windowSince returns the messages after the previous checkpoint-created
// message and before the given timestamp, the window a summary describes
func (m *Manager) windowSince(ts int64) []*conversation.Message {
	messages := m.log.Messages()

	end := len(messages)
	for i, msg := range messages {
		if msg.Ts == ts {
			end = i
			break
		}
	}

	start := 0
	for i := end - 1; i >= 0; i-- {
		if messages[i].Kind == conversation.KindCheckpointCreated {
			start = i + 1
			break
		}
	}
	return messages[start:end]
}

// Commit ensures initialization and commits the workspace, returning the
// empty string when checkpoints are disabled or the engine is unavailable.
// Commit failures never abort the agent loop.
func (m *Manager) Commit(ctx context.Context) string {
	if !m.enabled || m.fatallyFailed() {
		return ""
	}

	tracker, err := m.guard.EnsureInitialized(ctx)
	if err != nil {
		m.SetErrorMessage(err.Error())
		return ""
	}

	m.trackerMu.Lock()
	hash, err := tracker.Commit(ctx)
	m.trackerMu.Unlock()
	if err != nil {
		log.Printf("checkpoint: commit failed for task %s: %v", m.taskID, err)
		return ""
	}
	return hash
}
