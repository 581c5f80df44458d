// internal/checkpoint/diff.go
package checkpoint

import (
	"context"
	"fmt"
	"log"

	"rewind/internal/conversation"
	"rewind/internal/eventhub"
	"rewind/internal/shadow"
)

// PresentMultifileDiff resolves the checkpoint attached to the message at ts
// and presents the files that changed. With sinceLastCompletion the diff
// spans from the previous completion's checkpoint (or the task's first
// checkpoint) to this one; otherwise it compares the checkpoint against the
// current working tree. An empty diff set is an informational notice, not an
// error.
func (m *Manager) PresentMultifileDiff(ctx context.Context, ts int64, sinceLastCompletion bool) error {
	// In-flight commit continuations may still be attaching the hash
	// this diff needs to resolve
	m.background.Wait()

	messages := m.log.Messages()
	idx := -1
	for i, msg := range messages {
		if msg.Ts == ts {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: timestamp %d", ErrMessageNotFound, ts)
	}

	hash := messages[idx].LastCheckpointHash
	if hash == "" {
		return fmt.Errorf("%w: message %d", ErrNoCheckpointHash, ts)
	}

	tracker, err := m.CheckpointTrackerCheckAndInit(ctx)
	if err != nil {
		return err
	}

	var diffs []shadow.FileDiff
	if sinceLastCompletion {
		prev := previousCheckpointHash(messages, idx)
		if prev == "" {
			return fmt.Errorf("%w: no earlier checkpoint to diff against", ErrNoCheckpointHash)
		}
		m.trackerMu.Lock()
		diffs, err = tracker.DiffSet(ctx, prev, hash)
		m.trackerMu.Unlock()
	} else {
		// Compare against the working tree by committing its current state
		m.trackerMu.Lock()
		var current string
		current, err = tracker.Commit(ctx)
		if err == nil {
			diffs, err = tracker.DiffSet(ctx, hash, current)
		}
		m.trackerMu.Unlock()
	}
	if err != nil {
		m.hub.EmitCheckpointError(m.taskID, err.Error())
		return fmt.Errorf("compute diff: %w", err)
	}

	if len(diffs) == 0 {
		m.hub.EmitNotice(m.taskID, "No changes found")
		return nil
	}

	files := make([]eventhub.FileDiffEvent, len(diffs))
	for i, d := range diffs {
		files[i] = eventhub.FileDiffEvent{
			RelativePath: d.RelativePath,
			AbsolutePath: d.AbsolutePath,
			Before:       d.Before,
			After:        d.After,
		}
	}
	m.hub.EmitMultifileDiff(m.taskID, files)
	return nil
}

// DoesLatestTaskCompletionHaveNewChanges reports whether the most recent
// completion checkpoint differs from the checkpoint before it. Any missing
// hash or an uninitialized tracker yields false: the conservative answer
// never blocks the UI.
func (m *Manager) DoesLatestTaskCompletionHaveNewChanges(ctx context.Context) bool {
	if !m.enabled {
		return false
	}
	m.background.Wait()

	messages := m.log.Messages()
	latestIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Kind == conversation.KindCompletionResult {
			latestIdx = i
			break
		}
	}
	if latestIdx < 0 || messages[latestIdx].LastCheckpointHash == "" {
		return false
	}

	tracker := m.guard.TrackerIfReady()
	if tracker == nil {
		return false
	}

	prev := previousCheckpointHash(messages, latestIdx)
	if prev == "" {
		return false
	}

	m.trackerMu.Lock()
	count, err := tracker.DiffCount(ctx, prev, messages[latestIdx].LastCheckpointHash)
	m.trackerMu.Unlock()
	if err != nil {
		log.Printf("checkpoint: change detection failed for task %s: %v", m.taskID, err)
		return false
	}
	return count > 0
}

// previousCheckpointHash finds the hash to diff a checkpoint against: the
// nearest earlier completion's hash, or the task's very first checkpoint
// hash when no completion precedes it
func previousCheckpointHash(messages []*conversation.Message, beforeIdx int) string {
	for i := beforeIdx - 1; i >= 0; i-- {
		if messages[i].Kind == conversation.KindCompletionResult && messages[i].LastCheckpointHash != "" {
			return messages[i].LastCheckpointHash
		}
	}
	for i := 0; i < beforeIdx; i++ {
		if messages[i].LastCheckpointHash != "" {
			return messages[i].LastCheckpointHash
		}
	}
	return ""
}
