// internal/checkpoint/restore.go
package checkpoint

import (
	"context"
	"fmt"
	"log"

	"rewind/internal/conversation"
	"rewind/internal/eventhub"
	"rewind/internal/usage"
)

// RestoreCheckpoint rolls the task back to the message at the given
// timestamp. The mode selects which axes are affected: the conversation log
// (truncation), the workspace (shadow-repo reset), or both. An engine
// failure on the workspace axis does not stop the task axis.
//
// offset shifts the target that many messages earlier; when set, the hash to
// reset to always comes from the nearest earlier checkpoint.
func (m *Manager) RestoreCheckpoint(ctx context.Context, ts int64, mode RestoreMode, offset int) (*RestoreResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown restore mode %q", mode)
	}

	// Join in-flight commit continuations so the hash scan below sees
	// every attachment that was pending when the restore began
	m.background.Wait()

	messages := m.log.Messages()
	targetIdx := -1
	for i, msg := range messages {
		if msg.Ts == ts {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("%w: timestamp %d", ErrMessageNotFound, ts)
	}
	targetIdx -= offset
	if targetIdx < 0 || targetIdx >= len(messages) {
		return nil, fmt.Errorf("%w: timestamp %d with offset %d", ErrMessageNotFound, ts, offset)
	}
	target := messages[targetIdx]

	// nearest earlier message carrying a checkpoint hash
	fallbackIdx := -1
	for i := targetIdx - 1; i >= 0; i-- {
		if messages[i].LastCheckpointHash != "" {
			fallbackIdx = i
			break
		}
	}

	result := &RestoreResult{Mode: mode, TargetTs: target.Ts}
	var restoreErr error
	var resolvedTs int64

	if mode.AffectsWorkspace() {
		if !m.enabled {
			return nil, ErrCheckpointsDisabled
		}

		tracker, err := m.guard.EnsureInitialized(ctx)
		if err != nil {
			m.SetErrorMessage(err.Error())
			m.hub.EmitCheckpointError(m.taskID, err.Error())
			result.WorkspaceRestoreFailed = true
			restoreErr = err
		} else {
			hash := ""
			switch {
			case offset == 0 && target.LastCheckpointHash != "":
				hash = target.LastCheckpointHash
				resolvedTs = target.Ts
			case fallbackIdx >= 0:
				hash = messages[fallbackIdx].LastCheckpointHash
				resolvedTs = messages[fallbackIdx].Ts
				if offset == 0 {
					log.Printf("checkpoint: restore target %d has no checkpoint hash, falling back to checkpoint at %d", target.Ts, resolvedTs)
				}
			}

			if hash == "" {
				result.WorkspaceRestoreFailed = true
				restoreErr = ErrNoCheckpointHash
			} else {
				result.Hash = hash
				m.trackerMu.Lock()
				err = tracker.ResetHead(ctx, hash)
				m.trackerMu.Unlock()
				if err != nil {
					m.hub.EmitCheckpointError(m.taskID, err.Error())
					result.WorkspaceRestoreFailed = true
					restoreErr = fmt.Errorf("reset workspace: %w", err)
				}
			}
		}
	}

	if mode.AffectsTask() {
		m.UpdateDeletedRange(target.ConversationHistoryDeletedRange)

		// Truncate API history just past the target, keeping the paired
		// user/assistant turns intact
		if target.ConversationHistoryIndex != nil {
			keep := *target.ConversationHistoryIndex + 2
			history := m.log.History()
			if keep > len(history) {
				keep = len(history)
			}
			m.log.OverwriteHistory(history[:keep])
		}

		discarded := messages[targetIdx+1:]
		totals := usage.Aggregate(discarded)
		result.DiscardedMessages = len(discarded)
		result.Discarded = totals

		if !mode.AffectsWorkspace() {
			// The workspace was not rolled back, so files edited after the
			// target remain on disk
			stale := staleEditedFiles(discarded)
			m.mu.Lock()
			m.pendingStaleEdits = stale
			m.mu.Unlock()
			if len(stale) > 0 {
				m.hub.EmitStaleEdits(m.taskID, stale)
			}
			result.StaleEdits = stale
		}

		kept := make([]*conversation.Message, targetIdx+1)
		copy(kept, messages[:targetIdx+1])
		m.log.OverwriteMessages(kept)

		if !totals.IsZero() {
			// One synthetic ledger entry keeps cumulative cost reporting
			// consistent after truncation
			m.log.AppendMessage(&conversation.Message{
				Kind:        conversation.KindDeletedRequests,
				TokensIn:    totals.TokensIn,
				TokensOut:   totals.TokensOut,
				CacheWrites: totals.CacheWrites,
				CacheReads:  totals.CacheReads,
				Cost:        totals.Cost,
			})
			m.log.AppendMessage(&conversation.Message{
				Kind: conversation.KindNotice,
				Text: fmt.Sprintf("Discarded %d messages (%d tokens, $%.4f)",
					len(discarded), totals.TotalTokens(), totals.Cost),
			})
		}
	}

	// Only a workspace-affecting restore moves the checked-out marker, and
	// only when the reset actually happened
	if mode != RestoreTask && !result.WorkspaceRestoreFailed {
		m.log.SetCheckedOutCheckpoint(resolvedTs)
	}

	if err := m.log.SaveAndUpdateHistory(); err != nil && restoreErr == nil {
		restoreErr = fmt.Errorf("persist restored log: %w", err)
	}

	m.mu.Lock()
	m.lastRestoreFailed = restoreErr != nil
	m.mu.Unlock()

	if restoreErr != nil {
		m.hub.EmitRelinquishControl(m.taskID)
		return result, restoreErr
	}

	m.hub.EmitRestoreCompleted(eventhub.RestoreCompletedEvent{
		TaskID:            m.taskID,
		Mode:              string(mode),
		Ts:                target.Ts,
		Hash:              result.Hash,
		DiscardedMessages: result.DiscardedMessages,
		DiscardedCost:     result.Discarded.Cost,
		DiscardedTokens:   result.Discarded.TotalTokens(),
	})
	if m.reinit != nil {
		m.reinit()
	}
	return result, nil
}

// staleEditedFiles collects the distinct files edited among discarded
// messages, in first-edit order
func staleEditedFiles(discarded []*conversation.Message) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, msg := range discarded {
		if msg.Kind != conversation.KindFileEdit || msg.Path == "" {
			continue
		}
		if _, ok := seen[msg.Path]; ok {
			continue
		}
		seen[msg.Path] = struct{}{}
		files = append(files, msg.Path)
	}
	return files
}
