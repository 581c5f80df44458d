// internal/checkpoint/restore_test.go
package checkpoint

import (
	"context"
	"errors"
	"testing"

	"rewind/internal/conversation"
)

// seedLog fills the log with the canonical scenario: text, checkpoint with a
// hash, text
func seedLog(env *testEnv) (t1, t2, t3 *conversation.Message) {
	t1 = env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText, Text: "start"})
	t2 = env.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H1"})
	t3 = env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText, Text: "more"})
	return
}

func TestRestoreTaskOnly(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)
	_, t2, _ := seedLog(env)

	result, err := env.manager.RestoreCheckpoint(context.Background(), t2.Ts, RestoreTask, 0)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}

	messages := env.log.Messages()
	if len(messages) != 2 {
		t.Fatalf("Expected log truncated to 2 messages, got %d", len(messages))
	}
	if messages[1].Ts != t2.Ts {
		t.Errorf("Expected log to end at the target message")
	}
	if result.DiscardedMessages != 1 {
		t.Errorf("Expected 1 discarded message, got %d", result.DiscardedMessages)
	}

	// A task-only restore never touches the engine
	if len(env.tracker.resetCalls()) != 0 {
		t.Error("Expected no resetHead calls for task-only restore")
	}
	if env.tracker.commitCount() != 0 {
		t.Error("Expected no engine calls for task-only restore")
	}
}

func TestRestoreWorkspaceOnly(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)
	_, t2, _ := seedLog(env)

	result, err := env.manager.RestoreCheckpoint(context.Background(), t2.Ts, RestoreWorkspace, 0)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if result.Hash != "H1" {
		t.Errorf("Expected reset to H1, got %q", result.Hash)
	}

	if resets := env.tracker.resetCalls(); len(resets) != 1 || resets[0] != "H1" {
		t.Errorf("Expected one reset to H1, got %v", resets)
	}

	// Workspace-only restores never truncate the conversation
	if len(env.log.Messages()) != 3 {
		t.Errorf("Expected log untouched, got %d messages", len(env.log.Messages()))
	}

	// The restored checkpoint is now the checked-out one
	if !env.log.Messages()[1].IsCheckpointCheckedOut {
		t.Error("Expected target checkpoint marked checked out")
	}
}

func TestRestoreTaskAndWorkspaceRoundTrip(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})
	env.manager.SaveCheckpoint(ctx, false, 0, "")
	env.manager.WaitBackground()

	messages := env.log.Messages()
	cp := messages[len(messages)-1]
	if cp.LastCheckpointHash == "" {
		t.Fatal("Expected checkpoint hash before restore")
	}

	// Activity after the checkpoint
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindFileEdit, Path: "a.go"})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})

	result, err := env.manager.RestoreCheckpoint(ctx, cp.Ts, RestoreTaskAndWorkspace, 0)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}

	messages = env.log.Messages()
	if messages[len(messages)-1].Ts != cp.Ts {
		t.Errorf("Expected log truncated to the checkpoint message")
	}
	if resets := env.tracker.resetCalls(); len(resets) != 1 || resets[0] != cp.LastCheckpointHash {
		t.Errorf("Expected workspace reset to %q, got %v", cp.LastCheckpointHash, resets)
	}
	if !cp.IsCheckpointCheckedOut {
		t.Error("Expected restored checkpoint marked checked out")
	}
	if result.WorkspaceRestoreFailed {
		t.Error("Expected workspace restore to succeed")
	}
}

func TestRestoreFallsBackToEarlierHash(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)
	_, _, t3 := seedLog(env)

	// t3 has no hash; the earlier checkpoint message does
	result, err := env.manager.RestoreCheckpoint(context.Background(), t3.Ts, RestoreWorkspace, 0)
	if err != nil {
		t.Fatalf("Expected degraded fallback to succeed, got %v", err)
	}
	if result.Hash != "H1" {
		t.Errorf("Expected fallback to H1, got %q", result.Hash)
	}
}

func TestRestoreWithOffsetUsesFallbackHash(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H0"})
	mid := env.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H1"})
	last := env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})

	// offset=1 targets the message before `last`, and the hash must come
	// from the checkpoint before the target, not the target itself
	result, err := env.manager.RestoreCheckpoint(context.Background(), last.Ts, RestoreWorkspace, 1)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if result.TargetTs != mid.Ts {
		t.Errorf("Expected target shifted to %d, got %d", mid.Ts, result.TargetTs)
	}
	if result.Hash != "H0" {
		t.Errorf("Expected fallback hash H0 when offset is set, got %q", result.Hash)
	}
}

func TestRestoreMissingTarget(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)
	seedLog(env)

	_, err := env.manager.RestoreCheckpoint(context.Background(), 424242, RestoreTaskAndWorkspace, 0)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("Expected ErrMessageNotFound, got %v", err)
	}

	// Side-effect free
	if len(env.log.Messages()) != 3 {
		t.Error("Expected log untouched after missing-target failure")
	}
	if len(env.tracker.resetCalls()) != 0 {
		t.Error("Expected no engine calls after missing-target failure")
	}
}

func TestRestoreWorkspaceDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	env.manager.SetTracker(env.tracker)
	_, t2, _ := seedLog(env)

	_, err := env.manager.RestoreCheckpoint(context.Background(), t2.Ts, RestoreWorkspace, 0)
	if !errors.Is(err, ErrCheckpointsDisabled) {
		t.Fatalf("Expected ErrCheckpointsDisabled, got %v", err)
	}
	if len(env.log.Messages()) != 3 {
		t.Error("Expected no side effects when disabled")
	}
}

func TestRestoreNoHashAnywhere(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	msg := env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})

	_, err := env.manager.RestoreCheckpoint(context.Background(), msg.Ts, RestoreWorkspace, 0)
	if !errors.Is(err, ErrNoCheckpointHash) {
		t.Fatalf("Expected ErrNoCheckpointHash, got %v", err)
	}
	if len(env.tracker.resetCalls()) != 0 {
		t.Error("Expected no reset without a hash")
	}
}

func TestRestoreEngineFailureStillTruncatesTask(t *testing.T) {
	env := newTestEnv(t, true)
	env.tracker.resetErr = errors.New("object store corrupted")
	env.manager.SetTracker(env.tracker)
	_, t2, _ := seedLog(env)

	result, err := env.manager.RestoreCheckpoint(context.Background(), t2.Ts, RestoreTaskAndWorkspace, 0)
	if err == nil {
		t.Fatal("Expected restore error from engine failure")
	}
	if !result.WorkspaceRestoreFailed {
		t.Error("Expected WorkspaceRestoreFailed to be set")
	}

	// The task axis proceeds independently of the workspace failure
	if len(env.log.Messages()) != 2 {
		t.Errorf("Expected log truncated despite engine failure, got %d messages", len(env.log.Messages()))
	}

	// The failure path relinquishes control and does not move checked-out
	if !env.events.has("task:relinquish-control") {
		t.Error("Expected relinquish-control event on failure")
	}
	if env.log.Messages()[1].IsCheckpointCheckedOut {
		t.Error("Expected checked-out flag untouched after failed reset")
	}
}

func TestRestoreAggregatesDiscardedUsage(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	target := env.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H1"})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText, TokensIn: 1000, TokensOut: 400, Cost: 0.25})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText, TokensIn: 500, TokensOut: 100, Cost: 0.5})

	result, err := env.manager.RestoreCheckpoint(context.Background(), target.Ts, RestoreTask, 0)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if result.Discarded.TokensIn != 1500 || result.Discarded.TokensOut != 500 {
		t.Errorf("Unexpected discarded totals: %+v", result.Discarded)
	}

	messages := env.log.Messages()
	// target + ledger entry + notice
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages after restore, got %d", len(messages))
	}
	ledger := messages[1]
	if ledger.Kind != conversation.KindDeletedRequests {
		t.Fatalf("Expected deleted-requests ledger entry, got %q", ledger.Kind)
	}
	if ledger.TokensIn != 1500 || ledger.Cost != 0.75 {
		t.Errorf("Unexpected ledger totals: %+v", ledger)
	}
	if messages[2].Kind != conversation.KindNotice {
		t.Errorf("Expected trailing notice message, got %q", messages[2].Kind)
	}
}

func TestRestoreTaskOnlyRecordsStaleEdits(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	target := env.log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H1"})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindFileEdit, Path: "a.go"})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindFileEdit, Path: "b.go"})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindFileEdit, Path: "a.go"})

	result, err := env.manager.RestoreCheckpoint(context.Background(), target.Ts, RestoreTask, 0)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}

	if len(result.StaleEdits) != 2 {
		t.Fatalf("Expected 2 distinct stale files, got %v", result.StaleEdits)
	}
	if !env.events.has("restore:stale-edits") {
		t.Error("Expected stale-edits warning event")
	}

	pending := env.manager.TakePendingStaleEdits()
	if len(pending) != 2 {
		t.Errorf("Expected pending stale edits, got %v", pending)
	}
	if again := env.manager.TakePendingStaleEdits(); len(again) != 0 {
		t.Error("Expected pending stale edits to be cleared after take")
	}
}

func TestRestoreTruncatesPairedHistory(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	env.log.AppendTurn(conversation.Turn{Role: "user", Content: "u1"})
	env.log.AppendTurn(conversation.Turn{Role: "assistant", Content: "a1"})
	env.log.AppendTurn(conversation.Turn{Role: "user", Content: "u2"})
	env.log.AppendTurn(conversation.Turn{Role: "assistant", Content: "a2"})

	historyIdx := 0
	target := env.log.AppendMessage(&conversation.Message{
		Kind:                     conversation.KindCheckpointCreated,
		LastCheckpointHash:       "H1",
		ConversationHistoryIndex: &historyIdx,
	})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})

	if _, err := env.manager.RestoreCheckpoint(context.Background(), target.Ts, RestoreTask, 0); err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}

	history := env.log.History()
	if len(history) != 2 {
		t.Fatalf("Expected history truncated to the paired turns, got %d", len(history))
	}
	if history[1].Content != "a1" {
		t.Errorf("Expected history to end at the paired assistant turn, got %+v", history[1])
	}
}

func TestRestoreRecordsDeletedRange(t *testing.T) {
	env := newTestEnv(t, true)
	env.manager.SetTracker(env.tracker)

	target := env.log.AppendMessage(&conversation.Message{
		Kind:                            conversation.KindCheckpointCreated,
		LastCheckpointHash:              "H1",
		ConversationHistoryDeletedRange: &conversation.DeletedRange{Start: 1, End: 3},
	})
	env.log.AppendMessage(&conversation.Message{Kind: conversation.KindText})

	if _, err := env.manager.RestoreCheckpoint(context.Background(), target.Ts, RestoreTask, 0); err != nil {
		t.Fatal(err)
	}

	state := env.manager.GetCurrentState()
	if state.DeletedRange == nil || state.DeletedRange.Start != 1 || state.DeletedRange.End != 3 {
		t.Errorf("Expected deleted range recorded, got %+v", state.DeletedRange)
	}
}

func TestRestoreSuccessTriggersReinitialize(t *testing.T) {
	tracker := &fakeTracker{}
	log := conversation.NewLog("task-1", nil)
	reinitialized := false

	manager := NewManager(Options{
		TaskID:  "task-1",
		Log:     log,
		Enabled: true,
		TrackerFactory: func(ctx context.Context) (Tracker, error) {
			return tracker, nil
		},
		OnReinitialize: func() { reinitialized = true },
	})

	target := log.AppendMessage(&conversation.Message{Kind: conversation.KindCheckpointCreated, LastCheckpointHash: "H1"})

	if _, err := manager.RestoreCheckpoint(context.Background(), target.Ts, RestoreTaskAndWorkspace, 0); err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if !reinitialized {
		t.Error("Expected reinitialize callback after successful restore")
	}
}
