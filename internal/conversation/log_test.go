// internal/conversation/log_test.go
package conversation

import (
	"testing"
)

func TestLogAppendAssignsMonotonicTimestamps(t *testing.T) {
	log := NewLog("task-1", nil)

	var prev int64
	for i := 0; i < 5; i++ {
		msg := log.AppendMessage(&Message{Kind: KindText, Text: "hello"})
		if msg.Ts <= prev {
			t.Errorf("Timestamp %d not strictly greater than previous %d", msg.Ts, prev)
		}
		prev = msg.Ts
	}
}

func TestLogLookupByTs(t *testing.T) {
	log := NewLog("task-1", nil)

	first := log.AppendMessage(&Message{Kind: KindText})
	second := log.AppendMessage(&Message{Kind: KindCheckpointCreated})

	idx, err := log.IndexByTs(second.Ts)
	if err != nil {
		t.Fatalf("IndexByTs failed: %v", err)
	}
	if idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}

	msg, err := log.MessageByTs(first.Ts)
	if err != nil {
		t.Fatalf("MessageByTs failed: %v", err)
	}
	if msg.Kind != KindText {
		t.Errorf("Expected kind %q, got %q", KindText, msg.Kind)
	}

	if _, err := log.MessageByTs(999); err == nil {
		t.Error("Expected error for unknown timestamp")
	}
}

func TestLogAttachCheckpointMeta(t *testing.T) {
	log := NewLog("task-1", nil)

	first := log.AppendMessage(&Message{Kind: KindCheckpointCreated})
	second := log.AppendMessage(&Message{Kind: KindCheckpointCreated})

	if err := log.AttachCheckpointMeta(first.Ts, "abc123", "Edited main.go"); err != nil {
		t.Fatalf("AttachCheckpointMeta failed: %v", err)
	}
	if first.LastCheckpointHash != "abc123" || first.CheckpointSummary != "Edited main.go" {
		t.Errorf("Metadata not attached: %q %q", first.LastCheckpointHash, first.CheckpointSummary)
	}
	if second.LastCheckpointHash != "" {
		t.Errorf("Sibling message gained a hash: %q", second.LastCheckpointHash)
	}

	if err := log.AttachCheckpointMeta(999, "x", ""); err == nil {
		t.Error("Expected error for unknown timestamp")
	}
}

func TestLogSetCheckedOutCheckpoint(t *testing.T) {
	log := NewLog("task-1", nil)

	first := log.AppendMessage(&Message{Kind: KindCheckpointCreated})
	second := log.AppendMessage(&Message{Kind: KindCheckpointCreated})
	other := log.AppendMessage(&Message{Kind: KindText})

	log.SetCheckedOutCheckpoint(second.Ts)
	if first.IsCheckpointCheckedOut || !second.IsCheckpointCheckedOut {
		t.Errorf("Checked-out marker on wrong message: first=%v second=%v",
			first.IsCheckpointCheckedOut, second.IsCheckpointCheckedOut)
	}
	if other.IsCheckpointCheckedOut {
		t.Error("Non-checkpoint message marked checked out")
	}

	log.SetCheckedOutCheckpoint(0)
	if first.IsCheckpointCheckedOut || second.IsCheckpointCheckedOut {
		t.Error("Expected zero timestamp to clear all markers")
	}
}

func TestLogSnapshotCopiesMessages(t *testing.T) {
	log := NewLog("task-1", nil)
	msg := log.AppendMessage(&Message{Kind: KindCheckpointCreated})

	snap := log.Snapshot()
	if len(snap) != 1 || snap[0].Ts != msg.Ts {
		t.Fatalf("Unexpected snapshot: %+v", snap)
	}

	snap[0].LastCheckpointHash = "mutated"
	if msg.LastCheckpointHash != "" {
		t.Error("Snapshot mutation leaked into the log")
	}
}

func TestLogOverwriteMessages(t *testing.T) {
	log := NewLog("task-1", nil)
	for i := 0; i < 4; i++ {
		log.AppendMessage(&Message{Kind: KindText})
	}

	msgs := log.Messages()
	log.OverwriteMessages(msgs[:2])

	if got := len(log.Messages()); got != 2 {
		t.Errorf("Expected 2 messages after overwrite, got %d", got)
	}

	// New appends must still be monotonic relative to kept messages
	msg := log.AppendMessage(&Message{Kind: KindText})
	if msg.Ts <= msgs[1].Ts {
		t.Errorf("Expected timestamp after overwrite to stay monotonic")
	}
}

func TestLogHistory(t *testing.T) {
	log := NewLog("task-1", nil)

	idx := log.AppendTurn(Turn{Role: "user", Content: "do the thing"})
	if idx != 0 {
		t.Errorf("Expected turn index 0, got %d", idx)
	}
	idx = log.AppendTurn(Turn{Role: "assistant", Content: "done"})
	if idx != 1 {
		t.Errorf("Expected turn index 1, got %d", idx)
	}

	log.OverwriteHistory(log.History()[:1])
	if got := len(log.History()); got != 1 {
		t.Errorf("Expected 1 turn after overwrite, got %d", got)
	}
}
