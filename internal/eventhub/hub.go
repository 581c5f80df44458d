// internal/eventhub/hub.go
package eventhub

import (
	"context"
)

// Broadcaster delivers events to whatever surface is attached (UI bridge,
// remote reporter, test recorder)
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the central event dispatcher. Emitting with no broadcaster
// attached is a no-op, so callers can always fire-and-forget.
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New creates a new EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster attaches the event sink
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// Emit sends a generic event
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// CheckpointCreatedEvent is emitted after a checkpoint commit resolves
type CheckpointCreatedEvent struct {
	TaskID  string `json:"task_id"`
	Hash    string `json:"hash"`
	Summary string `json:"summary,omitempty"`
	Ts      int64  `json:"ts"`
}

func (h *EventHub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.emit("checkpoint:created", event)
}

// EmitCheckpointError surfaces a user-visible checkpoint failure
func (h *EventHub) EmitCheckpointError(taskID, message string) {
	h.emit("checkpoint:error", map[string]interface{}{
		"task_id": taskID,
		"error":   message,
	})
}

// EmitTrackerInitSlow surfaces the non-fatal "taking longer than expected"
// notice while tracker initialization is still running
func (h *EventHub) EmitTrackerInitSlow(taskID string) {
	h.emit("checkpoint:init-slow", map[string]interface{}{
		"task_id": taskID,
		"message": "Checkpoint tracker is taking longer than expected to start",
	})
}

// RestoreCompletedEvent is emitted after a restore finishes
type RestoreCompletedEvent struct {
	TaskID            string  `json:"task_id"`
	Mode              string  `json:"mode"`
	Ts                int64   `json:"ts"`
	Hash              string  `json:"hash,omitempty"`
	DiscardedMessages int     `json:"discarded_messages"`
	DiscardedCost     float64 `json:"discarded_cost"`
	DiscardedTokens   int64   `json:"discarded_tokens"`
}

func (h *EventHub) EmitRestoreCompleted(event RestoreCompletedEvent) {
	h.emit("restore:completed", event)
}

// EmitStaleEdits warns that conversation history was rolled back without the
// workspace, so files edited after the restore point remain on disk
func (h *EventHub) EmitStaleEdits(taskID string, files []string) {
	h.emit("restore:stale-edits", map[string]interface{}{
		"task_id": taskID,
		"files":   files,
	})
}

// EmitRelinquishControl tells the caller's UI layer to re-enable interaction
// after a failed restore
func (h *EventHub) EmitRelinquishControl(taskID string) {
	h.emit("task:relinquish-control", map[string]interface{}{
		"task_id": taskID,
	})
}

// FileDiffEvent carries one changed file in a multifile diff presentation
type FileDiffEvent struct {
	RelativePath string `json:"relative_path"`
	AbsolutePath string `json:"absolute_path"`
	Before       string `json:"before"`
	After        string `json:"after"`
}

// EmitMultifileDiff presents a set of changed files
func (h *EventHub) EmitMultifileDiff(taskID string, files []FileDiffEvent) {
	h.emit("diff:multifile", map[string]interface{}{
		"task_id": taskID,
		"files":   files,
	})
}

// EmitNotice surfaces a short informational message (for example an empty
// diff set)
func (h *EventHub) EmitNotice(taskID, message string) {
	h.emit("task:notice", map[string]interface{}{
		"task_id": taskID,
		"message": message,
	})
}

// WorkspaceChangedEvent is emitted when the watcher sees file activity
type WorkspaceChangedEvent struct {
	TaskID string   `json:"task_id"`
	Paths  []string `json:"paths"`
}

func (h *EventHub) EmitWorkspaceChanged(event WorkspaceChangedEvent) {
	h.emit("workspace:changed", event)
}
