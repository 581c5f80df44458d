// internal/conversation/message.go
package conversation

// Message kinds recorded in the task log
const (
	KindText              = "text"
	KindCheckpointCreated = "checkpoint_created"
	KindCompletionResult  = "completion_result"
	KindFileEdit          = "file_edit"
	KindCommand           = "command"
	KindDeletedRequests   = "deleted_api_reqs"
	KindNotice            = "notice"
)

// DeletedRange describes a previously truncated span of API history,
// expressed as [start, end] turn indices
type DeletedRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Message is a single entry in a task's conversation log. Messages are
// created by task activity and mutated only to attach checkpoint metadata
// after a commit resolves; they are never deleted individually, only
// bulk-truncated during restore.
type Message struct {
	Ts   int64  `json:"ts"` // unix milliseconds, monotonic within a task
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`

	// Checkpoint metadata, attached after the fact. A hash, once set, is
	// immutable and always refers to a real shadow-repo commit.
	LastCheckpointHash     string `json:"lastCheckpointHash,omitempty"`
	CheckpointSummary      string `json:"checkpointSummary,omitempty"`
	IsCheckpointCheckedOut bool   `json:"isCheckpointCheckedOut,omitempty"`

	// Position bookkeeping against the API-level history
	ConversationHistoryIndex        *int          `json:"conversationHistoryIndex,omitempty"`
	ConversationHistoryDeletedRange *DeletedRange `json:"conversationHistoryDeletedRange,omitempty"`

	// Usage accounting for API request messages
	Model       string  `json:"model,omitempty"`
	TokensIn    int64   `json:"tokensIn,omitempty"`
	TokensOut   int64   `json:"tokensOut,omitempty"`
	CacheWrites int64   `json:"cacheWrites,omitempty"`
	CacheReads  int64   `json:"cacheReads,omitempty"`
	Cost        float64 `json:"cost,omitempty"`

	// Edited path for file_edit messages
	Path string `json:"path,omitempty"`
}

// Turn is an API-level conversation turn
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
