// internal/conversation/log.go
package conversation

import (
	"fmt"
	"sync"
	"time"
)

// Log is the ordered, persisted conversation state of one task: the message
// log shown to the user plus the API-level turn history. All mutation goes
// through Log so timestamps stay monotonic and persistence stays consistent.
type Log struct {
	taskID   string
	store    *Store
	mu       sync.RWMutex
	messages []*Message
	history  []Turn
	lastTs   int64
}

// NewLog creates an empty log for a task
func NewLog(taskID string, store *Store) *Log {
	return &Log{taskID: taskID, store: store}
}

// LoadLog restores a task's log from the store
func LoadLog(taskID string, store *Store) (*Log, error) {
	messages, history, err := store.LoadLog(taskID)
	if err != nil {
		return nil, err
	}

	l := &Log{taskID: taskID, store: store, messages: messages, history: history}
	if n := len(messages); n > 0 {
		l.lastTs = messages[n-1].Ts
	}
	return l, nil
}

// TaskID returns the owning task's ID
func (l *Log) TaskID() string {
	return l.taskID
}

// NextTs returns a timestamp strictly greater than every message already in
// the log
func (l *Log) NextTs() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextTsLocked()
}

func (l *Log) nextTsLocked() int64 {
	ts := time.Now().UnixMilli()
	if ts <= l.lastTs {
		ts = l.lastTs + 1
	}
	l.lastTs = ts
	return ts
}

// AppendMessage adds a message to the end of the log, assigning a monotonic
// timestamp if the message has none
func (l *Log) AppendMessage(msg *Message) *Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.Ts == 0 {
		msg.Ts = l.nextTsLocked()
	} else if msg.Ts > l.lastTs {
		l.lastTs = msg.Ts
	}
	l.messages = append(l.messages, msg)
	return msg
}

// Messages returns a snapshot of the message slice. The pointed-to messages
// are shared; callers mutate them only through checkpoint metadata
// attachment.
func (l *Log) Messages() []*Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// OverwriteMessages replaces the message log (used by restore truncation)
func (l *Log) OverwriteMessages(messages []*Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = messages
	l.lastTs = 0
	if n := len(messages); n > 0 {
		l.lastTs = messages[n-1].Ts
	}
}

// History returns a snapshot of the API turn history
func (l *Log) History() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Turn, len(l.history))
	copy(out, l.history)
	return out
}

// OverwriteHistory replaces the API turn history
func (l *Log) OverwriteHistory(history []Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = history
}

// AppendTurn adds an API turn and returns its index
func (l *Log) AppendTurn(turn Turn) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, turn)
	return len(l.history) - 1
}

// IndexByTs returns the index of the message with the given timestamp
func (l *Log) IndexByTs(ts int64) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, msg := range l.messages {
		if msg.Ts == ts {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no message with timestamp %d", ts)
}

// MessageByTs returns the message with the given timestamp. Lookups go by
// timestamp rather than position because background commit continuations may
// attach metadata after later siblings were appended.
func (l *Log) MessageByTs(ts int64) (*Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, msg := range l.messages {
		if msg.Ts == ts {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("no message with timestamp %d", ts)
}

// AttachCheckpointMeta sets the checkpoint hash and summary on the message
// with the given timestamp. All mutation of shared messages goes through
// the log's lock: background commit continuations write here while
// foreground code reads, and the lock is what orders them.
func (l *Log) AttachCheckpointMeta(ts int64, hash, summary string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range l.messages {
		if msg.Ts == ts {
			msg.LastCheckpointHash = hash
			msg.CheckpointSummary = summary
			return nil
		}
	}
	return fmt.Errorf("no message with timestamp %d", ts)
}

// SetCheckedOutCheckpoint marks the checkpoint-created message with the
// given timestamp as checked out and clears the flag everywhere else. A
// zero timestamp clears all flags.
func (l *Log) SetCheckedOutCheckpoint(ts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range l.messages {
		if msg.Kind == KindCheckpointCreated {
			msg.IsCheckpointCheckedOut = ts != 0 && msg.Ts == ts
		}
	}
}

// Snapshot returns value copies of the messages, safe to read or marshal
// while background continuations keep mutating the originals
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	for i, msg := range l.messages {
		out[i] = *msg
	}
	return out
}

// LastMessage returns the newest message, or nil for an empty log
func (l *Log) LastMessage() *Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return nil
	}
	return l.messages[len(l.messages)-1]
}

// Save persists the message log. The read lock is held across the store
// write so marshaling never observes a message mid-mutation.
func (l *Log) Save() error {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.SaveLog(l.taskID, l.messages, l.history)
}

// SaveAndUpdateHistory persists both the message log and the API history
func (l *Log) SaveAndUpdateHistory() error {
	return l.Save()
}
