// internal/conversation/store.go
package conversation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// Store persists task logs in SQLite. Message and history payloads are
// stored as zstd-compressed JSON blobs, one row per task.
type Store struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenStore creates or opens the task database at the given path
func OpenStore(path string, compressionLevel int) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Store{db: db, encoder: encoder, decoder: decoder}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the database schema
func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		workspace_path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_logs (
		task_id TEXT PRIMARY KEY,
		messages BLOB NOT NULL,
		history BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// TaskRecord is a row in the tasks table
type TaskRecord struct {
	ID            string
	WorkspacePath string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertTask creates or refreshes a task row
func (s *Store) UpsertTask(taskID, workspacePath string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, workspace_path, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET workspace_path = excluded.workspace_path, updated_at = excluded.updated_at`,
		taskID, workspacePath, now, now)
	return err
}

// GetTask loads a task row
func (s *Store) GetTask(taskID string) (*TaskRecord, error) {
	var rec TaskRecord
	var created, updated int64
	err := s.db.QueryRow(`SELECT id, workspace_path, created_at, updated_at FROM tasks WHERE id = ?`, taskID).
		Scan(&rec.ID, &rec.WorkspacePath, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return &rec, nil
}

// ListTasks returns all task rows, most recently updated first
func (s *Store) ListTasks() ([]TaskRecord, error) {
	rows, err := s.db.Query(`SELECT id, workspace_path, created_at, updated_at FROM tasks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var created, updated int64
		if err := rows.Scan(&rec.ID, &rec.WorkspacePath, &created, &updated); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMilli(created)
		rec.UpdatedAt = time.UnixMilli(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveLog persists a task's messages and API history atomically
func (s *Store) SaveLog(taskID string, messages []*Message, history []Turn) error {
	msgBlob, err := s.compress(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	histBlob, err := s.compress(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	now := time.Now().UnixMilli()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO task_logs (task_id, messages, history, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET messages = excluded.messages, history = excluded.history, updated_at = excluded.updated_at`,
		taskID, msgBlob, histBlob, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, now, taskID); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadLog loads a task's messages and API history. A task with no saved log
// yields empty slices, not an error.
func (s *Store) LoadLog(taskID string) ([]*Message, []Turn, error) {
	var msgBlob, histBlob []byte
	err := s.db.QueryRow(`SELECT messages, history FROM task_logs WHERE task_id = ?`, taskID).
		Scan(&msgBlob, &histBlob)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var messages []*Message
	if err := s.decompress(msgBlob, &messages); err != nil {
		return nil, nil, fmt.Errorf("decode messages: %w", err)
	}
	var history []Turn
	if err := s.decompress(histBlob, &history); err != nil {
		return nil, nil, fmt.Errorf("decode history: %w", err)
	}
	return messages, history, nil
}

// DeleteTask removes a task and its log
func (s *Store) DeleteTask(taskID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_logs WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) compress(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(data, nil), nil
}

func (s *Store) decompress(blob []byte, v interface{}) error {
	data, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
