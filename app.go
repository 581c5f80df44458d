// app.go
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"rewind/internal/checkpoint"
	"rewind/internal/config"
	"rewind/internal/conversation"
	"rewind/internal/eventhub"
	"rewind/internal/shadow"
	"rewind/internal/summary"
	"rewind/internal/watcher"
)

// watcherQuiet is the debounce window for workspace file events
const watcherQuiet = 300 * time.Millisecond

// Task bundles the per-task handles: the conversation log, its checkpoint
// manager, and the workspace watcher
type Task struct {
	ID            string
	WorkspacePath string
	Log           *conversation.Log
	Manager       *checkpoint.Manager

	watcher *watcher.Watcher
}

// App struct contains the core application state and managers
type App struct {
	ctx      context.Context
	mu       sync.RWMutex
	config   *config.Config
	settings *config.Settings
	store    *conversation.Store
	eventHub *eventhub.EventHub

	tasks map[string]*Task
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{tasks: make(map[string]*Task)}
}

// Startup loads configuration and opens the task store
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.config = cfg

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	a.settings = settings

	store, err := conversation.OpenStore(cfg.DatabasePath, settings.CompressionLevel)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	a.store = store

	a.eventHub = eventhub.New(ctx)

	log.Printf("rewind started, data dir %s", cfg.RewindDir)
	return nil
}

// Shutdown closes every open task and the store
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	tasks := make([]*Task, 0, len(a.tasks))
	for _, task := range a.tasks {
		tasks = append(tasks, task)
	}
	a.tasks = make(map[string]*Task)
	a.mu.Unlock()

	for _, task := range tasks {
		a.closeTask(task)
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
	log.Printf("rewind shutdown complete")
}

// SetEventHubBroadcaster attaches the event sink (UI bridge, test recorder)
func (a *App) SetEventHubBroadcaster(broadcaster eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(broadcaster)
	}
}

// OpenTask creates a new task rooted at the given workspace directory
func (a *App) OpenTask(workspacePath string) (*Task, error) {
	taskID := uuid.NewString()
	return a.openTask(taskID, workspacePath, conversation.NewLog(taskID, a.store))
}

// ResumeTask reopens a previously persisted task with its saved log
func (a *App) ResumeTask(taskID string) (*Task, error) {
	rec, err := a.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("look up task %s: %w", taskID, err)
	}
	taskLog, err := conversation.LoadLog(taskID, a.store)
	if err != nil {
		return nil, fmt.Errorf("load task log %s: %w", taskID, err)
	}
	return a.openTask(rec.ID, rec.WorkspacePath, taskLog)
}

func (a *App) openTask(taskID, workspacePath string, taskLog *conversation.Log) (*Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.tasks[taskID]; ok {
		return existing, nil
	}

	if err := a.store.UpsertTask(taskID, workspacePath); err != nil {
		return nil, fmt.Errorf("register task: %w", err)
	}

	shadowDir := a.config.TaskSnapshotDir(taskID)
	excludes := a.settings.Exclude
	manager := checkpoint.NewManager(checkpoint.Options{
		TaskID:  taskID,
		Log:     taskLog,
		Enabled: a.settings.CheckpointsEnabled,
		Hub:     a.eventHub,
		TrackerFactory: func(ctx context.Context) (checkpoint.Tracker, error) {
			return shadow.NewTracker(taskID, workspacePath, shadowDir, excludes)
		},
		Summarizer:  summary.RuleBased{},
		InitWarning: a.settings.InitWarning,
		InitTimeout: a.settings.InitTimeout,
	})

	task := &Task{
		ID:            taskID,
		WorkspacePath: workspacePath,
		Log:           taskLog,
		Manager:       manager,
	}

	w, err := watcher.New(workspacePath, watcherQuiet, func(paths []string) {
		a.eventHub.EmitWorkspaceChanged(eventhub.WorkspaceChangedEvent{
			TaskID: taskID,
			Paths:  paths,
		})
	})
	if err != nil {
		log.Printf("workspace watcher unavailable for task %s: %v", taskID, err)
	} else if err := w.Start(); err != nil {
		log.Printf("workspace watcher failed to start for task %s: %v", taskID, err)
		w.Close()
	} else {
		task.watcher = w
	}

	a.tasks[taskID] = task
	return task, nil
}

// CloseTask persists and releases a task's handles
func (a *App) CloseTask(taskID string) error {
	a.mu.Lock()
	task, ok := a.tasks[taskID]
	delete(a.tasks, taskID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is not open", taskID)
	}
	return a.closeTask(task)
}

func (a *App) closeTask(task *Task) error {
	task.Manager.WaitBackground()
	if task.watcher != nil {
		if err := task.watcher.Close(); err != nil {
			log.Printf("close watcher for task %s: %v", task.ID, err)
		}
	}
	if err := task.Log.SaveAndUpdateHistory(); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// ListTasks returns the persisted task records
func (a *App) ListTasks() ([]conversation.TaskRecord, error) {
	return a.store.ListTasks()
}

// DeleteTask removes a task's persisted state. The task must not be open.
func (a *App) DeleteTask(taskID string) error {
	a.mu.RLock()
	_, open := a.tasks[taskID]
	a.mu.RUnlock()
	if open {
		return fmt.Errorf("task %s is open, close it first", taskID)
	}
	return a.store.DeleteTask(taskID)
}

// task returns an open task by ID
func (a *App) task(taskID string) (*Task, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	task, ok := a.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s is not open", taskID)
	}
	return task, nil
}
