// internal/watcher/watcher.go
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default directories never worth watching in a coding workspace
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// Watcher watches a workspace tree and delivers batches of changed paths
// after a quiet period. New subdirectories are added to the watch set as
// they appear.
type Watcher struct {
	root    string
	quiet   time.Duration
	onBatch func(paths []string)

	fsw     *fsnotify.Watcher
	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	pending map[string]struct{}
	flush   *time.Timer
	batchMu sync.Mutex
}

// New creates a Watcher rooted at the given workspace directory. The
// callback receives a sorted, deduplicated batch of changed paths once no
// further events arrive for the quiet duration.
func New(root string, quiet time.Duration, onBatch func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		quiet:   quiet,
		onBatch: onBatch,
		fsw:     fsw,
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// addTree registers root and all non-skipped subdirectories
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Start begins delivering batches
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.loop()
	return nil
}

// Close stops the watcher and cancels any pending batch
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.batchMu.Lock()
	if w.flush != nil {
		w.flush.Stop()
	}
	w.pending = make(map[string]struct{})
	w.batchMu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// keep watching; transient fsnotify errors are not actionable

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if skipDirs[base] {
		return
	}

	// Newly created directories join the watch set
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.flush != nil {
		w.flush.Stop()
	}
	w.flush = time.AfterFunc(w.quiet, w.deliver)
}

func (w *Watcher) deliver() {
	w.batchMu.Lock()
	if len(w.pending) == 0 {
		w.batchMu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.batchMu.Unlock()

	sort.Strings(paths)
	w.onBatch(paths)
}
