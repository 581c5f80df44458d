// internal/watcher/watcher_test.go
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherBatchesChanges(t *testing.T) {
	tempDir := t.TempDir()

	var mu sync.Mutex
	var batches [][]string
	done := make(chan struct{}, 4)

	w, err := New(tempDir, 100*time.Millisecond, func(paths []string) {
		mu.Lock()
		batches = append(batches, paths)
		mu.Unlock()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Two quick writes to different files should land in one batch
	if err := os.WriteFile(filepath.Join(tempDir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for batch")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 {
		t.Fatal("Expected at least one batch")
	}
	seen := map[string]bool{}
	for _, batch := range batches {
		for _, p := range batch {
			seen[filepath.Base(p)] = true
		}
	}
	if !seen["a.txt"] || !seen["b.txt"] {
		t.Errorf("Expected both files in batches, got %v", batches)
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	tempDir := t.TempDir()

	w, err := New(tempDir, 50*time.Millisecond, func([]string) {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Expected Start after Close to fail")
	}
}

func TestWatcherSkipsIgnoredDirs(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tempDir, "node_modules", "dep"), 0755); err != nil {
		t.Fatal(err)
	}

	fired := make(chan []string, 1)
	w, err := New(tempDir, 50*time.Millisecond, func(paths []string) {
		select {
		case fired <- paths:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(tempDir, "node_modules", "x.js"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case paths := <-fired:
		t.Errorf("Expected no batch for ignored dir, got %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}
