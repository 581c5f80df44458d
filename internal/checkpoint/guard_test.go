// internal/checkpoint/guard_test.go
package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnsureInitializedSingleflight(t *testing.T) {
	var creates int32
	factory := func(ctx context.Context) (Tracker, error) {
		atomic.AddInt32(&creates, 1)
		time.Sleep(50 * time.Millisecond)
		return &fakeTracker{}, nil
	}
	guard := NewInitializationGuard(factory, time.Second, 5*time.Second, nil)

	const callers = 10
	var wg sync.WaitGroup
	trackers := make([]Tracker, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trackers[i], errs[i] = guard.EnsureInitialized(context.Background())
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&creates); got != 1 {
		t.Errorf("Expected exactly 1 create for %d concurrent callers, got %d", callers, got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d got error: %v", i, errs[i])
		}
		if trackers[i] != trackers[0] {
			t.Errorf("Caller %d got a different tracker", i)
		}
	}

	// A later call returns the cached handle without another create
	if _, err := guard.EnsureInitialized(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&creates); got != 1 {
		t.Errorf("Expected cached handle, got %d creates", got)
	}
}

func TestEnsureInitializedTimeoutIsSticky(t *testing.T) {
	var creates int32
	factory := func(ctx context.Context) (Tracker, error) {
		atomic.AddInt32(&creates, 1)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return &fakeTracker{}, nil
	}
	guard := NewInitializationGuard(factory, time.Hour, 30*time.Millisecond, nil)

	_, err := guard.EnsureInitialized(context.Background())
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected error to contain %q, got %q", "timed out", err.Error())
	}
	if !IsTimeout(err) {
		t.Error("Expected IsTimeout to report the timeout class")
	}

	// The timeout is sticky: no further factory runs
	_, err = guard.EnsureInitialized(context.Background())
	if err == nil || !IsTimeout(err) {
		t.Fatalf("Expected sticky timeout error, got %v", err)
	}
	if got := atomic.LoadInt32(&creates); got != 1 {
		t.Errorf("Expected no retry after timeout, got %d creates", got)
	}
}

func TestEnsureInitializedTransientFailureRetries(t *testing.T) {
	var creates int32
	factory := func(ctx context.Context) (Tracker, error) {
		if atomic.AddInt32(&creates, 1) == 1 {
			return nil, errors.New("disk unavailable")
		}
		return &fakeTracker{}, nil
	}
	guard := NewInitializationGuard(factory, time.Hour, time.Second, nil)

	_, err := guard.EnsureInitialized(context.Background())
	if err == nil {
		t.Fatal("Expected first attempt to fail")
	}
	if IsTimeout(err) {
		t.Errorf("Transient failure misclassified as timeout: %v", err)
	}

	tracker, err := guard.EnsureInitialized(context.Background())
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if tracker == nil {
		t.Fatal("Expected a tracker from the retry")
	}
	if got := atomic.LoadInt32(&creates); got != 2 {
		t.Errorf("Expected 2 creates, got %d", got)
	}
}

func TestEnsureInitializedWarningFires(t *testing.T) {
	warned := make(chan struct{}, 1)
	factory := func(ctx context.Context) (Tracker, error) {
		time.Sleep(120 * time.Millisecond)
		return &fakeTracker{}, nil
	}
	guard := NewInitializationGuard(factory, 20*time.Millisecond, time.Second, func() {
		select {
		case warned <- struct{}{}:
		default:
		}
	})

	if _, err := guard.EnsureInitialized(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-warned:
	default:
		t.Error("Expected the slow-init warning to have fired")
	}
}

func TestEnsureInitializedWarningCancelledOnFastSuccess(t *testing.T) {
	warned := make(chan struct{}, 1)
	factory := func(ctx context.Context) (Tracker, error) {
		return &fakeTracker{}, nil
	}
	guard := NewInitializationGuard(factory, 50*time.Millisecond, time.Second, func() {
		select {
		case warned <- struct{}{}:
		default:
		}
	})

	if _, err := guard.EnsureInitialized(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(120 * time.Millisecond)
	select {
	case <-warned:
		t.Error("Warning fired even though initialization finished quickly")
	default:
	}
}
