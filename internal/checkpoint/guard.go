// internal/checkpoint/guard.go
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type guardState int

const (
	guardUninitialized guardState = iota
	guardInitializing
	guardReady
	guardFailed
)

// InitializationGuard performs lazy, exactly-once creation of the tracker.
// Concurrent callers share one in-flight attempt; a slow attempt raises a
// non-fatal warning and then a hard timeout. A timeout is sticky: it
// permanently disables initialization for the task. Other failures are
// recorded but retryable.
type InitializationGuard struct {
	factory      TrackerFactory
	warnAfter    time.Duration
	timeoutAfter time.Duration
	onSlow       func()

	mu      sync.Mutex
	state   guardState
	tracker Tracker
	err     error
	flight  chan struct{} // closed when the current attempt completes
}

// NewInitializationGuard creates a guard around the given factory
func NewInitializationGuard(factory TrackerFactory, warnAfter, timeoutAfter time.Duration, onSlow func()) *InitializationGuard {
	return &InitializationGuard{
		factory:      factory,
		warnAfter:    warnAfter,
		timeoutAfter: timeoutAfter,
		onSlow:       onSlow,
	}
}

// EnsureInitialized returns the tracker, creating it on first call. It is
// safe for concurrent use; no matter how many callers race, the factory runs
// at most once per attempt.
func (g *InitializationGuard) EnsureInitialized(ctx context.Context) (Tracker, error) {
	g.mu.Lock()

	switch g.state {
	case guardReady:
		tracker := g.tracker
		g.mu.Unlock()
		return tracker, nil

	case guardFailed:
		if IsTimeout(g.err) {
			err := g.err
			g.mu.Unlock()
			return nil, err
		}
		// transient failure: fall through and retry

	case guardInitializing:
		flight := g.flight
		g.mu.Unlock()
		select {
		case <-flight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.state == guardReady {
			return g.tracker, nil
		}
		return nil, g.err
	}

	// start a new attempt
	flight := make(chan struct{})
	g.state = guardInitializing
	g.flight = flight
	g.err = nil
	g.mu.Unlock()

	tracker, err := g.attempt()

	g.mu.Lock()
	if err != nil {
		g.state = guardFailed
		g.err = err
		g.tracker = nil
	} else {
		g.state = guardReady
		g.tracker = tracker
		g.err = nil
	}
	close(flight)
	g.mu.Unlock()

	return tracker, err
}

// attempt runs the factory once with the warning and timeout ladder
func (g *InitializationGuard) attempt() (Tracker, error) {
	var warn *time.Timer
	if g.onSlow != nil && g.warnAfter > 0 {
		warn = time.AfterFunc(g.warnAfter, g.onSlow)
		defer warn.Stop()
	}

	attemptCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		tracker Tracker
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		tracker, err := g.factory(attemptCtx)
		resCh <- result{tracker, err}
	}()

	timeout := time.NewTimer(g.timeoutAfter)
	defer timeout.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("initialize checkpoint tracker: %w", res.err)
		}
		return res.tracker, nil
	case <-timeout.C:
		cancel() // abandon the attempt; the factory goroutine unwinds on its own
		return nil, ErrInitTimedOut
	}
}

// TrackerIfReady returns the tracker without triggering initialization
func (g *InitializationGuard) TrackerIfReady() Tracker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == guardReady {
		return g.tracker
	}
	return nil
}

// setReady installs a tracker directly, bypassing the factory
func (g *InitializationGuard) setReady(tracker Tracker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = guardReady
	g.tracker = tracker
	g.err = nil
}

// snapshot reports the guard's state for diagnostics
func (g *InitializationGuard) snapshot() (ready, initializing bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == guardReady, g.state == guardInitializing, g.err
}
