// internal/checkpoint/background.go
package checkpoint

import "sync"

// Background runs commit continuations off the caller's path while keeping
// their completion observable: production callers never wait, tests and
// shutdown join via Wait.
type Background struct {
	wg sync.WaitGroup
}

// Go schedules fn on a new goroutine
func (b *Background) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until all scheduled work has finished
func (b *Background) Wait() {
	b.wg.Wait()
}
