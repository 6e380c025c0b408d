package core

import (
	"context"
	"sync"
	"time"
)

// LoopPromise is the write side of a LoopFuture. The loop it carries becomes
// available exactly once, from whichever goroutine calls Resolve.
type LoopPromise struct {
	future *LoopFuture
}

// LoopFuture is a shared, read-only view of a loop that may not exist yet.
// All methods are safe for concurrent use.
type LoopFuture struct {
	done chan struct{}

	mu        sync.Mutex
	resolved  bool
	loop      Loop
	callbacks []func(Loop)
}

func NewLoopPromise() *LoopPromise {
	return &LoopPromise{future: &LoopFuture{done: make(chan struct{})}}
}

// Future returns the shared future. Every call returns the same pointer.
func (p *LoopPromise) Future() *LoopFuture {
	return p.future
}

// Resolve publishes loop (which may be nil) and runs registered continuations
// on the calling goroutine. Only the first call has any effect; it returns
// false for later calls.
func (p *LoopPromise) Resolve(loop Loop) bool {
	f := p.future
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.loop = loop
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(loop)
	}
	return true
}

// Done is closed once the future is resolved.
func (f *LoopFuture) Done() <-chan struct{} {
	return f.done
}

func (f *LoopFuture) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Loop returns the resolved loop without waiting.
func (f *LoopFuture) Loop() (Loop, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loop, f.resolved
}

// WaitFor waits at most d for the future. A non-positive d only probes.
func (f *LoopFuture) WaitFor(d time.Duration) (Loop, bool) {
	if d <= 0 {
		if !f.Ready() {
			return nil, false
		}
		return f.Loop()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.Loop()
	case <-timer.C:
		return nil, false
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *LoopFuture) Wait(ctx context.Context) (Loop, error) {
	select {
	case <-f.done:
		l, _ := f.Loop()
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnResolved registers fn to run with the resolved loop. If the future is
// already resolved fn runs immediately on the calling goroutine, otherwise on
// the goroutine that calls Resolve.
func (f *LoopFuture) OnResolved(fn func(Loop)) {
	f.mu.Lock()
	if f.resolved {
		loop := f.loop
		f.mu.Unlock()
		fn(loop)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
