package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SingleThreadTaskRunner binds a dedicated Goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same Goroutine (Thread Affinity),
// which makes it the native loop that message ports deliver on.
//
// Posting never blocks: tasks go to an unbounded FIFO and a coalescing wake
// signal nudges the loop, so a task running on the loop may post to its own loop.
type SingleThreadTaskRunner struct {
	queue *FIFOTaskQueue
	wake  chan struct{}

	// Lifecycle control
	ctx    context.Context
	cancel context.CancelFunc

	// For graceful shutdown
	stopped      chan struct{}
	once         sync.Once
	closed       atomic.Bool
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	name         string
	lockOSThread bool
	panicHandler PanicHandler
	metrics      Metrics
	logger       Logger

	executed   atomic.Int64
	rejected   atomic.Int64
	panicked   atomic.Int64
	lastTaskAt atomic.Int64
}

var _ Loop = (*SingleThreadTaskRunner)(nil)

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for task execution.
func NewSingleThreadTaskRunner() *SingleThreadTaskRunner {
	return NewSingleThreadTaskRunnerWithConfig(nil)
}

// NewSingleThreadTaskRunnerWithConfig creates and starts a runner; nil config means defaults.
func NewSingleThreadTaskRunnerWithConfig(config *RunnerConfig) *SingleThreadTaskRunner {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		queue:        NewFIFOTaskQueue(),
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
		name:         config.Name,
		lockOSThread: config.LockOSThread,
		panicHandler: config.PanicHandler,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}

	// Start the dedicated message loop
	go r.runLoop()

	return r
}

// Name returns the name of the loop
func (r *SingleThreadTaskRunner) Name() string {
	return r.name
}

// PostTask submits a task for execution; tasks posted after shutdown are dropped.
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	_ = r.TryPostTask(task)
}

// TryPostTask submits a task and reports ErrRunnerClosed if the runner no
// longer accepts work.
func (r *SingleThreadTaskRunner) TryPostTask(task Task) error {
	if task == nil {
		return nil
	}
	// Check if runner is closed to avoid queueing work that will never run
	if r.closed.Load() {
		r.rejected.Add(1)
		return fmt.Errorf("post to loop %q: %w", r.name, ErrRunnerClosed)
	}

	r.queue.Push(TaskItem{Task: task})

	select {
	case r.wake <- struct{}{}:
	default:
		// A wakeup is already pending; the loop will see this task too.
	}
	return nil
}

// Shutdown marks the runner as closed and signals shutdown waiters.
// Unlike Stop(), this method does NOT wait for the runLoop to exit,
// which allows tasks to call Shutdown() from within themselves.
//
// After calling Shutdown():
// - WaitShutdown() will return
// - IsClosed() will return true
// - New tasks posted will be rejected
// - The task currently executing completes; queued tasks are dropped
func (r *SingleThreadTaskRunner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		close(r.shutdownChan)
	})
}

// IsClosed returns true if the runner has been stopped
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Stop stops the runner and waits for the runLoop to exit.
// Must not be called from a task running on this runner.
func (r *SingleThreadTaskRunner) Stop() {
	r.once.Do(func() {
		r.Shutdown()
		// Wait for runLoop to finish (ensures current task completes)
		<-r.stopped
		if dropped := r.queue.Clear(); dropped > 0 {
			r.logger.Debug("loop stopped with queued tasks",
				F("loop", r.name), F("dropped", dropped))
		}
	})
}

// Stats returns a snapshot of the loop state.
func (r *SingleThreadTaskRunner) Stats() LoopStats {
	stats := LoopStats{
		Name:     r.name,
		Pending:  r.queue.Len(),
		Executed: r.executed.Load(),
		Rejected: r.rejected.Load(),
		Panicked: r.panicked.Load(),
		Closed:   r.closed.Load(),
	}
	if ns := r.lastTaskAt.Load(); ns != 0 {
		stats.LastTaskAt = time.Unix(0, ns)
	}
	return stats
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	if r.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer close(r.stopped) // Signal that Stop() can return

	// Create context with taskRunnerKey for GetCurrentTaskRunner
	runCtx := context.WithValue(r.ctx, taskRunnerKey, r)

	for {
		for {
			if r.ctx.Err() != nil {
				return
			}
			item, ok := r.queue.Pop()
			if !ok {
				break
			}
			r.runTask(runCtx, item.Task)
		}

		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *SingleThreadTaskRunner) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panicked.Add(1)
			r.metrics.RecordTaskPanic(r.name, rec)
			r.panicHandler.HandlePanic(ctx, r.name, rec, debug.Stack())
		}
	}()
	r.executed.Add(1)
	r.lastTaskAt.Store(time.Now().UnixNano())
	task(ctx)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued tasks have completed execution.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - Runner is closed when WaitIdle is called
//
// Note: Tasks posted after WaitIdle is called are not waited for.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})

	// Post a barrier task that closes the done channel
	if err := r.TryPostTask(func(taskCtx context.Context) {
		close(done)
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-r.stopped:
		return fmt.Errorf("wait idle on loop %q: %w", r.name, ErrRunnerClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAsync posts a barrier task that executes the callback when all prior tasks complete.
// This is a non-blocking alternative to WaitIdle.
func (r *SingleThreadTaskRunner) FlushAsync(callback func()) {
	r.PostTask(func(ctx context.Context) {
		callback()
	})
}

// WaitShutdown blocks until Shutdown() is called on this runner.
//
// This is useful for waiting for the runner to be shut down, either by
// an external caller or by a task running on the runner itself.
//
// Returns error if context is cancelled or deadline exceeded.
func (r *SingleThreadTaskRunner) WaitShutdown(ctx context.Context) error {
	select {
	case <-r.shutdownChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
