// Package dispatch schedules one-shot tasks onto loops and parks tasks whose
// loop is not known yet.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-message-port/core"
)

// Config holds configuration options for a Dispatcher.
type Config struct {
	Logger  core.Logger
	Metrics core.Metrics
	Tracer  *core.ObjectTracer

	// OnFatal is called when a signaled wakeup cannot reach its loop.
	// Defaults to logging the error and panicking.
	OnFatal func(err error)
}

// DefaultConfig returns a config with default handlers.
func DefaultConfig() *Config {
	logger := core.NewDefaultLogger()
	return &Config{
		Logger:  logger,
		Metrics: &core.NilMetrics{},
		Tracer:  core.DefaultTracer(),
		OnFatal: fatalPanic(logger),
	}
}

func fatalPanic(logger core.Logger) func(error) {
	return func(err error) {
		logger.Error("wakeup failed", core.F("error", err))
		panic(err)
	}
}

// Dispatcher delivers tasks to loops through one-shot wakeups and keeps the
// pending queue for tasks sent before any loop is known.
type Dispatcher struct {
	// drainMu serializes drains with future-aware enqueues.
	drainMu sync.Mutex
	pending *core.FIFOTaskQueue
	watched map[*core.LoopFuture]struct{}

	logger  core.Logger
	metrics core.Metrics
	tracer  *core.ObjectTracer
	onFatal func(error)

	enqueued   atomic.Int64
	drained    atomic.Int64
	dispatched atomic.Int64
}

// New creates a Dispatcher; nil config means defaults.
func New(config *Config) *Dispatcher {
	d := DefaultConfig()
	if config != nil {
		if config.Logger != nil {
			d.Logger = config.Logger
			d.OnFatal = fatalPanic(config.Logger)
		}
		if config.Metrics != nil {
			d.Metrics = config.Metrics
		}
		if config.Tracer != nil {
			d.Tracer = config.Tracer
		}
		if config.OnFatal != nil {
			d.OnFatal = config.OnFatal
		}
	}
	return &Dispatcher{
		pending: core.NewFIFOTaskQueue(),
		watched: make(map[*core.LoopFuture]struct{}),
		logger:  d.Logger,
		metrics: d.Metrics,
		tracer:  d.Tracer,
		onFatal: d.OnFatal,
	}
}

// Send runs task once on loop's goroutine. A nil loop parks the task in the
// pending queue until the next drain.
func (d *Dispatcher) Send(loop core.Loop, task core.Task) {
	if loop == nil {
		d.EnqueueTask(task)
		return
	}
	w := core.NewTracedWakeup(loop, task, d.tracer)
	if err := w.Signal(); err != nil {
		d.onFatal(fmt.Errorf("dispatch to loop %q: %w", loop.Name(), err))
		return
	}
	d.dispatched.Add(1)
}

// EnqueueTask appends task to the pending queue. The next drain for any loop
// delivers it.
func (d *Dispatcher) EnqueueTask(task core.Task) {
	d.pending.Push(core.TaskItem{Task: task, EnqueuedAt: time.Now()})
	d.enqueued.Add(1)
	d.metrics.RecordPendingDepth(d.pending.Len())
}

// EnqueueTaskFor parks task until future resolves, then delivers it on the
// resolved loop. Tasks parked on the same future keep their order.
//
// If future has already resolved, the backlog for it is drained and task is
// sent right away. The first task parked on a future registers a continuation
// that drains when the future resolves, so parked tasks never depend on a
// later send or an explicit drain.
func (d *Dispatcher) EnqueueTaskFor(future *core.LoopFuture, task core.Task) {
	if future == nil {
		d.EnqueueTask(task)
		return
	}

	d.drainMu.Lock()
	if loop, ok := future.Loop(); ok {
		defer d.drainMu.Unlock()
		if loop == nil {
			d.logger.Warn("dropping task for a future resolved without a loop")
			return
		}
		d.drainLocked(loop)
		d.Send(loop, task)
		return
	}

	d.pending.Push(core.TaskItem{Task: task, Awaits: future, EnqueuedAt: time.Now()})
	d.enqueued.Add(1)
	_, seen := d.watched[future]
	if !seen {
		d.watched[future] = struct{}{}
	}
	d.drainMu.Unlock()
	d.metrics.RecordPendingDepth(d.pending.Len())

	// Registered outside drainMu: OnResolved may call back synchronously.
	if !seen {
		future.OnResolved(func(loop core.Loop) {
			if loop == nil {
				d.dropAwaiting(future)
				return
			}
			d.drainMu.Lock()
			delete(d.watched, future)
			d.drainMu.Unlock()
			d.DrainPendingTasks(loop)
		})
	}
}

// DrainPendingTasks resubmits pending tasks to loop in submission order and
// reports false if loop is nil. Untagged tasks and tasks awaiting a future
// that resolved to loop are sent; everything else stays queued in order.
//
// Tasks enqueued concurrently are delivered exactly once, by this drain or a
// later one.
func (d *Dispatcher) DrainPendingTasks(loop core.Loop) bool {
	if loop == nil {
		return false
	}
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	n := d.drainLocked(loop)
	d.logger.Debug("drained pending queue",
		core.F("loop", loop.Name()), core.F("count", n), core.F("remaining", d.pending.Len()))
	return true
}

func (d *Dispatcher) drainLocked(loop core.Loop) int {
	items := d.pending.TakeAll()
	if len(items) == 0 {
		return 0
	}

	var rest []core.TaskItem
	sent := 0
	for _, item := range items {
		if item.Awaits != nil {
			resolved, ok := item.Awaits.Loop()
			if !ok || resolved != loop {
				rest = append(rest, item)
				continue
			}
		}
		d.Send(loop, item.Task)
		sent++
	}
	d.pending.Restore(rest)

	d.drained.Add(int64(sent))
	d.metrics.RecordDrained(sent)
	d.metrics.RecordPendingDepth(d.pending.Len())
	return sent
}

// dropAwaiting removes the tasks parked on a future that resolved without a
// loop. No drain can ever deliver them.
func (d *Dispatcher) dropAwaiting(future *core.LoopFuture) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	delete(d.watched, future)

	items := d.pending.TakeAll()
	var rest []core.TaskItem
	dropped := 0
	for _, item := range items {
		if item.Awaits == future {
			dropped++
			continue
		}
		rest = append(rest, item)
	}
	d.pending.Restore(rest)

	if dropped > 0 {
		d.logger.Warn("dropping tasks for a future resolved without a loop", core.F("count", dropped))
	}
	d.metrics.RecordPendingDepth(d.pending.Len())
}

// Clear drops every pending task and returns how many were dropped.
func (d *Dispatcher) Clear() int {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	n := d.pending.Clear()
	d.metrics.RecordPendingDepth(0)
	return n
}

// Stats returns a snapshot of the dispatcher state.
func (d *Dispatcher) Stats() core.DispatcherStats {
	d.drainMu.Lock()
	watched := len(d.watched)
	d.drainMu.Unlock()
	return core.DispatcherStats{
		Pending:        d.pending.Len(),
		Enqueued:       d.enqueued.Load(),
		Drained:        d.drained.Load(),
		Dispatched:     d.dispatched.Load(),
		WatchedFutures: watched,
	}
}
