package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-message-port/core"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return New(&Config{
		Logger: core.NewNoOpLogger(),
		Tracer: core.NewObjectTracer(),
		OnFatal: func(err error) {
			t.Errorf("unexpected fatal: %v", err)
		},
	})
}

func newTestLoop(t *testing.T, name string) *core.SingleThreadTaskRunner {
	t.Helper()
	loop := core.NewSingleThreadTaskRunnerWithConfig(&core.RunnerConfig{
		Name:   name,
		Logger: core.NewNoOpLogger(),
	})
	t.Cleanup(loop.Stop)
	return loop
}

func waitIdle(t *testing.T, loop *core.SingleThreadTaskRunner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.WaitIdle(ctx))
}

type taskLog struct {
	mu     sync.Mutex
	values []int
	loops  []bool
}

func (l *taskLog) task(v int, loop core.Loop) core.Task {
	return func(ctx context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.values = append(l.values, v)
		l.loops = append(l.loops, core.RunsOn(ctx, loop))
	}
}

func (l *taskLog) snapshot() ([]int, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...), append([]bool(nil), l.loops...)
}

// TestDispatcher_SendRunsOnLoop verifies Send delivers on the loop goroutine
// Given: A dispatcher and a running loop
// When: Three tasks are sent
// Then: They run in order on the loop
func TestDispatcher_SendRunsOnLoop(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "send")
	var got taskLog

	// Act
	for i := 1; i <= 3; i++ {
		d.Send(loop, got.task(i, loop))
	}
	waitIdle(t, loop)

	// Assert
	values, onLoop := got.snapshot()
	assert.Equal(t, []int{1, 2, 3}, values)
	assert.Equal(t, []bool{true, true, true}, onLoop)
	assert.EqualValues(t, 3, d.Stats().Dispatched)
}

// TestDispatcher_SendNilLoopParks verifies Send without a loop enqueues
func TestDispatcher_SendNilLoopParks(t *testing.T) {
	d := newTestDispatcher(t)

	d.Send(nil, func(ctx context.Context) {})

	assert.Equal(t, 1, d.Stats().Pending)
}

// TestDispatcher_DrainOrder verifies a drain delivers parked tasks in order
// Given: Three untagged tasks parked before any loop exists
// When: The queue is drained to a loop
// Then: The tasks run on that loop in submission order and the queue is empty
func TestDispatcher_DrainOrder(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "drain")
	var got taskLog
	for i := 1; i <= 3; i++ {
		d.EnqueueTask(got.task(i, loop))
	}
	require.Equal(t, 3, d.Stats().Pending)

	// Act
	ok := d.DrainPendingTasks(loop)
	waitIdle(t, loop)

	// Assert
	require.True(t, ok)
	values, onLoop := got.snapshot()
	assert.Equal(t, []int{1, 2, 3}, values)
	assert.Equal(t, []bool{true, true, true}, onLoop)
	stats := d.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.EqualValues(t, 3, stats.Enqueued)
	assert.EqualValues(t, 3, stats.Drained)
}

// TestDispatcher_DrainNilLoop verifies draining without a loop is refused
func TestDispatcher_DrainNilLoop(t *testing.T) {
	d := newTestDispatcher(t)
	d.EnqueueTask(func(ctx context.Context) {})

	assert.False(t, d.DrainPendingTasks(nil))
	assert.Equal(t, 1, d.Stats().Pending)
}

// TestDispatcher_DrainEmpty verifies draining an empty queue is a no-op success
func TestDispatcher_DrainEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "empty")

	assert.True(t, d.DrainPendingTasks(loop))
	assert.EqualValues(t, 0, d.Stats().Drained)
}

// TestDispatcher_ConcurrentEnqueueDuringDrain verifies exactly-once delivery
// Given: Producers enqueueing while another goroutine drains repeatedly
// When: All producers finish and a final drain runs
// Then: Every task ran exactly once
func TestDispatcher_ConcurrentEnqueueDuringDrain(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "concurrent")
	const producers, perProducer = 4, 250
	var counts [producers * perProducer]atomic.Int32

	// Act
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				idx := p*perProducer + i
				d.EnqueueTask(func(ctx context.Context) { counts[idx].Add(1) })
			}
			return nil
		})
	}
	stop := make(chan struct{})
	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-stop:
				return
			default:
				d.DrainPendingTasks(loop)
			}
		}
	}()
	require.NoError(t, g.Wait())
	close(stop)
	<-drainerDone
	d.DrainPendingTasks(loop)
	waitIdle(t, loop)

	// Assert
	for i := range counts {
		require.EqualValues(t, 1, counts[i].Load(), "task %d", i)
	}
	assert.Equal(t, 0, d.Stats().Pending)
}

// TestDispatcher_TaggedTasksStayWithTheirLoop verifies future-tagged tasks
// Given: Tasks parked for two different unresolved futures
// When: Only the first future resolves, to loop A
// Then: Only its tasks run, on A; the others stay parked until their future resolves to B
func TestDispatcher_TaggedTasksStayWithTheirLoop(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	loopA := newTestLoop(t, "a")
	loopB := newTestLoop(t, "b")
	promiseA := core.NewLoopPromise()
	promiseB := core.NewLoopPromise()
	var gotA, gotB taskLog
	d.EnqueueTaskFor(promiseA.Future(), gotA.task(1, loopA))
	d.EnqueueTaskFor(promiseB.Future(), gotB.task(10, loopB))
	d.EnqueueTaskFor(promiseA.Future(), gotA.task(2, loopA))
	assert.Equal(t, 2, d.Stats().WatchedFutures)

	// Act
	promiseA.Resolve(loopA)
	waitIdle(t, loopA)

	// Assert
	values, onLoop := gotA.snapshot()
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, []bool{true, true}, onLoop)
	valuesB, _ := gotB.snapshot()
	assert.Empty(t, valuesB)
	assert.Equal(t, 1, d.Stats().Pending)

	promiseB.Resolve(loopB)
	waitIdle(t, loopB)
	valuesB, onLoopB := gotB.snapshot()
	assert.Equal(t, []int{10}, valuesB)
	assert.Equal(t, []bool{true}, onLoopB)
	assert.Equal(t, 0, d.Stats().Pending)
	assert.Equal(t, 0, d.Stats().WatchedFutures)
}

// TestDispatcher_DrainSkipsForeignFuture verifies an explicit drain keeps tasks for other loops
func TestDispatcher_DrainSkipsForeignFuture(t *testing.T) {
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "foreign")
	promise := core.NewLoopPromise()
	var got taskLog
	d.EnqueueTaskFor(promise.Future(), got.task(1, loop))
	d.EnqueueTask(got.task(2, loop))

	require.True(t, d.DrainPendingTasks(loop))
	waitIdle(t, loop)

	values, _ := got.snapshot()
	assert.Equal(t, []int{2}, values)
	assert.Equal(t, 1, d.Stats().Pending)
}

// TestDispatcher_EnqueueForResolvedFuture verifies late enqueues are not stranded
// Given: A future that already resolved, with an older task parked for it
// When: A new task is enqueued for that future
// Then: The backlog runs first, then the new task, both on the loop
func TestDispatcher_EnqueueForResolvedFuture(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	loop := newTestLoop(t, "late")
	promise := core.NewLoopPromise()
	var got taskLog
	d.pending.Push(core.TaskItem{Task: got.task(1, loop), Awaits: promise.Future()})
	promise.Resolve(loop)

	// Act
	d.EnqueueTaskFor(promise.Future(), got.task(2, loop))
	waitIdle(t, loop)

	// Assert
	values, onLoop := got.snapshot()
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, []bool{true, true}, onLoop)
	assert.Equal(t, 0, d.Stats().Pending)
}

// TestDispatcher_EnqueueForNilResolvedFuture verifies tasks for a loopless future are dropped
func TestDispatcher_EnqueueForNilResolvedFuture(t *testing.T) {
	d := newTestDispatcher(t)
	promise := core.NewLoopPromise()
	promise.Resolve(nil)
	var ran atomic.Bool

	d.EnqueueTaskFor(promise.Future(), func(ctx context.Context) { ran.Store(true) })

	assert.False(t, ran.Load())
	assert.Equal(t, 0, d.Stats().Pending)
}

// TestDispatcher_ParkedTasksDroppedOnNilResolve verifies parked tasks do not outlive a loopless future
// Given: Three tasks parked on a future and one untagged task
// When: The future resolves to nil and the queue is drained to another loop
// Then: Only the untagged task runs and nothing stays pending
func TestDispatcher_ParkedTasksDroppedOnNilResolve(t *testing.T) {
	// Arrange
	d := newTestDispatcher(t)
	other := newTestLoop(t, "other")
	promise := core.NewLoopPromise()
	var parkedRan atomic.Int32
	var untaggedRan atomic.Bool
	for range 3 {
		d.EnqueueTaskFor(promise.Future(), func(ctx context.Context) { parkedRan.Add(1) })
	}
	d.EnqueueTask(func(ctx context.Context) { untaggedRan.Store(true) })
	require.Equal(t, 4, d.Stats().Pending)

	// Act
	promise.Resolve(nil)
	assert.Equal(t, 1, d.Stats().Pending)
	assert.Equal(t, 0, d.Stats().WatchedFutures)
	require.True(t, d.DrainPendingTasks(other))
	waitIdle(t, other)

	// Assert
	assert.True(t, untaggedRan.Load())
	assert.EqualValues(t, 0, parkedRan.Load())
	assert.Equal(t, 0, d.Stats().Pending)
}

// TestDispatcher_OnFatal verifies a wakeup that cannot reach its loop is fatal
// Given: A dispatcher with a recording OnFatal and a shut-down loop
// When: A task is sent to that loop
// Then: OnFatal receives an error wrapping ErrWakeupFailed
func TestDispatcher_OnFatal(t *testing.T) {
	var fatal error
	d := New(&Config{
		Logger:  core.NewNoOpLogger(),
		OnFatal: func(err error) { fatal = err },
	})
	loop := newTestLoop(t, "dead")
	loop.Shutdown()

	d.Send(loop, func(ctx context.Context) {})

	require.Error(t, fatal)
	assert.ErrorIs(t, fatal, core.ErrWakeupFailed)
	assert.ErrorIs(t, fatal, core.ErrRunnerClosed)
	assert.EqualValues(t, 0, d.Stats().Dispatched)
}

// TestDispatcher_DefaultOnFatalPanics verifies the default fatal handler panics
func TestDispatcher_DefaultOnFatalPanics(t *testing.T) {
	d := New(&Config{Logger: core.NewNoOpLogger()})
	loop := newTestLoop(t, "dead")
	loop.Shutdown()

	assert.Panics(t, func() {
		d.Send(loop, func(ctx context.Context) {})
	})
}

// TestDispatcher_Clear verifies Clear drops everything parked
func TestDispatcher_Clear(t *testing.T) {
	d := newTestDispatcher(t)
	d.EnqueueTask(func(ctx context.Context) {})
	d.EnqueueTaskFor(core.NewLoopPromise().Future(), func(ctx context.Context) {})

	assert.Equal(t, 2, d.Clear())
	assert.Equal(t, 0, d.Stats().Pending)
}
