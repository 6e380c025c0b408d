package core_test

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"weak"

	"github.com/Swind/go-message-port/core"
)

type payload struct {
	ID   string
	Data []byte
}

func forceGC() {
	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func quietLoop() *core.SingleThreadTaskRunner {
	return core.NewSingleThreadTaskRunnerWithConfig(&core.RunnerConfig{Logger: core.NewNoOpLogger()})
}

// TestSingleThreadTaskRunner_GC_ClosureCapturedObjects verifies closure-captured object GC
// Given: 100 objects captured by task closures
// When: tasks complete and objects go out of scope
// Then: all 100 objects are garbage collected and finalizers called
func TestSingleThreadTaskRunner_GC_ClosureCapturedObjects(t *testing.T) {
	// Arrange - Create runner and objects with finalizers
	runner := quietLoop()
	defer runner.Stop()

	const numObjects = 100
	var finalizerCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numObjects)

	// Act - Create scope for objects
	func() {
		for i := 0; i < numObjects; i++ {
			obj := &payload{
				ID:   "closure-obj",
				Data: make([]byte, 10*1024), // 10KB each
			}

			runtime.SetFinalizer(obj, func(o *payload) {
				finalizerCount.Add(1)
				wg.Done()
			})

			runner.PostTask(func(ctx context.Context) {
				_ = obj.ID
			})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runner.WaitIdle(ctx); err != nil {
			t.Fatalf("WaitIdle failed: %v", err)
		}
	}()

	forceGC()

	// Wait for finalizers
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Assert - Verify all objects collected
		if collected := finalizerCount.Load(); collected != numObjects {
			t.Errorf("objects GC'd: got = %d, want = %d", collected, numObjects)
		}
	case <-time.After(3 * time.Second):
		t.Errorf("timeout: only %d/%d objects were GC'd", finalizerCount.Load(), numObjects)
	}
}

// TestSingleThreadTaskRunner_GC_StopClearsQueue verifies queued tasks are released on Stop
// Given: a loop blocked on one task with another task queued behind it
// When: the loop is stopped before the queued task runs
// Then: the object captured by the queued task is garbage collected
func TestSingleThreadTaskRunner_GC_StopClearsQueue(t *testing.T) {
	// Arrange
	runner := quietLoop()
	gate := make(chan struct{})
	started := make(chan struct{})
	runner.PostTask(func(ctx context.Context) {
		close(started)
		<-gate
	})
	<-started

	var ref weak.Pointer[payload]
	func() {
		obj := &payload{ID: "queued", Data: make([]byte, 1024*1024)}
		ref = weak.Make(obj)
		runner.PostTask(func(ctx context.Context) {
			_ = obj.ID
		})
	}()

	// Act
	runner.Shutdown()
	close(gate)
	runner.Stop()
	forceGC()

	// Assert
	if ref.Value() != nil {
		t.Error("queued task object still reachable after Stop")
	}
	if got := runner.Stats().Pending; got != 0 {
		t.Errorf("pending after Stop: got = %d, want 0", got)
	}
}

// TestWakeup_GC_ReleasesTaskAfterFire verifies a fired wakeup drops its task
// Given: a wakeup kept alive after firing, whose task captures a large object
// When: the task has run and the collector runs
// Then: the object is collected even though the wakeup is still referenced
func TestWakeup_GC_ReleasesTaskAfterFire(t *testing.T) {
	// Arrange
	runner := quietLoop()
	defer runner.Stop()

	var ref weak.Pointer[payload]
	var w *core.Wakeup
	func() {
		obj := &payload{ID: "wakeup", Data: make([]byte, 1024*1024)}
		ref = weak.Make(obj)
		w = core.NewWakeup(runner, func(ctx context.Context) {
			_ = obj.ID
		})
	}()

	// Act
	if err := w.Signal(); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
	forceGC()

	// Assert
	if ref.Value() != nil {
		t.Error("fired wakeup still holds its task")
	}
	if !w.Fired() {
		t.Error("wakeup fired: got = false, want = true")
	}
}

// TestSingleThreadTaskRunner_GC_RunnerItself verifies a stopped runner is collectable
// Given: a runner that ran a task and was stopped
// When: all references are dropped
// Then: the runner is garbage collected
func TestSingleThreadTaskRunner_GC_RunnerItself(t *testing.T) {
	var ref weak.Pointer[core.SingleThreadTaskRunner]

	// Act - Create scope for runner
	func() {
		runner := quietLoop()
		ref = weak.Make(runner)

		done := make(chan struct{})
		runner.PostTask(func(ctx context.Context) {
			close(done)
		})

		<-done
		runner.Stop()
	}()

	forceGC()

	// Assert - Verify runner was GC'd
	if ref.Value() != nil {
		t.Error("runner GC'd: got = false, want = true")
	}
}

// TestSingleThreadTaskRunner_GC_DedicatedGoroutineCleanup verifies goroutine cleanup
// Given: 10 SingleThreadTaskRunners with dedicated goroutines
// When: all runners are stopped and references dropped
// Then: goroutines are properly cleaned up (no goroutine leak)
func TestSingleThreadTaskRunner_GC_DedicatedGoroutineCleanup(t *testing.T) {
	// Arrange - Track goroutine count
	initialGoroutines := runtime.NumGoroutine()

	const numRunners = 10
	runners := make([]*core.SingleThreadTaskRunner, numRunners)

	for i := 0; i < numRunners; i++ {
		runners[i] = quietLoop()

		done := make(chan struct{})
		runners[i].PostTask(func(ctx context.Context) {
			close(done)
		})
		<-done
	}

	// Act - Stop all runners and clear references
	afterCreateGoroutines := runtime.NumGoroutine()

	for _, runner := range runners {
		runner.Stop()
	}
	runners = nil

	time.Sleep(100 * time.Millisecond)
	forceGC()

	// Assert - Verify goroutines cleaned up
	finalGoroutines := runtime.NumGoroutine()

	t.Logf("Goroutine count:")
	t.Logf("  Initial: %d", initialGoroutines)
	t.Logf("  After creating %d runners: %d", numRunners, afterCreateGoroutines)
	t.Logf("  After stopping and GC: %d", finalGoroutines)

	tolerance := 5
	if finalGoroutines > initialGoroutines+tolerance {
		t.Errorf("goroutines leaked: started with %d, now have %d (expected <= %d)",
			initialGoroutines, finalGoroutines, initialGoroutines+tolerance)
	}
}
