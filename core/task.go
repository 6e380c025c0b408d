package core

import (
	"context"
	"errors"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

var (
	// ErrRunnerClosed is returned when posting to a runner that has been shut down.
	ErrRunnerClosed = errors.New("core: runner is closed")

	// ErrNoLoop is returned when a wakeup is signaled without a loop to run on.
	ErrNoLoop = errors.New("core: no loop")

	// ErrWakeupFailed reports that a signaled wakeup could not be delivered to its loop.
	ErrWakeupFailed = errors.New("core: wakeup failed to fire")
)

// =============================================================================
// TaskRunner / Loop: task submission interfaces
// =============================================================================

type TaskRunner interface {
	PostTask(task Task)
}

// Loop is a single-threaded execution context. Every task accepted by a Loop
// runs on the loop's own goroutine, in the order it was accepted, no matter
// which goroutine posted it.
type Loop interface {
	TaskRunner

	// TryPostTask is PostTask that reports whether the loop accepted the task.
	TryPostTask(task Task) error

	Name() string
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}

// RunsOn reports whether ctx belongs to a task currently executing on loop.
func RunsOn(ctx context.Context, loop Loop) bool {
	if loop == nil {
		return false
	}
	current, ok := GetCurrentTaskRunner(ctx).(Loop)
	return ok && current == loop
}
