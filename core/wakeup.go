package core

import (
	"context"
	"fmt"
	"sync"
)

// Wakeup binds a one-shot task to a loop. Signal may be called from any
// goroutine; the task then runs exactly once on the loop's goroutine and the
// wakeup drops its references afterward. Further signals are no-ops.
type Wakeup struct {
	mu       sync.Mutex
	loop     Loop
	task     Task
	signaled bool
	tracer   *ObjectTracer
}

// NewWakeup creates a wakeup bound to loop. The task is owned by the wakeup
// from here on.
func NewWakeup(loop Loop, task Task) *Wakeup {
	return NewTracedWakeup(loop, task, nil)
}

// NewTracedWakeup is NewWakeup that accounts the wakeup in tracer until it fires.
func NewTracedWakeup(loop Loop, task Task, tracer *ObjectTracer) *Wakeup {
	if tracer != nil {
		tracer.Add(TraceKindWakeup)
	}
	return &Wakeup{loop: loop, task: task, tracer: tracer}
}

// Signal schedules the task on the bound loop. It returns an error wrapping
// ErrWakeupFailed if the loop refuses it; the wakeup is spent either way.
func (w *Wakeup) Signal() error {
	w.mu.Lock()
	if w.signaled {
		w.mu.Unlock()
		return nil
	}
	w.signaled = true
	loop := w.loop
	w.mu.Unlock()

	if loop == nil {
		w.release()
		return fmt.Errorf("%w: %w", ErrWakeupFailed, ErrNoLoop)
	}
	if err := loop.TryPostTask(w.fire); err != nil {
		w.release()
		return fmt.Errorf("%w: %w", ErrWakeupFailed, err)
	}
	return nil
}

// Fired reports whether the task has run (or was released after a failed signal).
func (w *Wakeup) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signaled && w.task == nil
}

func (w *Wakeup) fire(ctx context.Context) {
	task := w.release()
	if task != nil {
		task(ctx)
	}
}

func (w *Wakeup) release() Task {
	w.mu.Lock()
	task := w.task
	w.task = nil
	w.loop = nil
	tracer := w.tracer
	w.tracer = nil
	w.mu.Unlock()
	if tracer != nil {
		tracer.Remove(TraceKindWakeup)
	}
	return task
}
