package core

import (
	"sync"
	"time"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// TaskItem is a queued task. Awaits is set for tasks parked until a specific
// loop future resolves; it is nil for tasks that may run on any loop.
type TaskItem struct {
	Task       Task
	Awaits     *LoopFuture
	EnqueuedAt time.Time
}

// =============================================================================
// FIFOTaskQueue: mutex-guarded FIFO
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []TaskItem
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]TaskItem, 0, defaultQueueCap),
	}
}

func (q *FIFOTaskQueue) Push(item TaskItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, item)
}

func (q *FIFOTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return TaskItem{}, false
	}

	item := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = TaskItem{}
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()

	return item, true
}

// TakeAll atomically removes and returns every queued item in FIFO order.
func (q *FIFOTaskQueue) TakeAll() []TaskItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	batch := q.tasks
	q.tasks = make([]TaskItem, 0, defaultQueueCap)
	return batch
}

// Restore puts items back at the head of the queue, ahead of anything pushed
// since they were taken, keeping their relative order.
func (q *FIFOTaskQueue) Restore(items []TaskItem) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]TaskItem, 0, len(items)+len(q.tasks))
	merged = append(merged, items...)
	merged = append(merged, q.tasks...)
	q.tasks = merged
}

func (q *FIFOTaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]TaskItem, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]TaskItem, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Clear removes all tasks from the queue and returns how many were dropped.
func (q *FIFOTaskQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	// Create a new slice to release all task references
	q.tasks = make([]TaskItem, 0, defaultQueueCap)
	return n
}
