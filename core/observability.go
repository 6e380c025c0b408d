package core

import "time"

// LoopStats represents runtime observability state for a loop.
type LoopStats struct {
	Name       string
	Pending    int
	Executed   int64
	Rejected   int64
	Panicked   int64
	Closed     bool
	LastTaskAt time.Time
}

// DispatcherStats represents the state of a dispatcher's pending queue.
type DispatcherStats struct {
	Pending        int
	Enqueued       int64
	Drained        int64
	Dispatched     int64
	WatchedFutures int
}
