package core

import (
	"maps"
	"sync"
)

// Object kinds accounted by the message-passing packages.
const (
	TraceKindPort    = "port"
	TraceKindMessage = "message"
	TraceKindWakeup  = "wakeup"
)

// TraceStat counts objects of one kind.
type TraceStat struct {
	Added   int64
	Removed int64
}

// Active is the number of objects added but not yet removed.
func (s TraceStat) Active() int64 {
	return s.Added - s.Removed
}

// ObjectTracer keeps live-object counts per kind. Garbage-collected objects are
// removed from a runtime.AddCleanup callback, so counts of such kinds trail
// the collector.
type ObjectTracer struct {
	mu    sync.Mutex
	stats map[string]TraceStat
}

func NewObjectTracer() *ObjectTracer {
	return &ObjectTracer{stats: make(map[string]TraceStat)}
}

var defaultTracer = NewObjectTracer()

// DefaultTracer returns the process-wide tracer.
func DefaultTracer() *ObjectTracer {
	return defaultTracer
}

func (t *ObjectTracer) Add(kind string) {
	t.mu.Lock()
	s := t.stats[kind]
	s.Added++
	t.stats[kind] = s
	t.mu.Unlock()
}

func (t *ObjectTracer) Remove(kind string) {
	t.mu.Lock()
	s := t.stats[kind]
	s.Removed++
	t.stats[kind] = s
	t.mu.Unlock()
}

func (t *ObjectTracer) ActiveCount(kind string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats[kind].Active()
}

// Snapshot returns a copy of all counters.
func (t *ObjectTracer) Snapshot() map[string]TraceStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.stats)
}
