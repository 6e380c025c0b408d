package dispatch

import (
	"sync"

	"github.com/Swind/go-message-port/core"
)

var (
	globalMu         sync.Mutex
	globalDispatcher *Dispatcher
)

// Init installs the process-wide dispatcher built from config and returns it.
// A dispatcher installed earlier is replaced; its pending tasks are dropped.
func Init(config *Config) *Dispatcher {
	d := New(config)
	globalMu.Lock()
	old := globalDispatcher
	globalDispatcher = d
	globalMu.Unlock()
	if old != nil {
		old.Clear()
	}
	return d
}

// Default returns the process-wide dispatcher, creating one with the default
// config on first use.
func Default() *Dispatcher {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDispatcher == nil {
		globalDispatcher = New(nil)
	}
	return globalDispatcher
}

// Shutdown tears down the process-wide dispatcher and returns how many pending
// tasks were dropped. The next Default call starts a fresh one.
func Shutdown() int {
	globalMu.Lock()
	d := globalDispatcher
	globalDispatcher = nil
	globalMu.Unlock()
	if d == nil {
		return 0
	}
	return d.Clear()
}

// DrainPendingTasks drains the process-wide dispatcher for loop.
func DrainPendingTasks(loop core.Loop) bool {
	return Default().DrainPendingTasks(loop)
}
