// Package channel implements message ports: a pair of cross-referencing
// endpoints that deliver opaque messages to each other on the receiver's loop,
// even when that loop does not exist yet at send time.
package channel

import (
	"weak"

	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// Channel pairs two ports. Port1 strongly owns Port2; Port2 only references
// Port1 weakly. The Channel value itself owns nothing beyond its two fields.
type Channel struct {
	Port1 *Port
	Port2 *Port
}

// New creates a channel whose ports deliver on loop. A nil loop leaves both
// ports without a loop, so sends fail with ErrInvalidPortLoop.
func New(loop core.Loop, origin string) *Channel {
	return NewWithConfig(loop, origin, nil)
}

// NewWithConfig is New with explicit configuration; nil means defaults.
func NewWithConfig(loop core.Loop, origin string, config *Config) *Channel {
	c := newPair(origin, config)
	c.Port1.binding.bindLoop(loop)
	c.Port2.binding.bindLoop(loop)
	return c
}

// NewDeferred creates a channel whose loop arrives later through future.
// Messages sent before the future resolves are parked and delivered, in
// order, once it does.
func NewDeferred(future *core.LoopFuture, origin string) *Channel {
	return NewDeferredWithConfig(future, origin, nil)
}

// NewDeferredWithConfig is NewDeferred with explicit configuration; nil means defaults.
func NewDeferredWithConfig(future *core.LoopFuture, origin string, config *Config) *Channel {
	c := newPair(origin, config)
	c.Port1.binding.bindFuture(future)
	c.Port2.binding.bindFuture(future)
	return c
}

func newPair(origin string, config *Config) *Channel {
	config = config.withDefaults()
	port1 := newPort(config)
	port2 := newPort(config)
	port1.origin = origin
	port1.sink = weak.Make(port2)
	port2.sink = weak.Make(port1)
	// port1 keeps port2 alive; if nobody else holds port2, releasing port1
	// releases port2 as well.
	port1.sinkHolder = port2
	return &Channel{Port1: port1, Port2: port2}
}

// DrainPendingMessages delivers messages parked on the process-wide
// dispatcher to loop. Owners call it once they know loop is running.
func DrainPendingMessages(loop core.Loop) bool {
	return dispatch.DrainPendingTasks(loop)
}

// Reset drops the channel's references to both ports. The ports live on if
// they are referenced elsewhere.
func (c *Channel) Reset() {
	c.Port1 = nil
	c.Port2 = nil
}
