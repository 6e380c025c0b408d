// Package embedder connects a native caller to a script running on its own
// loop through a message channel that may be used before the script starts.
package embedder

import (
	"sync"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// EmbedderOrigin is the origin stamped on messages sent through Port1.
const EmbedderOrigin = "embedder"

// MessageChannel is the runtime-side channel. Port1 belongs to the runtime
// (its sink is the embedder), Port2 is handed to the embedder. Both ports
// wait on a private promise that Start resolves with the runtime loop.
type MessageChannel struct {
	loop       core.Loop
	promise    *core.LoopPromise
	channel    *channel.Channel
	dispatcher *dispatch.Dispatcher

	startOnce sync.Once
}

// NewMessageChannel creates the channel for loop. Nothing is delivered until
// Start is called.
func NewMessageChannel(loop core.Loop, config *channel.Config) *MessageChannel {
	if config == nil {
		config = channel.DefaultConfig()
	}
	promise := core.NewLoopPromise()
	ch := channel.NewDeferredWithConfig(promise.Future(), EmbedderOrigin, config)
	return &MessageChannel{
		loop:       loop,
		promise:    promise,
		channel:    ch,
		dispatcher: config.Dispatcher,
	}
}

// Port1 is the runtime-side port.
func (m *MessageChannel) Port1() *channel.Port {
	return m.channel.Port1
}

// Port2 is the embedder-side port.
func (m *MessageChannel) Port2() *channel.Port {
	return m.channel.Port2
}

// Start publishes the loop and delivers messages parked so far. Only the
// first call has an effect.
func (m *MessageChannel) Start() {
	m.startOnce.Do(func() {
		m.promise.Resolve(m.loop)
		if m.dispatcher != nil {
			m.dispatcher.DrainPendingTasks(m.loop)
			return
		}
		channel.DrainPendingMessages(m.loop)
	})
}

// Started reports whether Start has been called.
func (m *MessageChannel) Started() bool {
	return m.promise.Future().Ready()
}
