package msgport

import (
	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// Re-export commonly used types from the channel and core packages for convenience.
// This allows users to import only the msgport package for most use cases.

// Channel pairs two ports; Port1 owns Port2
type Channel = channel.Channel

// Port is one endpoint of a Channel
type Port = channel.Port

// Message is the unit exchanged between ports
type Message = channel.Message

// Handler receives messages on the port's loop
type Handler = channel.Handler

// Loop is a single-threaded execution context
type Loop = core.Loop

// LoopPromise resolves a LoopFuture exactly once
type LoopPromise = core.LoopPromise

// LoopFuture is a loop that may not exist yet
type LoopFuture = core.LoopFuture

// SingleThreadTaskRunner is the goroutine-backed Loop implementation
type SingleThreadTaskRunner = core.SingleThreadTaskRunner

// Send errors
var (
	ErrNoSink              = channel.ErrNoSink
	ErrNoOnMessage         = channel.ErrNoOnMessage
	ErrInvalidMessageEvent = channel.ErrInvalidMessageEvent
	ErrInvalidPortLoop     = channel.ErrInvalidPortLoop
)

// Constructors
var (
	NewChannel         = channel.New
	NewDeferredChannel = channel.NewDeferred
	NewMessage         = channel.NewMessage
	NewTextMessage     = channel.NewTextMessage
	NewLoopPromise     = core.NewLoopPromise
)

// NewLoop starts a new single-threaded loop with default settings.
func NewLoop() *SingleThreadTaskRunner {
	return core.NewSingleThreadTaskRunner()
}

// DrainPendingMessages delivers messages parked on the process-wide dispatcher to loop.
func DrainPendingMessages(loop Loop) bool {
	return channel.DrainPendingMessages(loop)
}

// Shutdown tears down the process-wide dispatcher, dropping parked messages.
func Shutdown() int {
	return dispatch.Shutdown()
}
