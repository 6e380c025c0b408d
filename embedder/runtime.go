package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
)

// ErrAlreadyRun is returned by a second call to Runtime.Run.
var ErrAlreadyRun = errors.New("embedder: runtime already run")

// Config holds configuration options for a Runtime.
type Config struct {
	// Loop configures the runtime's loop.
	Loop *core.RunnerConfig

	// Channel configures the runtime/embedder channel.
	Channel *channel.Config

	Logger core.Logger
}

// DefaultConfig returns a config with default loop and channel settings.
func DefaultConfig() *Config {
	logger := core.NewDefaultLogger()
	return &Config{
		Loop:    &core.RunnerConfig{Name: "runtime", Logger: logger},
		Channel: channel.DefaultConfig(),
		Logger:  logger,
	}
}

// Script runs on the runtime loop once Run starts.
type Script func(ctx context.Context, host *Host)

// Runtime runs a script on a dedicated loop and exposes a port the embedder
// can use from any goroutine. Embedder sends fail with channel.ErrNoOnMessage
// until the script registers its handler, and again once the loop is released.
// Messages the script posts before registering its handler are parked until
// it does.
type Runtime struct {
	loop    *core.SingleThreadTaskRunner
	channel *MessageChannel
	holder  *LoopHolder
	logger  core.Logger

	runOnce sync.Once
}

// NewRuntime creates the loop and the channel; the script is not run yet.
func NewRuntime(config *Config) *Runtime {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	loop := core.NewSingleThreadTaskRunnerWithConfig(config.Loop)
	rt := &Runtime{
		loop:    loop,
		channel: NewMessageChannel(loop, config.Channel),
		logger:  logger,
	}
	rt.holder = NewLoopHolder(rt.release)
	return rt
}

// release shuts the loop down after the tasks already queued on it, so
// deliveries scheduled before the last reference went away still run.
func (rt *Runtime) release() {
	rt.loop.PostTask(func(ctx context.Context) {
		rt.detach()
		rt.loop.Shutdown()
	})
}

// detach clears the runtime-side handler. Embedder sends then fail with
// channel.ErrNoOnMessage instead of reaching a closed loop.
func (rt *Runtime) detach() {
	rt.channel.Port1().OnMessage(nil)
}

// Port returns the embedder-side port.
func (rt *Runtime) Port() *channel.Port {
	return rt.channel.Port2()
}

// Started reports whether the script has registered its message handler.
// Sends from the embedder fail with channel.ErrNoOnMessage until then.
func (rt *Runtime) Started() bool {
	return rt.channel.Started()
}

// Loop returns the runtime loop.
func (rt *Runtime) Loop() *core.SingleThreadTaskRunner {
	return rt.loop
}

// Run executes script on the runtime loop and blocks until the loop is
// released: either the script returns without holding a reference, or the
// last Host.Unref happens. The loop is stopped before Run returns. Run may be
// called once.
func (rt *Runtime) Run(ctx context.Context, script Script) error {
	err := ErrAlreadyRun
	rt.runOnce.Do(func() {
		err = rt.run(ctx, script)
	})
	return err
}

func (rt *Runtime) run(ctx context.Context, script Script) error {
	defer func() {
		rt.detach()
		rt.loop.Stop()
	}()

	host := &Host{rt: rt}
	if err := rt.loop.TryPostTask(func(taskCtx context.Context) {
		script(taskCtx, host)
		if rt.holder.Count() == 0 {
			rt.logger.Debug("script finished without references, releasing loop")
			rt.release()
		}
	}); err != nil {
		return fmt.Errorf("runtime: start script: %w", err)
	}

	if err := rt.loop.WaitShutdown(ctx); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return nil
}

// Host is the script's view of the runtime.
type Host struct {
	rt *Runtime

	mu         sync.Mutex
	registered bool
}

// OnMessage installs the script's handler on the runtime port. The first
// registration starts the channel, delivering anything the embedder already sent.
func (h *Host) OnMessage(handler channel.Handler) {
	h.rt.channel.Port1().OnMessage(handler)

	h.mu.Lock()
	first := !h.registered && handler != nil
	if first {
		h.registered = true
	}
	h.mu.Unlock()

	if first {
		h.rt.channel.Start()
	}
}

// PostMessage sends data to the embedder.
func (h *Host) PostMessage(data string) error {
	return h.rt.channel.Port1().Send(channel.NewTextMessage(data))
}

// Ref keeps the runtime loop alive until a matching Unref.
func (h *Host) Ref() {
	h.rt.holder.Ref()
}

func (h *Host) Unref() {
	h.rt.holder.Unref()
}
