package channel

import (
	"time"

	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// DefaultPollTimeout bounds the readiness probe a send performs on an
// unresolved loop future.
const DefaultPollTimeout = time.Millisecond

// Config holds configuration shared by the two ports of a channel.
// Zero fields fall back to defaults.
type Config struct {
	// Dispatcher schedules deliveries. Defaults to dispatch.Default().
	Dispatcher *dispatch.Dispatcher

	// PollTimeout bounds the probe of a pending loop future. Negative disables waiting.
	PollTimeout time.Duration

	Logger  core.Logger
	Metrics core.Metrics
	Tracer  *core.ObjectTracer
}

// DefaultConfig returns a config using the process-wide dispatcher.
func DefaultConfig() *Config {
	return &Config{
		Dispatcher:  dispatch.Default(),
		PollTimeout: DefaultPollTimeout,
		Logger:      core.NewDefaultLogger(),
		Metrics:     &core.NilMetrics{},
		Tracer:      core.DefaultTracer(),
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Dispatcher == nil {
		out.Dispatcher = dispatch.Default()
	}
	if out.PollTimeout == 0 {
		out.PollTimeout = DefaultPollTimeout
	}
	if out.Logger == nil {
		out.Logger = core.NewDefaultLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &core.NilMetrics{}
	}
	if out.Tracer == nil {
		out.Tracer = core.DefaultTracer()
	}
	return &out
}
