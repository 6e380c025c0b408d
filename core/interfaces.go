package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution on a loop.
// Message handlers run as loop tasks, so a panicking handler ends up here.
//
// Implementations should be thread-safe as they may be called from several loops.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the loop)
	// - loopName: The name of the loop where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, loopName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, loopName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("loop", loopName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects message-passing metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on hot paths, from arbitrary goroutines, and must be
// non-blocking and thread-safe.
type Metrics interface {
	// RecordMessageSent records the synchronous outcome of a port send.
	// result is a stable label such as "no_error" or "no_sink".
	RecordMessageSent(origin string, result string)

	// RecordMessageDelivered records a handler invocation and the time from
	// scheduling to delivery.
	RecordMessageDelivered(origin string, latency time.Duration)

	// RecordMessageDropped records a scheduled delivery that found no sink or
	// no handler at execution time.
	RecordMessageDropped(reason string)

	// RecordPendingDepth records the pending queue depth.
	RecordPendingDepth(depth int)

	// RecordDrained records how many pending tasks a drain resubmitted.
	RecordDrained(count int)

	// RecordTaskPanic records that a task panicked on a loop.
	RecordTaskPanic(loopName string, panicInfo any)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordMessageSent(origin string, result string)              {}
func (m *NilMetrics) RecordMessageDelivered(origin string, latency time.Duration) {}
func (m *NilMetrics) RecordMessageDropped(reason string)                          {}
func (m *NilMetrics) RecordPendingDepth(depth int)                                {}
func (m *NilMetrics) RecordDrained(count int)                                     {}
func (m *NilMetrics) RecordTaskPanic(loopName string, panicInfo any)              {}

// =============================================================================
// RunnerConfig: Configuration for SingleThreadTaskRunner
// =============================================================================

// RunnerConfig holds configuration options for a SingleThreadTaskRunner.
// All handlers are optional; if not provided, default implementations will be used.
type RunnerConfig struct {
	// Name labels the loop in logs and metrics.
	Name string

	// LockOSThread pins the loop goroutine to one OS thread for its lifetime.
	LockOSThread bool

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records task panics. Defaults to NilMetrics.
	Metrics Metrics

	Logger Logger
}

// DefaultRunnerConfig returns a config with default handlers.
func DefaultRunnerConfig() *RunnerConfig {
	logger := NewDefaultLogger()
	return &RunnerConfig{
		PanicHandler: &DefaultPanicHandler{Logger: logger},
		Metrics:      &NilMetrics{},
		Logger:       logger,
	}
}

func (c *RunnerConfig) withDefaults() *RunnerConfig {
	d := DefaultRunnerConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = d.Metrics
	}
	return &out
}
