package channel

import (
	"context"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// Handler receives messages on the port's loop. ctx is the loop task context,
// so core.GetCurrentTaskRunner(ctx) returns the loop.
type Handler func(ctx context.Context, msg *Message)

// Port is one endpoint of a Channel. Sending on a port delivers to its sink,
// the other endpoint, on the sink's loop.
//
// A port references its sink weakly. Only the owning port of a pair (port1)
// also holds its sink strongly, so dropping the owner releases both unless the
// sink is referenced elsewhere.
type Port struct {
	origin  string
	sink    weak.Pointer[Port]
	binding loopBinding

	mu         sync.Mutex
	sinkHolder *Port
	handler    Handler

	dispatcher  *dispatch.Dispatcher
	pollTimeout time.Duration
	logger      core.Logger
	metrics     core.Metrics
}

func newPort(config *Config) *Port {
	p := &Port{
		dispatcher:  config.Dispatcher,
		pollTimeout: config.PollTimeout,
		logger:      config.Logger,
		metrics:     config.Metrics,
	}
	tracer := config.Tracer
	tracer.Add(core.TraceKindPort)
	runtime.AddCleanup(p, func(t *core.ObjectTracer) {
		t.Remove(core.TraceKindPort)
	}, tracer)
	return p
}

// Origin returns the origin tag stamped on messages this port claims.
func (p *Port) Origin() string {
	return p.origin
}

// Sink returns the paired port, or nil if it has been released.
func (p *Port) Sink() *Port {
	return p.sink.Value()
}

// Bound reports whether the port has a concrete loop.
func (p *Port) Bound() bool {
	return p.binding.state() == loopBound
}

// OnMessage installs handler, replacing any previous one. A nil handler clears
// the slot; deliveries already scheduled are then dropped.
func (p *Port) OnMessage(handler Handler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *Port) currentHandler() Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// Unref releases this port's strong hold on its sink, if it has one. The port
// itself stays usable for as long as the sink is alive.
func (p *Port) Unref() {
	p.mu.Lock()
	p.sinkHolder = nil
	p.mu.Unlock()
}

// Send schedules delivery of msg to the sink's handler and returns nil once
// scheduled. Delivery happens later on the sink's loop; if the sink or its
// handler is gone by then, the message is silently dropped.
//
// The first successful send claims msg for this port's sink. Errors:
// ErrNoSink, ErrNoOnMessage, ErrInvalidMessageEvent, ErrInvalidPortLoop.
func (p *Port) Send(msg *Message) error {
	err := p.send(msg)
	p.metrics.RecordMessageSent(p.origin, ResultOf(err).String())
	return err
}

func (p *Port) send(msg *Message) error {
	if msg == nil {
		return ErrInvalidMessageEvent
	}

	sink := p.sink.Value()
	if sink == nil {
		p.logger.Debug("sink port released", core.F("origin", p.origin))
		return ErrNoSink
	}

	// No handler yet: drop rather than queue, nothing promises one will appear.
	if sink.currentHandler() == nil {
		p.logger.Debug("sink has no message handler", core.F("origin", p.origin))
		return ErrNoOnMessage
	}

	if err := msg.claim(p.sink, p.origin); err != nil {
		return err
	}

	loop, future, err := sink.binding.resolve(p.pollTimeout)
	if err != nil {
		return err
	}

	task := p.deliveryTask(msg)
	if future != nil {
		// Deferred sinks always go through the pending queue so a delivery
		// never overtakes one parked before the loop was known.
		p.dispatcher.EnqueueTaskFor(future, task)
		return nil
	}
	p.dispatcher.Send(loop, task)
	return nil
}

// deliveryTask resolves the sink and its handler when it runs, not when it is
// scheduled. It holds the sink weakly so a parked delivery never keeps the
// sink alive.
func (p *Port) deliveryTask(msg *Message) core.Task {
	sinkRef := p.sink
	origin := p.origin
	logger := p.logger
	metrics := p.metrics
	scheduledAt := time.Now()

	return func(ctx context.Context) {
		sink := sinkRef.Value()
		if sink == nil {
			logger.Debug("dropping message: sink port released", core.F("origin", origin))
			metrics.RecordMessageDropped(NoSink.String())
			return
		}
		handler := sink.currentHandler()
		if handler == nil {
			logger.Debug("dropping message: sink has no handler", core.F("origin", origin))
			metrics.RecordMessageDropped(NoOnMessage.String())
			return
		}
		handler(ctx, msg)
		metrics.RecordMessageDelivered(origin, time.Since(scheduledAt))
	}
}

// =============================================================================
// Loop binding: {unset, pending future, bound}
// =============================================================================

type loopState int

const (
	loopUnset loopState = iota
	loopPending
	loopBound
)

type loopBinding struct {
	mu   sync.Mutex
	st   loopState
	loop core.Loop

	// future stays set after binding; it marks the binding as deferred.
	future *core.LoopFuture
}

func (b *loopBinding) bindLoop(loop core.Loop) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if loop == nil {
		b.st, b.loop, b.future = loopUnset, nil, nil
		return
	}
	b.st, b.loop, b.future = loopBound, loop, nil
}

func (b *loopBinding) bindFuture(future *core.LoopFuture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if future == nil {
		b.st, b.loop, b.future = loopUnset, nil, nil
		return
	}
	b.st, b.loop, b.future = loopPending, nil, future
}

func (b *loopBinding) state() loopState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// resolve returns the loop to deliver on. future is non-nil for deferred
// bindings; loop is nil while a bounded probe finds the future unresolved.
func (b *loopBinding) resolve(poll time.Duration) (loop core.Loop, future *core.LoopFuture, err error) {
	b.mu.Lock()
	switch b.st {
	case loopBound:
		loop, future = b.loop, b.future
		b.mu.Unlock()
		return loop, future, nil
	case loopUnset:
		b.mu.Unlock()
		return nil, nil, ErrInvalidPortLoop
	}
	future = b.future
	b.mu.Unlock()

	// Probe outside the lock; the wait is bounded by poll.
	resolved, ready := future.WaitFor(poll)
	if !ready {
		return nil, future, nil
	}
	if resolved == nil {
		return nil, nil, ErrInvalidPortLoop
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == loopPending {
		b.st, b.loop = loopBound, resolved
	}
	return resolved, future, nil
}
