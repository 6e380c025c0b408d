package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-message-port/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// LoopSnapshotProvider provides current loop stats snapshots.
type LoopSnapshotProvider interface {
	Stats() core.LoopStats
}

// DispatcherSnapshotProvider provides current dispatcher stats snapshots.
type DispatcherSnapshotProvider interface {
	Stats() core.DispatcherStats
}

// SnapshotPoller periodically exports loop, dispatcher and tracer snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu          sync.RWMutex
	loops       map[string]LoopSnapshotProvider
	dispatchers map[string]DispatcherSnapshotProvider
	tracer      *core.ObjectTracer

	loopPending  *prom.GaugeVec
	loopExecuted *prom.GaugeVec
	loopRejected *prom.GaugeVec
	loopClosed   *prom.GaugeVec

	dispatcherPending  *prom.GaugeVec
	dispatcherEnqueued *prom.GaugeVec
	dispatcherDrained  *prom.GaugeVec
	dispatcherWatched  *prom.GaugeVec

	liveObjects *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "msgport"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	p := &SnapshotPoller{
		interval:           interval,
		loops:              make(map[string]LoopSnapshotProvider),
		dispatchers:        make(map[string]DispatcherSnapshotProvider),
		loopPending:        gauge("loop_pending", "Queued tasks per loop.", "loop"),
		loopExecuted:       gauge("loop_executed", "Executed task count snapshot per loop.", "loop"),
		loopRejected:       gauge("loop_rejected", "Rejected task count snapshot per loop.", "loop"),
		loopClosed:         gauge("loop_closed", "Loop closed state (1=closed, 0=open).", "loop"),
		dispatcherPending:  gauge("dispatcher_pending", "Pending tasks per dispatcher.", "dispatcher"),
		dispatcherEnqueued: gauge("dispatcher_enqueued", "Enqueued task count snapshot per dispatcher.", "dispatcher"),
		dispatcherDrained:  gauge("dispatcher_drained", "Drained task count snapshot per dispatcher.", "dispatcher"),
		dispatcherWatched:  gauge("dispatcher_watched_futures", "Unresolved futures with parked tasks.", "dispatcher"),
		liveObjects:        gauge("live_objects", "Live objects per kind.", "kind"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.loopPending, &p.loopExecuted, &p.loopRejected, &p.loopClosed,
		&p.dispatcherPending, &p.dispatcherEnqueued, &p.dispatcherDrained, &p.dispatcherWatched,
		&p.liveObjects,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddLoop adds or replaces a loop snapshot provider by name.
func (p *SnapshotPoller) AddLoop(name string, provider LoopSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "loop")
	p.mu.Lock()
	p.loops[name] = provider
	p.mu.Unlock()
}

// AddDispatcher adds or replaces a dispatcher snapshot provider by name.
func (p *SnapshotPoller) AddDispatcher(name string, provider DispatcherSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "dispatcher")
	p.mu.Lock()
	p.dispatchers[name] = provider
	p.mu.Unlock()
}

// SetTracer exports live-object counts from tracer.
func (p *SnapshotPoller) SetTracer(tracer *core.ObjectTracer) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.tracer = tracer
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.loops {
		stats := provider.Stats()
		p.loopPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.loopExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.loopRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		if stats.Closed {
			p.loopClosed.WithLabelValues(name).Set(1)
		} else {
			p.loopClosed.WithLabelValues(name).Set(0)
		}
	}

	for name, provider := range p.dispatchers {
		stats := provider.Stats()
		p.dispatcherPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.dispatcherEnqueued.WithLabelValues(name).Set(float64(stats.Enqueued))
		p.dispatcherDrained.WithLabelValues(name).Set(float64(stats.Drained))
		p.dispatcherWatched.WithLabelValues(name).Set(float64(stats.WatchedFutures))
	}

	if p.tracer != nil {
		for kind, stat := range p.tracer.Snapshot() {
			p.liveObjects.WithLabelValues(kind).Set(float64(stat.Active()))
		}
	}
}
