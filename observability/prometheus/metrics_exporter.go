package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-message-port/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	LatencyBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	messagesSentTotal      *prom.CounterVec
	messagesDeliveredTotal *prom.CounterVec
	deliveryLatencySeconds *prom.HistogramVec
	messagesDroppedTotal   *prom.CounterVec
	pendingTasks           prom.Gauge
	drainedTotal           prom.Counter
	taskPanicTotal         *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "msgport"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.LatencyBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(0.00005, 4, 10)
	}

	sentVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Port send calls by origin and result.",
	}, []string{"origin", "result"})
	deliveredVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Messages handed to a sink handler.",
	}, []string{"origin"})
	latencyVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_latency_seconds",
		Help:      "Time from scheduling a delivery to running the handler.",
		Buckets:   buckets,
	}, []string{"origin"})
	droppedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Scheduled deliveries dropped at execution time.",
	}, []string{"reason"})
	pending := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_tasks",
		Help:      "Tasks parked in the pending queue.",
	})
	drained := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pending_drained_total",
		Help:      "Pending tasks resubmitted to a loop by drains.",
	})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"loop"})

	var err error
	if sentVec, err = registerCollector(reg, sentVec); err != nil {
		return nil, err
	}
	if deliveredVec, err = registerCollector(reg, deliveredVec); err != nil {
		return nil, err
	}
	if latencyVec, err = registerCollector(reg, latencyVec); err != nil {
		return nil, err
	}
	if droppedVec, err = registerCollector(reg, droppedVec); err != nil {
		return nil, err
	}
	if pending, err = registerCollector(reg, pending); err != nil {
		return nil, err
	}
	if drained, err = registerCollector(reg, drained); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		messagesSentTotal:      sentVec,
		messagesDeliveredTotal: deliveredVec,
		deliveryLatencySeconds: latencyVec,
		messagesDroppedTotal:   droppedVec,
		pendingTasks:           pending,
		drainedTotal:           drained,
		taskPanicTotal:         panicVec,
	}, nil
}

func (m *MetricsExporter) RecordMessageSent(origin string, result string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeLabel(origin, "none"), normalizeLabel(result, "unknown")).Inc()
}

func (m *MetricsExporter) RecordMessageDelivered(origin string, latency time.Duration) {
	if m == nil {
		return
	}
	origin = normalizeLabel(origin, "none")
	m.messagesDeliveredTotal.WithLabelValues(origin).Inc()
	m.deliveryLatencySeconds.WithLabelValues(origin).Observe(latency.Seconds())
}

func (m *MetricsExporter) RecordMessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDroppedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordPendingDepth(depth int) {
	if m == nil {
		return
	}
	m.pendingTasks.Set(float64(depth))
}

func (m *MetricsExporter) RecordDrained(count int) {
	if m == nil {
		return
	}
	m.drainedTotal.Add(float64(count))
}

func (m *MetricsExporter) RecordTaskPanic(loopName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(loopName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
