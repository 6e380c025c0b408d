package channel

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
)

// newTestConfig returns a config with a private dispatcher, tracer and metrics
// so tests do not share the process-wide pending queue.
func newTestConfig(t *testing.T) (*Config, *countingMetrics) {
	t.Helper()
	metrics := newCountingMetrics()
	return &Config{
		Dispatcher: dispatch.New(&dispatch.Config{
			Logger: core.NewNoOpLogger(),
			OnFatal: func(err error) {
				t.Errorf("unexpected fatal: %v", err)
			},
		}),
		Logger:  core.NewNoOpLogger(),
		Metrics: metrics,
		Tracer:  core.NewObjectTracer(),
	}, metrics
}

func newTestLoop(t *testing.T, name string) *core.SingleThreadTaskRunner {
	t.Helper()
	loop := core.NewSingleThreadTaskRunnerWithConfig(&core.RunnerConfig{
		Name:   name,
		Logger: core.NewNoOpLogger(),
	})
	t.Cleanup(loop.Stop)
	return loop
}

func waitIdle(t *testing.T, loop *core.SingleThreadTaskRunner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.WaitIdle(ctx))
}

// collectGarbage runs the collector until cond holds or the deadline passes.
func collectGarbage(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return cond()
	}, 2*time.Second, 10*time.Millisecond)
}

// delivery is one handler invocation.
type delivery struct {
	text   string
	origin string
	target *Port
	onLoop bool
}

type inbox struct {
	mu  sync.Mutex
	got []delivery
}

func (b *inbox) handler(loop core.Loop) Handler {
	return func(ctx context.Context, msg *Message) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.got = append(b.got, delivery{
			text:   msg.Text(),
			origin: msg.Origin(),
			target: msg.Target().Value(),
			onLoop: core.RunsOn(ctx, loop),
		})
	}
}

func (b *inbox) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.got))
	for _, d := range b.got {
		out = append(out, d.text)
	}
	return out
}

func (b *inbox) deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.got...)
}

type countingMetrics struct {
	mu        sync.Mutex
	sent      map[string]int
	delivered int
	dropped   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{sent: make(map[string]int), dropped: make(map[string]int)}
}

func (m *countingMetrics) RecordMessageSent(origin string, result string) {
	m.mu.Lock()
	m.sent[result]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordMessageDelivered(origin string, latency time.Duration) {
	m.mu.Lock()
	m.delivered++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordMessageDropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordPendingDepth(depth int)                   {}
func (m *countingMetrics) RecordDrained(count int)                        {}
func (m *countingMetrics) RecordTaskPanic(loopName string, panicInfo any) {}

func (m *countingMetrics) sentCount(result Result) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[result.String()]
}

func (m *countingMetrics) droppedCount(result Result) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[result.String()]
}

func (m *countingMetrics) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}
