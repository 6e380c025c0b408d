package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func durationOf(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// newTestLoop starts a quiet loop that is stopped when the test ends.
func newTestLoop(t *testing.T, name string) *SingleThreadTaskRunner {
	t.Helper()
	loop := NewSingleThreadTaskRunnerWithConfig(&RunnerConfig{
		Name:   name,
		Logger: NewNoOpLogger(),
	})
	t.Cleanup(loop.Stop)
	return loop
}

func waitIdle(t *testing.T, loop *SingleThreadTaskRunner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.WaitIdle(ctx))
}

// recorder collects values appended from loop tasks.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

// panicRecorder is a PanicHandler that remembers what it saw.
type panicRecorder struct {
	mu       sync.Mutex
	loopName string
	info     any
	stack    []byte
}

func (p *panicRecorder) HandlePanic(ctx context.Context, loopName string, panicInfo any, stackTrace []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loopName = loopName
	p.info = panicInfo
	p.stack = stackTrace
}

func (p *panicRecorder) seen() (string, any, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loopName, p.info, len(p.stack)
}
