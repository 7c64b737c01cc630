package forkjoin

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_invalidOptions(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		opt  Option
	}{
		{`zero workers`, WithWorkerCount(0)},
		{`negative workers`, WithWorkerCount(-1)},
		{`zero deque capacity`, WithDequeCapacity(0)},
		{`negative deque capacity`, WithDequeCapacity(-8)},
		{`zero steal backoff`, WithStealBackoff(0)},
		{`negative steal backoff`, WithStealBackoff(-time.Millisecond)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPool(tc.opt)
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestNewPool_nilOptionSkipped(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)
	p, err := NewPool(nil, WithWorkerCount(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumWorkers())
	require.NoError(t, p.Close())
}

func TestResolveOptions_defaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.NotZero(t, cfg.workerCount)
	assert.Equal(t, 256, cfg.dequeCapacity)
	assert.Equal(t, time.Millisecond, cfg.stealBackoff)
	assert.False(t, cfg.eagerCancel)
	assert.False(t, cfg.metricsEnabled)
	assert.Nil(t, cfg.logger)
}

func TestWithLogger(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)
	logger := logiface.New[logiface.Event](
		logiface.WithWriter[logiface.Event](logiface.NewWriterFunc(func(event logiface.Event) error {
			// Discard events for this test
			return nil
		})),
	)
	p, err := NewPool(WithWorkerCount(1), WithLogger(logger))
	require.NoError(t, err)

	_, err = Invoke(context.Background(), p, New(func(ctx context.Context) (int, error) { return 1, nil }))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestWithMetrics(t *testing.T) {
	defer checkNumGoroutines(3 * time.Second)(t)
	p, err := NewPool(WithWorkerCount(2), WithMetrics(true))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := Invoke(context.Background(), p, New(func(ctx context.Context) (int, error) {
			time.Sleep(time.Millisecond)
			return i, nil
		}))
		require.NoError(t, err)
	}

	// Shutdown first so every in-flight Record has landed.
	require.NoError(t, p.Shutdown(context.Background()))

	m := p.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, 10, m.Latency.Sample())
	assert.GreaterOrEqual(t, m.Latency.P50, time.Millisecond)
	assert.GreaterOrEqual(t, m.Latency.Max, m.Latency.P50)
}
