package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/worker"
)

func TestRateLimitedDisabledPassesThrough(t *testing.T) {
	w := worker.RateLimited(noop(), 0, 0)
	out, err := w.Execute(context.Background(), worker.Input{})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSuccess, out.Status)
}

func TestRateLimitedAllowsBurstThenBlocks(t *testing.T) {
	w := worker.RateLimited(noop(), 1000, 1)
	start := time.Now()
	out, err := w.Execute(context.Background(), worker.Input{})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSuccess, out.Status)

	// The burst of 1 is spent, so the second call waits for the next token
	// (1ms at 1000 calls/s).
	out, err = w.Execute(context.Background(), worker.Input{})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSuccess, out.Status)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Microsecond)
}

func TestRateLimitedRespectsContextCancellation(t *testing.T) {
	slow := worker.Func(func(_ context.Context, _ worker.Input) (worker.Output, error) {
		return worker.Output{Status: worker.StatusSuccess}, nil
	})
	// Exhaust the single-token burst, then force the next Wait to block past a
	// cancelled context instead of the real limiter interval.
	w := worker.RateLimited(slow, 0.001, 1)
	_, err := w.Execute(context.Background(), worker.Input{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out, err := w.Execute(ctx, worker.Input{})
	require.NoError(t, err)
	assert.Equal(t, worker.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "rate limit wait")
}
