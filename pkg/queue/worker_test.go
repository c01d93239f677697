package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/models"
)

func TestWorkerJobTimeoutProducesTimeoutFailure(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	res, err := pool.Submit(context.Background(), Job{
		ID:      "slow",
		Timeout: 40 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	r := await(t, res)
	require.Error(t, r.Err)
	assert.True(t, models.IsType(r.Err, models.ErrorTimeout), "got %v", r.Err)
	assert.Contains(t, r.Err.Error(), "exceeded its 40ms timeout")
	assert.GreaterOrEqual(t, r.Duration, 40*time.Millisecond)

	// The worker is free again after abandoning the timed-out job.
	next, err := pool.Submit(context.Background(), Job{
		ID:  "quick",
		Run: func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.NoError(t, await(t, next).Err)
}

func TestWorkerTimeoutWinsOverJobError(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	res, err := pool.Submit(context.Background(), Job{
		ID:      "late-cancel",
		Timeout: 30 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return models.WrapError(models.ErrorCancelled, ctx.Err(), "agent saw cancellation")
		},
	})
	require.NoError(t, err)

	r := await(t, res)
	assert.True(t, models.IsType(r.Err, models.ErrorTimeout), "got %v", r.Err)
}

func TestWorkerSubmitterCancellationPropagates(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	started := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := pool.Submit(ctx, Job{
		ID: "cancellable",
		Run: func(ctx context.Context) error {
			started <- "cancellable"
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	recvSignal(t, started)

	cancel()
	r := await(t, res)
	require.Error(t, r.Err)
	assert.True(t, models.IsType(r.Err, models.ErrorCancelled), "got %v", r.Err)
}

func TestWorkerPanickedJobReportsInternalError(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	res, err := pool.Submit(context.Background(), Job{
		ID:  "explosive",
		Run: func(ctx context.Context) error { panic("boom") },
	})
	require.NoError(t, err)

	r := await(t, res)
	require.Error(t, r.Err)
	assert.True(t, models.IsType(r.Err, models.ErrorInternal))
	assert.Contains(t, r.Err.Error(), "panicked")

	// The pool survives the panic.
	next, err := pool.Submit(context.Background(), Job{
		ID:  "after-panic",
		Run: func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.NoError(t, await(t, next).Err)
}

func TestWorkerJobWithoutTimeoutRunsToCompletion(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	res, err := pool.Submit(context.Background(), Job{
		ID: "unhurried",
		Run: func(ctx context.Context) error {
			select {
			case <-time.After(30 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	require.NoError(t, err)

	r := await(t, res)
	assert.NoError(t, r.Err)
	assert.GreaterOrEqual(t, r.Duration, 30*time.Millisecond)
}

func TestWorkerJobErrorPassedThrough(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	res, err := pool.Submit(context.Background(), Job{
		ID: "failing",
		Run: func(ctx context.Context) error {
			return models.E(models.ErrorProvider, "model unavailable")
		},
	})
	require.NoError(t, err)

	r := await(t, res)
	require.Error(t, r.Err)
	assert.True(t, models.IsType(r.Err, models.ErrorProvider))
	assert.Equal(t, "failing", r.JobID)
}
