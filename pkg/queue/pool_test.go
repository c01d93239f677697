package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devflow-ai/devflow/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestPool(t *testing.T, cfg Config) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool(cfg, nil)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Stop)
	return pool
}

func await(t *testing.T, res <-chan Result) Result {
	t.Helper()
	select {
	case r := <-res:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
		return Result{}
	}
}

func recvSignal(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to start")
		return ""
	}
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 2})

	var ran atomic.Int32
	var results []<-chan Result
	for i := 0; i < 5; i++ {
		res, err := pool.Submit(context.Background(), Job{
			ID: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results {
		r := await(t, res)
		assert.NoError(t, r.Err)
	}
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, int64(5), pool.Health().JobsProcessed)
}

func TestPoolConcurrencyBoundedByWorkerCount(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 2, QueueSize: 8})

	entered := make(chan string, 4)
	release := make(chan struct{})
	var results []<-chan Result
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		res, err := pool.Submit(context.Background(), Job{
			ID: id,
			Run: func(ctx context.Context) error {
				entered <- id
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
		require.NoError(t, err)
		results = append(results, res)
	}

	// Both workers pick up a job; the other two must wait in the queue.
	recvSignal(t, entered)
	recvSignal(t, entered)
	select {
	case id := <-entered:
		t.Fatalf("job %s ran beyond the worker count", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	for _, res := range results {
		assert.NoError(t, await(t, res).Err)
	}
}

func TestPoolQueueIsFIFO(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1, QueueSize: 8})

	started := make(chan string, 1)
	release := make(chan struct{})
	blocker, err := pool.Submit(context.Background(), Job{
		ID: "blocker",
		Run: func(ctx context.Context) error {
			started <- "blocker"
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	require.NoError(t, err)
	recvSignal(t, started)

	var mu sync.Mutex
	var order []string
	var results []<-chan Result
	for _, id := range []string{"a", "b", "c"} {
		res, err := pool.Submit(context.Background(), Job{
			ID: id,
			Run: func(ctx context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			},
		})
		require.NoError(t, err)
		results = append(results, res)
	}

	close(release)
	assert.NoError(t, await(t, blocker).Err)
	for _, res := range results {
		r := await(t, res)
		assert.NoError(t, r.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPoolSubmitValidation(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})

	_, err := pool.Submit(context.Background(), Job{Run: func(ctx context.Context) error { return nil }})
	assert.True(t, models.IsType(err, models.ErrorValidation))

	_, err = pool.Submit(context.Background(), Job{ID: "no-run"})
	assert.True(t, models.IsType(err, models.ErrorValidation))
}

func TestPoolSubmitBeforeStartRejected(t *testing.T) {
	pool := NewWorkerPool(Config{Workers: 1}, nil)
	_, err := pool.Submit(context.Background(), Job{ID: "early", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorConflict))
	assert.Contains(t, err.Error(), "not started")
}

func TestPoolSubmitAfterStopRejected(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})
	pool.Stop()

	_, err := pool.Submit(context.Background(), Job{ID: "late", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorConflict))
}

func TestPoolStopIsIdempotent(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1})
	pool.Stop()
	assert.NotPanics(t, pool.Stop)

	err := pool.Start(context.Background())
	assert.True(t, models.IsType(err, models.ErrorConflict))
}

func TestPoolStopDeliversQueuedJobResults(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1, QueueSize: 8, StopGrace: 50 * time.Millisecond})

	started := make(chan string, 1)
	blocker, err := pool.Submit(context.Background(), Job{
		ID: "busy",
		Run: func(ctx context.Context) error {
			started <- "busy"
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	recvSignal(t, started)

	var queued []<-chan Result
	for _, id := range []string{"q1", "q2"} {
		res, err := pool.Submit(context.Background(), Job{
			ID:  id,
			Run: func(ctx context.Context) error { return nil },
		})
		require.NoError(t, err)
		queued = append(queued, res)
	}

	pool.Stop()

	// The in-flight job is force-cancelled after the grace window.
	r := await(t, blocker)
	assert.True(t, models.IsType(r.Err, models.ErrorCancelled), "got %v", r.Err)

	// Queued jobs never run but still get an answer.
	for _, res := range queued {
		r := await(t, res)
		require.Error(t, r.Err)
		assert.True(t, models.IsType(r.Err, models.ErrorConflict))
		assert.Contains(t, r.Err.Error(), "stopped before job")
	}
}

func TestPoolSubmitHonorsContextWhenQueueFull(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 1, QueueSize: 1, StopGrace: 50 * time.Millisecond})

	started := make(chan string, 1)
	release := make(chan struct{})
	blocker, err := pool.Submit(context.Background(), Job{
		ID: "busy",
		Run: func(ctx context.Context) error {
			started <- "busy"
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	require.NoError(t, err)
	recvSignal(t, started)

	_, err = pool.Submit(context.Background(), Job{ID: "fills-queue", Run: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Submit(ctx, Job{ID: "overflow", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorCancelled))

	close(release)
	assert.NoError(t, await(t, blocker).Err)
}

func TestPoolHealthReflectsActivity(t *testing.T) {
	pool := newTestPool(t, Config{Workers: 2})

	h := pool.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, 2, h.TotalWorkers)
	assert.Equal(t, 0, h.ActiveWorkers)

	started := make(chan string, 1)
	release := make(chan struct{})
	res, err := pool.Submit(context.Background(), Job{
		ID: "observed",
		Run: func(ctx context.Context) error {
			started <- "observed"
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	require.NoError(t, err)
	recvSignal(t, started)

	h = pool.Health()
	assert.Equal(t, 1, h.ActiveWorkers)
	var busy *WorkerHealth
	for i := range h.Workers {
		if h.Workers[i].Status == WorkerStatusWorking {
			busy = &h.Workers[i]
		}
	}
	require.NotNil(t, busy)
	assert.Equal(t, "observed", busy.CurrentJobID)

	close(release)
	assert.NoError(t, await(t, res).Err)
	assert.Eventually(t, func() bool {
		return pool.Health().ActiveWorkers == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), pool.Health().JobsProcessed)

	pool.Stop()
	assert.False(t, pool.Health().Healthy)
}

func TestPoolDefaultsApplied(t *testing.T) {
	pool := NewWorkerPool(Config{}, nil)
	assert.Equal(t, DefaultWorkers, pool.Workers())
	assert.Equal(t, DefaultQueueSize, cap(pool.jobs))
	assert.Equal(t, DefaultStopGrace, pool.cfg.StopGrace)
}
