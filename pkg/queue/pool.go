package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// WorkerPool runs submitted jobs on a fixed set of workers. Jobs beyond the
// worker count queue FIFO; the submitter receives results on a per-job
// channel and shares no other state with the pool.
type WorkerPool struct {
	workers []*Worker
	jobs    chan *submission

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// forceStop cancels the context every in-flight job runs under. Stop
	// calls it after the graceful drain window expires.
	forceStop context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	processed atomic.Int64

	cfg    Config
	logger *slog.Logger
}

// NewWorkerPool creates a pool. Zero Config fields fall back to the package
// defaults. The pool does not run jobs until Start is called.
func NewWorkerPool(cfg Config, logger *slog.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &WorkerPool{
		workers: make([]*Worker, 0, cfg.Workers),
		jobs:    make(chan *submission, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		cfg:     cfg,
		logger:  logger.With("component", "queue.pool"),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return models.E(models.ErrorConflict, "worker pool is stopped")
	}
	if p.started {
		p.logger.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.forceStop = cancel

	p.logger.Info("Starting worker pool",
		"workers", p.cfg.Workers,
		"queue_capacity", cap(p.jobs))
	for i := 0; i < p.cfg.Workers; i++ {
		w := newWorker(fmt.Sprintf("worker-%d", i), p)
		p.workers = append(p.workers, w)
		w.start(runCtx)
	}
	return nil
}

// Submit hands a job to the pool. An idle worker picks it up immediately;
// otherwise it queues FIFO. When the queue is full, Submit blocks until
// space frees, ctx is cancelled, or the pool stops.
//
// The returned channel receives exactly one Result and is buffered, so the
// caller may abandon it without blocking a worker.
func (p *WorkerPool) Submit(ctx context.Context, job Job) (<-chan Result, error) {
	if job.ID == "" {
		return nil, models.E(models.ErrorValidation, "job id is required")
	}
	if job.Run == nil {
		return nil, models.E(models.ErrorValidation, "job run function is required")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started {
		return nil, models.E(models.ErrorConflict, "worker pool is not started")
	}
	if p.stopped {
		return nil, models.E(models.ErrorConflict, "worker pool is stopped")
	}

	sub := &submission{
		ctx:      ctx,
		job:      job,
		res:      make(chan Result, 1),
		enqueued: time.Now(),
	}
	select {
	case p.jobs <- sub:
		return sub.res, nil
	case <-p.stopCh:
		return nil, models.E(models.ErrorConflict, "worker pool is stopped")
	case <-ctx.Done():
		return nil, models.WrapError(models.ErrorCancelled, ctx.Err(),
			fmt.Sprintf("submission of job %s cancelled", job.ID))
	}
}

// Stop shuts the pool down. Workers finish their current jobs within the
// configured grace window; after that, in-flight job contexts are cancelled.
// Jobs still queued when the workers exit receive a conflict Result so no
// submitter is left waiting. Stop is idempotent and blocks until all
// goroutines have exited.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(p.stop)
}

func (p *WorkerPool) stop() {
	p.logger.Info("Stopping worker pool", "queued", len(p.jobs))

	// Closing stopCh first unblocks any Submit waiting on a full queue, so
	// taking the write lock below cannot deadlock against it.
	close(p.stopCh)
	p.mu.Lock()
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	if started {
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(p.cfg.StopGrace):
			p.logger.Warn("Graceful drain window expired, cancelling in-flight jobs",
				"grace", p.cfg.StopGrace)
			p.forceStop()
			<-done
		}
		p.forceStop()
	}

	// All workers have exited. Holding the write lock guarantees no Submit
	// is mid-enqueue, so draining here leaves the queue permanently empty.
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case sub := <-p.jobs:
			sub.res <- Result{
				JobID: sub.job.ID,
				Err: models.Ef(models.ErrorConflict,
					"worker pool stopped before job %s started", sub.job.ID),
				Waited: time.Since(sub.enqueued),
			}
		default:
			p.logger.Info("Worker pool stopped", "jobs_processed", p.processed.Load())
			return
		}
	}
}

// QueueDepth reports how many jobs are waiting for a worker.
func (p *WorkerPool) QueueDepth() int {
	return len(p.jobs)
}

// Workers reports the configured worker count.
func (p *WorkerPool) Workers() int {
	return p.cfg.Workers
}

// Health returns a snapshot of the pool and its workers.
func (p *WorkerPool) Health() *PoolHealth {
	p.mu.RLock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	started, stopped := p.started, p.stopped
	p.mu.RUnlock()

	stats := make([]WorkerHealth, len(workers))
	active := 0
	for i, w := range workers {
		stats[i] = w.Health()
		if stats[i].Status == WorkerStatusWorking {
			active++
		}
	}
	return &PoolHealth{
		Healthy:       started && !stopped && len(workers) > 0,
		TotalWorkers:  len(workers),
		ActiveWorkers: active,
		QueueDepth:    len(p.jobs),
		QueueCapacity: cap(p.jobs),
		JobsProcessed: p.processed.Load(),
		Workers:       stats,
	}
}
