package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Worker pulls jobs off the pool queue and runs them one at a time.
type Worker struct {
	id     string
	pool   *WorkerPool
	logger *slog.Logger

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		logger:       pool.logger.With("worker_id", id),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) start(ctx context.Context) {
	w.pool.wg.Add(1)
	go func() {
		defer w.pool.wg.Done()
		w.run(ctx)
	}()
}

func (w *Worker) run(ctx context.Context) {
	w.logger.Debug("Worker started")
	for {
		// Checked separately first so a stop signal wins over a non-empty
		// queue; queued jobs are answered by the pool's drain instead.
		select {
		case <-w.pool.stopCh:
			w.logger.Debug("Worker stopping", "jobs_processed", w.processedCount())
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-w.pool.stopCh:
			w.logger.Debug("Worker stopping", "jobs_processed", w.processedCount())
			return
		case <-ctx.Done():
			return
		case sub := <-w.pool.jobs:
			w.process(ctx, sub)
		}
	}
}

// process runs one job under the submitter's context, bounded by the job
// timeout and by pool force-stop. On timeout the worker abandons the job
// and reports a timeout Result; the job goroutine exits once Run honors
// its cancelled context.
func (w *Worker) process(runCtx context.Context, sub *submission) {
	job := sub.job
	waited := time.Since(sub.enqueued)
	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	start := time.Now()
	base := sub.ctx
	if base == nil {
		base = context.Background()
	}
	var jobCtx context.Context
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(base, job.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(base)
	}
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()
	done := make(chan error, 1)
	w.pool.wg.Add(1)
	go func() {
		defer w.pool.wg.Done()
		done <- w.runJob(jobCtx, job)
	}()

	var err error
	select {
	case err = <-done:
		err = classify(jobCtx, job, err)
	case <-jobCtx.Done():
		err = classify(jobCtx, job, jobCtx.Err())
		if models.IsType(err, models.ErrorTimeout) {
			w.logger.Warn("Job timed out", "job_id", job.ID, "timeout", job.Timeout)
		}
	}

	sub.res <- Result{
		JobID:    job.ID,
		Err:      err,
		Duration: time.Since(start),
		Waited:   waited,
	}
	w.finish()
}

func (w *Worker) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job panicked", "job_id", job.ID, "panic", r)
			err = models.Ef(models.ErrorInternal, "job %s panicked: %v", job.ID, r)
		}
	}()
	return job.Run(ctx)
}

// classify maps context expiry onto the error taxonomy: a blown deadline is
// always a timeout failure regardless of what Run returned.
func classify(jobCtx context.Context, job Job, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		if models.IsType(err, models.ErrorTimeout) {
			return err
		}
		return models.WrapError(models.ErrorTimeout, err,
			fmt.Sprintf("job %s exceeded its %s timeout", job.ID, job.Timeout))
	case models.IsType(err, models.ErrorTimeout), models.IsType(err, models.ErrorCancelled):
		return err
	case errors.Is(err, context.Canceled):
		return models.WrapError(models.ErrorCancelled, err,
			fmt.Sprintf("job %s cancelled", job.ID))
	default:
		return err
	}
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

func (w *Worker) finish() {
	w.mu.Lock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.pool.processed.Add(1)
}

func (w *Worker) processedCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.jobsProcessed
}

// Health returns a snapshot of this worker's state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}
