// Package queue provides the bounded worker pool that hosts subtask
// execution and the dependency-tracking task queue that feeds it.
package queue

import (
	"context"
	"time"
)

// Defaults applied by NewWorkerPool when the corresponding Config field is
// zero.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	DefaultStopGrace = 5 * time.Second
)

// Config controls pool sizing and shutdown behavior.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize bounds the FIFO backlog; Submit blocks once it is full.
	QueueSize int
	// StopGrace is how long Stop waits for in-flight jobs before
	// cancelling them.
	StopGrace time.Duration
}

// Job is a single unit of work. Run receives a context that is cancelled
// when the submitter's context is cancelled, when Timeout elapses, or when
// the pool is force-stopped; Run must honor it.
type Job struct {
	ID string
	// Timeout is the wall-clock limit for Run, measured from the moment a
	// worker picks the job up. Zero means no limit.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Result reports one finished job. Err is nil on success; a timed-out job
// carries a models.ErrorTimeout error.
type Result struct {
	JobID string
	Err   error
	// Duration is the execution time on the worker.
	Duration time.Duration
	// Waited is the time the job spent queued before a worker picked it up.
	Waited time.Duration
}

// submission pairs a job with its result channel. res is buffered so
// workers never block delivering; the submitter owns the read side.
type submission struct {
	ctx      context.Context
	job      Job
	res      chan Result
	enqueued time.Time
}

// WorkerStatus is the current state of a single worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth is a point-in-time snapshot of the whole pool, exposed through
// the monitoring API.
type PoolHealth struct {
	Healthy       bool           `json:"healthy"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveWorkers int            `json:"active_workers"`
	QueueDepth    int            `json:"queue_depth"`
	QueueCapacity int            `json:"queue_capacity"`
	JobsProcessed int64          `json:"jobs_processed"`
	Workers       []WorkerHealth `json:"workers"`
}

// WorkerHealth describes a single worker.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}
