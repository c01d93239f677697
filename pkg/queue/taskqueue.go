package queue

import (
	"sync"

	"github.com/devflow-ai/devflow/pkg/models"
)

// TaskQueue tracks completion across a set of interdependent work items and
// answers which ones are ready to run. IDs are opaque; a dependency that was
// never added simply never completes, so its dependents never become
// available.
type TaskQueue struct {
	mu        sync.RWMutex
	deps      map[string][]string
	completed map[string]struct{}
	order     []string
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		deps:      make(map[string][]string),
		completed: make(map[string]struct{}),
	}
}

// AddTask registers a work item and the ids it depends on.
func (q *TaskQueue) AddTask(id string, dependsOn []string) error {
	if id == "" {
		return models.E(models.ErrorValidation, "task id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.deps[id]; ok {
		return models.Ef(models.ErrorConflict, "task %s is already queued", id)
	}
	q.deps[id] = append([]string(nil), dependsOn...)
	q.order = append(q.order, id)
	return nil
}

// AvailableTasks returns, in insertion order, every task that is not yet
// completed and whose dependencies are all completed.
func (q *TaskQueue) AvailableTasks() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var ready []string
	for _, id := range q.order {
		if _, done := q.completed[id]; done {
			continue
		}
		if q.depsSatisfied(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (q *TaskQueue) depsSatisfied(id string) bool {
	for _, dep := range q.deps[id] {
		if _, done := q.completed[dep]; !done {
			return false
		}
	}
	return true
}

// MarkCompleted records a task as finished. Marking an already-completed
// task is a no-op.
func (q *TaskQueue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.deps[id]; !ok {
		return models.Ef(models.ErrorNotFound, "task %s is not queued", id)
	}
	q.completed[id] = struct{}{}
	return nil
}

// IsComplete reports whether every queued task has completed. An empty
// queue is complete.
func (q *TaskQueue) IsComplete() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.completed) == len(q.deps)
}

// Remaining returns the ids not yet completed, in insertion order.
func (q *TaskQueue) Remaining() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var left []string
	for _, id := range q.order {
		if _, done := q.completed[id]; !done {
			left = append(left, id)
		}
	}
	return left
}
