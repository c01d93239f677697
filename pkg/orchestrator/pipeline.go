package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/mode"
	"github.com/devflow-ai/devflow/pkg/models"
)

// Retry backoff: exponential from base with ±jitter, capped.
const (
	backoffBase   = 500 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// retryDelay computes the pause before retry n (1-based).
func retryDelay(retry int) time.Duration {
	d := float64(backoffBase) * math.Pow(2, float64(retry-1))
	d *= 1 + backoffJitter*(2*rand.Float64()-1)
	if d > float64(backoffCap) {
		d = float64(backoffCap)
	}
	return time.Duration(d)
}

// run drives one task through analyze → decompose → approval gate →
// phases → finalize. It is the only goroutine that mutates the task
// after submission.
func (o *Orchestrator) run(st *taskState) {
	defer o.wg.Done()
	defer close(st.done)
	defer st.cancel()

	ctx := st.ctx
	taskID := st.task.ID
	log := o.logger.With("task_id", taskID)
	// Lifecycle events outlive the task's own context; a cancelled task
	// still reports how it ended.
	pubCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		o.finalizeCancelled(pubCtx, st, log)
		return
	}

	o.setStatus(st, models.TaskAnalyzing)
	complexity := mode.AnalyzeComplexity(st.task.Description)
	st.update(func(t *models.Task) {
		t.Complexity = complexity
		now := time.Now().UTC()
		t.StartedAt = &now
	})
	o.publish(pubCtx, events.EventTaskStarted, taskID, map[string]any{
		"mode":       string(st.task.Mode),
		"complexity": string(complexity),
	})

	phases, err := st.strategy.Decompose(st.task.Description, complexity)
	if err != nil {
		log.Error("Task decomposition failed", "error", err)
		o.finalizeFailed(pubCtx, st, log, models.TaskError{
			Type:    models.TypeOf(err),
			Message: err.Error(),
		})
		return
	}
	st.update(func(t *models.Task) { t.Phases = phases })
	log.Info("Task decomposed", "complexity", complexity, "phases", len(phases))

	if st.config.RequiresHumanApproval {
		o.setStatus(st, models.TaskPaused)
		o.publish(pubCtx, events.EventTaskPaused, taskID, map[string]any{"reason": "awaiting approval"})
		log.Info("Task awaiting approval", "phases", len(phases))
		select {
		case <-st.approve:
			o.setStatus(st, models.TaskRunning)
			o.publish(pubCtx, events.EventTaskResumed, taskID, nil)
			log.Info("Task approved")
		case <-ctx.Done():
			o.finalizeCancelled(pubCtx, st, log)
			return
		}
	} else {
		o.setStatus(st, models.TaskRunning)
	}

	for _, ph := range phases {
		if ctx.Err() != nil {
			o.finalizeCancelled(pubCtx, st, log)
			return
		}
		st.update(func(t *models.Task) { t.CurrentPhase = ph.Number })
		pr := &phaseRun{
			o:           o,
			st:          st,
			log:         log,
			pubCtx:      pubCtx,
			phase:       ph,
			totalPhases: len(phases),
		}
		outcome := pr.execute(ctx)
		switch outcome.kind {
		case phaseCancelled:
			o.finalizeCancelled(pubCtx, st, log)
			return
		case phaseFailed:
			o.finalizeFailed(pubCtx, st, log, outcome.taskErr)
			return
		}
	}
	o.finalizeCompleted(pubCtx, st, log)
}

// setStatus applies a state-machine transition. The pipeline only
// requests legal ones; a refused transition is logged and skipped.
func (o *Orchestrator) setStatus(st *taskState, next models.TaskStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.task.Status.CanTransitionTo(next) {
		o.logger.Error("Illegal status transition",
			"task_id", st.task.ID, "from", st.task.Status, "to", next)
		return
	}
	st.task.Status = next
}

func (o *Orchestrator) finalizeCompleted(ctx context.Context, st *taskState, log *slog.Logger) {
	st.mu.Lock()
	if st.task.Status.CanTransitionTo(models.TaskCompleted) {
		st.task.Status = models.TaskCompleted
	}
	now := time.Now().UTC()
	st.task.CompletedAt = &now
	snap := st.task.Clone()
	st.mu.Unlock()

	o.publish(ctx, events.EventTaskCompleted, snap.ID, map[string]any{
		"duration_ms":    taskDurationMS(snap),
		"phases":         len(snap.Phases),
		"tokens_used":    snap.TokensUsed,
		"cost":           snap.Cost.USD(),
		"files_modified": snap.FilesModified,
	})
	log.Info("Task completed",
		"phases", len(snap.Phases), "tokens", snap.TokensUsed,
		"cost", snap.Cost, "files", len(snap.FilesModified))
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, st *taskState, log *slog.Logger, terr models.TaskError) {
	st.mu.Lock()
	st.task.Errors = append(st.task.Errors, terr)
	if st.task.Status.CanTransitionTo(models.TaskFailed) {
		st.task.Status = models.TaskFailed
	}
	now := time.Now().UTC()
	st.task.CompletedAt = &now
	id := st.task.ID
	st.mu.Unlock()

	data := map[string]any{
		"error":      terr.Message,
		"error_type": string(terr.Type),
	}
	if terr.Phase > 0 {
		data["phase"] = terr.Phase
	}
	if terr.Agent != "" {
		data["agent"] = string(terr.Agent)
	}
	o.publish(ctx, events.EventTaskFailed, id, data)
	log.Error("Task failed", "error", terr.Message, "error_type", terr.Type, "phase", terr.Phase)
}

func (o *Orchestrator) finalizeCancelled(ctx context.Context, st *taskState, log *slog.Logger) {
	st.mu.Lock()
	if st.task.Status.CanTransitionTo(models.TaskCancelled) {
		st.task.Status = models.TaskCancelled
	}
	now := time.Now().UTC()
	st.task.CompletedAt = &now
	id := st.task.ID
	st.mu.Unlock()

	o.publish(ctx, events.EventTaskCancelled, id, nil)
	log.Info("Task cancelled")
}

func taskDurationMS(t *models.Task) int64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt).Milliseconds()
}
