package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/queue"
)

// phaseRun executes one phase of a task: it schedules subtasks in
// dependency order, retries failures within the mode's budget, and folds
// results and accounting back into the task.
type phaseRun struct {
	o           *Orchestrator
	st          *taskState
	log         *slog.Logger
	pubCtx      context.Context
	phase       *models.Phase
	totalPhases int

	start   time.Time
	results map[string]any
	files   []string
}

type phaseOutcomeKind int

const (
	phaseCompleted phaseOutcomeKind = iota
	phaseSkipped
	phaseFailed
	phaseCancelled
)

type phaseOutcome struct {
	kind    phaseOutcomeKind
	taskErr models.TaskError
}

// subtaskOutcome is the terminal result of one subtask, retries included.
type subtaskOutcome struct {
	sub       *models.Subtask
	ok        bool
	cancelled bool
	result    *models.AgentResult
	err       models.TaskError
}

func (pr *phaseRun) execute(ctx context.Context) phaseOutcome {
	pr.start = time.Now()
	pr.results = make(map[string]any)

	ph := pr.phase
	taskID := pr.st.task.ID
	pr.st.update(func(*models.Task) { ph.Status = models.PhaseRunning })
	pr.o.publish(pr.pubCtx, events.EventPhaseStarted, taskID, map[string]any{
		"phase":         ph.Number,
		"name":          ph.Name,
		"parallel":      ph.Parallel,
		"required":      ph.Required,
		"subtask_count": len(ph.Subtasks),
	})
	pr.log.Info("Phase started", "phase", ph.Number, "name", ph.Name, "subtasks", len(ph.Subtasks))

	if len(ph.Subtasks) == 0 {
		return pr.complete()
	}

	levels, err := pr.o.agents.ExecutionOrder(ph.AgentTypes())
	if err != nil {
		return pr.failOrSkip(models.TaskError{
			Type:    models.TypeOf(err),
			Message: err.Error(),
			Phase:   ph.Number,
		})
	}
	levelOf := make(map[models.AgentType]int, len(ph.Subtasks))
	for i, level := range levels {
		for _, t := range level {
			levelOf[t] = i
		}
	}
	groups := make([][]*models.Subtask, len(levels))
	for _, sub := range ph.Subtasks {
		i := levelOf[sub.AgentType]
		groups[i] = append(groups[i], sub)
	}

	// Same-phase depends_on edges gate waves inside a level; edges into
	// earlier phases are already satisfied.
	byID := make(map[string]*models.Subtask, len(ph.Subtasks))
	for _, sub := range ph.Subtasks {
		byID[sub.ID] = sub
	}
	tq := queue.NewTaskQueue()
	for _, sub := range ph.Subtasks {
		var deps []string
		for _, dep := range sub.DependsOn {
			if _, ok := byID[dep]; ok {
				deps = append(deps, dep)
			}
		}
		if err := tq.AddTask(sub.ID, deps); err != nil {
			return pr.failOrSkip(models.TaskError{
				Type:    models.TypeOf(err),
				Message: err.Error(),
				Phase:   ph.Number,
			})
		}
	}

	for _, group := range groups {
		pending := make(map[string]struct{}, len(group))
		for _, sub := range group {
			pending[sub.ID] = struct{}{}
		}
		for len(pending) > 0 {
			if ctx.Err() != nil {
				return pr.cancelRemaining()
			}
			var wave []*models.Subtask
			for _, id := range tq.AvailableTasks() {
				if _, ok := pending[id]; ok {
					wave = append(wave, byID[id])
				}
			}
			if len(wave) == 0 {
				return pr.failOrSkip(models.TaskError{
					Type:    models.ErrorUnresolvable,
					Message: fmt.Sprintf("phase %d has unsatisfiable subtask dependencies", ph.Number),
					Phase:   ph.Number,
				})
			}
			if !ph.Parallel {
				wave = wave[:1]
			}

			var (
				failure   *models.TaskError
				cancelled bool
			)
			for _, out := range pr.runWave(ctx, wave) {
				switch {
				case out.ok:
					if err := tq.MarkCompleted(out.sub.ID); err != nil {
						pr.log.Error("Subtask bookkeeping failed", "subtask_id", out.sub.ID, "error", err)
					}
					delete(pending, out.sub.ID)
					pr.results[string(out.sub.AgentType)] = out.result.Clone()
					pr.st.prior[out.sub.AgentType] = out.result
					pr.mergeFiles(out.result.FilesModified)
				case out.cancelled:
					cancelled = true
				default:
					if failure == nil {
						e := out.err
						failure = &e
					}
				}
			}
			if cancelled {
				return pr.cancelRemaining()
			}
			if terr := pr.costExceeded(); terr != nil {
				return pr.fail(*terr)
			}
			if failure != nil {
				return pr.failOrSkip(*failure)
			}
		}
	}
	return pr.complete()
}

// runWave executes one dependency wave. Parallel phases run the whole
// wave concurrently; sequential phases only ever pass a single subtask.
func (pr *phaseRun) runWave(ctx context.Context, wave []*models.Subtask) []subtaskOutcome {
	outcomes := make([]subtaskOutcome, len(wave))
	if len(wave) == 1 {
		outcomes[0] = pr.runSubtask(ctx, wave[0])
		return outcomes
	}
	var wg sync.WaitGroup
	for i, sub := range wave {
		wg.Add(1)
		go func(i int, sub *models.Subtask) {
			defer wg.Done()
			outcomes[i] = pr.runSubtask(ctx, sub)
		}(i, sub)
	}
	wg.Wait()
	return outcomes
}

// runSubtask executes one subtask with the mode's retry budget. Every
// attempt leaves an execution record; retries stop as soon as the error
// is not worth retrying.
func (pr *phaseRun) runSubtask(ctx context.Context, sub *models.Subtask) subtaskOutcome {
	out := subtaskOutcome{sub: sub}
	attempts := pr.st.config.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := pr.o.backoff(attempt - 1)
			pr.log.Info("Retrying subtask",
				"subtask_id", sub.ID, "agent", sub.AgentType, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				pr.markSubtask(sub, models.SubtaskCancelled)
				out.cancelled = true
				return out
			}
		}

		result, err := pr.attempt(ctx, sub, attempt)
		if err == nil && result != nil && result.Success {
			pr.markSubtask(sub, models.SubtaskCompleted)
			pr.st.update(func(*models.Task) { sub.Output = result })
			out.ok = true
			out.result = result
			return out
		}

		if err != nil {
			if models.IsType(err, models.ErrorCancelled) || ctx.Err() != nil {
				pr.markSubtask(sub, models.SubtaskCancelled)
				out.cancelled = true
				return out
			}
			lastErr = err
			if !retryEligible(err) {
				break
			}
			continue
		}
		// A failed result with no error means validation said no;
		// retrying the same inputs will not change the answer.
		if result != nil && result.Error != "" {
			lastErr = models.E(models.ErrorValidation, result.Error)
		} else {
			lastErr = models.E(models.ErrorInternal, "agent returned no result")
		}
		break
	}

	pr.markSubtask(sub, models.SubtaskFailed)
	out.err = models.TaskError{
		Type:    models.TypeOf(lastErr),
		Message: lastErr.Error(),
		Phase:   pr.phase.Number,
		Agent:   sub.AgentType,
	}
	pr.log.Warn("Subtask failed",
		"subtask_id", sub.ID, "agent", sub.AgentType, "error", lastErr, "error_type", models.TypeOf(lastErr))
	return out
}

// retryEligible widens the default retry predicate: timeouts are retried
// while the budget lasts, and agent slot contention, though a conflict,
// clears itself as other subtasks finish.
func retryEligible(err error) bool {
	return models.IsRetryable(err) ||
		models.IsType(err, models.ErrorTimeout) ||
		models.IsType(err, models.ErrorConflict)
}

// attempt runs one agent execution on the worker pool and records it.
func (pr *phaseRun) attempt(ctx context.Context, sub *models.Subtask, attempt int) (*models.AgentResult, error) {
	task := pr.st.task
	started := time.Now().UTC()
	pr.markSubtask(sub, models.SubtaskRunning)

	at := &models.AgentTask{
		TaskID:      task.ID,
		SubtaskID:   sub.ID,
		PhaseNumber: pr.phase.Number,
		Description: task.Description,
		Mode:        task.Mode,
		Complexity:  task.Complexity,
	}
	if len(sub.Input) > 0 {
		at.Context = make(map[string]any, len(sub.Input))
		for k, v := range sub.Input {
			at.Context[k] = v
		}
	}

	var (
		agentRes *models.AgentResult
		agentErr error
	)
	job := queue.Job{
		ID:      fmt.Sprintf("%s/%s#%d", task.ID, sub.ID, attempt),
		Timeout: pr.st.config.TaskTimeout,
		Run: func(jobCtx context.Context) error {
			res, err := pr.o.agents.ExecuteWithDependencies(jobCtx, sub.AgentType, at, pr.st.prior)
			agentRes, agentErr = res, err
			return err
		},
	}
	resCh, err := pr.o.pool.Submit(ctx, job)
	if err != nil {
		pr.record(sub, started, nil, 0, err)
		return nil, err
	}
	r := <-resCh
	if r.Err != nil {
		// A timed-out job may still be writing agentRes; do not read it.
		pr.record(sub, started, nil, r.Duration, r.Err)
		return nil, r.Err
	}
	pr.record(sub, started, agentRes, r.Duration, agentErr)
	return agentRes, agentErr
}

// record appends the execution row for one attempt and, when the attempt
// produced billable work, folds tokens and cost into the task, the
// tracker, and a cost.incurred event. Failed attempts bill too.
func (pr *phaseRun) record(sub *models.Subtask, started time.Time, result *models.AgentResult, dur time.Duration, execErr error) {
	task := pr.st.task
	desc := pr.st.strategy.SelectModel(task.Complexity)

	exec := &models.Execution{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		PhaseNumber: pr.phase.Number,
		AgentType:   sub.AgentType,
		ModelUsed:   desc.Model,
		Status:      models.SubtaskCompleted,
		Duration:    dur,
		StartedAt:   started,
	}
	switch {
	case execErr != nil && models.IsType(execErr, models.ErrorCancelled):
		exec.Status = models.SubtaskCancelled
		exec.Error = execErr.Error()
	case execErr != nil:
		exec.Status = models.SubtaskFailed
		exec.Error = execErr.Error()
	case result != nil && !result.Success:
		exec.Status = models.SubtaskFailed
		exec.Error = result.Error
	}
	if result != nil {
		if m, ok := result.Output["model"].(string); ok && m != "" {
			exec.ModelUsed = m
		}
		exec.TokensIn = result.TokensIn
		exec.TokensOut = result.TokensOut
		exec.Cost = result.Cost
	}

	pr.st.update(func(t *models.Task) {
		t.Executions = append(t.Executions, exec)
		if result != nil {
			t.TokensUsed += result.Tokens()
			t.Cost += result.Cost
			if result.Success {
				t.AddFiles(result.FilesModified)
			}
		}
	})

	if result == nil || (result.Tokens() == 0 && result.Cost == 0) {
		return
	}
	pr.o.tracker.Add(cost.Record{
		TaskID:    task.ID,
		AgentType: string(sub.AgentType),
		Provider:  desc.Provider,
		Model:     exec.ModelUsed,
		Operation: "agent.execute",
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		Cost:      result.Cost,
	})
	pr.o.publish(pr.pubCtx, events.EventCostIncurred, task.ID, map[string]any{
		"subtask_id": sub.ID,
		"agent":      string(sub.AgentType),
		"model":      exec.ModelUsed,
		"tokens_in":  result.TokensIn,
		"tokens_out": result.TokensOut,
		"cost":       result.Cost.USD(),
	})
}

// costExceeded checks the task's accumulated cost against the mode's
// ceiling. When breached it publishes cost.limit.reached and returns the
// terminal error for the task.
func (pr *phaseRun) costExceeded() *models.TaskError {
	pr.st.mu.RLock()
	current := pr.st.task.Cost
	pr.st.mu.RUnlock()
	if pr.st.strategy.ShouldContinue(current) {
		return nil
	}
	limit := ""
	if pr.st.config.CostLimit != nil {
		limit = pr.st.config.CostLimit.String()
	}
	pr.o.publish(pr.pubCtx, events.EventCostLimitReached, pr.st.task.ID, map[string]any{
		"cost":  current.USD(),
		"limit": limit,
	})
	pr.log.Warn("Cost limit reached", "cost", current, "limit", limit)
	return &models.TaskError{
		Type:    models.ErrorCostExceeded,
		Message: fmt.Sprintf("task cost %s reached the %s mode limit %s", current, pr.st.task.Mode, limit),
		Phase:   pr.phase.Number,
	}
}

func (pr *phaseRun) complete() phaseOutcome {
	ph := pr.phase
	dur := time.Since(pr.start)
	pr.st.update(func(t *models.Task) {
		ph.Status = models.PhaseCompleted
		ph.Duration = dur
		t.Results[ph.Number] = pr.results
	})
	pr.o.publish(pr.pubCtx, events.EventPhaseCompleted, pr.st.task.ID, map[string]any{
		"phase":       ph.Number,
		"name":        ph.Name,
		"duration_ms": dur.Milliseconds(),
		"files":       pr.phaseFiles(),
		"progress":    pr.progress(),
	})
	pr.log.Info("Phase completed", "phase", ph.Number, "name", ph.Name, "duration", dur)
	return phaseOutcome{kind: phaseCompleted}
}

// failOrSkip resolves a subtask failure at the phase level: required
// phases fail the task, optional ones are skipped and the task moves on.
func (pr *phaseRun) failOrSkip(terr models.TaskError) phaseOutcome {
	if pr.phase.Required {
		return pr.fail(terr)
	}
	ph := pr.phase
	dur := time.Since(pr.start)
	pr.st.update(func(t *models.Task) {
		ph.Status = models.PhaseSkipped
		ph.Duration = dur
		t.Results[ph.Number] = pr.results
	})
	pr.o.publish(pr.pubCtx, events.EventPhaseSkipped, pr.st.task.ID, map[string]any{
		"phase":       ph.Number,
		"name":        ph.Name,
		"duration_ms": dur.Milliseconds(),
		"files":       pr.phaseFiles(),
		"error":       terr.Message,
		"progress":    pr.progress(),
	})
	pr.log.Warn("Optional phase skipped", "phase", ph.Number, "name", ph.Name, "error", terr.Message)
	return phaseOutcome{kind: phaseSkipped}
}

func (pr *phaseRun) fail(terr models.TaskError) phaseOutcome {
	ph := pr.phase
	dur := time.Since(pr.start)
	pr.st.update(func(t *models.Task) {
		ph.Status = models.PhaseFailed
		ph.Duration = dur
		t.Results[ph.Number] = pr.results
	})
	pr.o.publish(pr.pubCtx, events.EventPhaseFailed, pr.st.task.ID, map[string]any{
		"phase":       ph.Number,
		"name":        ph.Name,
		"duration_ms": dur.Milliseconds(),
		"files":       pr.phaseFiles(),
		"error":       terr.Message,
	})
	pr.log.Error("Phase failed", "phase", ph.Number, "name", ph.Name, "error", terr.Message)
	return phaseOutcome{kind: phaseFailed, taskErr: terr}
}

// cancelRemaining marks every unfinished subtask cancelled and hands the
// phase back to the pipeline. The phase itself keeps its last status;
// the task-level cancellation is the authoritative record.
func (pr *phaseRun) cancelRemaining() phaseOutcome {
	pr.st.update(func(t *models.Task) {
		for _, sub := range pr.phase.Subtasks {
			if sub.Status == models.SubtaskPending || sub.Status == models.SubtaskRunning {
				sub.Status = models.SubtaskCancelled
			}
		}
		t.Results[pr.phase.Number] = pr.results
	})
	return phaseOutcome{kind: phaseCancelled}
}

func (pr *phaseRun) markSubtask(sub *models.Subtask, status models.SubtaskStatus) {
	pr.st.update(func(*models.Task) { sub.Status = status })
}

func (pr *phaseRun) mergeFiles(paths []string) {
	for _, p := range paths {
		found := false
		for _, have := range pr.files {
			if have == p {
				found = true
				break
			}
		}
		if !found {
			pr.files = append(pr.files, p)
		}
	}
}

// phaseFiles returns the files touched so far in this phase, never nil.
func (pr *phaseRun) phaseFiles() []string {
	if pr.files == nil {
		return []string{}
	}
	return pr.files
}

// progress is the percentage of phases finished once this one ends.
func (pr *phaseRun) progress() int {
	return pr.phase.Number * 100 / pr.totalPhases
}
