// Package orchestrator drives tasks through the analyze → decompose →
// execute pipeline. It owns the in-memory task registry, enforces the
// task state machine, schedules subtasks onto the worker pool in
// dependency order, and publishes every lifecycle change on the event
// bus.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/agent"
	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/mode"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/queue"
)

// subscriberBuffer bounds a Subscribe channel; events beyond it are
// dropped rather than blocking the bus.
const subscriberBuffer = 256

// Deps wires the orchestrator to the subsystems it coordinates. Bus,
// Agents, Modes, and Pool are required; Tracker defaults to a fresh
// tracker and Logger to a no-op logger.
type Deps struct {
	Bus     *bus.Bus
	Agents  *agent.Registry
	Modes   *mode.Manager
	Pool    *queue.WorkerPool
	Tracker *cost.Tracker
	Logger  *slog.Logger
}

// SubmitRequest describes one task submission. Mode defaults to the
// manager's current mode. Priority is recorded on the task, range 0-100.
type SubmitRequest struct {
	Description string      `json:"description"`
	ProjectID   string      `json:"project_id,omitempty"`
	Mode        models.Mode `json:"mode,omitempty"`
	Priority    int         `json:"priority,omitempty"`
}

// SubscribeFilter narrows a live event feed. Zero fields match every
// event; TaskID matches both the aggregate id and the task_id data key.
type SubscribeFilter struct {
	TaskID string
	Types  []string
}

func (f SubscribeFilter) matches(e models.Event) bool {
	if f.TaskID != "" && e.AggregateID != f.TaskID {
		if id, _ := e.Data["task_id"].(string); id != f.TaskID {
			return false
		}
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of orchestrator load and spend.
type Stats struct {
	TotalTasks   int                       `json:"total_tasks"`
	ByStatus     map[models.TaskStatus]int `json:"by_status"`
	ActiveAgents int                       `json:"active_agents"`
	QueueDepth   int                       `json:"queue_depth"`
	TotalTokens  int64                     `json:"total_tokens"`
	TotalCost    cost.Cost                 `json:"total_cost"`
	CurrentMode  models.Mode               `json:"current_mode"`
}

// taskState pairs a task with its execution plumbing. The run goroutine
// owns the pipeline; everyone else reads through snapshot().
type taskState struct {
	mu       sync.RWMutex
	task     *models.Task
	strategy mode.Strategy
	config   *models.ModeConfig
	ctx      context.Context
	cancel   context.CancelFunc
	approve  chan struct{}
	done     chan struct{}

	// prior carries each agent type's latest successful result. Only the
	// run goroutine touches it, and only between execution waves.
	prior map[models.AgentType]*models.AgentResult
}

func (st *taskState) snapshot() *models.Task {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.task.Clone()
}

func (st *taskState) status() models.TaskStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.task.Status
}

func (st *taskState) update(fn func(t *models.Task)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st.task)
}

// Orchestrator coordinates task execution end to end. All methods are
// safe for concurrent use.
type Orchestrator struct {
	bus     *bus.Bus
	agents  *agent.Registry
	modes   *mode.Manager
	pool    *queue.WorkerPool
	tracker *cost.Tracker
	logger  *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*taskState
	order []string // submission order, oldest first

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
	started    bool
	stopped    bool

	// backoff computes the delay before retry n (1-based); tests swap it
	// out for an immediate one.
	backoff func(retry int) time.Duration
}

// New builds an orchestrator over its dependencies. Call Start before
// submitting tasks.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Bus == nil || deps.Agents == nil || deps.Modes == nil || deps.Pool == nil {
		return nil, models.E(models.ErrorValidation,
			"orchestrator needs a bus, an agent registry, a mode manager, and a worker pool")
	}
	if deps.Tracker == nil {
		deps.Tracker = cost.NewTracker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Orchestrator{
		bus:     deps.Bus,
		agents:  deps.Agents,
		modes:   deps.Modes,
		pool:    deps.Pool,
		tracker: deps.Tracker,
		logger:  logger.With("component", "orchestrator"),
		tasks:   make(map[string]*taskState),
		backoff: retryDelay,
	}, nil
}

// Start readies the orchestrator for submissions. ctx bounds every task
// it runs; cancelling it cancels them all.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return models.E(models.ErrorConflict, "orchestrator already stopped")
	}
	if o.started {
		o.logger.Warn("Orchestrator already started")
		return nil
	}
	o.baseCtx, o.baseCancel = context.WithCancel(ctx)
	o.started = true
	o.logger.Info("Orchestrator started", "mode", o.modes.Current())
	return nil
}

// Stop cancels every active task and waits for their pipelines to wind
// down. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(o.stop)
}

func (o *Orchestrator) stop() {
	o.mu.Lock()
	if !o.started {
		o.stopped = true
		o.mu.Unlock()
		return
	}
	o.stopped = true
	cancelAll := o.baseCancel
	o.mu.Unlock()

	o.logger.Info("Orchestrator stopping")
	cancelAll()
	o.wg.Wait()
	o.logger.Info("Orchestrator stopped")
}

// Submit validates the request, registers a pending task, publishes
// task.created, and launches the pipeline. It returns the new task id
// without waiting for execution.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return o.submit(ctx, req, "")
}

func (o *Orchestrator) submit(ctx context.Context, req SubmitRequest, retryOf string) (string, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return "", models.E(models.ErrorValidation, "task description is required")
	}
	if req.Priority < 0 || req.Priority > 100 {
		return "", models.Ef(models.ErrorValidation, "priority %d is out of range 0-100", req.Priority)
	}
	m := req.Mode
	if m == "" {
		m = o.modes.Current()
	} else if !m.IsValid() {
		return "", models.Ef(models.ErrorValidation, "unknown mode %q", m)
	}
	strategy, err := o.modes.Strategy(m)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return "", models.E(models.ErrorConflict, "orchestrator is not running")
	}
	task := models.NewTask(uuid.NewString(), description, req.ProjectID, m, req.Priority)
	st := &taskState{
		task:     task,
		strategy: strategy,
		config:   strategy.Config(),
		approve:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		prior:    make(map[models.AgentType]*models.AgentResult),
	}
	st.ctx, st.cancel = context.WithCancel(o.baseCtx)
	o.tasks[task.ID] = st
	o.order = append(o.order, task.ID)
	o.wg.Add(1)
	o.mu.Unlock()

	data := map[string]any{
		"description": description,
		"mode":        string(m),
		"priority":    req.Priority,
	}
	if req.ProjectID != "" {
		data["project_id"] = req.ProjectID
	}
	if retryOf != "" {
		data["retry_of"] = retryOf
	}
	o.publish(ctx, events.EventTaskCreated, task.ID, data)
	o.logger.Info("Task submitted", "task_id", task.ID, "mode", m, "priority", req.Priority)

	go o.run(st)
	return task.ID, nil
}

// Get returns a deep copy of the task, safe to serialize while the
// pipeline keeps mutating the original.
func (o *Orchestrator) Get(taskID string) (*models.Task, error) {
	st := o.lookup(taskID)
	if st == nil {
		return nil, models.Ef(models.ErrorNotFound, "task %s not found", taskID)
	}
	return st.snapshot(), nil
}

// List returns tasks newest-first, filtered and paginated. Page and
// PageSize default to 1 and 20.
func (o *Orchestrator) List(filters models.TaskFilters) *models.TaskListResponse {
	page := filters.Page
	if page < 1 {
		page = 1
	}
	size := filters.PageSize
	if size < 1 {
		size = 20
	}

	o.mu.RLock()
	states := make([]*taskState, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		states = append(states, o.tasks[o.order[i]])
	}
	o.mu.RUnlock()

	matched := make([]*models.Task, 0, len(states))
	for _, st := range states {
		t := st.snapshot()
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.ProjectID != "" && t.ProjectID != filters.ProjectID {
			continue
		}
		if filters.Mode != "" && t.Mode != filters.Mode {
			continue
		}
		matched = append(matched, t)
	}

	total := len(matched)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return &models.TaskListResponse{
		Tasks:      matched[start:end],
		TotalCount: total,
		Page:       page,
		PageSize:   size,
	}
}

// Cancel stops a task in any non-terminal state. Cancelling a task that
// already reached a terminal state is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	st := o.lookup(taskID)
	if st == nil {
		return models.Ef(models.ErrorNotFound, "task %s not found", taskID)
	}
	if st.status().IsTerminal() {
		return nil
	}
	o.logger.Info("Cancelling task", "task_id", taskID)
	st.cancel()
	return nil
}

// Retry clones a failed task into a fresh submission. Only failed tasks
// are eligible; the clone keeps the description, mode, and priority and
// starts with clean results and accounting.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) (string, error) {
	st := o.lookup(taskID)
	if st == nil {
		return "", models.Ef(models.ErrorNotFound, "task %s not found", taskID)
	}
	t := st.snapshot()
	if t.Status != models.TaskFailed {
		return "", models.Ef(models.ErrorConflict, "task %s is %s; only failed tasks can be retried", taskID, t.Status)
	}
	return o.submit(ctx, SubmitRequest{
		Description: t.Description,
		Mode:        t.Mode,
		Priority:    t.Priority,
	}, taskID)
}

// Approve releases a task paused at the approval gate. Approving an
// already-signalled but still paused task is a no-op.
func (o *Orchestrator) Approve(taskID string) error {
	st := o.lookup(taskID)
	if st == nil {
		return models.Ef(models.ErrorNotFound, "task %s not found", taskID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.task.Status != models.TaskPaused {
		return models.Ef(models.ErrorConflict, "task %s is %s; only paused tasks can be approved", taskID, st.task.Status)
	}
	select {
	case st.approve <- struct{}{}:
	default:
	}
	return nil
}

// SweepTerminal drops terminal tasks that finished before cutoff from the
// registry and returns their IDs. Tasks still pending, running, or paused
// are never swept. Swept tasks stop resolving through Get and List; their
// persisted event history is the caller's to prune.
func (o *Orchestrator) SweepTerminal(cutoff time.Time) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var swept []string
	for id, st := range o.tasks {
		st.mu.RLock()
		terminal := st.task.Status.IsTerminal()
		finished := st.task.CreatedAt
		if st.task.CompletedAt != nil {
			finished = *st.task.CompletedAt
		}
		st.mu.RUnlock()
		if !terminal || !finished.Before(cutoff) {
			continue
		}
		delete(o.tasks, id)
		swept = append(swept, id)
	}
	if len(swept) > 0 {
		kept := o.order[:0]
		for _, id := range o.order {
			if _, ok := o.tasks[id]; ok {
				kept = append(kept, id)
			}
		}
		o.order = kept
	}
	return swept
}

// Subscribe attaches a live event feed matching the filter. Events
// arrive in publish order; once the buffer fills further events are
// dropped with a logged warning. The returned cancel detaches the feed
// and closes the channel.
func (o *Orchestrator) Subscribe(filter SubscribeFilter) (<-chan models.Event, func()) {
	ch := make(chan models.Event, subscriberBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	subID, err := o.bus.Subscribe(bus.Wildcard, func(ctx context.Context, e models.Event) error {
		if !filter.matches(e) {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- e:
		default:
			o.logger.Warn("Subscriber buffer full, dropping event", "type", e.Type)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Event subscription failed", "error", err)
		close(ch)
		return ch, func() {}
	}
	cancel := func() {
		o.bus.Unsubscribe(subID)
		// The bus dispatches to a handler snapshot, so a delivery may
		// still be in flight; the closed flag keeps it off the channel.
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}

// Stats reports task counts by status alongside live agent, queue, and
// spend figures.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	states := make([]*taskState, 0, len(o.tasks))
	for _, st := range o.tasks {
		states = append(states, st)
	}
	o.mu.RUnlock()

	s := Stats{
		TotalTasks:   len(states),
		ByStatus:     make(map[models.TaskStatus]int),
		ActiveAgents: o.agents.ActiveCount(),
		QueueDepth:   o.pool.QueueDepth(),
		TotalCost:    o.tracker.Total(),
		CurrentMode:  o.modes.Current(),
	}
	for _, st := range states {
		st.mu.RLock()
		s.ByStatus[st.task.Status]++
		s.TotalTokens += st.task.TokensUsed
		st.mu.RUnlock()
	}
	return s
}

func (o *Orchestrator) lookup(taskID string) *taskState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[taskID]
}

// publish emits a task-scoped event, stamping task_id into the payload.
// Failures are logged, not propagated; the pipeline never stalls on a
// misbehaving subscriber.
func (o *Orchestrator) publish(ctx context.Context, eventType, taskID string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["task_id"] = taskID
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := o.bus.Publish(ctx, eventType, data, bus.WithAggregate(taskID, models.AggregateTask)); err != nil {
		o.logger.Warn("Event publish failed", "type", eventType, "task_id", taskID, "error", err)
	}
}
