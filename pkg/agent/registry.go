package agent

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/devflow-ai/devflow/pkg/models"
)

// DefaultMaxConcurrent caps simultaneous executions when the registry is
// built without an explicit limit. It matches the default worker pool size
// so the two bounds agree.
const DefaultMaxConcurrent = 4

// agentDependencies fixes which agent types must have produced output before
// a given type runs. Types absent from the map have no prerequisites. The
// mapping is closed; callers cannot extend it at runtime.
var agentDependencies = map[models.AgentType][]models.AgentType{
	models.AgentArchitect: {models.AgentConcept},
	models.AgentImplement: {models.AgentArchitect},
	models.AgentTest:      {models.AgentImplement},
	models.AgentReview:    {models.AgentImplement},
	models.AgentSecurity:  {models.AgentImplement},
	models.AgentDocs:      {models.AgentImplement},
	models.AgentOptimize:  {models.AgentImplement, models.AgentTest},
	models.AgentDeploy:    {models.AgentTest, models.AgentReview},
}

// Registry tracks registered agents, answers dependency and ordering
// questions, and bounds how many executions run at once.
type Registry struct {
	mu       sync.RWMutex
	agents   map[models.AgentType]Agent
	active   map[models.AgentType]int
	inFlight int
	limit    int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry with the given concurrency limit.
// A non-positive limit falls back to DefaultMaxConcurrent.
func NewRegistry(maxConcurrent int, logger *slog.Logger) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Registry{
		agents: make(map[models.AgentType]Agent),
		active: make(map[models.AgentType]int),
		limit:  maxConcurrent,
		logger: logger.With("component", "agent.registry"),
	}
}

// Register adds an agent under its capability type. Registering a type twice
// is a conflict.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return models.E(models.ErrorValidation, "cannot register a nil agent")
	}
	typ := a.Capabilities().Type
	if !typ.IsValid() {
		return models.Ef(models.ErrorValidation, "unknown agent type %q", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[typ]; exists {
		return models.Ef(models.ErrorConflict, "agent %q is already registered", typ)
	}
	r.agents[typ] = a
	r.logger.Info("Agent registered", "agent", string(typ))
	return nil
}

// Unregister removes the agent for a type. Removing an agent that is
// currently executing is a conflict.
func (r *Registry) Unregister(typ models.AgentType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[typ]; !exists {
		return models.Ef(models.ErrorNotFound, "agent %q is not registered", typ)
	}
	if r.active[typ] > 0 {
		return models.Ef(models.ErrorConflict, "agent %q has %d active executions", typ, r.active[typ])
	}
	delete(r.agents, typ)
	r.logger.Info("Agent unregistered", "agent", string(typ))
	return nil
}

// Get returns the agent registered for a type.
func (r *Registry) Get(typ models.AgentType) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, exists := r.agents[typ]
	if !exists {
		return nil, models.Ef(models.ErrorNotFound, "no agent registered for type %q", typ)
	}
	return a, nil
}

// List returns the capabilities of every registered agent, ordered by type.
func (r *Registry) List() []Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capabilities, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Capabilities())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Dependencies returns the agent types that must run before the given type.
// The returned slice is a copy.
func (r *Registry) Dependencies(typ models.AgentType) []models.AgentType {
	return append([]models.AgentType(nil), agentDependencies[typ]...)
}

// ActiveCount reports how many executions are in flight.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inFlight
}

// MaxConcurrent reports the execution cap.
func (r *Registry) MaxConcurrent() int {
	return r.limit
}

// ExecutionOrder arranges the given types into dependency levels: every type
// in level N depends only on types in levels < N. Dependencies outside the
// requested set are treated as already satisfied by earlier phases. A type
// with no registered agent, or an unbreakable dependency knot, yields an
// unresolvable error.
func (r *Registry) ExecutionOrder(types []models.AgentType) ([][]models.AgentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := make(map[models.AgentType]struct{}, len(types))
	order := make([]models.AgentType, 0, len(types))
	for _, t := range types {
		if _, seen := requested[t]; seen {
			continue
		}
		if _, exists := r.agents[t]; !exists {
			return nil, models.Ef(models.ErrorUnresolvable, "no agent registered for type %q", t)
		}
		requested[t] = struct{}{}
		order = append(order, t)
	}

	placed := make(map[models.AgentType]struct{}, len(order))
	var levels [][]models.AgentType
	for len(placed) < len(order) {
		var level []models.AgentType
		for _, t := range order {
			if _, done := placed[t]; done {
				continue
			}
			ready := true
			for _, dep := range agentDependencies[t] {
				if _, inSet := requested[dep]; !inSet {
					continue // satisfied by a previous phase
				}
				if _, done := placed[dep]; !done {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, t)
			}
		}
		if len(level) == 0 {
			return nil, models.Ef(models.ErrorUnresolvable, "cyclic agent dependencies among %v", remaining(order, placed))
		}
		for _, t := range level {
			placed[t] = struct{}{}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func remaining(order []models.AgentType, placed map[models.AgentType]struct{}) []models.AgentType {
	var out []models.AgentType
	for _, t := range order {
		if _, done := placed[t]; !done {
			out = append(out, t)
		}
	}
	return out
}

// acquire reserves an execution slot for a type, or reports a capacity
// conflict. Pair with release.
func (r *Registry) acquire(typ models.AgentType) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, exists := r.agents[typ]
	if !exists {
		return nil, models.Ef(models.ErrorNotFound, "no agent registered for type %q", typ)
	}
	if r.inFlight >= r.limit {
		return nil, models.Ef(models.ErrorConflict, "agent concurrency limit of %d reached", r.limit)
	}
	r.inFlight++
	r.active[typ]++
	return a, nil
}

func (r *Registry) release(typ models.AgentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	r.active[typ]--
	if r.active[typ] <= 0 {
		delete(r.active, typ)
	}
}

// EnrichContext copies prior results into the task context under the
// producing type's result key ("architectResult" and so on). The original
// task is not mutated.
func EnrichContext(task *models.AgentTask, prior map[models.AgentType]*models.AgentResult) *models.AgentTask {
	if len(prior) == 0 {
		return task
	}
	extra := make(map[string]any, len(prior))
	for typ, res := range prior {
		if res == nil {
			continue
		}
		extra[typ.ResultKey()] = res
	}
	return task.WithContext(extra)
}

// ExecuteWithDependencies runs one agent with prior results injected into
// its context, then validates the outcome. A validation failure is reported
// as an unsuccessful result, not an error. The call claims an execution
// slot for its duration; agents must not call back into the registry.
func (r *Registry) ExecuteWithDependencies(ctx context.Context, typ models.AgentType, task *models.AgentTask, prior map[models.AgentType]*models.AgentResult) (*models.AgentResult, error) {
	a, err := r.acquire(typ)
	if err != nil {
		return nil, err
	}
	defer r.release(typ)

	result, err := a.Execute(ctx, EnrichContext(task, prior))
	if err != nil {
		return nil, err
	}

	if outcome := a.Validate(result); !outcome.OK {
		joined := models.JoinMessages(outcome.Errors)
		r.logger.Warn("Agent result failed validation", "agent", string(typ), "task_id", task.TaskID, "errors", joined)
		failed := &models.AgentResult{
			Success: false,
			Error:   "validation failed: " + joined,
		}
		if result != nil {
			failed.Duration = result.Duration
			failed.TokensIn = result.TokensIn
			failed.TokensOut = result.TokensOut
			failed.Cost = result.Cost
		}
		return failed, nil
	}
	return result, nil
}

// ExecuteParallel runs several agent types concurrently, bounded by the
// slots left under the registry cap at entry. It never blocks above the
// cap: a type that cannot get a slot before ctx ends maps to a failed
// result instead. Every requested type has an entry in the returned map.
func (r *Registry) ExecuteParallel(ctx context.Context, types []models.AgentType, task *models.AgentTask, prior map[models.AgentType]*models.AgentResult) map[models.AgentType]*models.AgentResult {
	r.mu.RLock()
	slots := r.limit - r.inFlight
	r.mu.RUnlock()

	results := make(map[models.AgentType]*models.AgentResult, len(types))
	seen := make(map[models.AgentType]struct{}, len(types))
	queue := make([]models.AgentType, 0, len(types))
	for _, t := range types {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		queue = append(queue, t)
	}

	if slots <= 0 {
		for _, t := range queue {
			results[t] = noSlotResult()
		}
		return results
	}

	sem := make(chan struct{}, slots)
	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
	)
	for _, t := range queue {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			resultsMu.Lock()
			results[t] = noSlotResult()
			resultsMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(typ models.AgentType) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := r.ExecuteWithDependencies(ctx, typ, task, prior)
			if err != nil {
				res = &models.AgentResult{Success: false, Error: err.Error()}
			}
			resultsMu.Lock()
			results[typ] = res
			resultsMu.Unlock()
		}(t)
	}
	wg.Wait()
	return results
}

func noSlotResult() *models.AgentResult {
	return &models.AgentResult{
		Success: false,
		Error:   "no execution slot became available before the deadline",
	}
}
