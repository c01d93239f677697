package agent

import (
	"context"
	"io"
	"log/slog"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/cache"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/provider"
)

// maxTokensCeiling bounds the doubled token budget on a length retry.
const maxTokensCeiling = 8192

// ModelSelector picks the model descriptor for a call. The mode manager's
// active strategy supplies this; tests use StaticSelector.
type ModelSelector func(mode models.Mode, complexity models.Complexity) models.ModelDescriptor

// StaticSelector returns a selector that always picks desc.
func StaticSelector(desc models.ModelDescriptor) ModelSelector {
	return func(models.Mode, models.Complexity) models.ModelDescriptor {
		return desc
	}
}

// Deps bundles what every builtin agent needs. Cache is optional; the rest
// are required.
type Deps struct {
	Providers *provider.Registry
	Bus       *bus.Bus
	Selector  ModelSelector
	Cache     *cache.Cache
	Logger    *slog.Logger
}

func (d Deps) validate() error {
	if d.Providers == nil {
		return models.E(models.ErrorValidation, "agent deps require a provider registry")
	}
	if d.Bus == nil {
		return models.E(models.ErrorValidation, "agent deps require an event bus")
	}
	if d.Selector == nil {
		return models.E(models.ErrorValidation, "agent deps require a model selector")
	}
	return nil
}

// BaseAgent carries the machinery shared by every builtin agent: model
// selection, provider calls with the length-retry rule, response caching,
// and lifecycle event emission.
type BaseAgent struct {
	caps   Capabilities
	deps   Deps
	logger *slog.Logger
}

// NewBase builds the shared agent core.
func NewBase(caps Capabilities, deps Deps) (*BaseAgent, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &BaseAgent{
		caps:   caps,
		deps:   deps,
		logger: logger.With("component", "agent."+string(caps.Type)),
	}, nil
}

// Capabilities returns the agent's self-description.
func (b *BaseAgent) Capabilities() Capabilities {
	return b.caps
}

// Validate applies the minimum result rule: a result must exist, and an
// unsuccessful result must carry an error message.
func (b *BaseAgent) Validate(result *models.AgentResult) ValidationOutcome {
	if result == nil {
		return ValidationOutcome{Errors: []string{"agent returned no result"}}
	}
	if !result.Success && result.Error == "" {
		return ValidationOutcome{Errors: []string{"unsuccessful result is missing an error message"}}
	}
	return ValidationOutcome{OK: true}
}

// generation is the outcome of one provider call on behalf of an agent.
type generation struct {
	Content   string
	Model     string
	Provider  string
	TokensIn  int64
	TokensOut int64
	Cost      cost.Cost
	Truncated bool
	Cached    bool
}

// cachedResponse is the cache value for a (provider, model, prompt) key.
type cachedResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// generate selects a model for the task, calls its provider, and applies
// the length rule: one retry with a doubled token budget, a second length
// finish accepted as truncated output. Cached responses skip the provider
// and bill nothing.
func (b *BaseAgent) generate(ctx context.Context, task *models.AgentTask, prompt string) (*generation, error) {
	desc := b.deps.Selector(task.Mode, task.Complexity)

	prov, err := b.deps.Providers.Get(desc.Provider)
	if err != nil {
		return nil, err
	}

	key := cache.Key("agent", desc.Provider, desc.Model, prompt)
	if b.deps.Cache != nil {
		var hit cachedResponse
		if b.deps.Cache.Get(ctx, key, &hit) {
			b.logger.Debug("Serving agent response from cache", "task_id", task.TaskID, "model", hit.Model)
			return &generation{
				Content:  hit.Content,
				Model:    hit.Model,
				Provider: desc.Provider,
				Cached:   true,
			}, nil
		}
	}

	opts := provider.Options{
		Model:       desc.Model,
		Temperature: desc.Temperature,
		MaxTokens:   desc.MaxTokens,
	}

	result, err := prov.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	gen := &generation{
		Content:   result.Content,
		Model:     result.Model,
		Provider:  desc.Provider,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
	}

	if result.FinishReason == provider.FinishLength {
		retryOpts := opts
		retryOpts.MaxTokens = opts.MaxTokens * 2
		if retryOpts.MaxTokens > maxTokensCeiling || retryOpts.MaxTokens <= 0 {
			retryOpts.MaxTokens = maxTokensCeiling
		}
		b.logger.Info("Output hit the token limit, retrying with a larger budget",
			"task_id", task.TaskID, "max_tokens", retryOpts.MaxTokens)

		retry, retryErr := prov.Generate(ctx, prompt, retryOpts)
		if retryErr == nil {
			gen.Content = retry.Content
			gen.Model = retry.Model
			gen.TokensIn += retry.TokensIn
			gen.TokensOut += retry.TokensOut
			gen.Truncated = retry.FinishReason == provider.FinishLength
		} else {
			gen.Truncated = true
		}
	} else if result.FinishReason == provider.FinishError {
		return nil, models.Ef(models.ErrorProvider, "generation for %s stopped abnormally", task.TaskID)
	}

	gen.Cost = prov.EstimateCost(gen.TokensIn, gen.TokensOut, gen.Model)

	if b.deps.Cache != nil && !gen.Truncated {
		entry := cachedResponse{Content: gen.Content, Model: gen.Model}
		if cacheErr := b.deps.Cache.Set(ctx, key, entry, 0); cacheErr != nil {
			b.logger.Debug("Could not cache agent response", "error", cacheErr)
		}
	}

	return gen, nil
}

// progressTracker emits agent.progress events clamped to 0-100 and
// monotonic within one execution.
type progressTracker struct {
	base *BaseAgent
	task *models.AgentTask
	last int
}

func (b *BaseAgent) startProgress(task *models.AgentTask) *progressTracker {
	return &progressTracker{base: b, task: task, last: -1}
}

// Report publishes the given percentage. Values are clamped to 0-100;
// regressions are ignored.
func (p *progressTracker) Report(ctx context.Context, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	p.base.publish(ctx, events.EventAgentProgress, p.task, map[string]any{
		"progress": pct,
	})
}

func (b *BaseAgent) emitStarted(ctx context.Context, task *models.AgentTask) {
	b.publish(ctx, events.EventAgentStarted, task, nil)
}

func (b *BaseAgent) emitCompleted(ctx context.Context, task *models.AgentTask, result *models.AgentResult) {
	b.publish(ctx, events.EventAgentCompleted, task, map[string]any{
		"duration":   result.Duration.Milliseconds(),
		"tokens_in":  result.TokensIn,
		"tokens_out": result.TokensOut,
		"cost":       result.Cost.USD(),
	})
}

func (b *BaseAgent) emitFailed(ctx context.Context, task *models.AgentTask, execErr error) {
	b.publish(ctx, events.EventAgentFailed, task, map[string]any{
		"error": execErr.Error(),
	})
}

// publish sends an agent event on the bus with the common envelope fields.
// Publish failures are logged, never propagated; event delivery must not
// fail an execution.
func (b *BaseAgent) publish(ctx context.Context, eventType string, task *models.AgentTask, extra map[string]any) {
	data := map[string]any{
		"task_id":    task.TaskID,
		"subtask_id": task.SubtaskID,
		"phase":      task.PhaseNumber,
		"agent":      string(b.caps.Type),
	}
	for k, v := range extra {
		data[k] = v
	}
	if _, err := b.deps.Bus.Publish(ctx, eventType, data, bus.WithAggregate(task.TaskID, models.AggregateTask)); err != nil {
		b.logger.Warn("Event publish failed", "event_type", eventType, "task_id", task.TaskID, "error", err)
	}
}
