// Package agenttest provides a deterministic agent implementation for tests
// that exercise the registry and orchestrator without provider calls.
package agenttest

import (
	"context"
	"sync"
	"time"

	"github.com/devflow-ai/devflow/pkg/agent"
	"github.com/devflow-ai/devflow/pkg/models"
)

// Stub is an Agent whose behavior is scripted per call. The zero
// configuration succeeds immediately with a canned response.
type Stub struct {
	Type models.AgentType

	mu    sync.Mutex
	calls []*models.AgentTask

	// Results are returned in order; when exhausted the stub falls back to
	// a default successful result. Errs aligned by index take precedence.
	Results []*models.AgentResult
	Errs    []error

	// ValidateErrors, when set, makes Validate report these messages.
	ValidateErrors []string

	// Delay sleeps before responding, honoring ctx cancellation.
	Delay time.Duration

	// BlockUntilCancelled makes Execute wait for ctx and return its error.
	BlockUntilCancelled bool

	// OnExecute is notified when Execute begins, if set.
	OnExecute chan<- struct{}
}

// New creates a stub agent for the given type.
func New(typ models.AgentType) *Stub {
	return &Stub{Type: typ}
}

// WithResult queues a scripted result.
func (s *Stub) WithResult(res *models.AgentResult) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, res)
	s.Errs = append(s.Errs, nil)
	return s
}

// WithError queues a scripted execution error.
func (s *Stub) WithError(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, nil)
	s.Errs = append(s.Errs, err)
	return s
}

// Calls returns a copy of every task the stub has executed.
func (s *Stub) Calls() []*models.AgentTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AgentTask(nil), s.calls...)
}

// CallCount reports how many times Execute ran.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Stub) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		Type:        s.Type,
		Name:        "stub-" + string(s.Type),
		Description: "deterministic test agent",
	}
}

func (s *Stub) Execute(ctx context.Context, task *models.AgentTask) (*models.AgentResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, task)
	idx := len(s.calls) - 1
	s.mu.Unlock()

	if s.OnExecute != nil {
		select {
		case s.OnExecute <- struct{}{}:
		default:
		}
	}

	if s.BlockUntilCancelled {
		<-ctx.Done()
		return nil, models.WrapError(models.ErrorCancelled, ctx.Err(), "stub execution cancelled")
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, models.WrapError(models.ErrorCancelled, ctx.Err(), "stub execution cancelled")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < len(s.Errs) && s.Errs[idx] != nil {
		return nil, s.Errs[idx]
	}
	if idx < len(s.Results) && s.Results[idx] != nil {
		return s.Results[idx], nil
	}
	return &models.AgentResult{
		Success: true,
		Output: map[string]any{
			"response": string(s.Type) + " output for " + task.Description,
		},
		TokensIn:  10,
		TokensOut: 20,
	}, nil
}

func (s *Stub) Validate(result *models.AgentResult) agent.ValidationOutcome {
	if len(s.ValidateErrors) > 0 {
		return agent.ValidationOutcome{Errors: append([]string(nil), s.ValidateErrors...)}
	}
	if result == nil {
		return agent.ValidationOutcome{Errors: []string{"agent returned no result"}}
	}
	if !result.Success && result.Error == "" {
		return agent.ValidationOutcome{Errors: []string{"unsuccessful result is missing an error message"}}
	}
	return agent.ValidationOutcome{OK: true}
}
