// Package agent provides the agent contract, the builtin agents that call
// AI providers with per-type prompts, and the registry that enforces
// inter-agent dependencies and the concurrency cap.
package agent

import (
	"context"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Capabilities describes what an agent does and what it needs.
type Capabilities struct {
	Type        models.AgentType `json:"type"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	// Capabilities names the skills the agent advertises, e.g.
	// "code_generation".
	Capabilities []string `json:"capabilities"`
	Inputs       []string `json:"inputs,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
	// RequiredContext lists context keys the agent reads when present,
	// e.g. "implementResult".
	RequiredContext   []string      `json:"required_context,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	SupportedModes    []models.Mode `json:"supported_modes,omitempty"`
}

// ValidationOutcome is the result of checking an AgentResult.
type ValidationOutcome struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// Agent executes one subtask. Implementations must honor ctx cancellation
// and emit agent.started, monotonic agent.progress, and
// agent.completed/agent.failed events while running.
type Agent interface {
	Capabilities() Capabilities

	// Execute runs the agent. A non-nil error means the execution itself
	// failed (provider error, cancellation); agent-level verdicts travel in
	// the result's Success/Error fields.
	Execute(ctx context.Context, task *models.AgentTask) (*models.AgentResult, error)

	// Validate checks a result against the agent's rules. The minimum rule
	// everywhere: an unsuccessful result must carry an error message.
	Validate(result *models.AgentResult) ValidationOutcome
}
