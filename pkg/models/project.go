package models

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
)

// Project scopes related tasks to one codebase.
type Project struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateProjectRequest contains fields for creating a project.
type CreateProjectRequest struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Execution records one agent run against a task, including the model used
// and its token/cost footprint.
type Execution struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"task_id"`
	PhaseNumber int           `json:"phase_number"`
	AgentType   AgentType     `json:"agent_type"`
	ModelUsed   string        `json:"model_used,omitempty"`
	Status      SubtaskStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	TokensIn    int64         `json:"tokens_in"`
	TokensOut   int64         `json:"tokens_out"`
	Cost        cost.Cost     `json:"cost"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
}
