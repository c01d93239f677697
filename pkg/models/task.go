// Package models contains the business domain types: tasks, phases, subtasks,
// agent results, domain events, and the shared error taxonomy.
package models

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
)

// Mode identifies one of the four execution policies.
type Mode string

const (
	ModeSpeed    Mode = "SPEED"
	ModeQuality  Mode = "QUALITY"
	ModeAutonomy Mode = "AUTONOMY"
	ModeCost     Mode = "COST"
)

// AllModes lists every mode in a stable order.
func AllModes() []Mode {
	return []Mode{ModeSpeed, ModeQuality, ModeAutonomy, ModeCost}
}

// IsValid reports whether the mode is one of the four known policies.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSpeed, ModeQuality, ModeAutonomy, ModeCost:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}

// Complexity classifies a task description for model selection and
// decomposition depth.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAnalyzing TaskStatus = "analyzing"
	TaskPaused    TaskStatus = "paused"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// taskTransitions is the closed task state machine. paused is entered only
// through the approval gate after decomposition.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:   {TaskAnalyzing, TaskCancelled},
	TaskAnalyzing: {TaskRunning, TaskPaused, TaskFailed, TaskCancelled},
	TaskPaused:    {TaskRunning, TaskCancelled},
	TaskRunning:   {TaskCompleted, TaskFailed, TaskCancelled},
}

// CanTransitionTo reports whether the status may move to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TaskError is one terminal failure attached to a task.
type TaskError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Phase   int       `json:"phase,omitempty"`
	Agent   AgentType `json:"agent,omitempty"`
}

// Task is the aggregate driven through the orchestrator pipeline.
type Task struct {
	ID            string                 `json:"id"`
	Description   string                 `json:"description"`
	ProjectID     string                 `json:"project_id,omitempty"`
	Status        TaskStatus             `json:"status"`
	Priority      int                    `json:"priority"`
	Mode          Mode                   `json:"mode"`
	Complexity    Complexity             `json:"complexity,omitempty"`
	Phases        []*Phase               `json:"phases"`
	CurrentPhase  int                    `json:"current_phase"`
	Results       map[int]map[string]any `json:"results"`
	FilesModified []string               `json:"files_modified"`
	TokensUsed    int64                  `json:"tokens_used"`
	Cost          cost.Cost              `json:"cost"`
	Errors        []TaskError            `json:"errors,omitempty"`
	Executions    []*Execution           `json:"executions,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with the given submission parameters.
func NewTask(id, description, projectID string, mode Mode, priority int) *Task {
	return &Task{
		ID:            id,
		Description:   description,
		ProjectID:     projectID,
		Status:        TaskPending,
		Priority:      priority,
		Mode:          mode,
		Results:       make(map[int]map[string]any),
		FilesModified: []string{},
		CreatedAt:     time.Now().UTC(),
	}
}

// AddFiles merges paths into FilesModified with set semantics, preserving
// first-seen order.
func (t *Task) AddFiles(paths []string) {
	if len(paths) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(t.FilesModified))
	for _, f := range t.FilesModified {
		seen[f] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		t.FilesModified = append(t.FilesModified, p)
	}
}

// Clone returns a deep copy safe to hand to callers while the orchestrator
// keeps mutating the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Phases = make([]*Phase, len(t.Phases))
	for i, p := range t.Phases {
		cp.Phases[i] = p.Clone()
	}
	cp.Results = make(map[int]map[string]any, len(t.Results))
	for k, v := range t.Results {
		inner := make(map[string]any, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		cp.Results[k] = inner
	}
	cp.FilesModified = append([]string(nil), t.FilesModified...)
	cp.Errors = append([]TaskError(nil), t.Errors...)
	cp.Executions = make([]*Execution, len(t.Executions))
	for i, e := range t.Executions {
		ec := *e
		cp.Executions[i] = &ec
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// TaskFilters contains filtering options for listing tasks.
type TaskFilters struct {
	Status    TaskStatus `json:"status,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	Mode      Mode       `json:"mode,omitempty"`
	Page      int        `json:"page,omitempty"`
	PageSize  int        `json:"page_size,omitempty"`
}

// TaskListResponse contains a paginated task list.
type TaskListResponse struct {
	Tasks      []*Task `json:"tasks"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}
