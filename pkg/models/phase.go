package models

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
)

// AgentType tags the kind of work a subtask needs. The set is closed.
type AgentType string

const (
	AgentConcept   AgentType = "concept"
	AgentArchitect AgentType = "architect"
	AgentImplement AgentType = "implement"
	AgentTest      AgentType = "test"
	AgentReview    AgentType = "review"
	AgentOptimize  AgentType = "optimize"
	AgentDocs      AgentType = "docs"
	AgentDeploy    AgentType = "deploy"
	AgentSecurity  AgentType = "security"
	AgentRefactor  AgentType = "refactor"
	AgentDebug     AgentType = "debug"
	AgentMigrate   AgentType = "migrate"
)

// KnownAgentTypes lists every agent type in a stable order.
func KnownAgentTypes() []AgentType {
	return []AgentType{
		AgentConcept, AgentArchitect, AgentImplement, AgentTest,
		AgentReview, AgentOptimize, AgentDocs, AgentDeploy,
		AgentSecurity, AgentRefactor, AgentDebug, AgentMigrate,
	}
}

// IsValid reports whether the type belongs to the closed set.
func (a AgentType) IsValid() bool {
	for _, t := range KnownAgentTypes() {
		if a == t {
			return true
		}
	}
	return false
}

func (a AgentType) String() string {
	return string(a)
}

// ResultKey is the context key under which this agent's output is injected
// into downstream agents, e.g. "architectResult".
func (a AgentType) ResultKey() string {
	return string(a) + "Result"
}

// PhaseStatus is the lifecycle state of a phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// IsTerminal reports whether the status is final.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseCompleted || s == PhaseFailed || s == PhaseSkipped
}

// SubtaskStatus is the lifecycle state of a subtask.
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
	SubtaskCancelled SubtaskStatus = "cancelled"
)

// Phase is one group of subtasks executed together within a task.
type Phase struct {
	Number   int           `json:"number"`
	Name     string        `json:"name"`
	Parallel bool          `json:"parallel"`
	Required bool          `json:"required"`
	Status   PhaseStatus   `json:"status"`
	Subtasks []*Subtask    `json:"subtasks"`
	Duration time.Duration `json:"duration"`
}

// Clone returns a deep copy of the phase.
func (p *Phase) Clone() *Phase {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Subtasks = make([]*Subtask, len(p.Subtasks))
	for i, st := range p.Subtasks {
		cp.Subtasks[i] = st.Clone()
	}
	return &cp
}

// AgentTypes returns the distinct agent types referenced by the phase's
// subtasks, in first-seen order.
func (p *Phase) AgentTypes() []AgentType {
	seen := make(map[AgentType]struct{}, len(p.Subtasks))
	out := make([]AgentType, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		if _, ok := seen[st.AgentType]; ok {
			continue
		}
		seen[st.AgentType] = struct{}{}
		out = append(out, st.AgentType)
	}
	return out
}

// Subtask is one unit of agent work inside a phase.
type Subtask struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	AgentType   AgentType      `json:"agent_type"`
	Status      SubtaskStatus  `json:"status"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      *AgentResult   `json:"output,omitempty"`
}

// Clone returns a deep copy of the subtask.
func (s *Subtask) Clone() *Subtask {
	if s == nil {
		return nil
	}
	cp := *s
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	if s.Input != nil {
		cp.Input = make(map[string]any, len(s.Input))
		for k, v := range s.Input {
			cp.Input[k] = v
		}
	}
	cp.Output = s.Output.Clone()
	return &cp
}

// AgentTask is the unit handed to an agent for execution.
type AgentTask struct {
	TaskID      string         `json:"task_id"`
	SubtaskID   string         `json:"subtask_id"`
	PhaseNumber int            `json:"phase_number"`
	Description string         `json:"description"`
	Mode        Mode           `json:"mode"`
	Complexity  Complexity     `json:"complexity"`
	Context     map[string]any `json:"context,omitempty"`
}

// WithContext returns a shallow copy whose context map has been extended by
// the given entries. The receiver's map is never mutated.
func (t *AgentTask) WithContext(extra map[string]any) *AgentTask {
	cp := *t
	cp.Context = make(map[string]any, len(t.Context)+len(extra))
	for k, v := range t.Context {
		cp.Context[k] = v
	}
	for k, v := range extra {
		cp.Context[k] = v
	}
	return &cp
}

// AgentResult is the outcome of one agent execution.
type AgentResult struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	FilesModified []string       `json:"files_modified,omitempty"`
	Duration      time.Duration  `json:"duration"`
	TokensIn      int64          `json:"tokens_in"`
	TokensOut     int64          `json:"tokens_out"`
	Cost          cost.Cost      `json:"cost"`
}

// Clone returns a deep copy of the result.
func (r *AgentResult) Clone() *AgentResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Suggestions = append([]string(nil), r.Suggestions...)
	cp.FilesModified = append([]string(nil), r.FilesModified...)
	if r.Output != nil {
		cp.Output = make(map[string]any, len(r.Output))
		for k, v := range r.Output {
			cp.Output[k] = v
		}
	}
	return &cp
}

// Tokens returns input plus output tokens.
func (r *AgentResult) Tokens() int64 {
	return r.TokensIn + r.TokensOut
}
