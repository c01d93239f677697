package models

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
)

// DecompositionDepth controls how finely a mode splits tasks into phases.
type DecompositionDepth string

const (
	DepthShallow  DecompositionDepth = "shallow"
	DepthStandard DecompositionDepth = "standard"
	DepthDeep     DecompositionDepth = "deep"
)

// IsValid checks the depth against the closed set.
func (d DecompositionDepth) IsValid() bool {
	switch d {
	case DepthShallow, DepthStandard, DepthDeep:
		return true
	default:
		return false
	}
}

// ParallelizationLevel controls how eagerly a mode runs subtasks concurrently.
type ParallelizationLevel string

const (
	ParallelAggressive   ParallelizationLevel = "aggressive"
	ParallelBalanced     ParallelizationLevel = "balanced"
	ParallelConservative ParallelizationLevel = "conservative"
)

// IsValid checks the level against the closed set.
func (l ParallelizationLevel) IsValid() bool {
	switch l {
	case ParallelAggressive, ParallelBalanced, ParallelConservative:
		return true
	default:
		return false
	}
}

// ValidationDepth controls which checks run against produced results.
type ValidationDepth string

const (
	ValidationMinimal       ValidationDepth = "minimal"
	ValidationStandard      ValidationDepth = "standard"
	ValidationComprehensive ValidationDepth = "comprehensive"
)

// IsValid checks the depth against the closed set.
func (d ValidationDepth) IsValid() bool {
	switch d {
	case ValidationMinimal, ValidationStandard, ValidationComprehensive:
		return true
	default:
		return false
	}
}

// ModelDescriptor names a provider/model pair with generation parameters.
type ModelDescriptor struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ModeConfig is the per-mode execution policy.
type ModeConfig struct {
	DecompositionDepth    DecompositionDepth   `json:"decomposition_depth" yaml:"decomposition_depth"`
	ParallelizationLevel  ParallelizationLevel `json:"parallelization_level" yaml:"parallelization_level"`
	ValidationDepth       ValidationDepth      `json:"validation_depth" yaml:"validation_depth"`
	RequiresHumanApproval bool                 `json:"requires_human_approval" yaml:"requires_human_approval"`
	PrimaryModel          ModelDescriptor      `json:"primary_model" yaml:"primary_model"`
	FallbackModel         ModelDescriptor      `json:"fallback_model" yaml:"fallback_model"`
	UseLocalModels        bool                 `json:"use_local_models" yaml:"use_local_models"`
	RequiredAgents        []AgentType          `json:"required_agents" yaml:"required_agents"`
	OptionalAgents        []AgentType          `json:"optional_agents" yaml:"optional_agents"`
	TaskTimeout           time.Duration        `json:"task_timeout" yaml:"task_timeout"`
	MaxRetries            int                  `json:"max_retries" yaml:"max_retries"`
	// CostLimit caps a task's accumulated cost; nil means unlimited.
	CostLimit *cost.Cost `json:"cost_limit,omitempty" yaml:"cost_limit,omitempty"`
}

// Validate checks every enum, agent list, and bound.
func (c *ModeConfig) Validate() error {
	if !c.DecompositionDepth.IsValid() {
		return Ef(ErrorValidation, "invalid decomposition depth %q", c.DecompositionDepth)
	}
	if !c.ParallelizationLevel.IsValid() {
		return Ef(ErrorValidation, "invalid parallelization level %q", c.ParallelizationLevel)
	}
	if !c.ValidationDepth.IsValid() {
		return Ef(ErrorValidation, "invalid validation depth %q", c.ValidationDepth)
	}
	if c.PrimaryModel.Provider == "" || c.PrimaryModel.Model == "" {
		return E(ErrorValidation, "primary model must name a provider and model")
	}
	for _, at := range c.RequiredAgents {
		if !at.IsValid() {
			return Ef(ErrorValidation, "unknown required agent type %q", at)
		}
	}
	for _, at := range c.OptionalAgents {
		if !at.IsValid() {
			return Ef(ErrorValidation, "unknown optional agent type %q", at)
		}
	}
	if c.TaskTimeout <= 0 {
		return E(ErrorValidation, "task timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return E(ErrorValidation, "max retries must not be negative")
	}
	if c.CostLimit != nil && *c.CostLimit <= 0 {
		return E(ErrorValidation, "cost limit must be positive when set")
	}
	return nil
}

// Clone returns a deep copy.
func (c *ModeConfig) Clone() *ModeConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RequiredAgents = append([]AgentType(nil), c.RequiredAgents...)
	cp.OptionalAgents = append([]AgentType(nil), c.OptionalAgents...)
	if c.CostLimit != nil {
		limit := *c.CostLimit
		cp.CostLimit = &limit
	}
	return &cp
}

// AllAgents returns required then optional agent types, deduplicated.
func (c *ModeConfig) AllAgents() []AgentType {
	seen := make(map[AgentType]struct{}, len(c.RequiredAgents)+len(c.OptionalAgents))
	out := make([]AgentType, 0, len(c.RequiredAgents)+len(c.OptionalAgents))
	for _, at := range c.RequiredAgents {
		if _, ok := seen[at]; !ok {
			seen[at] = struct{}{}
			out = append(out, at)
		}
	}
	for _, at := range c.OptionalAgents {
		if _, ok := seen[at]; !ok {
			seen[at] = struct{}{}
			out = append(out, at)
		}
	}
	return out
}

// IsRequired reports whether the agent type is in the required list.
func (c *ModeConfig) IsRequired(at AgentType) bool {
	for _, req := range c.RequiredAgents {
		if req == at {
			return true
		}
	}
	return false
}
