// Package mode implements the four execution policies (SPEED, QUALITY,
// AUTONOMY, COST) behind a common Strategy interface, and the Manager that
// holds the active mode, applies config updates, and publishes mode events.
package mode

import (
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

// AgentSelection is a strategy's staffing answer for one task description.
type AgentSelection struct {
	// Primary is the agent the mode centers its plan on.
	Primary models.AgentType `json:"primary"`
	// Secondary agents run in addition to the primary.
	Secondary []models.AgentType `json:"secondary,omitempty"`
	// Skip lists optional agents the description gave no reason to run.
	Skip []models.AgentType `json:"skip,omitempty"`
}

// ValidationConfig lists the checks a mode demands on produced code.
type ValidationConfig struct {
	Typecheck           bool `json:"typecheck"`
	Lint                bool `json:"lint"`
	Build               bool `json:"build"`
	Tests               bool `json:"tests"`
	RequireReview       bool `json:"require_review"`
	RequireSecurityScan bool `json:"require_security_scan"`
	// MinCoverage is a fraction in (0,1]; zero means no floor.
	MinCoverage float64 `json:"min_coverage,omitempty"`
}

// Strategy decides how a mode plans, staffs, validates, and prices a task.
// Implementations are immutable once built; the Manager replaces a strategy
// wholesale when its config changes.
type Strategy interface {
	// Mode names the policy this strategy implements.
	Mode() models.Mode

	// Decompose turns a task description into an ordered phase plan.
	Decompose(description string, complexity models.Complexity) ([]*models.Phase, error)

	// SelectAgents picks the agents worth running for a description.
	SelectAgents(description string) AgentSelection

	// ValidationConfig returns the mode's validation gates.
	ValidationConfig() ValidationConfig

	// SelectModel picks the model for a call at the given complexity.
	SelectModel(complexity models.Complexity) models.ModelDescriptor

	// ShouldContinue reports whether a task may keep spending. The answer
	// flips to false once an accumulated cost meets the mode's limit.
	ShouldContinue(currentCost cost.Cost) bool

	// Config returns a copy of the strategy's mode configuration.
	Config() *models.ModeConfig
}
