package config

import (
	"time"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

// DefaultModeConfigs returns the built-in configuration for every execution
// mode. Callers receive fresh copies and may mutate them freely.
func DefaultModeConfigs() map[models.Mode]*models.ModeConfig {
	costLimit := cost.MustParseUSD("1.00")

	return map[models.Mode]*models.ModeConfig{
		models.ModeSpeed: {
			DecompositionDepth:    models.DepthShallow,
			ParallelizationLevel:  models.ParallelAggressive,
			ValidationDepth:       models.ValidationMinimal,
			RequiresHumanApproval: false,
			PrimaryModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-3-5-sonnet-20241022",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			FallbackModel: models.ModelDescriptor{
				Provider:    "ollama",
				Model:       "codellama:7b",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			UseLocalModels: false,
			RequiredAgents: []models.AgentType{models.AgentImplement},
			OptionalAgents: nil,
			TaskTimeout:    5 * time.Minute,
			MaxRetries:     1,
		},
		models.ModeQuality: {
			DecompositionDepth:    models.DepthDeep,
			ParallelizationLevel:  models.ParallelBalanced,
			ValidationDepth:       models.ValidationComprehensive,
			RequiresHumanApproval: true,
			PrimaryModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-opus-4-5-20251101",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			FallbackModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-3-5-sonnet-20241022",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			UseLocalModels: false,
			RequiredAgents: []models.AgentType{
				models.AgentConcept,
				models.AgentArchitect,
				models.AgentImplement,
				models.AgentTest,
				models.AgentReview,
				models.AgentDocs,
			},
			OptionalAgents: []models.AgentType{models.AgentSecurity, models.AgentOptimize},
			TaskTimeout:    15 * time.Minute,
			MaxRetries:     3,
		},
		models.ModeAutonomy: {
			DecompositionDepth:    models.DepthDeep,
			ParallelizationLevel:  models.ParallelBalanced,
			ValidationDepth:       models.ValidationStandard,
			RequiresHumanApproval: false,
			PrimaryModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-opus-4-5-20251101",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			FallbackModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-3-5-sonnet-20241022",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			UseLocalModels: true,
			RequiredAgents: []models.AgentType{
				models.AgentConcept,
				models.AgentArchitect,
				models.AgentImplement,
				models.AgentTest,
				models.AgentReview,
				models.AgentDocs,
				models.AgentDeploy,
			},
			OptionalAgents: []models.AgentType{models.AgentSecurity, models.AgentOptimize},
			TaskTimeout:    20 * time.Minute,
			MaxRetries:     3,
		},
		models.ModeCost: {
			DecompositionDepth:    models.DepthShallow,
			ParallelizationLevel:  models.ParallelConservative,
			ValidationDepth:       models.ValidationMinimal,
			RequiresHumanApproval: false,
			PrimaryModel: models.ModelDescriptor{
				Provider:    "ollama",
				Model:       "codellama:7b",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			FallbackModel: models.ModelDescriptor{
				Provider:    "anthropic",
				Model:       "claude-3-5-haiku-20241022",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			UseLocalModels: true,
			RequiredAgents: []models.AgentType{models.AgentImplement, models.AgentTest},
			OptionalAgents: nil,
			TaskTimeout:    10 * time.Minute,
			MaxRetries:     2,
			CostLimit:      &costLimit,
		},
	}
}

// ModeOverride is a partial mode configuration from a YAML file or an API
// update. Nil fields leave the base value untouched, so explicit false and
// zero values survive the round trip. Slices replace the base list when
// present, even when empty. Durations and cost limits travel as strings;
// an empty cost_limit pointer clears the limit.
type ModeOverride struct {
	DecompositionDepth    *models.DecompositionDepth   `json:"decomposition_depth,omitempty" yaml:"decomposition_depth,omitempty"`
	ParallelizationLevel  *models.ParallelizationLevel `json:"parallelization_level,omitempty" yaml:"parallelization_level,omitempty"`
	ValidationDepth       *models.ValidationDepth      `json:"validation_depth,omitempty" yaml:"validation_depth,omitempty"`
	RequiresHumanApproval *bool                        `json:"requires_human_approval,omitempty" yaml:"requires_human_approval,omitempty"`
	PrimaryModel          *ModelOverride               `json:"primary_model,omitempty" yaml:"primary_model,omitempty"`
	FallbackModel         *ModelOverride               `json:"fallback_model,omitempty" yaml:"fallback_model,omitempty"`
	UseLocalModels        *bool                        `json:"use_local_models,omitempty" yaml:"use_local_models,omitempty"`
	RequiredAgents        []models.AgentType           `json:"required_agents,omitempty" yaml:"required_agents,omitempty"`
	OptionalAgents        []models.AgentType           `json:"optional_agents,omitempty" yaml:"optional_agents,omitempty"`
	TaskTimeout           string                       `json:"task_timeout,omitempty" yaml:"task_timeout,omitempty"`
	MaxRetries            *int                         `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	CostLimit             *string                      `json:"cost_limit,omitempty" yaml:"cost_limit,omitempty"`
}

// ModelOverride is a partial model descriptor inside a ModeOverride.
type ModelOverride struct {
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ApplyTo overlays the override onto a copy of base and validates the
// result. base is never mutated.
func (o *ModeOverride) ApplyTo(base *models.ModeConfig) (*models.ModeConfig, error) {
	if base == nil {
		return nil, models.E(models.ErrorValidation, "base mode config is required")
	}

	merged := base.Clone()
	if o == nil {
		return merged, nil
	}

	if o.DecompositionDepth != nil {
		merged.DecompositionDepth = *o.DecompositionDepth
	}
	if o.ParallelizationLevel != nil {
		merged.ParallelizationLevel = *o.ParallelizationLevel
	}
	if o.ValidationDepth != nil {
		merged.ValidationDepth = *o.ValidationDepth
	}
	if o.RequiresHumanApproval != nil {
		merged.RequiresHumanApproval = *o.RequiresHumanApproval
	}
	if o.PrimaryModel != nil {
		o.PrimaryModel.applyTo(&merged.PrimaryModel)
	}
	if o.FallbackModel != nil {
		o.FallbackModel.applyTo(&merged.FallbackModel)
	}
	if o.UseLocalModels != nil {
		merged.UseLocalModels = *o.UseLocalModels
	}
	if o.RequiredAgents != nil {
		merged.RequiredAgents = append([]models.AgentType(nil), o.RequiredAgents...)
	}
	if o.OptionalAgents != nil {
		merged.OptionalAgents = append([]models.AgentType(nil), o.OptionalAgents...)
	}
	if o.TaskTimeout != "" {
		d, err := time.ParseDuration(o.TaskTimeout)
		if err != nil {
			return nil, models.Ef(models.ErrorValidation, "invalid task_timeout %q: %v", o.TaskTimeout, err)
		}
		merged.TaskTimeout = d
	}
	if o.MaxRetries != nil {
		merged.MaxRetries = *o.MaxRetries
	}
	if o.CostLimit != nil {
		if *o.CostLimit == "" {
			merged.CostLimit = nil
		} else {
			limit, err := cost.ParseUSD(*o.CostLimit)
			if err != nil {
				return nil, models.Ef(models.ErrorValidation, "invalid cost_limit %q: %v", *o.CostLimit, err)
			}
			merged.CostLimit = &limit
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (o *ModelOverride) applyTo(dst *models.ModelDescriptor) {
	if o.Provider != "" {
		dst.Provider = o.Provider
	}
	if o.Model != "" {
		dst.Model = o.Model
	}
	if o.Temperature != nil {
		dst.Temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		dst.MaxTokens = o.MaxTokens
	}
}
