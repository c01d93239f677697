package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

func TestDefaultModeConfigsBaselines(t *testing.T) {
	modes := DefaultModeConfigs()
	require.Len(t, modes, 4)

	speed := modes[models.ModeSpeed]
	assert.Equal(t, models.DepthShallow, speed.DecompositionDepth)
	assert.Equal(t, models.ParallelAggressive, speed.ParallelizationLevel)
	assert.Equal(t, models.ValidationMinimal, speed.ValidationDepth)
	assert.False(t, speed.RequiresHumanApproval)
	assert.Equal(t, "anthropic", speed.PrimaryModel.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", speed.PrimaryModel.Model)
	assert.Equal(t, "ollama", speed.FallbackModel.Provider)
	assert.Equal(t, "codellama:7b", speed.FallbackModel.Model)
	assert.False(t, speed.UseLocalModels)
	assert.Equal(t, []models.AgentType{models.AgentImplement}, speed.RequiredAgents)
	assert.Empty(t, speed.OptionalAgents)
	assert.Equal(t, 5*time.Minute, speed.TaskTimeout)
	assert.Equal(t, 1, speed.MaxRetries)
	assert.Nil(t, speed.CostLimit)

	quality := modes[models.ModeQuality]
	assert.Equal(t, models.DepthDeep, quality.DecompositionDepth)
	assert.Equal(t, models.ParallelBalanced, quality.ParallelizationLevel)
	assert.Equal(t, models.ValidationComprehensive, quality.ValidationDepth)
	assert.True(t, quality.RequiresHumanApproval)
	assert.Equal(t, "claude-opus-4-5-20251101", quality.PrimaryModel.Model)
	assert.Equal(t, "claude-3-5-sonnet-20241022", quality.FallbackModel.Model)
	assert.Equal(t, []models.AgentType{
		models.AgentConcept, models.AgentArchitect, models.AgentImplement,
		models.AgentTest, models.AgentReview, models.AgentDocs,
	}, quality.RequiredAgents)
	assert.Equal(t, []models.AgentType{models.AgentSecurity, models.AgentOptimize}, quality.OptionalAgents)
	assert.Equal(t, 15*time.Minute, quality.TaskTimeout)
	assert.Equal(t, 3, quality.MaxRetries)

	autonomy := modes[models.ModeAutonomy]
	assert.Equal(t, models.ValidationStandard, autonomy.ValidationDepth)
	assert.False(t, autonomy.RequiresHumanApproval)
	assert.True(t, autonomy.UseLocalModels)
	assert.Contains(t, autonomy.RequiredAgents, models.AgentDeploy)
	assert.Equal(t, 20*time.Minute, autonomy.TaskTimeout)

	costMode := modes[models.ModeCost]
	assert.Equal(t, models.ParallelConservative, costMode.ParallelizationLevel)
	assert.Equal(t, "ollama", costMode.PrimaryModel.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", costMode.FallbackModel.Model)
	assert.True(t, costMode.UseLocalModels)
	assert.Equal(t, []models.AgentType{models.AgentImplement, models.AgentTest}, costMode.RequiredAgents)
	assert.Equal(t, 10*time.Minute, costMode.TaskTimeout)
	assert.Equal(t, 2, costMode.MaxRetries)
	require.NotNil(t, costMode.CostLimit)
	assert.Equal(t, cost.MustParseUSD("1.00"), *costMode.CostLimit)
}

func TestDefaultModeConfigsAreValid(t *testing.T) {
	for mode, mc := range DefaultModeConfigs() {
		assert.NoError(t, mc.Validate(), "mode %s", mode)
	}
}

func TestDefaultModeConfigsReturnsFreshCopies(t *testing.T) {
	first := DefaultModeConfigs()
	first[models.ModeSpeed].MaxRetries = 99
	first[models.ModeCost].RequiredAgents[0] = models.AgentDeploy

	second := DefaultModeConfigs()
	assert.Equal(t, 1, second[models.ModeSpeed].MaxRetries)
	assert.Equal(t, models.AgentImplement, second[models.ModeCost].RequiredAgents[0])
}

func TestModeOverrideApplyToNilOverride(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeSpeed]

	var o *ModeOverride
	merged, err := o.ApplyTo(base)
	require.NoError(t, err)
	assert.Equal(t, base, merged)
	assert.NotSame(t, base, merged)
}

func TestModeOverrideApplyToExplicitFalse(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeQuality]
	require.True(t, base.RequiresHumanApproval)

	approval := false
	merged, err := (&ModeOverride{RequiresHumanApproval: &approval}).ApplyTo(base)
	require.NoError(t, err)

	assert.False(t, merged.RequiresHumanApproval)
	assert.True(t, base.RequiresHumanApproval, "base must not change")
}

func TestModeOverrideApplyToReplacesAgents(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeQuality]

	merged, err := (&ModeOverride{
		RequiredAgents: []models.AgentType{models.AgentImplement},
		OptionalAgents: []models.AgentType{},
	}).ApplyTo(base)
	require.NoError(t, err)

	assert.Equal(t, []models.AgentType{models.AgentImplement}, merged.RequiredAgents)
	assert.Empty(t, merged.OptionalAgents)
	assert.Len(t, base.RequiredAgents, 6)
}

func TestModeOverrideApplyToModelFields(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeSpeed]
	temp := 0.0

	merged, err := (&ModeOverride{
		PrimaryModel: &ModelOverride{Model: "claude-3-5-haiku-20241022", Temperature: &temp},
	}).ApplyTo(base)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-haiku-20241022", merged.PrimaryModel.Model)
	assert.Equal(t, "anthropic", merged.PrimaryModel.Provider, "provider untouched")
	assert.Zero(t, merged.PrimaryModel.Temperature)
}

func TestModeOverrideApplyToCostLimit(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeCost]
	require.NotNil(t, base.CostLimit)

	raise := "5.00"
	merged, err := (&ModeOverride{CostLimit: &raise}).ApplyTo(base)
	require.NoError(t, err)
	require.NotNil(t, merged.CostLimit)
	assert.Equal(t, cost.MustParseUSD("5.00"), *merged.CostLimit)

	clear := ""
	merged, err = (&ModeOverride{CostLimit: &clear}).ApplyTo(base)
	require.NoError(t, err)
	assert.Nil(t, merged.CostLimit, "empty cost_limit clears the cap")
}

func TestModeOverrideApplyToRejectsBadValues(t *testing.T) {
	base := DefaultModeConfigs()[models.ModeSpeed]

	_, err := (&ModeOverride{TaskTimeout: "soon"}).ApplyTo(base)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))

	bad := "not-money"
	_, err = (&ModeOverride{CostLimit: &bad}).ApplyTo(base)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))

	badDepth := models.DecompositionDepth("bottomless")
	_, err = (&ModeOverride{DecompositionDepth: &badDepth}).ApplyTo(base)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
}
