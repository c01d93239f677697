package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

func newStrategy(t *testing.T, mode models.Mode) Strategy {
	t.Helper()
	s, err := NewStrategy(mode, config.DefaultModeConfigs()[mode])
	require.NoError(t, err)
	return s
}

func phaseAgents(p *models.Phase) []models.AgentType {
	out := make([]models.AgentType, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		out = append(out, st.AgentType)
	}
	return out
}

func TestAnalyzeComplexityKeywordTiers(t *testing.T) {
	cases := []struct {
		description string
		want        models.Complexity
	}{
		{"Refactor the payment service", models.ComplexityComplex},
		{"migrate users table to new schema", models.ComplexityComplex},
		{"Redesign the settings architecture", models.ComplexityComplex},
		{"Add a login feature", models.ComplexityMedium},
		{"create admin dashboard", models.ComplexityMedium},
		{"implement rate limiting", models.ComplexityMedium},
		{"Fix the typo in the footer", models.ComplexitySimple},
		{"update dependency versions", models.ComplexitySimple},
		{"rename the config field", models.ComplexitySimple},
		{"Investigate flaky pipeline", models.ComplexityMedium}, // no keyword: default
		{"update prefixes everywhere", models.ComplexitySimple}, // word boundary: "prefixes" is not "fix"
		{"fix and refactor the cache", models.ComplexityComplex}, // complex tier wins
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AnalyzeComplexity(tc.description), "description %q", tc.description)
	}
}

func TestSpeedDecomposePlansExecutionAndEmptyVerify(t *testing.T) {
	s := newStrategy(t, models.ModeSpeed)
	phases, err := s.Decompose("add a button", models.ComplexityMedium)
	require.NoError(t, err)
	require.Len(t, phases, 2)

	assert.Equal(t, 1, phases[0].Number)
	assert.Equal(t, "Execution", phases[0].Name)
	assert.True(t, phases[0].Parallel)
	assert.True(t, phases[0].Required)
	assert.Equal(t, []models.AgentType{models.AgentImplement}, phaseAgents(phases[0]))

	assert.Equal(t, "Verify", phases[1].Name)
	assert.False(t, phases[1].Required)
	assert.Empty(t, phases[1].Subtasks, "the verify phase carries no subtasks and auto-completes")
}

func TestQualityDecomposePlansFourPhases(t *testing.T) {
	s := newStrategy(t, models.ModeQuality)
	phases, err := s.Decompose("add checkout flow", models.ComplexityMedium)
	require.NoError(t, err)
	require.Len(t, phases, 4)

	assert.Equal(t, "Analysis", phases[0].Name)
	assert.False(t, phases[0].Parallel)
	assert.Equal(t, []models.AgentType{models.AgentConcept, models.AgentArchitect}, phaseAgents(phases[0]))
	// architect waits for concept inside the sequential phase.
	assert.Equal(t, []string{"p1-concept"}, phases[0].Subtasks[1].DependsOn)

	assert.Equal(t, "Implementation", phases[1].Name)
	assert.True(t, phases[1].Parallel)
	assert.Equal(t, []models.AgentType{models.AgentImplement}, phaseAgents(phases[1]))

	assert.Equal(t, "Verification", phases[2].Name)
	assert.True(t, phases[2].Parallel)
	assert.Equal(t, []models.AgentType{models.AgentTest, models.AgentReview, models.AgentSecurity}, phaseAgents(phases[2]))

	assert.Equal(t, "Documentation", phases[3].Name)
	assert.Equal(t, []models.AgentType{models.AgentDocs}, phaseAgents(phases[3]))
	for _, p := range phases {
		assert.True(t, p.Required, "phase %s must be required", p.Name)
	}
}

func TestQualityDecomposeAddsTranslationsSubtask(t *testing.T) {
	s := newStrategy(t, models.ModeQuality)
	phases, err := s.Decompose("Build the multilingual onboarding UI", models.ComplexityMedium)
	require.NoError(t, err)

	impl := phases[1]
	require.Len(t, impl.Subtasks, 2)
	assert.Equal(t, models.AgentImplement, impl.Subtasks[0].AgentType)
	assert.Equal(t, models.AgentImplement, impl.Subtasks[1].AgentType)
	assert.Equal(t, "p2-implement-translations", impl.Subtasks[1].ID)
	assert.Equal(t, "Implement translations", impl.Subtasks[1].Description)
}

func TestAutonomyDecomposePlansEightPhases(t *testing.T) {
	s := newStrategy(t, models.ModeAutonomy)
	phases, err := s.Decompose("create release automation", models.ComplexityComplex)
	require.NoError(t, err)
	require.Len(t, phases, 8)

	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"Analysis", "Architecture", "Implementation", "Testing",
		"Review", "Optimization", "Documentation", "Deployment",
	}, names)

	assert.True(t, phases[2].Parallel, "implementation runs parallel")
	assert.Equal(t, []models.AgentType{models.AgentReview, models.AgentSecurity}, phaseAgents(phases[4]))
	assert.True(t, phases[4].Parallel)
	assert.False(t, phases[5].Required, "optimization is optional")
	assert.Equal(t, []models.AgentType{models.AgentDeploy}, phaseAgents(phases[7]))
}

func TestCostDecomposePlansSequentialImplementThenOptionalTest(t *testing.T) {
	s := newStrategy(t, models.ModeCost)
	phases, err := s.Decompose("fix the typo", models.ComplexitySimple)
	require.NoError(t, err)
	require.Len(t, phases, 2)

	assert.True(t, phases[0].Required)
	assert.False(t, phases[0].Parallel)
	assert.Equal(t, []models.AgentType{models.AgentImplement}, phaseAgents(phases[0]))
	assert.False(t, phases[1].Required)
	assert.Equal(t, []models.AgentType{models.AgentTest}, phaseAgents(phases[1]))
}

func TestSelectModelPerMode(t *testing.T) {
	speed := newStrategy(t, models.ModeSpeed)
	for _, c := range []models.Complexity{models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex} {
		assert.Equal(t, "claude-3-5-sonnet-20241022", speed.SelectModel(c).Model, "SPEED always uses the primary")
	}

	autonomy := newStrategy(t, models.ModeAutonomy)
	assert.Equal(t, "claude-opus-4-5-20251101", autonomy.SelectModel(models.ComplexityComplex).Model)
	assert.Equal(t, "claude-3-5-sonnet-20241022", autonomy.SelectModel(models.ComplexityMedium).Model,
		"AUTONOMY drops to the fallback for simpler work when local models are preferred")

	costly := newStrategy(t, models.ModeCost)
	assert.Equal(t, "codellama:7b", costly.SelectModel(models.ComplexitySimple).Model)
	assert.Equal(t, "codellama:7b", costly.SelectModel(models.ComplexityMedium).Model)
	assert.Equal(t, "claude-3-5-haiku-20241022", costly.SelectModel(models.ComplexityComplex).Model,
		"COST sends complex work to the cheapest cloud model")
}

func TestValidationConfigFollowsDepth(t *testing.T) {
	speed := newStrategy(t, models.ModeSpeed).ValidationConfig()
	assert.Equal(t, ValidationConfig{Build: true}, speed)

	quality := newStrategy(t, models.ModeQuality).ValidationConfig()
	assert.True(t, quality.Typecheck)
	assert.True(t, quality.Lint)
	assert.True(t, quality.Tests)
	assert.True(t, quality.RequireReview)
	assert.True(t, quality.RequireSecurityScan)
	assert.InDelta(t, 0.80, quality.MinCoverage, 1e-9)

	autonomy := newStrategy(t, models.ModeAutonomy).ValidationConfig()
	assert.True(t, autonomy.Typecheck)
	assert.True(t, autonomy.Tests)
	assert.False(t, autonomy.RequireSecurityScan)
	assert.Zero(t, autonomy.MinCoverage)
}

func TestShouldContinueHonorsCostLimit(t *testing.T) {
	quality := newStrategy(t, models.ModeQuality)
	assert.True(t, quality.ShouldContinue(cost.MustParseUSD("250.00")), "no limit means always continue")

	costly := newStrategy(t, models.ModeCost)
	assert.True(t, costly.ShouldContinue(cost.MustParseUSD("0.99")))
	assert.False(t, costly.ShouldContinue(cost.MustParseUSD("1.00")), "limit is inclusive")
	assert.False(t, costly.ShouldContinue(cost.MustParseUSD("1.01")))
}

func TestSelectAgentsTriggersOptionals(t *testing.T) {
	quality := newStrategy(t, models.ModeQuality)

	plain := quality.SelectAgents("add pagination to the list")
	assert.Equal(t, models.AgentImplement, plain.Primary)
	assert.ElementsMatch(t, []models.AgentType{
		models.AgentConcept, models.AgentArchitect, models.AgentTest,
		models.AgentReview, models.AgentDocs,
	}, plain.Secondary)
	assert.ElementsMatch(t, []models.AgentType{models.AgentSecurity, models.AgentOptimize}, plain.Skip)

	secure := quality.SelectAgents("add login with password reset")
	assert.Contains(t, secure.Secondary, models.AgentSecurity)
	assert.NotContains(t, secure.Skip, models.AgentSecurity)
	assert.Contains(t, secure.Skip, models.AgentOptimize)
}

func TestValidatePlanRejectsUnknownDependency(t *testing.T) {
	phases := []*models.Phase{
		newPhase(1, "Implementation", false, true,
			&models.Subtask{ID: "p1-implement", AgentType: models.AgentImplement, Status: models.SubtaskPending, DependsOn: []string{"p0-ghost"}},
		),
	}
	err := ValidatePlan(phases)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
	assert.Contains(t, err.Error(), "invalid_plan")
	assert.Contains(t, err.Error(), "p0-ghost")
}

func TestValidatePlanRejectsDuplicateIDs(t *testing.T) {
	phases := []*models.Phase{
		newPhase(1, "One", false, true, newSubtask(1, models.AgentImplement)),
		newPhase(2, "Two", false, true, &models.Subtask{ID: "p1-implement", AgentType: models.AgentTest, Status: models.SubtaskPending}),
	}
	err := ValidatePlan(phases)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate subtask id")
}

func TestNewStrategyValidatesConfig(t *testing.T) {
	cfg := config.DefaultModeConfigs()[models.ModeSpeed]
	cfg.PrimaryModel.Model = ""
	_, err := NewStrategy(models.ModeSpeed, cfg)
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrorValidation))
}

func TestStrategyConfigIsACopy(t *testing.T) {
	s := newStrategy(t, models.ModeSpeed)
	got := s.Config()
	got.MaxRetries = 99
	assert.Equal(t, 1, s.Config().MaxRetries, "mutating the returned config must not affect the strategy")
}
