package mode

import "github.com/devflow-ai/devflow/pkg/models"

// AutonomyStrategy runs the deepest pipeline, through to deployment,
// without human gates.
type AutonomyStrategy struct {
	baseStrategy
}

// Decompose plans eight phases ending in deployment. Optimization is the
// only optional one.
func (s *AutonomyStrategy) Decompose(description string, complexity models.Complexity) ([]*models.Phase, error) {
	phases := []*models.Phase{
		newPhase(1, "Analysis", false, true, newSubtask(1, models.AgentConcept)),
		newPhase(2, "Architecture", false, true, newSubtask(2, models.AgentArchitect)),
		newPhase(3, "Implementation", true, true, newSubtask(3, models.AgentImplement)),
		newPhase(4, "Testing", false, true, newSubtask(4, models.AgentTest)),
		newPhase(5, "Review", true, true,
			newSubtask(5, models.AgentReview),
			newSubtask(5, models.AgentSecurity)),
		newPhase(6, "Optimization", false, false, newSubtask(6, models.AgentOptimize)),
		newPhase(7, "Documentation", false, true, newSubtask(7, models.AgentDocs)),
		newPhase(8, "Deployment", false, true, newSubtask(8, models.AgentDeploy)),
	}
	return phases, ValidatePlan(phases)
}

// SelectModel keeps the primary model for complex work and drops to the
// fallback for simpler tasks when local models are preferred.
func (s *AutonomyStrategy) SelectModel(complexity models.Complexity) models.ModelDescriptor {
	if complexity != models.ComplexityComplex && s.cfg.UseLocalModels {
		return s.cfg.FallbackModel
	}
	return s.cfg.PrimaryModel
}
