package mode

import "github.com/devflow-ai/devflow/pkg/models"

// CostStrategy minimizes spend: local models, a bare implement phase, and a
// hard cost ceiling.
type CostStrategy struct {
	baseStrategy
}

// Decompose plans a required sequential implementation phase and an
// optional test phase.
func (s *CostStrategy) Decompose(description string, complexity models.Complexity) ([]*models.Phase, error) {
	phases := []*models.Phase{
		newPhase(1, "Implementation", false, true, newSubtask(1, models.AgentImplement)),
		newPhase(2, "Testing", false, false, newSubtask(2, models.AgentTest)),
	}
	return phases, ValidatePlan(phases)
}

// SelectModel uses the local primary for simple and medium work and the
// cheapest cloud model, carried as the fallback, for complex work.
func (s *CostStrategy) SelectModel(complexity models.Complexity) models.ModelDescriptor {
	if complexity == models.ComplexityComplex {
		return s.cfg.FallbackModel
	}
	return s.cfg.PrimaryModel
}
