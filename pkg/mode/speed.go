package mode

import "github.com/devflow-ai/devflow/pkg/models"

// SpeedStrategy ships one implementation phase as fast as possible and
// leaves verification to an optional, empty follow-up phase.
type SpeedStrategy struct {
	baseStrategy
}

// Decompose plans a single parallel execution phase plus an optional Verify
// phase with no subtasks, which auto-completes.
func (s *SpeedStrategy) Decompose(description string, complexity models.Complexity) ([]*models.Phase, error) {
	phases := []*models.Phase{
		newPhase(1, "Execution", s.cfg.ParallelizationLevel == models.ParallelAggressive, true,
			newSubtask(1, models.AgentImplement)),
		newPhase(2, "Verify", false, false),
	}
	return phases, ValidatePlan(phases)
}
