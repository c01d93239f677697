package mode

import (
	"fmt"

	"github.com/devflow-ai/devflow/pkg/models"
)

// subtaskActions are the canonical step labels per agent type.
var subtaskActions = map[models.AgentType]string{
	models.AgentConcept:   "Analyze requirements",
	models.AgentArchitect: "Design system architecture",
	models.AgentImplement: "Generate code",
	models.AgentTest:      "Create and run tests",
	models.AgentReview:    "Code review",
	models.AgentSecurity:  "Security audit",
	models.AgentOptimize:  "Performance optimization",
	models.AgentDocs:      "Generate documentation",
	models.AgentDeploy:    "Deploy changes",
}

// subtaskID builds a plan-scoped subtask id, e.g. "p2-implement". A suffix
// distinguishes repeated types within one phase.
func subtaskID(phase int, typ models.AgentType, suffix string) string {
	id := fmt.Sprintf("p%d-%s", phase, typ)
	if suffix != "" {
		id += "-" + suffix
	}
	return id
}

// newSubtask builds a pending subtask for the given phase and type.
func newSubtask(phase int, typ models.AgentType, dependsOn ...string) *models.Subtask {
	return &models.Subtask{
		ID:          subtaskID(phase, typ, ""),
		Description: subtaskActions[typ],
		AgentType:   typ,
		Status:      models.SubtaskPending,
		DependsOn:   dependsOn,
	}
}

// newPhase builds a pending phase around the given subtasks.
func newPhase(number int, name string, parallel, required bool, subtasks ...*models.Subtask) *models.Phase {
	if subtasks == nil {
		subtasks = []*models.Subtask{}
	}
	return &models.Phase{
		Number:   number,
		Name:     name,
		Parallel: parallel,
		Required: required,
		Status:   models.PhasePending,
		Subtasks: subtasks,
	}
}

// ValidatePlan rejects plans whose subtasks reference unknown dependency
// ids, carry duplicate ids, or whose phase numbers are not 1..N in order.
func ValidatePlan(phases []*models.Phase) error {
	ids := make(map[string]struct{})
	for i, p := range phases {
		if p.Number != i+1 {
			return models.Ef(models.ErrorValidation, "invalid_plan: phase %d is numbered %d", i+1, p.Number)
		}
		for _, st := range p.Subtasks {
			if st.ID == "" {
				return models.Ef(models.ErrorValidation, "invalid_plan: phase %d has a subtask without an id", p.Number)
			}
			if _, dup := ids[st.ID]; dup {
				return models.Ef(models.ErrorValidation, "invalid_plan: duplicate subtask id %q", st.ID)
			}
			ids[st.ID] = struct{}{}
		}
	}
	for _, p := range phases {
		for _, st := range p.Subtasks {
			for _, dep := range st.DependsOn {
				if _, ok := ids[dep]; !ok {
					return models.Ef(models.ErrorValidation, "invalid_plan: subtask %q depends on unknown subtask %q", st.ID, dep)
				}
			}
		}
	}
	return nil
}
