package mode

import (
	"regexp"

	"github.com/devflow-ai/devflow/pkg/models"
)

var translationWords = regexp.MustCompile(`(?i)\b(ui|translation|translations|multilingual)\b`)

// QualityStrategy runs the full analyze-implement-verify-document pipeline
// with comprehensive validation.
type QualityStrategy struct {
	baseStrategy
}

// Decompose plans four phases: sequential concept→architect, parallel
// implementation (with a second translations subtask when the description
// calls for it), parallel test/review/security, then documentation.
func (s *QualityStrategy) Decompose(description string, complexity models.Complexity) ([]*models.Phase, error) {
	concept := newSubtask(1, models.AgentConcept)
	architect := newSubtask(1, models.AgentArchitect, concept.ID)

	implementation := []*models.Subtask{newSubtask(2, models.AgentImplement)}
	if translationWords.MatchString(description) {
		translations := &models.Subtask{
			ID:          subtaskID(2, models.AgentImplement, "translations"),
			Description: "Implement translations",
			AgentType:   models.AgentImplement,
			Status:      models.SubtaskPending,
		}
		implementation = append(implementation, translations)
	}

	phases := []*models.Phase{
		newPhase(1, "Analysis", false, true, concept, architect),
		newPhase(2, "Implementation", true, true, implementation...),
		newPhase(3, "Verification", true, true,
			newSubtask(3, models.AgentTest),
			newSubtask(3, models.AgentReview),
			newSubtask(3, models.AgentSecurity)),
		newPhase(4, "Documentation", false, true,
			newSubtask(4, models.AgentDocs)),
	}
	return phases, ValidatePlan(phases)
}
