package agent

import (
	"fmt"

	"github.com/devflow-ai/devflow/pkg/models"
)

// priorOutput pulls the text an earlier agent produced out of the task
// context, truncated to limit runes when limit > 0. Missing or unusable
// values read as "N/A" so prompts stay well-formed.
func priorOutput(task *models.AgentTask, typ models.AgentType, limit int) string {
	raw, ok := task.Context[typ.ResultKey()]
	if !ok {
		return "N/A"
	}

	var text string
	switch v := raw.(type) {
	case *models.AgentResult:
		text = responseText(v.Output)
	case models.AgentResult:
		text = responseText(v.Output)
	case map[string]any:
		text = responseText(v)
	case string:
		text = v
	default:
		text = fmt.Sprintf("%v", v)
	}
	if text == "" {
		return "N/A"
	}
	if limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = string(runes[:limit])
		}
	}
	return text
}

func responseText(output map[string]any) string {
	if output == nil {
		return ""
	}
	if s, ok := output["response"].(string); ok {
		return s
	}
	if s, ok := output["output"].(string); ok {
		return s
	}
	return ""
}

// buildPrompt renders the per-type prompt for a task. Types without a
// dedicated template get a generic instruction.
func buildPrompt(typ models.AgentType, task *models.AgentTask) string {
	description := task.Description

	switch typ {
	case models.AgentConcept:
		return fmt.Sprintf(`Analyze this development task and provide a clear breakdown:

Task: %s

Provide:
1. Clear requirements list
2. User stories (if applicable)
3. Acceptance criteria
4. Scope boundaries

Be concise and actionable.`, description)

	case models.AgentArchitect:
		return fmt.Sprintf(`Design the technical architecture for this task:

Task: %s

Previous Analysis:
%s

Provide:
1. Component diagram (text-based)
2. Data flow description
3. API contracts (if applicable)
4. Technology recommendations

Be specific about implementation details.`, description, priorOutput(task, models.AgentConcept, 0))

	case models.AgentImplement:
		return fmt.Sprintf(`Generate production-ready code for this task:

Task: %s

Architecture Context:
%s

Requirements:
- Follow best practices
- Include proper error handling
- Add necessary type annotations
- Make code testable

Generate complete, working code.`, description, priorOutput(task, models.AgentArchitect, 0))

	case models.AgentTest:
		return fmt.Sprintf(`Create comprehensive tests for this implementation:

Task: %s

Implementation:
%s

Create:
1. Unit tests
2. Integration tests (if applicable)
3. Edge case tests
4. Error handling tests`, description, priorOutput(task, models.AgentImplement, 2000))

	case models.AgentReview:
		return fmt.Sprintf(`Review this code for quality and best practices:

Task: %s

Code to Review:
%s

Check for:
1. Code quality issues
2. Performance concerns
3. Security vulnerabilities
4. Best practice violations

Provide actionable feedback.`, description, priorOutput(task, models.AgentImplement, 2000))

	case models.AgentSecurity:
		return fmt.Sprintf(`Perform a security audit on this implementation:

Task: %s

Code to Audit:
%s

Check for:
1. OWASP Top 10 vulnerabilities
2. Input validation issues
3. Authentication/Authorization flaws
4. Data exposure risks`, description, priorOutput(task, models.AgentImplement, 2000))

	case models.AgentOptimize:
		return fmt.Sprintf(`Optimize this code for performance:

Task: %s

Code to Optimize:
%s

Focus on:
1. Algorithm efficiency
2. Memory usage
3. Database queries (if applicable)
4. Caching opportunities`, description, priorOutput(task, models.AgentImplement, 2000))

	case models.AgentDocs:
		return fmt.Sprintf(`Generate documentation for this implementation:

Task: %s

Code:
%s

Create:
1. Function/method documentation
2. Usage examples
3. API documentation (if applicable)
4. README content`, description, priorOutput(task, models.AgentImplement, 1500))

	case models.AgentDeploy:
		return fmt.Sprintf(`Create deployment configuration for this implementation:

Task: %s

Implementation Context:
%s

Provide:
1. Docker configuration (if applicable)
2. CI/CD pipeline steps
3. Environment variables needed
4. Deployment checklist`, description, priorOutput(task, models.AgentImplement, 1000))

	default:
		return fmt.Sprintf("Execute the %s task for: %s", typ, description)
	}
}
