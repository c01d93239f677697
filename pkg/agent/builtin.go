package agent

import (
	"context"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/provider"
)

// builtinSpecs declares the capabilities of each shipped agent type.
var builtinSpecs = map[models.AgentType]Capabilities{
	models.AgentConcept: {
		Type:              models.AgentConcept,
		Name:              "Concept Analyst",
		Description:       "Breaks a task description into requirements, acceptance criteria, and scope boundaries",
		Capabilities:      []string{"requirements_analysis", "scoping"},
		Inputs:            []string{"description"},
		Outputs:           []string{"requirements", "acceptance_criteria"},
		EstimatedDuration: 30 * time.Second,
	},
	models.AgentArchitect: {
		Type:              models.AgentArchitect,
		Name:              "Architect",
		Description:       "Designs component structure, data flow, and API contracts for a task",
		Capabilities:      []string{"system_design", "api_design"},
		Inputs:            []string{"description"},
		Outputs:           []string{"architecture"},
		RequiredContext:   []string{models.AgentConcept.ResultKey()},
		EstimatedDuration: 45 * time.Second,
	},
	models.AgentImplement: {
		Type:              models.AgentImplement,
		Name:              "Implementer",
		Description:       "Generates production-ready code from the task and its architecture context",
		Capabilities:      []string{"code_generation"},
		Inputs:            []string{"description", "file"},
		Outputs:           []string{"code"},
		RequiredContext:   []string{models.AgentArchitect.ResultKey()},
		EstimatedDuration: 90 * time.Second,
	},
	models.AgentTest: {
		Type:              models.AgentTest,
		Name:              "Test Writer",
		Description:       "Creates unit, integration, and edge-case tests for an implementation",
		Capabilities:      []string{"test_generation"},
		Inputs:            []string{"description"},
		Outputs:           []string{"tests"},
		RequiredContext:   []string{models.AgentImplement.ResultKey()},
		EstimatedDuration: 60 * time.Second,
	},
	models.AgentReview: {
		Type:              models.AgentReview,
		Name:              "Reviewer",
		Description:       "Reviews generated code for quality, performance, and best-practice issues",
		Capabilities:      []string{"code_review"},
		Inputs:            []string{"description"},
		Outputs:           []string{"feedback"},
		RequiredContext:   []string{models.AgentImplement.ResultKey()},
		EstimatedDuration: 45 * time.Second,
	},
	models.AgentSecurity: {
		Type:              models.AgentSecurity,
		Name:              "Security Auditor",
		Description:       "Audits an implementation for vulnerabilities and data exposure risks",
		Capabilities:      []string{"security_audit"},
		Inputs:            []string{"description"},
		Outputs:           []string{"findings"},
		RequiredContext:   []string{models.AgentImplement.ResultKey()},
		EstimatedDuration: 45 * time.Second,
	},
	models.AgentOptimize: {
		Type:              models.AgentOptimize,
		Name:              "Optimizer",
		Description:       "Tunes an implementation for algorithmic and memory efficiency",
		Capabilities:      []string{"performance_tuning"},
		Inputs:            []string{"description"},
		Outputs:           []string{"optimized_code"},
		RequiredContext:   []string{models.AgentImplement.ResultKey(), models.AgentTest.ResultKey()},
		EstimatedDuration: 60 * time.Second,
	},
	models.AgentDocs: {
		Type:              models.AgentDocs,
		Name:              "Documentation Writer",
		Description:       "Produces API documentation, usage examples, and README content",
		Capabilities:      []string{"documentation"},
		Inputs:            []string{"description"},
		Outputs:           []string{"documentation"},
		RequiredContext:   []string{models.AgentImplement.ResultKey()},
		EstimatedDuration: 30 * time.Second,
	},
	models.AgentDeploy: {
		Type:              models.AgentDeploy,
		Name:              "Deployment Engineer",
		Description:       "Prepares deployment configuration, pipeline steps, and environment checklists",
		Capabilities:      []string{"deployment"},
		Inputs:            []string{"description"},
		Outputs:           []string{"deployment_config"},
		RequiredContext:   []string{models.AgentImplement.ResultKey()},
		EstimatedDuration: 40 * time.Second,
	},
}

// CoreTypes lists the agent types that ship with a builtin implementation,
// in dependency-friendly order.
func CoreTypes() []models.AgentType {
	return []models.AgentType{
		models.AgentConcept, models.AgentArchitect, models.AgentImplement,
		models.AgentTest, models.AgentReview, models.AgentSecurity,
		models.AgentOptimize, models.AgentDocs, models.AgentDeploy,
	}
}

// Builtin is the AI-backed agent for one core type. Every builtin shares the
// same shape: render the type's prompt, call the selected provider through
// the base machinery, then post-process the response.
type Builtin struct {
	*BaseAgent
}

// NewBuiltin constructs the builtin agent for a core type.
func NewBuiltin(typ models.AgentType, deps Deps) (*Builtin, error) {
	spec, ok := builtinSpecs[typ]
	if !ok {
		return nil, models.Ef(models.ErrorValidation, "no builtin agent for type %q", typ)
	}
	base, err := NewBase(spec, deps)
	if err != nil {
		return nil, err
	}
	return &Builtin{BaseAgent: base}, nil
}

// RegisterBuiltins constructs and registers a builtin agent for every core
// type.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	for _, typ := range CoreTypes() {
		a, err := NewBuiltin(typ, deps)
		if err != nil {
			return err
		}
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Execute renders the prompt, runs the provider call, and assembles the
// result. Provider failures surface as errors so the orchestrator's retry
// policy can judge them.
func (b *Builtin) Execute(ctx context.Context, task *models.AgentTask) (*models.AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.WrapError(models.ErrorCancelled, err, "execution cancelled before start")
	}

	start := time.Now()
	typ := b.Capabilities().Type

	b.emitStarted(ctx, task)
	progress := b.startProgress(task)
	progress.Report(ctx, 5)

	prompt := buildPrompt(typ, task)
	progress.Report(ctx, 10)

	gen, err := b.generate(ctx, task, prompt)
	if err != nil {
		b.emitFailed(ctx, task, err)
		return nil, err
	}
	progress.Report(ctx, 85)

	result := &models.AgentResult{
		Success: true,
		Output: map[string]any{
			"response": gen.Content,
			"model":    gen.Model,
		},
		Duration:  time.Since(start),
		TokensIn:  gen.TokensIn,
		TokensOut: gen.TokensOut,
		Cost:      gen.Cost,
	}
	if gen.Cached {
		result.Output["cached"] = true
	}
	if gen.Truncated {
		result.Output["truncated"] = true
	}
	b.decorate(typ, task, gen, result)

	progress.Report(ctx, 100)
	b.emitCompleted(ctx, task, result)
	return result, nil
}

// decorate applies per-type post-processing to a successful result.
func (b *Builtin) decorate(typ models.AgentType, task *models.AgentTask, gen *generation, result *models.AgentResult) {
	switch typ {
	case models.AgentImplement, models.AgentTest, models.AgentOptimize:
		blocks := provider.ExtractCodeBlocks(gen.Content)
		result.Output["code_blocks"] = len(blocks)
		if typ == models.AgentImplement {
			result.FilesModified = contextFiles(task)
		}
	case models.AgentDocs:
		result.FilesModified = contextFiles(task)
	}
}

// contextFiles collects target file paths carried in the task context under
// "file" or "files".
func contextFiles(task *models.AgentTask) []string {
	var out []string
	if f, ok := task.Context["file"].(string); ok && f != "" {
		out = append(out, f)
	}
	switch fs := task.Context["files"].(type) {
	case []string:
		out = append(out, fs...)
	case []any:
		for _, v := range fs {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
