package mode

import (
	"regexp"

	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
)

// optionalTriggers names description keywords that pull an optional agent
// into a plan.
var optionalTriggers = map[models.AgentType]*regexp.Regexp{
	models.AgentSecurity: regexp.MustCompile(`(?i)\b(auth|security|login|password|token|secret)\b`),
	models.AgentOptimize: regexp.MustCompile(`(?i)\b(performance|optimize|slow|latency)\b`),
	models.AgentDocs:     regexp.MustCompile(`(?i)\b(document|docs|readme)\b`),
	models.AgentDeploy:   regexp.MustCompile(`(?i)\b(deploy|release|ship)\b`),
}

// baseStrategy carries the config-driven behavior the four policies share.
type baseStrategy struct {
	mode models.Mode
	cfg  *models.ModeConfig
}

func (b *baseStrategy) Mode() models.Mode { return b.mode }

func (b *baseStrategy) Config() *models.ModeConfig { return b.cfg.Clone() }

// ShouldContinue allows spending until the config's cost limit, if any,
// is reached.
func (b *baseStrategy) ShouldContinue(current cost.Cost) bool {
	if b.cfg.CostLimit == nil {
		return true
	}
	return current < *b.cfg.CostLimit
}

// SelectAgents centers the plan on the implement agent, carries the rest of
// the required list as secondary, and admits optional agents only when the
// description triggers them.
func (b *baseStrategy) SelectAgents(description string) AgentSelection {
	primary := models.AgentImplement
	if !b.cfg.IsRequired(primary) && len(b.cfg.RequiredAgents) > 0 {
		primary = b.cfg.RequiredAgents[0]
	}
	sel := AgentSelection{Primary: primary}
	for _, t := range b.cfg.RequiredAgents {
		if t == primary {
			continue
		}
		sel.Secondary = append(sel.Secondary, t)
	}
	for _, t := range b.cfg.OptionalAgents {
		if re, ok := optionalTriggers[t]; ok && re.MatchString(description) {
			sel.Secondary = append(sel.Secondary, t)
		} else {
			sel.Skip = append(sel.Skip, t)
		}
	}
	return sel
}

// ValidationConfig maps the mode's validation depth onto concrete gates.
func (b *baseStrategy) ValidationConfig() ValidationConfig {
	switch b.cfg.ValidationDepth {
	case models.ValidationComprehensive:
		return ValidationConfig{
			Typecheck:           true,
			Lint:                true,
			Build:               true,
			Tests:               true,
			RequireReview:       true,
			RequireSecurityScan: true,
			MinCoverage:         0.80,
		}
	case models.ValidationStandard:
		return ValidationConfig{
			Typecheck:     true,
			Build:         true,
			Tests:         true,
			RequireReview: true,
		}
	default:
		return ValidationConfig{Build: true}
	}
}

// SelectModel defaults to the primary model at every complexity; AUTONOMY
// and COST override this.
func (b *baseStrategy) SelectModel(models.Complexity) models.ModelDescriptor {
	return b.cfg.PrimaryModel
}

// NewStrategy builds the strategy implementing mode m over cfg. The config
// is validated and cloned; later edits to cfg do not leak in.
func NewStrategy(m models.Mode, cfg *models.ModeConfig) (Strategy, error) {
	if cfg == nil {
		return nil, models.Ef(models.ErrorValidation, "mode %s needs a config", m)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := baseStrategy{mode: m, cfg: cfg.Clone()}
	switch m {
	case models.ModeSpeed:
		return &SpeedStrategy{base}, nil
	case models.ModeQuality:
		return &QualityStrategy{base}, nil
	case models.ModeAutonomy:
		return &AutonomyStrategy{base}, nil
	case models.ModeCost:
		return &CostStrategy{base}, nil
	default:
		return nil, models.Ef(models.ErrorValidation, "unknown mode %q", m)
	}
}
