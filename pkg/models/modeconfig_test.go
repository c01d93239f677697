package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeConfigAllAgentsDeduplicates(t *testing.T) {
	cfg := &ModeConfig{
		RequiredAgents: []AgentType{AgentConcept, AgentImplement, AgentTest},
		OptionalAgents: []AgentType{AgentTest, AgentSecurity},
	}
	assert.Equal(t,
		[]AgentType{AgentConcept, AgentImplement, AgentTest, AgentSecurity},
		cfg.AllAgents())
}

func TestModeConfigIsRequired(t *testing.T) {
	cfg := &ModeConfig{
		RequiredAgents: []AgentType{AgentImplement},
		OptionalAgents: []AgentType{AgentSecurity},
	}
	assert.True(t, cfg.IsRequired(AgentImplement))
	assert.False(t, cfg.IsRequired(AgentSecurity))
	assert.False(t, cfg.IsRequired(AgentDeploy))
}
