package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to TaskStatus
	}{
		{TaskPending, TaskAnalyzing},
		{TaskPending, TaskCancelled},
		{TaskAnalyzing, TaskRunning},
		{TaskAnalyzing, TaskPaused},
		{TaskAnalyzing, TaskFailed},
		{TaskAnalyzing, TaskCancelled},
		{TaskPaused, TaskRunning},
		{TaskPaused, TaskCancelled},
		{TaskRunning, TaskCompleted},
		{TaskRunning, TaskFailed},
		{TaskRunning, TaskCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to TaskStatus
	}{
		{TaskPending, TaskRunning},
		{TaskPending, TaskCompleted},
		{TaskRunning, TaskPending},
		{TaskRunning, TaskAnalyzing},
		{TaskCompleted, TaskRunning},
		{TaskFailed, TaskRunning},
		{TaskCancelled, TaskRunning},
		{TaskCompleted, TaskFailed},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.False(t, TaskPaused.IsTerminal())
}

func TestTaskAddFilesKeepsSetSemantics(t *testing.T) {
	task := NewTask("t1", "fix typo", "", ModeSpeed, 50)
	task.AddFiles([]string{"a.go", "b.go"})
	task.AddFiles([]string{"b.go", "c.go"})
	task.AddFiles(nil)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, task.FilesModified)
}

func TestTaskCloneIsDeep(t *testing.T) {
	task := NewTask("t1", "add feature", "p1", ModeQuality, 80)
	task.Phases = []*Phase{{
		Number: 1, Name: "Implementation", Required: true,
		Subtasks: []*Subtask{{ID: "s1", AgentType: AgentImplement, Input: map[string]any{"k": "v"}}},
	}}
	task.Results[1] = map[string]any{"implementResult": "x"}
	task.AddFiles([]string{"main.go"})

	cp := task.Clone()
	cp.Phases[0].Subtasks[0].Status = SubtaskCompleted
	cp.Results[1]["implementResult"] = "mutated"
	cp.FilesModified[0] = "other.go"

	assert.Equal(t, SubtaskStatus(""), task.Phases[0].Subtasks[0].Status)
	assert.Equal(t, "x", task.Results[1]["implementResult"])
	assert.Equal(t, "main.go", task.FilesModified[0])
}

func TestPhaseAgentTypesDeduplicates(t *testing.T) {
	p := &Phase{Subtasks: []*Subtask{
		{AgentType: AgentImplement},
		{AgentType: AgentImplement},
		{AgentType: AgentTest},
	}}
	assert.Equal(t, []AgentType{AgentImplement, AgentTest}, p.AgentTypes())
}

func TestAgentTaskWithContextDoesNotMutateReceiver(t *testing.T) {
	base := &AgentTask{TaskID: "t1", Context: map[string]any{"a": 1}}
	enriched := base.WithContext(map[string]any{"architectResult": "design"})

	require.Contains(t, enriched.Context, "architectResult")
	assert.Contains(t, enriched.Context, "a")
	assert.NotContains(t, base.Context, "architectResult")
}

func TestAgentResultKey(t *testing.T) {
	assert.Equal(t, "architectResult", AgentArchitect.ResultKey())
	assert.Equal(t, "implementResult", AgentImplement.ResultKey())
}

func TestModeParsingAndValidity(t *testing.T) {
	assert.True(t, ModeSpeed.IsValid())
	assert.True(t, ModeCost.IsValid())
	assert.False(t, Mode("TURBO").IsValid())
	assert.Len(t, AllModes(), 4)
}

func TestAgentTypeValidity(t *testing.T) {
	for _, at := range KnownAgentTypes() {
		assert.True(t, at.IsValid(), at)
	}
	assert.False(t, AgentType("wizard").IsValid())
}
