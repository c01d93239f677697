// Package events fans domain events out to live subscribers over Go
// channels and WebSocket. Event types form a closed taxonomy; everything
// the orchestrator, agents, and mode manager publish uses one of the
// constants below so subscribers can rely on the set being stable.
package events

import (
	"strings"
	"time"
)

// Task lifecycle.
const (
	EventTaskCreated   = "task.created"
	EventTaskStarted   = "task.started"
	EventTaskPaused    = "task.paused"
	EventTaskResumed   = "task.resumed"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
)

// Phase lifecycle within a task.
const (
	EventPhaseStarted   = "task.phase.started"
	EventPhaseCompleted = "task.phase.completed"
	EventPhaseFailed    = "task.phase.failed"
	EventPhaseSkipped   = "task.phase.skipped"
)

// Agent execution. Progress is clamped to 0-100 and never decreases within
// one execution.
const (
	EventAgentStarted   = "agent.started"
	EventAgentProgress  = "agent.progress"
	EventAgentCompleted = "agent.completed"
	EventAgentFailed    = "agent.failed"
	EventAgentLog       = "agent.log"
)

// Mode management.
const (
	EventModeSwitching     = "mode.switching"
	EventModeSwitched      = "mode.switched"
	EventModeConfigUpdated = "mode.config.updated"
)

// Cost tracking.
const (
	EventCostIncurred     = "cost.incurred"
	EventCostLimitReached = "cost.limit.reached"
)

// Project records.
const (
	EventProjectCreated = "project.created"
	EventProjectDeleted = "project.deleted"
)

// System lifecycle.
const (
	EventSystemStarted  = "system.started"
	EventSystemShutdown = "system.shutdown"
	EventSystemError    = "system.error"
)

// KnownEventTypes lists the full taxonomy in a stable order.
func KnownEventTypes() []string {
	return []string{
		EventTaskCreated, EventTaskStarted, EventTaskPaused, EventTaskResumed,
		EventTaskCompleted, EventTaskFailed, EventTaskCancelled,
		EventPhaseStarted, EventPhaseCompleted, EventPhaseFailed, EventPhaseSkipped,
		EventAgentStarted, EventAgentProgress, EventAgentCompleted, EventAgentFailed, EventAgentLog,
		EventModeSwitching, EventModeSwitched, EventModeConfigUpdated,
		EventCostIncurred, EventCostLimitReached,
		EventProjectCreated, EventProjectDeleted,
		EventSystemStarted, EventSystemShutdown, EventSystemError,
	}
}

// IsKnownEventType reports whether the type belongs to the closed taxonomy.
func IsKnownEventType(t string) bool {
	for _, known := range KnownEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// GlobalTasksChannel carries lifecycle events for every task. The task list
// view subscribes here.
const GlobalTasksChannel = "tasks"

// TaskChannel returns the subscription channel for one task's events,
// "task:{task_id}".
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// ValidChannel reports whether a subscription channel is recognized:
// "tasks", "task:<id>" with a non-empty id, or a known event type.
func ValidChannel(ch string) bool {
	if ch == GlobalTasksChannel {
		return true
	}
	if id, ok := strings.CutPrefix(ch, "task:"); ok {
		return id != ""
	}
	return IsKnownEventType(ch)
}

// ClientMessage is the JSON structure for client to server WebSocket
// messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "task:abc-123", "tasks", "agent.progress"
}

// NoticeOverflow is delivered as a subscriber's final envelope when it
// falls too far behind and is dropped.
const NoticeOverflow = "overflow"

// Envelope is the wire shape pushed to subscribers: the event type, the
// owning task when there is one, the event payload, and the publish time.
// Channel is set only on control notices such as overflow.
type Envelope struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
