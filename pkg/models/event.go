package models

import "time"

// AggregateType groups events by the identity they describe.
type AggregateType string

const (
	AggregateTask    AggregateType = "task"
	AggregateProject AggregateType = "project"
	AggregateMode    AggregateType = "mode"
	AggregateSystem  AggregateType = "system"
)

// EventMetadata carries provenance for a domain event.
type EventMetadata struct {
	User          string `json:"user,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Event is one immutable domain event. Version is strictly increasing per
// aggregate; the store enforces the invariant on append.
type Event struct {
	ID            string         `json:"id"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType AggregateType  `json:"aggregate_type"`
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	Metadata      EventMetadata  `json:"metadata"`
	Version       int64          `json:"version"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Snapshot captures an aggregate's reduced state at a version, shortening
// event replay.
type Snapshot struct {
	AggregateID   string        `json:"aggregate_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	Version       int64         `json:"version"`
	State         []byte        `json:"state"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EventFilter narrows a store query. Zero fields match everything.
type EventFilter struct {
	AggregateID   string        `json:"aggregate_id,omitempty"`
	AggregateType AggregateType `json:"aggregate_type,omitempty"`
	EventType     string        `json:"event_type,omitempty"`
	Since         *time.Time    `json:"since,omitempty"`
	Until         *time.Time    `json:"until,omitempty"`
	Limit         int           `json:"limit,omitempty"`
}
