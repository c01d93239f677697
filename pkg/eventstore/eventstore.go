// Package eventstore defines the append-only domain event log and its
// implementations. Events are indexed by aggregate id with strictly
// increasing versions per aggregate; snapshots shorten state replay.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Store is the pluggable event log. Implementations must linearize version
// assignment per aggregate: appending an event whose version does not exceed
// the aggregate's latest is a conflict, and a zero version means "assign the
// next one for me".
type Store interface {
	// Append stores one event. A zero Version is replaced by latest+1 for
	// the aggregate; a non-zero Version must exceed the aggregate's latest.
	Append(ctx context.Context, event *models.Event) error
	// AppendBatch stores all events or none.
	AppendBatch(ctx context.Context, events []*models.Event) error
	// GetEvents returns the aggregate's events with Version > fromVersion,
	// in version order.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Event, error)
	// Query returns events matching the filter in append order.
	Query(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	// GetLatestVersion returns the aggregate's highest version, 0 when the
	// aggregate has no events.
	GetLatestVersion(ctx context.Context, aggregateID string) (int64, error)
	// SaveSnapshot stores a snapshot, superseding any earlier one for the
	// aggregate. Saving a snapshot at or below the stored version is a
	// conflict.
	SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error
	// GetSnapshot returns the latest snapshot, or nil when none exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*models.Snapshot, error)
	// DeleteAggregate removes every event and any snapshot for the
	// aggregate. Deleting an unknown aggregate is a no-op, not an error.
	DeleteAggregate(ctx context.Context, aggregateID string) error
}

// Rebuild reconstructs aggregate state by seeding from the latest snapshot
// (when present) and replaying events strictly newer than its version.
// It returns the reduced state and the version it reflects.
func Rebuild[S any](ctx context.Context, store Store, aggregateID string, reducer func(S, models.Event) (S, error), initial S) (S, int64, error) {
	state := initial
	var fromVersion int64

	snap, err := store.GetSnapshot(ctx, aggregateID)
	if err != nil {
		return state, 0, err
	}
	if snap != nil {
		var restored S
		if err := json.Unmarshal(snap.State, &restored); err != nil {
			return state, 0, models.WrapError(models.ErrorInternal, err, "decode snapshot state")
		}
		state = restored
		fromVersion = snap.Version
	}

	events, err := store.GetEvents(ctx, aggregateID, fromVersion)
	if err != nil {
		return state, 0, err
	}
	version := fromVersion
	for _, evt := range events {
		state, err = reducer(state, evt)
		if err != nil {
			return state, version, models.WrapError(models.ErrorInternal, err, "reduce event "+evt.ID)
		}
		version = evt.Version
	}
	return state, version, nil
}

// SaveJSONSnapshot marshals state and stores it as the aggregate's snapshot
// at the given version.
func SaveJSONSnapshot(ctx context.Context, store Store, aggregateID string, aggregateType models.AggregateType, version int64, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "encode snapshot state")
	}
	return store.SaveSnapshot(ctx, &models.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         data,
		Timestamp:     time.Now().UTC(),
	})
}

// cloneEvent copies an event so stored entries stay immutable when callers
// keep mutating their maps.
func cloneEvent(e *models.Event) models.Event {
	cp := *e
	if e.Data != nil {
		cp.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			cp.Data[k] = v
		}
	}
	return cp
}
