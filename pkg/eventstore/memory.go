package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/models"
)

// InMemory is the reference Store used in tests and single-process
// deployments. All methods are safe for concurrent use.
type InMemory struct {
	mu        sync.RWMutex
	byAgg     map[string][]models.Event
	all       []models.Event
	latest    map[string]int64
	snapshots map[string]models.Snapshot
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		byAgg:     make(map[string][]models.Event),
		latest:    make(map[string]int64),
		snapshots: make(map[string]models.Snapshot),
	}
}

func (s *InMemory) Append(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(event)
}

func (s *InMemory) appendLocked(event *models.Event) error {
	if event == nil {
		return models.E(models.ErrorValidation, "event must not be nil")
	}
	if event.AggregateID == "" {
		return models.E(models.ErrorValidation, "event aggregate id must not be empty")
	}
	latest := s.latest[event.AggregateID]
	switch {
	case event.Version == 0:
		event.Version = latest + 1
	case event.Version <= latest:
		return models.Ef(models.ErrorConflict,
			"version %d for aggregate %s is not above latest %d",
			event.Version, event.AggregateID, latest)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	stored := cloneEvent(event)
	s.byAgg[event.AggregateID] = append(s.byAgg[event.AggregateID], stored)
	s.all = append(s.all, stored)
	s.latest[event.AggregateID] = event.Version
	return nil
}

func (s *InMemory) AppendBatch(ctx context.Context, events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Dry-run against a copy of the version table so a mid-batch conflict
	// leaves the store untouched.
	shadow := make(map[string]int64, len(s.latest))
	for k, v := range s.latest {
		shadow[k] = v
	}
	for _, evt := range events {
		if evt == nil {
			return models.E(models.ErrorValidation, "event must not be nil")
		}
		if evt.AggregateID == "" {
			return models.E(models.ErrorValidation, "event aggregate id must not be empty")
		}
		next := evt.Version
		if next == 0 {
			next = shadow[evt.AggregateID] + 1
		} else if next <= shadow[evt.AggregateID] {
			return models.Ef(models.ErrorConflict,
				"version %d for aggregate %s is not above latest %d",
				next, evt.AggregateID, shadow[evt.AggregateID])
		}
		shadow[evt.AggregateID] = next
	}
	for _, evt := range events {
		if err := s.appendLocked(evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemory) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byAgg[aggregateID]
	out := make([]models.Event, 0, len(events))
	for _, evt := range events {
		if evt.Version > fromVersion {
			out = append(out, cloneEvent(&evt))
		}
	}
	return out, nil
}

func (s *InMemory) Query(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Event{}
	for _, evt := range s.all {
		if filter.AggregateID != "" && evt.AggregateID != filter.AggregateID {
			continue
		}
		if filter.AggregateType != "" && evt.AggregateType != filter.AggregateType {
			continue
		}
		if filter.EventType != "" && evt.Type != filter.EventType {
			continue
		}
		if filter.Since != nil && evt.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && evt.Timestamp.After(*filter.Until) {
			continue
		}
		out = append(out, cloneEvent(&evt))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[aggregateID], nil
}

func (s *InMemory) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" {
		return models.E(models.ErrorValidation, "snapshot aggregate id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[snapshot.AggregateID]; ok && snapshot.Version <= existing.Version {
		return models.Ef(models.ErrorConflict,
			"snapshot version %d for aggregate %s is not above stored %d",
			snapshot.Version, snapshot.AggregateID, existing.Version)
	}
	cp := *snapshot
	cp.State = append([]byte(nil), snapshot.State...)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.snapshots[snapshot.AggregateID] = cp
	return nil
}

func (s *InMemory) GetSnapshot(ctx context.Context, aggregateID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	cp := snap
	cp.State = append([]byte(nil), snap.State...)
	return &cp, nil
}

func (s *InMemory) DeleteAggregate(ctx context.Context, aggregateID string) error {
	if aggregateID == "" {
		return models.E(models.ErrorValidation, "aggregate id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAgg[aggregateID]; !ok {
		delete(s.snapshots, aggregateID)
		return nil
	}
	delete(s.byAgg, aggregateID)
	delete(s.latest, aggregateID)
	delete(s.snapshots, aggregateID)
	kept := s.all[:0]
	for _, evt := range s.all {
		if evt.AggregateID != aggregateID {
			kept = append(kept, evt)
		}
	}
	s.all = kept
	return nil
}
