package eventstore

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
)

// DefaultSnapshotInterval is how many events an aggregate accumulates
// between snapshots when the recorder is not configured otherwise.
const DefaultSnapshotInterval = 20

// StateProvider resolves an aggregate's current reduced state for
// snapshotting. ok is false when the provider does not own the aggregate.
type StateProvider func(aggregateID string) (state any, aggregateType models.AggregateType, ok bool)

// RecorderConfig tunes the bus-to-store bridge.
type RecorderConfig struct {
	// SnapshotInterval snapshots an aggregate every N stored events;
	// zero or negative applies the default.
	SnapshotInterval int
	// Provider supplies aggregate state for snapshots. Without one the
	// recorder only appends events.
	Provider StateProvider
	Logger   *slog.Logger
}

// Recorder subscribes to every bus event and appends it to the store, so
// publishers stay free of persistence concerns. Versions are reassigned
// by the store, giving each aggregate a dense history independent of the
// bus-wide sequence. Aggregates snapshot on a fixed cadence and at task
// terminal events.
type Recorder struct {
	store    Store
	bus      *bus.Bus
	provider StateProvider
	interval int64
	logger   *slog.Logger

	mu      sync.Mutex
	subID   string
	started bool
}

// NewRecorder builds a recorder over the store and bus. Call Start to
// attach it.
func NewRecorder(store Store, b *bus.Bus, cfg RecorderConfig) (*Recorder, error) {
	if store == nil || b == nil {
		return nil, models.E(models.ErrorValidation, "recorder needs a store and a bus")
	}
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Recorder{
		store:    store,
		bus:      b,
		provider: cfg.Provider,
		interval: int64(interval),
		logger:   logger.With("component", "eventstore.recorder"),
	}, nil
}

// Start attaches the recorder to the bus. Starting twice is a no-op.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.logger.Warn("Recorder already started")
		return nil
	}
	id, err := r.bus.Subscribe(bus.Wildcard, r.handle)
	if err != nil {
		return err
	}
	r.subID = id
	r.started = true
	r.logger.Info("Recorder started", "snapshot_interval", r.interval)
	return nil
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.bus.Unsubscribe(r.subID)
	r.started = false
	r.logger.Info("Recorder stopped")
}

func (r *Recorder) handle(ctx context.Context, e models.Event) error {
	evt := e
	evt.Version = 0
	if err := r.store.Append(ctx, &evt); err != nil {
		r.logger.Error("Event persistence failed",
			"type", e.Type, "aggregate_id", e.AggregateID, "error", err)
		return err
	}

	if r.provider == nil {
		return nil
	}
	if evt.Version%r.interval != 0 && !terminalTaskEvent(e.Type) {
		return nil
	}

	state, typ, ok := r.provider(e.AggregateID)
	if !ok {
		return nil
	}
	// A stale or racing snapshot is harmless; the event itself is safe.
	if err := SaveJSONSnapshot(ctx, r.store, e.AggregateID, typ, evt.Version, state); err != nil {
		r.logger.Warn("Snapshot save failed",
			"aggregate_id", e.AggregateID, "version", evt.Version, "error", err)
	} else {
		r.logger.Debug("Snapshot saved", "aggregate_id", e.AggregateID, "version", evt.Version)
	}
	return nil
}

// terminalTaskEvent reports whether the type ends a task's lifecycle;
// those always snapshot so finished tasks replay from one read.
func terminalTaskEvent(t string) bool {
	switch t {
	case events.EventTaskCompleted, events.EventTaskFailed, events.EventTaskCancelled:
		return true
	}
	return false
}
