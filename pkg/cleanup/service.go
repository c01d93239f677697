// Package cleanup enforces the task retention policy: terminal tasks past
// the retention window are dropped from the orchestrator's registry, their
// event history is deleted from the store, and their cost records age out
// of the tracker.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/eventstore"
	"github.com/devflow-ai/devflow/pkg/models"
)

// TaskSweeper removes expired terminal tasks from a task registry and
// returns their IDs. The orchestrator implements it.
type TaskSweeper interface {
	SweepTerminal(cutoff time.Time) []string
}

// Service periodically enforces retention:
//   - Drops terminal tasks older than the retention window and deletes
//     their events and snapshots from the store
//   - Prunes cost records older than the same window
//
// All operations are idempotent; a missed run just means the next one
// sweeps more.
type Service struct {
	config  config.RetentionConfig
	sweeper TaskSweeper
	store   eventstore.Store
	tracker *cost.Tracker
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the retention loop. Sweeper and store are required; a
// nil tracker skips cost pruning.
func NewService(cfg config.RetentionConfig, sweeper TaskSweeper, store eventstore.Store, tracker *cost.Tracker, logger *slog.Logger) (*Service, error) {
	if sweeper == nil || store == nil {
		return nil, models.E(models.ErrorValidation, "cleanup service needs a task sweeper and an event store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:  cfg,
		sweeper: sweeper,
		store:   store,
		tracker: tracker,
		logger:  logger.With("component", "cleanup"),
	}, nil
}

// Start launches the background retention loop. Disabled or already
// started services are a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info("Retention disabled")
		return
	}
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.TaskRetentionDays)
	s.sweepTasks(ctx, cutoff)
	s.pruneCostRecords(cutoff)
}

func (s *Service) sweepTasks(ctx context.Context, cutoff time.Time) {
	ids := s.sweeper.SweepTerminal(cutoff)
	if len(ids) == 0 {
		return
	}
	pruned := 0
	for _, id := range ids {
		if err := s.store.DeleteAggregate(ctx, id); err != nil {
			s.logger.Error("Retention: event history delete failed", "task_id", id, "error", err)
			continue
		}
		pruned++
	}
	s.logger.Info("Retention: swept terminal tasks", "tasks", len(ids), "histories_pruned", pruned)
}

func (s *Service) pruneCostRecords(cutoff time.Time) {
	if s.tracker == nil {
		return
	}
	if count := s.tracker.Prune(cutoff); count > 0 {
		s.logger.Info("Retention: pruned cost records", "count", count)
	}
}
