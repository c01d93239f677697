// Package app assembles every subsystem into one running process: event
// bus, store and recorder, providers, agents, mode manager, worker pool,
// orchestrator, fan-out, metrics, retention, and the HTTP server. The
// container owns construction order, startup, and the staged shutdown
// that drains work before the API stops answering.
package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/devflow-ai/devflow/pkg/agent"
	"github.com/devflow-ai/devflow/pkg/api"
	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/cache"
	"github.com/devflow-ai/devflow/pkg/cleanup"
	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/database"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/eventstore"
	"github.com/devflow-ai/devflow/pkg/masking"
	"github.com/devflow-ai/devflow/pkg/metrics"
	"github.com/devflow-ai/devflow/pkg/mode"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/orchestrator"
	"github.com/devflow-ai/devflow/pkg/provider"
	"github.com/devflow-ai/devflow/pkg/provider/anthropic"
	"github.com/devflow-ai/devflow/pkg/provider/ollama"
	"github.com/devflow-ai/devflow/pkg/queue"
	"github.com/devflow-ai/devflow/pkg/services"
)

// App owns every long-lived subsystem. Build one with New, run it with
// Start, and tear it down with Stop; the zero value is not usable.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	bus       *bus.Bus
	db        *database.Client // nil when persistence is disabled
	store     eventstore.Store
	recorder  *eventstore.Recorder
	cache     *cache.Cache
	providers *provider.Registry
	remote    provider.Provider // nil without an Anthropic API key
	local     provider.Provider
	agents    *agent.Registry
	modes     *mode.Manager
	pool      *queue.WorkerPool
	tracker   *cost.Tracker
	orch      *orchestrator.Orchestrator
	projects  *services.ProjectService
	manager   *events.Manager
	hub       *events.ConnectionManager
	collector *metrics.Collector
	sweeper   *cleanup.Service
	server    *api.Server

	errCh chan error
}

// New constructs the full subsystem graph from configuration. Nothing is
// started and no ports are bound; a returned App holds an open database
// connection at most, which Stop releases even if Start is never called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, models.E(models.ErrorValidation, "app requires a configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger, errCh: make(chan error, 1)}

	a.bus = bus.New(
		bus.WithMaxListeners(cfg.Events.MaxListeners),
		bus.WithLogger(logger),
	)

	if cfg.Database.Enabled() {
		client, err := database.NewClient(ctx, database.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			Migrate:         cfg.Database.MigrateOnStart,
		})
		if err != nil {
			return nil, models.WrapError(models.ErrorInternal, err, "connect database")
		}
		a.db = client
		a.store = eventstore.NewPostgres(client.DB())
	} else {
		logger.Info("No database configured, event history is in-memory only")
		a.store = eventstore.NewInMemory()
	}

	a.tracker = cost.NewTracker()

	a.providers = provider.NewRegistry()
	a.local = ollama.New(ollama.Config{
		BaseURL:      cfg.Ollama.BaseURL,
		DefaultModel: cfg.Ollama.DefaultModel,
		MaxTokens:    cfg.Ollama.MaxTokens,
		Timeout:      cfg.Ollama.Timeout,
		Logger:       logger,
	})
	if err := a.providers.Register(a.local); err != nil {
		return nil, a.closePartial(err)
	}
	if cfg.Anthropic.Enabled() {
		remote, err := anthropic.New(anthropic.Config{
			APIKey:       cfg.Anthropic.APIKey,
			DefaultModel: cfg.Anthropic.DefaultModel,
			MaxTokens:    cfg.Anthropic.MaxTokens,
			Logger:       logger,
		})
		if err != nil {
			return nil, a.closePartial(err)
		}
		a.remote = remote
		if err := a.providers.Register(remote); err != nil {
			return nil, a.closePartial(err)
		}
	} else {
		logger.Info("No Anthropic API key configured, running on local models only")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	a.cache = cache.New(cache.Config{
		Client: redisClient,
		TTL:    cfg.Redis.CacheTTL,
		Logger: logger,
	})

	modes, err := mode.NewManager(cfg.DefaultMode, cfg.Modes, a.bus, logger)
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.modes = modes

	a.agents = agent.NewRegistry(cfg.Queue.Workers, logger)
	// Model selection is delegated to the strategy of the task's own mode,
	// not whatever mode is globally active when the call happens.
	selector := func(m models.Mode, complexity models.Complexity) models.ModelDescriptor {
		s, err := modes.Strategy(m)
		if err != nil {
			s = modes.ActiveStrategy()
		}
		return s.SelectModel(complexity)
	}
	if err := agent.RegisterBuiltins(a.agents, agent.Deps{
		Providers: a.providers,
		Bus:       a.bus,
		Selector:  selector,
		Cache:     a.cache,
		Logger:    logger,
	}); err != nil {
		return nil, a.closePartial(err)
	}
	// Mode configs may name agent types that ship without a builtin; flag
	// them now instead of at execution time.
	for _, info := range modes.List() {
		for _, typ := range info.Config.AllAgents() {
			if _, err := a.agents.Get(typ); err != nil {
				logger.Warn("Mode config references an unregistered agent type",
					"mode", string(info.Mode), "agent", string(typ))
			}
		}
	}

	a.pool = queue.NewWorkerPool(queue.Config{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.QueueSize,
		StopGrace: cfg.Queue.ShutdownGrace,
	}, logger)

	orch, err := orchestrator.New(orchestrator.Deps{
		Bus:     a.bus,
		Agents:  a.agents,
		Modes:   a.modes,
		Pool:    a.pool,
		Tracker: a.tracker,
		Logger:  logger,
	})
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.orch = orch

	a.projects = services.NewProjectService(a.bus, logger)

	manager, err := events.NewManager(a.bus, cfg.Events.SubscriberBuffer, logger)
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.manager = manager
	a.hub = events.NewConnectionManager(0)
	redactor, err := masking.NewRedactor()
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.manager.SetBroadcaster(events.NewRedactingBroadcaster(a.hub, redactor))

	recorder, err := eventstore.NewRecorder(a.store, a.bus, eventstore.RecorderConfig{
		SnapshotInterval: cfg.Events.SnapshotInterval,
		Provider: func(aggregateID string) (any, models.AggregateType, bool) {
			task, err := orch.Get(aggregateID)
			if err != nil {
				return nil, "", false
			}
			return task, models.AggregateTask, true
		},
		Logger: logger,
	})
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.recorder = recorder

	collector, err := metrics.NewCollector(metrics.Config{
		Bus:         a.bus,
		Stats:       a.orch,
		Connections: a.hub,
		Logger:      logger,
	})
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.collector = collector

	sweeper, err := cleanup.NewService(cfg.Retention, a.orch, a.store, a.tracker, logger)
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.sweeper = sweeper

	server, err := api.NewServer(cfg.Server, api.Deps{
		Orchestrator: a.orch,
		Modes:        a.modes,
		Projects:     a.projects,
		Tracker:      a.tracker,
		Hub:          a.hub,
		Health: api.HealthSources{
			Database: a.db,
			Cache:    a.cache,
			Provider: a.remote,
			Local:    a.local,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, a.closePartial(err)
	}
	a.server = server

	return a, nil
}

// Start brings the pipeline up back-to-front, so every stage has a running
// consumer before its producers start, then binds the HTTP listener in a
// goroutine. Listener failures surface on Err.
func (a *App) Start(ctx context.Context) error {
	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	if err := a.recorder.Start(); err != nil {
		return err
	}
	if err := a.manager.Start(); err != nil {
		return err
	}
	if err := a.collector.Start(); err != nil {
		return err
	}
	a.sweeper.Start(ctx)

	if _, err := a.bus.Publish(ctx, events.EventSystemStarted, map[string]any{
		"mode": a.modes.Current(),
	}); err != nil {
		a.logger.Warn("Failed to publish startup event", "error", err)
	}

	go func() {
		if err := a.server.Start(); err != nil {
			a.errCh <- err
		}
	}()
	a.logger.Info("Application started", "addr", a.cfg.Server.Addr(), "mode", a.modes.Current())
	return nil
}

// Err reports a failed HTTP listener. The channel never closes and
// delivers at most one error.
func (a *App) Err() <-chan error {
	return a.errCh
}

// Stop tears the process down in stages: background loops first, then the
// task pipeline so in-flight work is cancelled and drained, and the HTTP
// server last so clients get answers for as long as anything is alive.
// The context bounds the HTTP drain.
func (a *App) Stop(ctx context.Context) {
	if _, err := a.bus.Publish(ctx, events.EventSystemShutdown, nil); err != nil {
		a.logger.Warn("Failed to publish shutdown event", "error", err)
	}

	a.sweeper.Stop()
	a.collector.Stop()
	a.orch.Stop()
	a.pool.Stop()
	a.manager.Stop()
	a.recorder.Stop()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP server shutdown failed", "error", err)
	}

	a.closeResources()
	a.logger.Info("Shutdown complete")
}

// closePartial releases held resources when construction fails partway.
func (a *App) closePartial(err error) error {
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("Cache close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Database close failed", "error", err)
		}
	}
}
