package metrics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/orchestrator"
)

// DefaultInterval is the gauge polling cadence.
const DefaultInterval = 15 * time.Second

// StatsSource supplies scheduler-level gauges. The orchestrator
// implements it.
type StatsSource interface {
	Stats() orchestrator.Stats
}

// ConnectionSource reports live WebSocket connections. The events hub
// implements it.
type ConnectionSource interface {
	ActiveConnections() int
}

// Config holds collector dependencies. Bus is required; Stats and
// Connections are optional and simply leave their gauges untouched when
// absent.
type Config struct {
	Bus         *bus.Bus
	Stats       StatsSource
	Connections ConnectionSource
	Interval    time.Duration
	Logger      *slog.Logger
}

// Collector feeds the package metrics. Counters and histograms update
// from bus events as they happen; gauges are polled on a fixed interval
// because they reflect current state rather than increments.
type Collector struct {
	bus         *bus.Bus
	stats       StatsSource
	connections ConnectionSource
	interval    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	subID    string
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector. Interval <= 0 falls back to
// DefaultInterval.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Bus == nil {
		return nil, models.E(models.ErrorValidation, "metrics collector requires an event bus")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Collector{
		bus:         cfg.Bus,
		stats:       cfg.Stats,
		connections: cfg.Connections,
		interval:    cfg.Interval,
		logger:      logger.With("component", "metrics"),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start subscribes to the bus and begins the gauge loop. Idempotent.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	id, err := c.bus.Subscribe(bus.Wildcard, c.handleEvent)
	if err != nil {
		return err
	}
	c.subID = id
	c.started = true

	c.wg.Add(1)
	go c.loop()
	return nil
}

// Stop detaches from the bus and stops the gauge loop. Idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	subID := c.subID
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		c.bus.Unsubscribe(subID)
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

var taskStatuses = []models.TaskStatus{
	models.TaskPending, models.TaskAnalyzing, models.TaskPaused,
	models.TaskRunning, models.TaskCompleted, models.TaskFailed,
	models.TaskCancelled,
}

func (c *Collector) collect() {
	if c.stats != nil {
		st := c.stats.Stats()
		for _, status := range taskStatuses {
			TasksActive.WithLabelValues(string(status)).Set(float64(st.ByStatus[status]))
		}
		AgentsActive.Set(float64(st.ActiveAgents))
		QueueDepth.Set(float64(st.QueueDepth))
	}
	if c.connections != nil {
		WSConnections.Set(float64(c.connections.ActiveConnections()))
	}
}

func (c *Collector) handleEvent(_ context.Context, e models.Event) error {
	switch e.Type {
	case events.EventTaskCreated:
		TasksSubmitted.Inc()

	case events.EventTaskCompleted:
		TasksFinished.WithLabelValues("completed").Inc()
		if d, ok := asFloat(e.Data["duration_ms"]); ok {
			TaskDuration.Observe(d / 1000)
		}
	case events.EventTaskFailed:
		TasksFinished.WithLabelValues("failed").Inc()
	case events.EventTaskCancelled:
		TasksFinished.WithLabelValues("cancelled").Inc()

	case events.EventPhaseCompleted:
		name := asString(e.Data["name"])
		PhasesTotal.WithLabelValues(name, "completed").Inc()
		if d, ok := asFloat(e.Data["duration_ms"]); ok {
			PhaseDuration.WithLabelValues(name).Observe(d / 1000)
		}
	case events.EventPhaseFailed:
		PhasesTotal.WithLabelValues(asString(e.Data["name"]), "failed").Inc()
	case events.EventPhaseSkipped:
		PhasesTotal.WithLabelValues(asString(e.Data["name"]), "skipped").Inc()

	case events.EventAgentCompleted:
		agent := asString(e.Data["agent"])
		AgentExecutions.WithLabelValues(agent, "completed").Inc()
		if d, ok := asFloat(e.Data["duration"]); ok {
			AgentDuration.WithLabelValues(agent).Observe(d / 1000)
		}
	case events.EventAgentFailed:
		AgentExecutions.WithLabelValues(asString(e.Data["agent"]), "failed").Inc()

	case events.EventCostIncurred:
		if usd, ok := asFloat(e.Data["cost"]); ok {
			CostTotal.Add(usd)
		}
		if n, ok := asFloat(e.Data["tokens_in"]); ok {
			TokensTotal.WithLabelValues("in").Add(n)
		}
		if n, ok := asFloat(e.Data["tokens_out"]); ok {
			TokensTotal.WithLabelValues("out").Add(n)
		}
	case events.EventCostLimitReached:
		CostLimitHits.Inc()

	case events.EventModeSwitched:
		ModeSwitches.WithLabelValues(asString(e.Data["to"])).Inc()
	}

	EventsPublished.WithLabelValues(e.Type).Inc()
	return nil
}

// asFloat widens the numeric types publishers put in event payloads.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
