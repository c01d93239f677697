// Package metrics exposes Prometheus instrumentation for the scheduler,
// agents, and API. Counters and histograms are fed by the Collector from
// bus events; gauges are polled from the orchestrator and the WebSocket
// hub. Everything registers on the default registry under the devflow_
// prefix.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devflow_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
	)

	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	TasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "devflow_tasks_active",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devflow_task_duration_seconds",
			Help:    "Wall-clock duration of completed tasks in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Phase metrics
	PhasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_phases_total",
			Help: "Total number of finished phases by name and outcome",
		},
		[]string{"name", "status"},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devflow_phase_duration_seconds",
			Help:    "Duration of completed phases in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"name"},
	)

	// Agent metrics
	AgentExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_agent_executions_total",
			Help: "Total number of agent executions by agent type and outcome",
		},
		[]string{"agent", "status"},
	)

	AgentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devflow_agent_execution_duration_seconds",
			Help:    "Duration of successful agent executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	AgentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devflow_agents_active",
			Help: "Agent executions currently in flight",
		},
	)

	// Cost metrics
	CostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devflow_cost_usd_total",
			Help: "Cumulative billed cost in USD",
		},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_tokens_total",
			Help: "Cumulative tokens by direction (in, out)",
		},
		[]string{"direction"},
	)

	CostLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devflow_cost_limit_hits_total",
			Help: "Total number of tasks stopped by a mode cost limit",
		},
	)

	// Mode metrics
	ModeSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_mode_switches_total",
			Help: "Total number of mode switches by target mode",
		},
		[]string{"mode"},
	)

	// Event metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_events_published_total",
			Help: "Total number of bus events by type",
		},
		[]string{"type"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devflow_queue_depth",
			Help: "Subtasks waiting for a worker",
		},
	)

	// Transport metrics
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devflow_ws_connections",
			Help: "Active WebSocket connections",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devflow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksFinished)
	prometheus.MustRegister(TasksActive)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(PhasesTotal)
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(AgentExecutions)
	prometheus.MustRegister(AgentDuration)
	prometheus.MustRegister(AgentsActive)
	prometheus.MustRegister(CostTotal)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(CostLimitHits)
	prometheus.MustRegister(ModeSwitches)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WSConnections)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
