// Package metrics registers the orchestrator's Prometheus metrics.
// Imported for side effects by main; packages reference the exported
// collectors directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"kind"}, // full | quick
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_runs_completed_total",
			Help: "Total number of pipeline runs completed",
		},
		[]string{"kind", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmasentinel_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// Task metrics
	TaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_task_executions_total",
			Help: "Total number of task executions",
		},
		[]string{"task", "result"}, // result: success | failure | skipped
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmasentinel_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	TaskFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_task_fallbacks_total",
			Help: "Times a task used its deterministic fallback instead of the reasoning service",
		},
		[]string{"task"},
	)

	// Aggregation metrics
	DrugsAtRisk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pharmasentinel_drugs_at_risk",
			Help: "Drugs per combined risk tier after the latest aggregation",
		},
		[]string{"tier"},
	)

	OrdersRecommended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_orders_recommended_total",
			Help: "Order recommendations produced, by urgency",
		},
		[]string{"urgency"},
	)

	// Scheduler metrics
	TriggersReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_triggers_received_total",
			Help: "Run triggers received, by source",
		},
		[]string{"source"}, // periodic | notification
	)

	TriggersDebounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmasentinel_triggers_debounced_total",
			Help: "Change notifications dropped by the debounce filter",
		},
	)

	RunQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pharmasentinel_run_queue_depth",
			Help: "Run requests waiting for a pool worker",
		},
	)

	// External source metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_source_requests_total",
			Help: "External risk-data API requests, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ReasoningCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmasentinel_reasoning_calls_total",
			Help: "Reasoning-service calls, by outcome (ok | error | invalid)",
		},
		[]string{"outcome"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmasentinel_alerts_deduplicated_total",
			Help: "Duplicate advisory alerts removed by the cleanup pass",
		},
	)
)
