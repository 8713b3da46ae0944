package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters. Labels stay low-cardinality: rule type and severity
// name, never rule or device IDs.
var (
	RulesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "rules_evaluated_total",
		Help:      "Rule/device evaluations performed, by rule type.",
	}, []string{"rule_type"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "alerts_created_total",
		Help:      "New alerts opened, by rule type and severity.",
	}, []string{"rule_type", "severity"})

	AlertsAutoCleared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "alerts_auto_cleared_total",
		Help:      "Alerts closed by the engine after the breach resolved.",
	})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "alerts_suppressed_total",
		Help:      "Breach firings swallowed by an active maintenance window.",
	})

	EvaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "evaluation_errors_total",
		Help:      "Evaluation failures, by kind (config, data, store).",
	}, []string{"kind"})

	EscalationsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "escalations_fired_total",
		Help:      "Escalation levels fired, by target type.",
	}, []string{"target_type"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped because the dispatch queue was full.",
	})
)

// Gauges refreshed each engine tick.
var (
	OpenAlerts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "open_alerts",
		Help:      "Live (non-CLOSED) alerts, by severity.",
	}, []string{"severity"})

	DevicesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "devices",
		Help:      "Registered devices, by reported status.",
	}, []string{"status"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one full evaluation tick.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Error kinds for EvaluationErrors.
const (
	ErrKindConfig = "config"
	ErrKindData   = "data"
	ErrKindStore  = "store"
)
