package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_logs_processed_total",
			Help: "Total number of log records processed",
		},
	)

	LogsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_logs_deduplicated_total",
			Help: "Total number of duplicate log submissions collapsed at ingress",
		},
	)

	LogsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_logs_rejected_total",
			Help: "Total number of malformed log records rejected at ingress",
		},
	)

	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securiwatch_rule_matches_total",
			Help: "Total number of rule matches",
		},
		[]string{"rule"},
	)

	RuleConfigErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_rule_config_errors_total",
			Help: "Total number of rules skipped due to unparseable condition documents",
		},
	)

	IncidentsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securiwatch_incidents_opened_total",
			Help: "Total number of incidents opened",
		},
		[]string{"severity"},
	)

	IncidentAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_incident_appends_total",
			Help: "Total number of log records appended to existing incidents",
		},
	)

	HighRiskEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securiwatch_high_risk_events_total",
			Help: "Total number of log records scored at or above the high-risk threshold",
		},
	)

	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securiwatch_alert_deliveries_total",
			Help: "Total number of alert delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securiwatch_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one record against the active rule set",
			Buckets: prometheus.DefBuckets,
		},
	)
)
