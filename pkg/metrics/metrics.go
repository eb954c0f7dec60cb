package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Server Metrics

	// APIRequestsTotal counts handled HTTP requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration observes HTTP handling time
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Approval Metrics

	// ApprovalEventsTotal counts committed approval events by type
	ApprovalEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_events_total",
			Help: "Total number of approval events dispatched",
		},
		[]string{"event_type"},
	)

	// ApprovalOpenInstances tracks instances opened minus instances completed
	// since process start
	ApprovalOpenInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "approval_open_instances",
			Help: "Approval instances opened and not yet completed since start",
		},
	)

	// ApprovalErrorsTotal counts refused operations by error kind
	ApprovalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_errors_total",
			Help: "Total number of approval API errors by kind",
		},
		[]string{"kind"},
	)

	// EventPublishFailuresTotal counts events a sink failed to deliver
	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_event_publish_failures_total",
			Help: "Total number of approval events a sink failed to deliver",
		},
		[]string{"sink"},
	)

	// BudgetRuleOverlaps is the number of intersecting active rule pairs seen
	// by the latest overlap audit
	BudgetRuleOverlaps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "approval_budget_rule_overlaps",
			Help: "Overlapping active budget rule pairs found by the last audit",
		},
	)
)
