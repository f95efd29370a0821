/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robobs_api_request_duration_seconds",
			Help:    "Control API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_api_requests_total",
			Help: "Control API requests served.",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robobs_api_active_connections",
			Help: "Control API requests in flight.",
		},
	)

	APIWebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robobs_api_websocket_connections",
			Help: "Open event stream connections.",
		},
	)
)

// Scheduling metrics
var (
	FeasibilityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_feasibility_rejections_total",
			Help: "Candidates rejected by a visibility gate.",
		},
		[]string{"reason"},
	)

	ResheduleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robobs_reshedule_duration_seconds",
			Help:    "Time spent picking the next program across tiers.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ResheduleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_reshedule_total",
			Help: "Reconciliations by outcome.",
		},
		[]string{"outcome"},
	)

	SlewAdvancesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "robobs_slew_advances_total",
			Help: "Programs whose start time was pulled earlier.",
		},
	)

	UnknownStrategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_unknown_strategy_total",
			Help: "Candidates skipped because their strategy is not registered.",
		},
		[]string{"strategy"},
	)
)

// Controller metrics
var (
	ControllerRobState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robobs_controller_rob_state",
			Help: "1 when automatic scheduling is on.",
		},
	)

	ControllerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_controller_events_total",
			Help: "Executor notifications handled by the controller.",
		},
		[]string{"event"},
	)

	ControllerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_controller_errors_total",
			Help: "Collaborator failures seen by the controller.",
		},
		[]string{"stage"},
	)

	ProgramsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_programs_dispatched_total",
			Help: "Programs handed to the executor by kind.",
		},
		[]string{"kind"},
	)

	ProgramsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_programs_completed_total",
			Help: "Completed programs by status.",
		},
		[]string{"status"},
	)

	BackoffTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "robobs_backoff_total",
			Help: "Backoff waits after consecutive empty selections.",
		},
	)

	ExecutorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robobs_executor_state",
			Help: "Current executor state (1 for the active state).",
		},
		[]string{"state"},
	)
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robobs_database_query_duration_seconds",
			Help:    "Database operation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_database_errors_total",
			Help: "Database operation errors.",
		},
		[]string{"operation", "kind"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robobs_database_connections_active",
			Help: "Open database connections.",
		},
	)
)

// Infrastructure metrics
var (
	LeaderElectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robobs_leader_election_status",
			Help: "1 when this instance drives the telescope.",
		},
		[]string{"instance_id"},
	)

	LeaderElectionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_leader_election_changes_total",
			Help: "Leadership transitions.",
		},
		[]string{"instance_id", "change"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_cache_requests_total",
			Help: "Ephemeris cache lookups by result.",
		},
		[]string{"result"},
	)

	BusRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robobs_bus_requests_total",
			Help: "Observatory bus requests by subject and result.",
		},
		[]string{"subject", "result"},
	)
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
