// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package metrics provides Prometheus metrics for observability.
//
// Metrics are registered with promauto at package load and exposed through
// promhttp on the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine metrics

	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soundkeep_sync_cycle_duration_seconds",
			Help:    "Duration of one scheduler cycle in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncUsersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_sync_users_dispatched_total",
			Help: "Per-user sync dispatches by engine kind",
		},
		[]string{"kind"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_sync_records_total",
			Help: "Activity records handled by the sync engines",
		},
		[]string{"kind", "outcome"}, // outcome: inserted, skipped
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_sync_errors_total",
			Help: "Failed per-user engine invocations",
		},
		[]string{"kind"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundkeep_sync_last_success_timestamp",
			Help: "Unix timestamp of the last completed scheduler cycle",
		},
	)

	// External API client metrics

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_api_requests_total",
			Help: "Outbound history API requests by final status class",
		},
		[]string{"status"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_api_retries_total",
			Help: "Retries performed by the API client",
		},
		[]string{"reason"}, // reason: rate_limit, server_error, auth_refresh
	)

	APIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soundkeep_api_request_duration_seconds",
			Help:    "Outbound history API request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soundkeep_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Archive import metrics

	ImportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_import_jobs_total",
			Help: "Archive import jobs by terminal status",
		},
		[]string{"status"},
	)

	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_import_records_total",
			Help: "Archive records handled by the importer",
		},
		[]string{"outcome"}, // outcome: inserted, skipped
	)

	ImportBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soundkeep_import_batch_size",
			Help:    "Normalized records per import batch",
			Buckets: []float64{10, 50, 100, 250, 500, 1000},
		},
	)

	// Database metrics

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundkeep_db_query_errors_total",
			Help: "Failed database operations",
		},
		[]string{"operation"},
	)
)

// RecordCycle observes one completed scheduler cycle.
func RecordCycle(d time.Duration) {
	SyncCycleDuration.Observe(d.Seconds())
	SyncLastSuccess.SetToCurrentTime()
}
