package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_import_runs_total",
			Help: "Import runs by outcome (completed, empty, aborted)",
		},
		[]string{"outcome"},
	)

	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_import_records_total",
			Help: "Per-record import decisions (imported, skipped, duplicate)",
		},
		[]string{"result"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_import_duration_seconds",
			Help:    "Wall time of one import run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	TaxonomyUnmatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_taxonomy_unmatched_total",
			Help: "External taxonomy entities with no internal match",
		},
		[]string{"kind"},
	)

	AutoclaimedRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_autoclaimed_runs_total",
			Help: "Imported runs linked to a player account by autoclaim",
		},
	)

	MaintenanceDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_maintenance_deleted_total",
			Help: "Leaderboard entries removed by bulk maintenance",
		},
		[]string{"operation"},
	)

	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_api_requests_total",
			Help: "Requests to the external leaderboard service",
		},
		[]string{"endpoint", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
