package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsProcessed tracks block operations applied per ledger and kind
	OperationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_operations_processed_total",
			Help: "Total number of block operations applied",
		},
		[]string{"ledger", "kind"},
	)

	// LedgerRowsUpserted tracks rows created or reassigned per ledger
	LedgerRowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_ledger_rows_upserted_total",
			Help: "Total number of ledger rows created or reassigned",
		},
		[]string{"ledger"},
	)

	// RewardEventsCreated tracks reward events created per category
	RewardEventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_reward_events_created_total",
			Help: "Total number of reward events created",
		},
		[]string{"type"},
	)

	// RewardEventsDeleted tracks reward events retracted per category
	RewardEventsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_reward_events_deleted_total",
			Help: "Total number of reward events deleted",
		},
		[]string{"type"},
	)

	// UpsertDuration tracks how long one block operation takes end to end
	UpsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewarder_upsert_duration_seconds",
			Help:    "Duration of one ledger upsert transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"ledger"},
	)

	// MismatchesFound tracks rows flagged by the reconciler per ledger
	MismatchesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_mismatches_found_total",
			Help: "Total number of mismatched ledger rows found",
		},
		[]string{"ledger"},
	)

	// MismatchesRepaired tracks rows repaired by the reconciler per ledger
	MismatchesRepaired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_mismatches_repaired_total",
			Help: "Total number of mismatched ledger rows repaired",
		},
		[]string{"ledger"},
	)

	// PointsRefreshes tracks points summary recomputations
	PointsRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewarder_points_refreshes_total",
			Help: "Total number of user points summary recomputations",
		},
	)

	// JobsProcessed tracks background jobs per type and outcome
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_jobs_processed_total",
			Help: "Total number of background jobs processed",
		},
		[]string{"type", "status"},
	)

	// JobsDeduplicated tracks enqueues collapsed by an in-flight duplicate
	JobsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarder_jobs_deduplicated_total",
			Help: "Total number of enqueues collapsed by key deduplication",
		},
		[]string{"type"},
	)

	// JobQueueDepth tracks the sampled length of each job queue
	JobQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rewarder_job_queue_depth",
			Help: "Current number of jobs waiting per queue",
		},
		[]string{"type"},
	)
)
