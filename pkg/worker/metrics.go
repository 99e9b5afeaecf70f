package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunningTotal is the number of jobs currently executing on this
	// worker, labeled by job definition key.
	RunningTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "running_jobs_total",
			Help:      "Number of jobs currently executing on this worker",
		},
		[]string{"definition"},
	)

	// Capacity is this worker's configured concurrency limit.
	Capacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "capacity",
			Help:      "Maximum number of jobs this worker runs concurrently",
		},
	)

	// Utilization is running/capacity.
	Utilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "utilization",
			Help:      "Worker utilization ratio (running jobs / capacity)",
		},
	)

	// ExecutionsTotal counts completed executions by definition and result.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "executions_total",
			Help:      "Total number of job executions, by definition and result",
		},
		[]string{"definition", "result"},
	)

	// ExecutionDuration observes wall-clock execution time by definition.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "execution_duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"definition"},
	)

	// HeartbeatFailuresTotal counts lease-heartbeat failures, which
	// usually mean another worker reclaimed the job out from under us.
	HeartbeatFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "heartbeat_failures_total",
			Help:      "Total number of lease heartbeat failures",
		},
		[]string{"definition"},
	)

	// ClaimEmptyTotal counts poll cycles that found no claimable job.
	ClaimEmptyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zoltag",
			Subsystem: "worker",
			Name:      "claim_empty_total",
			Help:      "Total number of poll cycles that found no claimable job",
		},
	)
)
