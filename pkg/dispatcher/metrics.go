package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimsTotal counts every claim attempt, labeled by whether a job
	// was actually found.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zoltag",
			Subsystem: "dispatcher",
			Name:      "claims_total",
			Help:      "Total number of claim attempts against the Queue Store",
		},
		[]string{"result"},
	)

	// ClaimDuration observes the latency of a single ClaimNext call.
	ClaimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zoltag",
			Subsystem: "dispatcher",
			Name:      "claim_duration_seconds",
			Help:      "Latency of a single claim-next-job transaction",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// LeaseSeconds observes the lease duration granted at claim time.
	LeaseSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zoltag",
			Subsystem: "dispatcher",
			Name:      "lease_seconds",
			Help:      "Lease duration granted to a claimed job, in seconds",
			Buckets:   []float64{5, 15, 30, 60, 300, 600, 900, 1800},
		},
	)
)

const (
	claimResultHit  = "hit"
	claimResultMiss = "miss"
)
