// Package dispatcher wraps the Queue Store's claim transaction
// (spec §4.4) with the metrics surface promauto gives the teacher's
// task scheduler (pkg/task/metrics.go), so claim volume and lease sizing
// are observable independent of which worker performed the claim.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
)

// Dispatcher is the single entry point workers use to pull their next
// job. It has no state of its own beyond the Queue Store and the
// lease-sizing config; every invariant (ordering, row locking,
// dedupe) lives in database.QueueFacade.
type Dispatcher struct {
	queue *database.QueueFacade
	cfg   config.DispatcherConfig
}

func New(queue *database.QueueFacade, cfg config.DispatcherConfig) *Dispatcher {
	return &Dispatcher{queue: queue, cfg: cfg}
}

// LeaseDuration computes spec §4.4's lease window using this
// Dispatcher's configured cap/overhead rather than the package-level
// defaults, so a deployment can retune it without a code change.
func (d *Dispatcher) LeaseDuration(timeoutSeconds int) time.Duration {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout > d.cfg.DefaultLeaseCap {
		timeout = d.cfg.DefaultLeaseCap
	}
	return timeout + d.cfg.LeaseOverhead
}

// ClaimNext pulls the next eligible queued job for workerID, recording
// claim-rate and lease-size metrics around the underlying Queue Store
// transaction.
func (d *Dispatcher) ClaimNext(ctx context.Context, workerID string, acceptedDefinitions []uuid.UUID, timeoutSeconds int) (*model.Job, error) {
	start := time.Now()
	job, err := d.queue.ClaimNext(ctx, workerID, acceptedDefinitions, d.LeaseDuration(timeoutSeconds))
	ClaimDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if job == nil {
		ClaimsTotal.WithLabelValues(claimResultMiss).Inc()
		return nil, nil
	}
	ClaimsTotal.WithLabelValues(claimResultHit).Inc()
	if job.LeaseExpiresAt != nil {
		LeaseSeconds.Observe(time.Until(*job.LeaseExpiresAt).Seconds())
	}
	return job, nil
}
