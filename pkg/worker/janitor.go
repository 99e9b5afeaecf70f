// Package worker hosts the process-level components that run alongside
// the Queue Store: the Worker Runtime's claim/execute loop and the
// Lease Janitor that reclaims jobs whose lease expired without a
// heartbeat (spec §4.5, §4.7).
package worker

import (
	"context"
	"time"

	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"gorm.io/gorm"
)

// Janitor periodically reclaims jobs whose lease has expired (their
// worker died or stalled without heartbeating) and marks workers that
// stopped reporting as inactive (spec §4.7). Grounded on
// pkg/aitaskqueue/cleanup.go's CleanupJob: a ticker loop with stopCh/
// doneCh for cooperative shutdown.
type Janitor struct {
	queue    *database.QueueFacade
	workflow *database.WorkflowFacade
	db       *gorm.DB
	cfg      config.JanitorConfig
	stopCh   chan struct{}
	doneCh   chan struct{}
}

const janitorStaleReclaimLimit = 200

func NewJanitor(db *gorm.DB, queue *database.QueueFacade, workflow *database.WorkflowFacade, cfg config.JanitorConfig) *Janitor {
	return &Janitor{
		queue:    queue,
		workflow: workflow,
		db:       db,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the janitor loop in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	go j.run(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs one reclaim pass. Errors are logged and swallowed: a
// transient failure here must not crash the process, since the next
// tick will simply retry.
func (j *Janitor) sweep(ctx context.Context) {
	reclaimed, err := j.RunOnce(ctx)
	if err != nil {
		log.Errorf("janitor sweep failed: %v", err)
		return
	}
	if reclaimed > 0 {
		log.Infof("janitor reclaimed %d expired-lease job(s)", reclaimed)
	}
	if err := j.deactivateStaleWorkers(ctx); err != nil {
		log.Errorf("janitor stale-worker sweep failed: %v", err)
	}
}

// RunOnce reclaims every job whose lease has already expired by
// synthesizing a failed attempt completion, driving it through the same
// CompleteAttempt state machine a real worker's failure report would
// (spec §4.7: a stuck job either retries with backoff or dead-letters,
// exactly as an explicit failure would).
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	stale, err := j.queue.FindStaleRunning(ctx, time.Now().UTC(), janitorStaleReclaimLimit)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range stale {
		if job.ClaimedByWorker == nil {
			continue
		}
		reason := "lease expired"
		newStatus, err := j.queue.CompleteAttempt(ctx, job.ID, *job.ClaimedByWorker, constant.AttemptStatusTimeout, nil, nil, nil, &reason)
		if err != nil {
			log.Errorf("janitor failed to reclaim job %s: %v", job.ID, err)
			continue
		}
		reclaimed++

		if j.workflow == nil {
			continue
		}
		job.Status = newStatus
		if err := j.workflow.OnChildJobStateChange(ctx, job); err != nil {
			log.Errorf("janitor failed to notify workflow orchestrator for job %s: %v", job.ID, err)
		}
	}
	return reclaimed, nil
}

// deactivateStaleWorkers is a lightweight companion sweep: workers that
// have not heartbeated within StaleThreshold are no longer trustworthy
// claim targets, even though their in-flight jobs are reclaimed
// independently via lease expiry above.
func (j *Janitor) deactivateStaleWorkers(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.cfg.StaleThreshold)
	return j.db.WithContext(ctx).
		Exec("UPDATE job_workers SET is_active = false WHERE last_seen_at < ? AND is_active", cutoff).Error
}
