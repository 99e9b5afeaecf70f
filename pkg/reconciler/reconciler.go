// Package reconciler runs the periodic workflow-state repair sweep
// (spec §4.9). It is a thin ticker loop around
// database.WorkflowFacade.ReconcileRunningWorkflows, following the same
// Start/Stop/run shape pkg/worker.Janitor uses for its own sweep —
// both are ports of pkg/aitaskqueue/cleanup.go's ticker+stopCh+doneCh
// idiom onto a different underlying repair operation.
package reconciler

import (
	"context"
	"time"

	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
)

// Reconciler drives WorkflowFacade.ReconcileRunningWorkflows on an
// interval, rotating a tick counter through the Go-side jitter
// ReconcileRunningWorkflows uses to avoid always favoring the same
// oldest-run batch when the running set exceeds BatchSize.
type Reconciler struct {
	workflow *database.WorkflowFacade
	cfg      config.ReconcilerConfig

	stopCh chan struct{}
	doneCh chan struct{}
	tick   int64
}

func NewReconciler(workflow *database.WorkflowFacade, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		workflow: workflow,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	healed, err := r.RunOnce(ctx)
	if err != nil {
		log.Errorf("reconciler sweep failed: %v", err)
		return
	}
	if healed > 0 {
		log.Infof("reconciler healed %d workflow run(s)", healed)
	}
}

// RunOnce drives a single reconcile pass; tests call it directly to
// avoid waiting on the ticker.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	seed := r.tick
	r.tick++
	return r.workflow.ReconcileRunningWorkflows(ctx, batchSize, seed)
}
