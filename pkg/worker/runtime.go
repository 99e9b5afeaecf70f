// Package worker implements the Worker Runtime (spec §4.5): a
// long-running process that polls the Dispatcher for claimable jobs,
// executes them through a registered JobExecutor, and reports the
// result back to the Queue Store. Generalizes pkg/task/scheduler.go's
// TaskScheduler from a single cluster-scoped lock/poll loop over
// WorkloadTaskState into a multi-tenant, lease-based claim/poll loop
// over Job.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/nrhinela/zoltag-sub001/pkg/dispatcher"
	log "github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"github.com/nrhinela/zoltag-sub001/pkg/payload"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Runtime pulls jobs from the Dispatcher and runs them through
// registered executors. One Runtime instance is one worker process
// (spec §6.2's WorkerID/Hostname/Version registration triple).
type Runtime struct {
	db       *gorm.DB
	queue    *database.QueueFacade
	disp     *dispatcher.Dispatcher
	workflow *database.WorkflowFacade
	cfg      config.WorkerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	executors map[string]JobExecutor

	runningMu sync.RWMutex
	running   map[uuid.UUID]context.CancelFunc

	acceptedIDs       []uuid.UUID
	defByID           map[uuid.UUID]model.JobDefinition
	maxTimeoutSeconds int
}

// NewRuntime builds a Runtime. workflow may be nil for a worker that
// never executes workflow-step jobs (OnChildJobStateChange is then
// simply skipped on completion).
func NewRuntime(db *gorm.DB, queue *database.QueueFacade, disp *dispatcher.Dispatcher, workflow *database.WorkflowFacade, cfg config.WorkerConfig) *Runtime {
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	return &Runtime{
		db:        db,
		queue:     queue,
		disp:      disp,
		workflow:  workflow,
		cfg:       cfg,
		executors: make(map[string]JobExecutor),
		running:   make(map[uuid.UUID]context.CancelFunc),
		defByID:   make(map[uuid.UUID]model.JobDefinition),
	}
}

// RegisterExecutor registers the handler for one job definition key.
func (r *Runtime) RegisterExecutor(executor JobExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := executor.DefinitionKey()
	if _, exists := r.executors[key]; exists {
		return fmt.Errorf("executor for job definition %q already registered", key)
	}
	r.executors[key] = executor
	log.Infof("registered executor for job definition: %s", key)
	return nil
}

func (r *Runtime) getExecutor(key string) (JobExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[key]
	return executor, ok
}

// Start resolves the registered executors' definitions, registers this
// worker, and starts the poll loop. It returns once startup bookkeeping
// completes; the poll loop itself runs in the background.
func (r *Runtime) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.resolveAcceptedDefinitions(r.ctx); err != nil {
		return fmt.Errorf("resolve accepted definitions: %w", err)
	}
	if err := r.registerWorker(r.ctx); err != nil {
		log.Warnf("worker registration failed: %v", err)
	}

	Capacity.Set(float64(r.cfg.Concurrency))

	r.wg.Add(1)
	go r.pollLoop()
	r.wg.Add(1)
	go r.selfHeartbeatLoop()

	log.Infof("worker runtime started (id=%s, definitions=%d, concurrency=%d)",
		r.cfg.WorkerID, len(r.acceptedIDs), r.cfg.Concurrency)
	return nil
}

// Stop cancels in-flight executions, waits up to ShutdownGrace for them
// to return, and then forcibly returns (GORM's claim lease eventually
// expires and the Lease Janitor reclaims it if the process is killed
// before the grace window elapses).
func (r *Runtime) Stop() {
	log.Info("stopping worker runtime")
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownGrace):
		log.Warnf("worker runtime shutdown grace period elapsed with jobs still running")
	}
	log.Info("worker runtime stopped")
}

// resolveAcceptedDefinitions loads the JobDefinition rows named either
// by cfg.AcceptedDefinitions or, if empty, by every registered
// executor's key, and caches them for timeout/validation lookups.
func (r *Runtime) resolveAcceptedDefinitions(ctx context.Context) error {
	r.mu.RLock()
	keys := make([]string, 0, len(r.executors))
	for k := range r.executors {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	if len(r.cfg.AcceptedDefinitions) > 0 {
		keys = r.cfg.AcceptedDefinitions
	}
	if len(keys) == 0 {
		return nil
	}

	var defs []model.JobDefinition
	if err := r.db.WithContext(ctx).Where("key IN ? AND is_active = ?", keys, true).Find(&defs).Error; err != nil {
		return err
	}

	r.acceptedIDs = r.acceptedIDs[:0]
	r.maxTimeoutSeconds = 0
	for _, d := range defs {
		r.defByID[d.ID] = d
		r.acceptedIDs = append(r.acceptedIDs, d.ID)
		if d.TimeoutSeconds > r.maxTimeoutSeconds {
			r.maxTimeoutSeconds = d.TimeoutSeconds
		}
	}
	return nil
}

// registerWorker upserts this worker's identity row (spec §6.2), used
// by the Lease Janitor to detect workers that stopped sending
// heartbeats without cleanly shutting down.
func (r *Runtime) registerWorker(ctx context.Context) error {
	w := model.Worker{
		WorkerID:   r.cfg.WorkerID,
		Hostname:   r.cfg.Hostname,
		Version:    r.cfg.Version,
		Queues:     pq.StringArray(r.cfg.AcceptedDefinitions),
		LastSeenAt: time.Now().UTC(),
		IsActive:   true,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hostname", "version", "queues", "last_seen_at", "is_active"}),
	}).Create(&w).Error
}

// selfHeartbeatLoop periodically re-upserts this worker's job_workers
// row so LastSeenAt keeps advancing for as long as the process runs,
// not just at Start. Without this, the Janitor's stale-worker sweep
// (spec §4.7 step 3) would mark every long-running worker inactive
// after its first StaleThreshold window.
func (r *Runtime) selfHeartbeatLoop() {
	defer r.wg.Done()

	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.registerWorker(r.ctx); err != nil {
				log.Warnf("worker self-heartbeat failed: %v", err)
			}
		}
	}
}

func (r *Runtime) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce()
		}
	}
}

func (r *Runtime) pollOnce() {
	r.runningMu.RLock()
	runningCount := len(r.running)
	r.runningMu.RUnlock()

	Utilization.Set(utilizationRatio(runningCount, r.cfg.Concurrency))
	if runningCount >= r.cfg.Concurrency {
		return
	}
	if len(r.acceptedIDs) == 0 {
		return
	}

	job, err := r.disp.ClaimNext(r.ctx, r.cfg.WorkerID, r.acceptedIDs, r.maxTimeoutSeconds)
	if err != nil {
		log.Errorf("claim next job failed: %v", err)
		return
	}
	if job == nil {
		ClaimEmptyTotal.Inc()
		return
	}
	r.notifyWorkflow(job, constant.JobStatusRunning)

	def, ok := r.defByID[job.DefinitionID]
	if !ok {
		log.Errorf("claimed job %s for unknown definition %s", job.ID, job.DefinitionID)
		return
	}

	executor, ok := r.getExecutor(def.Key)
	if !ok {
		log.Errorf("no executor registered for job definition %q (job %s)", def.Key, job.ID)
		r.fail(job, &def, "no executor registered for this job definition")
		return
	}

	r.wg.Add(1)
	go r.execute(job, &def, executor)
}

func utilizationRatio(running, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(running) / float64(capacity)
}

func (r *Runtime) execute(job *model.Job, def *model.JobDefinition, executor JobExecutor) {
	defer r.wg.Done()

	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	execCtx, execCancel := context.WithTimeout(r.ctx, timeout)
	defer execCancel()

	r.runningMu.Lock()
	r.running[job.ID] = execCancel
	RunningTotal.WithLabelValues(def.Key).Inc()
	r.runningMu.Unlock()

	start := time.Now()
	defer func() {
		r.runningMu.Lock()
		delete(r.running, job.ID)
		RunningTotal.WithLabelValues(def.Key).Dec()
		r.runningMu.Unlock()
		ExecutionDuration.WithLabelValues(def.Key).Observe(time.Since(start).Seconds())
	}()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(execCtx)
	defer cancelHeartbeat()
	r.wg.Add(1)
	go r.heartbeatLoop(heartbeatCtx, job, def)

	schema, err := payload.ParseSchema(json.RawMessage(def.PayloadSchema))
	var normalized map[string]interface{}
	if err == nil {
		var raw map[string]interface{}
		if uerr := job.Payload.UnmarshalTo(&raw); uerr != nil {
			err = uerr
		} else {
			if raw == nil {
				raw = map[string]interface{}{}
			}
			normalized, err = payload.Normalize(schema, raw)
		}
	}
	if err != nil {
		r.fail(job, def, fmt.Sprintf("payload re-validation failed: %v", err))
		return
	}

	exec := &Execution{Job: job, WorkerID: r.cfg.WorkerID, Normalized: normalized}
	result, err := executor.Execute(execCtx, exec)

	if err != nil {
		result = FailureResult(err.Error())
	} else if result == nil {
		result = FailureResult("executor returned a nil result")
	}
	if execCtx.Err() == context.DeadlineExceeded {
		result.Timeout = true
		result.Success = false
	}

	r.complete(job, def, result)
}

func (r *Runtime) heartbeatLoop(ctx context.Context, job *model.Job, def *model.JobDefinition) {
	defer r.wg.Done()

	interval := time.Duration(def.TimeoutSeconds) * time.Second / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newExpiry := time.Now().UTC().Add(time.Duration(def.TimeoutSeconds) * time.Second)
			if err := r.queue.HeartbeatLease(ctx, job.ID, r.cfg.WorkerID, newExpiry); err != nil {
				HeartbeatFailuresTotal.WithLabelValues(def.Key).Inc()
				log.Warnf("heartbeat failed for job %s, lease likely lost: %v", job.ID, err)
				return
			}
		}
	}
}

func (r *Runtime) complete(job *model.Job, def *model.JobDefinition, result *Result) {
	stdout := truncateTail(result.Stdout, r.cfg.StdoutTailBytes)
	stderr := truncateTail(result.Stderr, r.cfg.StdoutTailBytes)

	var errText *string
	if result.Error != "" {
		errText = &result.Error
	}

	status := constant.AttemptStatusFailed
	switch {
	case result.Timeout:
		status = constant.AttemptStatusTimeout
	case result.Success:
		status = constant.AttemptStatusSucceeded
	}

	metricResult := "failed"
	if result.Success {
		metricResult = "succeeded"
	} else if result.Timeout {
		metricResult = "timeout"
	}
	ExecutionsTotal.WithLabelValues(def.Key, metricResult).Inc()

	newStatus, err := r.queue.CompleteAttempt(r.ctx, job.ID, r.cfg.WorkerID, status, result.ExitCode, stdout, stderr, errText)
	if err != nil {
		log.Errorf("complete attempt failed for job %s: %v", job.ID, err)
		return
	}

	r.notifyWorkflow(job, newStatus)
}

func (r *Runtime) fail(job *model.Job, def *model.JobDefinition, reason string) {
	ExecutionsTotal.WithLabelValues(def.Key, "failed").Inc()
	newStatus, err := r.queue.CompleteAttempt(r.ctx, job.ID, r.cfg.WorkerID, constant.AttemptStatusFailed, nil, nil, nil, &reason)
	if err != nil {
		log.Errorf("complete attempt (fail) failed for job %s: %v", job.ID, err)
		return
	}
	r.notifyWorkflow(job, newStatus)
}

func (r *Runtime) notifyWorkflow(job *model.Job, newStatus string) {
	if r.workflow == nil || job.SourceRef == nil {
		return
	}
	updated := *job
	updated.Status = newStatus
	if err := r.workflow.OnChildJobStateChange(r.ctx, updated); err != nil {
		log.Errorf("workflow state notification failed for job %s: %v", job.ID, err)
	}
}

func truncateTail(s string, limit int) *string {
	if s == "" {
		return nil
	}
	if limit <= 0 || limit > model.MaxTailBytes {
		limit = model.MaxTailBytes
	}
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return &s
}

