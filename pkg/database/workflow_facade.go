package database

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
	"github.com/nrhinela/zoltag-sub001/pkg/payload"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowFacade is the spec §4.8 Workflow Orchestrator, ported from
// original_source's workflow_queue.py: source-ref encoding, DAG
// validation, ready-step enqueueing, and run-status reconciliation.
type WorkflowFacade struct {
	db *gorm.DB
}

func NewWorkflowFacade(db *gorm.DB) *WorkflowFacade {
	return &WorkflowFacade{db: db}
}

// WorkflowSourceRefPrefix matches model.SourceRefPrefix; kept as its
// own constant here because it's this package's vocabulary for parsing,
// not the model layer's.
const WorkflowSourceRefPrefix = model.SourceRefPrefix

// MakeSourceRef renders "workflow:{run_id}:{step_key}" (spec §4.8).
func MakeSourceRef(runID uuid.UUID, stepKey string) string {
	return fmt.Sprintf("%s:%s:%s", WorkflowSourceRefPrefix, runID.String(), stepKey)
}

// ParseSourceRef reverses MakeSourceRef, returning ok=false for any
// source_ref that isn't a workflow step reference (manual/event/schedule
// jobs all have non-workflow source_refs or none at all).
func ParseSourceRef(sourceRef *string) (runID uuid.UUID, stepKey string, ok bool) {
	if sourceRef == nil {
		return uuid.Nil, "", false
	}
	raw := strings.TrimSpace(*sourceRef)
	if raw == "" {
		return uuid.Nil, "", false
	}
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] != WorkflowSourceRefPrefix {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	step := strings.TrimSpace(parts[2])
	if step == "" {
		return uuid.Nil, "", false
	}
	return id, step, true
}

// ValidateSteps normalizes a WorkflowDefinition's step list: unique
// step_key, no self-dependency, every depends_on resolves to a known
// step_key, no dependency cycle, and every definition_key resolves to
// an active JobDefinition (spec §4.8's `validate_workflow_steps`).
func (w *WorkflowFacade) ValidateSteps(ctx context.Context, steps []model.WorkflowStep) ([]model.WorkflowStep, error) {
	if len(steps) == 0 {
		return nil, apperrors.WrapMessage("workflow steps must be a non-empty array", apperrors.CodeValidation)
	}

	seenKeys := map[string]bool{}
	for _, s := range steps {
		key := strings.TrimSpace(s.Key)
		if key == "" {
			return nil, apperrors.WrapMessage("each workflow step requires a key", apperrors.CodeValidation)
		}
		if seenKeys[key] {
			return nil, apperrors.WrapMessage(fmt.Sprintf("duplicate step key: %s", key), apperrors.CodeValidation)
		}
		seenKeys[key] = true
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.Key {
				return nil, apperrors.WrapMessage(fmt.Sprintf("step %s cannot depend on itself", s.Key), apperrors.CodeValidation)
			}
			if !seenKeys[dep] {
				return nil, apperrors.WrapMessage(fmt.Sprintf("step %s depends on unknown step: %s", s.Key, dep), apperrors.CodeValidation)
			}
		}
	}

	if err := checkAcyclic(steps); err != nil {
		return nil, err
	}

	definitionKeys := make([]string, 0, len(steps))
	seenDef := map[string]bool{}
	for _, s := range steps {
		if !seenDef[s.JobDefinitionKey] {
			seenDef[s.JobDefinitionKey] = true
			definitionKeys = append(definitionKeys, s.JobDefinitionKey)
		}
	}
	sort.Strings(definitionKeys)

	var defs []model.JobDefinition
	err := w.db.WithContext(ctx).Where("key IN ? AND is_active = ?", definitionKeys, true).Find(&defs).Error
	if err != nil {
		return nil, apperrors.WrapError(err, "load step definitions", apperrors.CodeStoreError)
	}
	byKey := map[string]model.JobDefinition{}
	for _, d := range defs {
		byKey[d.Key] = d
	}
	var missing []string
	for _, key := range definitionKeys {
		if _, ok := byKey[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.WrapMessage(fmt.Sprintf("unknown or inactive job definition(s): %s", strings.Join(missing, ", ")), apperrors.CodeValidation)
	}

	return steps, nil
}

func checkAcyclic(steps []model.WorkflowStep) error {
	incoming := map[string]map[string]bool{}
	for _, s := range steps {
		deps := map[string]bool{}
		for _, d := range s.DependsOn {
			deps[d] = true
		}
		incoming[s.Key] = deps
	}
	var ready []string
	for key, deps := range incoming {
		if len(deps) == 0 {
			ready = append(ready, key)
		}
	}
	seen := 0
	for len(ready) > 0 {
		node := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		seen++
		for key, deps := range incoming {
			if deps[node] {
				delete(deps, node)
				if len(deps) == 0 {
					ready = append(ready, key)
				}
			}
		}
	}
	if seen != len(steps) {
		return apperrors.WrapMessage("workflow steps contain a dependency cycle", apperrors.CodeValidation)
	}
	return nil
}

// StartRun validates the definition's steps, inserts the WorkflowRun and
// its pending WorkflowStepRuns, then enqueues whatever steps have no
// unmet dependency (spec §4.8 `start_workflow_run`).
func (w *WorkflowFacade) StartRun(ctx context.Context, tenantID uuid.UUID, def model.WorkflowDefinition, createdBy *uuid.UUID, priority int, runPayload json.RawMessage) (*model.WorkflowRun, error) {
	var steps []model.WorkflowStep
	if err := def.Steps.UnmarshalTo(&steps); err != nil {
		return nil, apperrors.WrapError(err, "decode workflow definition steps", apperrors.CodeValidation)
	}
	if _, err := w.ValidateSteps(ctx, steps); err != nil {
		return nil, err
	}

	var result *model.WorkflowRun
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		run := &model.WorkflowRun{
			TenantID:             tenantID,
			WorkflowDefinitionID: def.ID,
			Status:               constant.WorkflowRunStatusRunning,
			Priority:             priority,
			MaxParallelSteps:     maxInt(1, def.MaxParallelSteps),
			FailurePolicy:        orDefault(def.FailurePolicy, constant.FailurePolicyFailFast),
			CreatedAt:            now,
			StartedAt:            &now,
			CreatedBy:            createdBy,
		}
		if len(runPayload) > 0 {
			run.Payload = model.ExtJSON(runPayload)
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("insert workflow run: %w", err)
		}

		definitionIDByKey, err := loadDefinitionIDs(tx, steps)
		if err != nil {
			return err
		}
		for _, s := range steps {
			defID, ok := definitionIDByKey[s.JobDefinitionKey]
			if !ok {
				return apperrors.WrapMessage(fmt.Sprintf("unknown definition for step %s: %s", s.Key, s.JobDefinitionKey), apperrors.CodeValidation)
			}
			stepPayload, err := json.Marshal(map[string]interface{}{})
			if err != nil {
				return err
			}
			sr := &model.WorkflowStepRun{
				WorkflowRunID: run.ID,
				StepKey:       s.Key,
				DefinitionID:  defID,
				DependsOn:     pq.StringArray(s.DependsOn),
				Status:        constant.StepStatusPending,
				Payload:       model.ExtJSON(stepPayload),
				CreatedAt:     now,
			}
			if err := tx.Create(sr).Error; err != nil {
				return fmt.Errorf("insert workflow step run %s: %w", s.Key, err)
			}
		}

		if err := enqueueReadySteps(tx, run); err != nil {
			return err
		}
		if err := reconcileRunStatus(tx, run); err != nil {
			return err
		}
		if err := tx.Save(run).Error; err != nil {
			return fmt.Errorf("save workflow run: %w", err)
		}
		result = run
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "start workflow run", apperrors.CodeStoreError)
	}
	return result, nil
}

func loadDefinitionIDs(tx *gorm.DB, steps []model.WorkflowStep) (map[string]uuid.UUID, error) {
	keys := make([]string, 0, len(steps))
	seen := map[string]bool{}
	for _, s := range steps {
		if !seen[s.JobDefinitionKey] {
			seen[s.JobDefinitionKey] = true
			keys = append(keys, s.JobDefinitionKey)
		}
	}
	var defs []model.JobDefinition
	if err := tx.Where("key IN ?", keys).Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	out := map[string]uuid.UUID{}
	for _, d := range defs {
		out[d.Key] = d.ID
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// enqueueReadySteps marks dependency-blocked pending steps as skipped,
// then enqueues as many remaining pending-and-ready steps as
// run.MaxParallelSteps allows, spawning a Job for each (spec §4.8
// `_enqueue_ready_steps`).
func enqueueReadySteps(tx *gorm.DB, run *model.WorkflowRun) error {
	if constant.WorkflowTerminal(run.Status) {
		return nil
	}

	var stepRuns []model.WorkflowStepRun
	if err := tx.Where("workflow_run_id = ?", run.ID).Order("step_key ASC").Find(&stepRuns).Error; err != nil {
		return fmt.Errorf("load step runs: %w", err)
	}
	byKey := map[string]*model.WorkflowStepRun{}
	for i := range stepRuns {
		byKey[stepRuns[i].StepKey] = &stepRuns[i]
	}
	now := time.Now().UTC()

	for _, step := range stepRuns {
		if step.Status != constant.StepStatusPending {
			continue
		}
		blocked := false
		for _, dep := range step.DependsOn {
			if depStep, ok := byKey[dep]; ok && constant.StepTerminalNonSuccess[depStep.Status] {
				blocked = true
				break
			}
		}
		if blocked {
			step.Status = constant.StepStatusSkipped
			step.FinishedAt = &now
			if step.LastError == nil {
				msg := "skipped because dependency did not succeed"
				step.LastError = &msg
			}
			if err := tx.Save(&step).Error; err != nil {
				return fmt.Errorf("skip step %s: %w", step.StepKey, err)
			}
			byKey[step.StepKey] = &step
		}
	}

	runningOrQueued := 0
	for _, step := range stepRuns {
		if step.Status == constant.StepStatusQueued || step.Status == constant.StepStatusRunning {
			runningOrQueued++
		}
	}
	capacity := maxInt(1, run.MaxParallelSteps) - runningOrQueued
	if capacity <= 0 {
		return nil
	}

	definitionIDs := make([]uuid.UUID, 0, len(stepRuns))
	seen := map[uuid.UUID]bool{}
	for _, step := range stepRuns {
		if !seen[step.DefinitionID] {
			seen[step.DefinitionID] = true
			definitionIDs = append(definitionIDs, step.DefinitionID)
		}
	}
	var defs []model.JobDefinition
	if err := tx.Where("id IN ?", definitionIDs).Find(&defs).Error; err != nil {
		return fmt.Errorf("load step definitions: %w", err)
	}
	defsByID := map[uuid.UUID]model.JobDefinition{}
	for _, d := range defs {
		defsByID[d.ID] = d
	}

	for i := range stepRuns {
		if capacity <= 0 {
			break
		}
		step := &stepRuns[i]
		if byKey[step.StepKey].Status != constant.StepStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			depStep, ok := byKey[dep]
			if !ok || depStep.Status != constant.StepStatusSucceeded {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}

		def, ok := defsByID[step.DefinitionID]
		if !ok || !def.IsActive {
			msg := fmt.Sprintf("definition unavailable: %s", step.DefinitionID)
			if err := failStepAndMaybeRun(tx, run, step, msg, now); err != nil {
				return err
			}
			if run.Status == constant.WorkflowRunStatusFailed {
				return nil
			}
			continue
		}

		var rawStepPayload map[string]interface{}
		if err := step.Payload.UnmarshalTo(&rawStepPayload); err != nil {
			return fmt.Errorf("decode step payload: %w", err)
		}
		schema, err := payload.ParseSchema(json.RawMessage(def.PayloadSchema))
		if err != nil {
			return fmt.Errorf("parse definition schema: %w", err)
		}
		normalized, err := payload.Normalize(schema, rawStepPayload)
		if err != nil {
			if failErr := failStepAndMaybeRun(tx, run, step, err.Error(), now); failErr != nil {
				return failErr
			}
			if run.Status == constant.WorkflowRunStatusFailed {
				return nil
			}
			continue
		}
		normalizedJSON, err := payload.CanonicalJSON(normalized)
		if err != nil {
			return fmt.Errorf("encode normalized payload: %w", err)
		}

		dedupeKey := fmt.Sprintf("workflow-step:%s:%s", run.ID, step.StepKey)
		correlationID := fmt.Sprintf("workflow:%s", run.ID)
		sourceRef := MakeSourceRef(run.ID, step.StepKey)
		job := &model.Job{
			TenantID:      run.TenantID,
			DefinitionID:  def.ID,
			Source:        constant.JobSourceSystem,
			SourceRef:     &sourceRef,
			Status:        constant.JobStatusQueued,
			Priority:      run.Priority,
			Payload:       model.ExtJSON(normalizedJSON),
			DedupeKey:     &dedupeKey,
			CorrelationID: &correlationID,
			ScheduledFor:  now,
			QueuedAt:      now,
			MaxAttempts:   def.MaxAttempts,
			CreatedBy:     run.CreatedBy,
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("enqueue step job %s: %w", step.StepKey, err)
		}

		step.Status = constant.StepStatusQueued
		step.StartedAt = nil
		step.ChildJobID = &job.ID
		if err := tx.Save(step).Error; err != nil {
			return fmt.Errorf("save queued step %s: %w", step.StepKey, err)
		}
		capacity--
	}
	return nil
}

func failStepAndMaybeRun(tx *gorm.DB, run *model.WorkflowRun, step *model.WorkflowStepRun, reason string, now time.Time) error {
	step.Status = constant.StepStatusFailed
	step.FinishedAt = &now
	step.LastError = &reason
	if err := tx.Save(step).Error; err != nil {
		return fmt.Errorf("fail step %s: %w", step.StepKey, err)
	}
	run.LastError = &reason
	if run.FailurePolicy == constant.FailurePolicyFailFast {
		run.Status = constant.WorkflowRunStatusFailed
		run.FinishedAt = &now
		return cancelOpenStepsForRun(tx, run, &reason)
	}
	return nil
}

// reconcileRunStatus derives run.Status from its steps (spec §4.8
// `_reconcile_run_status`): all-terminal steps settle the run; any open
// step keeps it running.
func reconcileRunStatus(tx *gorm.DB, run *model.WorkflowRun) error {
	var stepRuns []model.WorkflowStepRun
	if err := tx.Where("workflow_run_id = ?", run.ID).Find(&stepRuns).Error; err != nil {
		return fmt.Errorf("load step runs: %w", err)
	}
	now := time.Now().UTC()

	if len(stepRuns) == 0 {
		run.Status = constant.WorkflowRunStatusFailed
		run.FinishedAt = &now
		msg := "workflow has no steps"
		run.LastError = &msg
		return nil
	}

	hasOpen, hasFailed, hasCanceled, allTerminal := false, false, false, true
	for _, s := range stepRuns {
		if constant.StepOpenStatuses[s.Status] {
			hasOpen = true
		}
		if s.Status == constant.StepStatusFailed {
			hasFailed = true
		}
		if s.Status == constant.StepStatusCanceled {
			hasCanceled = true
		}
		if !constant.StepTerminalStatuses[s.Status] {
			allTerminal = false
		}
	}

	if allTerminal {
		switch {
		case hasFailed:
			run.Status = constant.WorkflowRunStatusFailed
		case hasCanceled:
			run.Status = constant.WorkflowRunStatusCanceled
		default:
			run.Status = constant.WorkflowRunStatusSucceeded
		}
		if run.FinishedAt == nil {
			run.FinishedAt = &now
		}
		return nil
	}

	if constant.WorkflowTerminal(run.Status) {
		return nil
	}
	if run.Status != constant.WorkflowRunStatusRunning {
		run.Status = constant.WorkflowRunStatusRunning
	}
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if hasOpen {
		run.FinishedAt = nil
		return nil
	}
	if hasFailed {
		run.Status = constant.WorkflowRunStatusFailed
		run.FinishedAt = &now
	} else if hasCanceled {
		run.Status = constant.WorkflowRunStatusCanceled
		run.FinishedAt = &now
	}
	return nil
}

// cancelOpenStepsForRun cancels every still-open step and, for any that
// already spawned a Job, cancels that Job too (spec §4.8
// `_cancel_open_steps_for_run`).
func cancelOpenStepsForRun(tx *gorm.DB, run *model.WorkflowRun, reason *string) error {
	var open []model.WorkflowStepRun
	err := tx.Where("workflow_run_id = ? AND status IN ?", run.ID,
		[]string{constant.StepStatusPending, constant.StepStatusQueued, constant.StepStatusRunning}).
		Find(&open).Error
	if err != nil {
		return fmt.Errorf("load open steps: %w", err)
	}

	now := time.Now().UTC()
	for _, step := range open {
		step.Status = constant.StepStatusCanceled
		step.FinishedAt = &now
		if reason != nil && step.LastError == nil {
			step.LastError = reason
		}
		if err := tx.Save(&step).Error; err != nil {
			return fmt.Errorf("cancel step %s: %w", step.StepKey, err)
		}
		if step.ChildJobID == nil {
			continue
		}
		var job model.Job
		if err := tx.First(&job, "id = ?", *step.ChildJobID).Error; err != nil {
			if errorsIsNotFound(err) {
				continue
			}
			return fmt.Errorf("load child job for step %s: %w", step.StepKey, err)
		}
		if job.Status != constant.JobStatusQueued && job.Status != constant.JobStatusRunning {
			continue
		}
		job.Status = constant.JobStatusCanceled
		job.FinishedAt = &now
		msg := "canceled by workflow fail-fast policy"
		if reason != nil {
			msg = *reason
		}
		job.LastError = &msg
		job.LeaseExpiresAt = nil
		job.ClaimedByWorker = nil
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("cancel child job for step %s: %w", step.StepKey, err)
		}
	}
	return nil
}

func errorsIsNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

// OnChildJobStateChange is the follow-up update the Worker Runtime and
// Lease Janitor call after any Job whose source_ref is a workflow step
// changes state (spec §4.4 step 6, §4.6's closing note, §4.8
// `handle_workflow_job_state_change`). It is best-effort: the
// Reconciler heals any divergence this call misses.
func (w *WorkflowFacade) OnChildJobStateChange(ctx context.Context, job model.Job) error {
	runID, stepKey, ok := ParseSourceRef(job.SourceRef)
	if !ok {
		return nil
	}

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup := tx
		// SELECT ... FOR UPDATE is Postgres syntax; SQLite (used by the
		// in-memory test helper) has no row-level locking and errors on it.
		if tx.Dialector.Name() == "postgres" {
			lookup = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var run model.WorkflowRun
		if err := lookup.First(&run, "id = ?", runID).Error; err != nil {
			if errorsIsNotFound(err) {
				return nil
			}
			return fmt.Errorf("load workflow run: %w", err)
		}

		var step model.WorkflowStepRun
		err := tx.Where("workflow_run_id = ? AND step_key = ?", run.ID, stepKey).First(&step).Error
		if err != nil {
			if errorsIsNotFound(err) {
				return nil
			}
			return fmt.Errorf("load workflow step run: %w", err)
		}

		now := time.Now().UTC()
		switch job.Status {
		case constant.JobStatusRunning:
			if !constant.StepTerminalStatuses[step.Status] {
				step.Status = constant.StepStatusRunning
				step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
				return tx.Save(&step).Error
			}
			return nil
		case constant.JobStatusQueued:
			return nil
		case constant.JobStatusSucceeded:
			step.Status = constant.StepStatusSucceeded
			step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
			step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
			step.LastError = nil
		case constant.JobStatusFailed, constant.JobStatusDeadLetter:
			step.Status = constant.StepStatusFailed
			step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
			step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
			msg := trimmedOr(job.LastError, fmt.Sprintf("job ended with %s", job.Status))
			step.LastError = &msg
			run.LastError = &msg
		case constant.JobStatusCanceled:
			step.Status = constant.StepStatusCanceled
			step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
			step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
			msg := trimmedOr(job.LastError, "canceled")
			step.LastError = &msg
			if run.LastError == nil {
				run.LastError = &msg
			}
		default:
			return nil
		}
		if err := tx.Save(&step).Error; err != nil {
			return fmt.Errorf("save step %s: %w", step.StepKey, err)
		}

		if constant.WorkflowTerminal(run.Status) {
			if err := reconcileRunStatus(tx, &run); err != nil {
				return err
			}
			return tx.Save(&run).Error
		}

		if (step.Status == constant.StepStatusFailed || step.Status == constant.StepStatusCanceled) && run.FailurePolicy == constant.FailurePolicyFailFast {
			if step.Status == constant.StepStatusFailed {
				run.Status = constant.WorkflowRunStatusFailed
			} else {
				run.Status = constant.WorkflowRunStatusCanceled
			}
			run.FinishedAt = &now
			reason := run.LastError
			if reason == nil {
				reason = step.LastError
			}
			if err := cancelOpenStepsForRun(tx, &run, reason); err != nil {
				return err
			}
			if err := reconcileRunStatus(tx, &run); err != nil {
				return err
			}
			return tx.Save(&run).Error
		}

		if err := enqueueReadySteps(tx, &run); err != nil {
			return err
		}
		if err := reconcileRunStatus(tx, &run); err != nil {
			return err
		}
		return tx.Save(&run).Error
	})
}

// coalesceTime returns the first non-nil pointer, preserving whichever
// value was already recorded rather than overwriting it on every call.
func coalesceTime(ptrs ...*time.Time) *time.Time {
	for _, p := range ptrs {
		if p != nil {
			return p
		}
	}
	return nil
}

func trimmedOr(s *string, def string) string {
	if s != nil && strings.TrimSpace(*s) != "" {
		return strings.TrimSpace(*s)
	}
	return def
}

// CancelRun cancels a running workflow run and every open step/child job
// (spec §4.8 `cancel_workflow_run`). Returns false without error when
// the run is already terminal.
func (w *WorkflowFacade) CancelRun(ctx context.Context, runID uuid.UUID, reason string) (bool, error) {
	applied := false
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run model.WorkflowRun
		if err := tx.First(&run, "id = ?", runID).Error; err != nil {
			return fmt.Errorf("load workflow run: %w", err)
		}
		if constant.WorkflowTerminal(run.Status) {
			return nil
		}
		now := time.Now().UTC()
		message := strings.TrimSpace(reason)
		if message == "" {
			message = "canceled by user"
		}
		run.Status = constant.WorkflowRunStatusCanceled
		run.FinishedAt = &now
		run.LastError = &message
		if err := cancelOpenStepsForRun(tx, &run, &message); err != nil {
			return err
		}
		if err := reconcileRunStatus(tx, &run); err != nil {
			return err
		}
		if err := tx.Save(&run).Error; err != nil {
			return fmt.Errorf("save canceled run: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, apperrors.WrapError(err, "cancel workflow run", apperrors.CodeStoreError)
	}
	return applied, nil
}

// ReconcileRunningWorkflows re-derives every open run's step states from
// its child jobs' current state, in batches of at most limitRuns, and
// re-enqueues/reconciles each (spec §4.9, `reconcile_running_workflows`).
// This recovers a run if a worker crashed between a child job's
// completion and OnChildJobStateChange running.
//
// Runs are taken from a fixed (created_at, id) ordering rotated by
// offsetSeed mod the number of candidates, so a caller that passes a
// changing seed (the Reconciler passes its tick counter) sweeps the
// whole running set instead of always favoring the same head-of-queue
// runs. The rotation is deterministic for a given seed; no random
// offset is drawn (see DESIGN.md's Open Question decision).
func (w *WorkflowFacade) ReconcileRunningWorkflows(ctx context.Context, limitRuns int, offsetSeed int64) (int, error) {
	if limitRuns <= 0 {
		limitRuns = 50
	}
	// Scanned in a fixed order, then rotated by offsetSeed: a plain
	// fixed-order LIMIT would let concurrent reconciler instances all
	// converge on the same head-of-queue runs and starve the tail.
	const scanCap = 500

	var allIDs []uuid.UUID
	err := w.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("status = ?", constant.WorkflowRunStatusRunning).
		Order("created_at ASC, id ASC").
		Limit(scanCap).
		Pluck("id", &allIDs).Error
	if err != nil {
		return 0, apperrors.WrapError(err, "list running workflow runs", apperrors.CodeStoreError)
	}
	if len(allIDs) == 0 {
		return 0, nil
	}

	offset := int(offsetSeed % int64(len(allIDs)))
	if offset < 0 {
		offset += len(allIDs)
	}
	runIDs := make([]uuid.UUID, 0, len(allIDs))
	runIDs = append(runIDs, allIDs[offset:]...)
	runIDs = append(runIDs, allIDs[:offset]...)
	if len(runIDs) > limitRuns {
		runIDs = runIDs[:limitRuns]
	}

	processed := 0
	for _, runID := range runIDs {
		err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var run model.WorkflowRun
			if err := tx.First(&run, "id = ?", runID).Error; err != nil {
				if errorsIsNotFound(err) {
					return nil
				}
				return err
			}
			if constant.WorkflowTerminal(run.Status) {
				return nil
			}
			before := run

			var stepRuns []model.WorkflowStepRun
			if err := tx.Where("workflow_run_id = ?", run.ID).Find(&stepRuns).Error; err != nil {
				return err
			}
			childJobIDs := make([]uuid.UUID, 0, len(stepRuns))
			for _, s := range stepRuns {
				if s.ChildJobID != nil {
					childJobIDs = append(childJobIDs, *s.ChildJobID)
				}
			}
			jobsByID := map[uuid.UUID]model.Job{}
			if len(childJobIDs) > 0 {
				var jobs []model.Job
				if err := tx.Where("id IN ?", childJobIDs).Find(&jobs).Error; err != nil {
					return err
				}
				for _, j := range jobs {
					jobsByID[j.ID] = j
				}
			}

			now := time.Now().UTC()
			for i := range stepRuns {
				step := &stepRuns[i]
				if step.ChildJobID == nil {
					continue
				}
				job, ok := jobsByID[*step.ChildJobID]
				if !ok {
					continue
				}
				if applyJobStateToStep(step, job, &run, now) {
					if err := tx.Save(step).Error; err != nil {
						return err
					}
				}
			}

			if err := enqueueReadySteps(tx, &run); err != nil {
				return err
			}
			if err := reconcileRunStatus(tx, &run); err != nil {
				return err
			}
			// Idempotent per spec §4.9: a sweep that mirrored no job
			// state change and derived no new run status writes nothing.
			if reflect.DeepEqual(before, run) {
				return nil
			}
			return tx.Save(&run).Error
		})
		if err != nil {
			return processed, apperrors.WrapError(err, "reconcile workflow run", apperrors.CodeStoreError)
		}
		processed++
	}
	return processed, nil
}

// applyJobStateToStep mirrors a child job's status onto its step and
// reports whether it actually changed anything, so the caller can skip
// writing a step/run that was already in sync (spec §4.9's idempotent
// sweep: no change in, no write out).
func applyJobStateToStep(step *model.WorkflowStepRun, job model.Job, run *model.WorkflowRun, now time.Time) bool {
	before := *step
	switch job.Status {
	case constant.JobStatusQueued:
		if !constant.StepTerminalStatuses[step.Status] {
			step.Status = constant.StepStatusQueued
		}
	case constant.JobStatusRunning:
		if !constant.StepTerminalStatuses[step.Status] {
			step.Status = constant.StepStatusRunning
			step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
		}
	case constant.JobStatusSucceeded:
		step.Status = constant.StepStatusSucceeded
		step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
		step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
		step.LastError = nil
	case constant.JobStatusFailed, constant.JobStatusDeadLetter:
		step.Status = constant.StepStatusFailed
		step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
		step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
		msg := trimmedOr(job.LastError, fmt.Sprintf("job ended with %s", job.Status))
		step.LastError = &msg
		run.LastError = &msg
	case constant.JobStatusCanceled:
		step.Status = constant.StepStatusCanceled
		step.StartedAt = coalesceTime(step.StartedAt, job.StartedAt, &now)
		step.FinishedAt = coalesceTime(step.FinishedAt, job.FinishedAt, &now)
		msg := trimmedOr(job.LastError, "canceled")
		step.LastError = &msg
		if run.LastError == nil {
			run.LastError = &msg
		}
	}
	return !reflect.DeepEqual(before, *step)
}
