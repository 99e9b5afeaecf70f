package reconciler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReconciler_RunOnceAdvancesTickAndHealsRuns(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "step-a", MaxAttempts: 1, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	wf := database.NewWorkflowFacade(h.DB)
	ctx := context.Background()

	run := model.WorkflowRun{
		TenantID: uuid.New(),
		Status:   constant.WorkflowRunStatusRunning,
		StartedAt: func() *time.Time { now := time.Now().UTC(); return &now }(),
	}
	require.NoError(t, h.DB.Create(&run).Error)

	step := model.WorkflowStepRun{
		WorkflowRunID: run.ID,
		StepKey:       "a",
		DefinitionID:  def.ID,
		DependsOn:     pq.StringArray{},
		Status:        constant.StepStatusRunning,
	}
	require.NoError(t, h.DB.Create(&step).Error)

	job := model.Job{
		TenantID:     run.TenantID,
		DefinitionID: def.ID,
		Source:       constant.JobSourceSystem,
		Status:       constant.JobStatusSucceeded,
		MaxAttempts:  1,
	}
	require.NoError(t, h.DB.Create(&job).Error)
	require.NoError(t, h.DB.Model(&step).Update("child_job_id", job.ID).Error)

	r := NewReconciler(wf, config.ReconcilerConfig{Interval: time.Minute, BatchSize: 10})
	healed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, healed, 1)
	require.EqualValues(t, 1, r.tick)

	var reloadedRun model.WorkflowRun
	require.NoError(t, h.DB.First(&reloadedRun, "id = ?", run.ID).Error)
	require.Equal(t, constant.WorkflowRunStatusSucceeded, reloadedRun.Status)
}

// TestReconciler_RunOnceIsIdempotentOnAlreadyHealedRun exercises property
// P8 (spec §4.9: "this sweep is idempotent: if nothing changed, no writes
// occur"). The run has one step already mirrored from its succeeded child
// job and a second step still genuinely running, so it stays in
// WorkflowRunStatusRunning and keeps getting picked up by every sweep —
// unlike TestReconciler_RunOnceAdvancesTickAndHealsRuns's run, which
// leaves the running set entirely once it turns terminal.
func TestReconciler_RunOnceIsIdempotentOnAlreadyHealedRun(t *testing.T) {
	h := database.NewTestHelper(t)
	defer h.Cleanup()

	def := model.JobDefinition{Key: "step-a", MaxAttempts: 1, IsActive: true, TimeoutSeconds: 60}
	require.NoError(t, h.DB.Create(&def).Error)

	wf := database.NewWorkflowFacade(h.DB)
	ctx := context.Background()

	startedAt := time.Now().UTC()
	run := model.WorkflowRun{
		TenantID:  uuid.New(),
		Status:    constant.WorkflowRunStatusRunning,
		StartedAt: &startedAt,
	}
	require.NoError(t, h.DB.Create(&run).Error)

	mirroredStep := model.WorkflowStepRun{
		WorkflowRunID: run.ID,
		StepKey:       "a",
		DefinitionID:  def.ID,
		DependsOn:     pq.StringArray{},
		Status:        constant.StepStatusRunning,
	}
	require.NoError(t, h.DB.Create(&mirroredStep).Error)

	stillOpenStep := model.WorkflowStepRun{
		WorkflowRunID: run.ID,
		StepKey:       "b",
		DefinitionID:  def.ID,
		DependsOn:     pq.StringArray{},
		Status:        constant.StepStatusRunning,
	}
	require.NoError(t, h.DB.Create(&stillOpenStep).Error)

	job := model.Job{
		TenantID:     run.TenantID,
		DefinitionID: def.ID,
		Source:       constant.JobSourceSystem,
		Status:       constant.JobStatusSucceeded,
		MaxAttempts:  1,
		StartedAt:    &startedAt,
		FinishedAt:   &startedAt,
	}
	require.NoError(t, h.DB.Create(&job).Error)
	require.NoError(t, h.DB.Model(&mirroredStep).Update("child_job_id", job.ID).Error)

	r := NewReconciler(wf, config.ReconcilerConfig{Interval: time.Minute, BatchSize: 10})
	healed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, healed, 1)

	var afterFirst model.WorkflowRun
	require.NoError(t, h.DB.First(&afterFirst, "id = ?", run.ID).Error)
	require.Equal(t, constant.WorkflowRunStatusRunning, afterFirst.Status)

	var writes int32
	require.NoError(t, h.DB.Callback().Update().After("gorm:update").
		Register("test:count_updates", func(tx *gorm.DB) {
			atomic.AddInt32(&writes, 1)
		}))
	defer h.DB.Callback().Update().Remove("test:count_updates")

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, atomic.LoadInt32(&writes), "an already-healed running workflow must not be written again")
}
