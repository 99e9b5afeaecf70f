package database

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/stretchr/testify/require"
)

func seedStepDefinitions(t *testing.T, h *TestHelper, keys ...string) map[string]model.JobDefinition {
	out := map[string]model.JobDefinition{}
	schema, err := json.Marshal(map[string]interface{}{"properties": map[string]interface{}{}, "required": []string{}})
	require.NoError(t, err)
	for _, key := range keys {
		def := model.JobDefinition{Key: key, MaxAttempts: 3, IsActive: true, PayloadSchema: model.ExtJSON(schema)}
		require.NoError(t, h.DB.Create(&def).Error)
		out[key] = def
	}
	return out
}

func makeSteps(steps ...model.WorkflowStep) model.ExtJSON {
	b, _ := json.Marshal(steps)
	return model.ExtJSON(b)
}

func TestWorkflowFacade_ValidateStepsRejectsCycle(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "a", "b")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	steps := []model.WorkflowStep{
		{Key: "a", JobDefinitionKey: "a", DependsOn: []string{"b"}},
		{Key: "b", JobDefinitionKey: "b", DependsOn: []string{"a"}},
	}
	_, err := w.ValidateSteps(ctx, steps)
	require.Error(t, err)
}

func TestWorkflowFacade_ValidateStepsRejectsUnknownDependency(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "a")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	steps := []model.WorkflowStep{
		{Key: "a", JobDefinitionKey: "a", DependsOn: []string{"missing"}},
	}
	_, err := w.ValidateSteps(ctx, steps)
	require.Error(t, err)
}

func TestWorkflowFacade_StartRunEnqueuesRootSteps(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	defs := seedStepDefinitions(t, h, "fetch", "process", "notify")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	def := model.WorkflowDefinition{
		Key:              "pipeline",
		MaxParallelSteps: 2,
		FailurePolicy:    constant.FailurePolicyFailFast,
		IsActive:         true,
		Steps: makeSteps(
			model.WorkflowStep{Key: "fetch", JobDefinitionKey: "fetch"},
			model.WorkflowStep{Key: "process", JobDefinitionKey: "process", DependsOn: []string{"fetch"}},
			model.WorkflowStep{Key: "notify", JobDefinitionKey: "notify", DependsOn: []string{"process"}},
		),
	}
	require.NoError(t, h.DB.Create(&def).Error)

	run, err := w.StartRun(ctx, uuid.New(), def, nil, 100, nil)
	require.NoError(t, err)
	require.Equal(t, constant.WorkflowRunStatusRunning, run.Status)

	var stepRuns []model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ?", run.ID).Order("step_key ASC").Find(&stepRuns).Error)
	require.Len(t, stepRuns, 3)

	byKey := map[string]model.WorkflowStepRun{}
	for _, sr := range stepRuns {
		byKey[sr.StepKey] = sr
	}
	require.Equal(t, constant.StepStatusQueued, byKey["fetch"].Status)
	require.Equal(t, constant.StepStatusPending, byKey["process"].Status)
	require.Equal(t, constant.StepStatusPending, byKey["notify"].Status)
	require.NotNil(t, byKey["fetch"].ChildJobID)

	var childJob model.Job
	require.NoError(t, h.DB.First(&childJob, "id = ?", *byKey["fetch"].ChildJobID).Error)
	require.Equal(t, defs["fetch"].ID, childJob.DefinitionID)
	require.Equal(t, constant.JobStatusQueued, childJob.Status)
	require.NotNil(t, childJob.SourceRef)
	gotRunID, gotStep, ok := ParseSourceRef(childJob.SourceRef)
	require.True(t, ok)
	require.Equal(t, run.ID, gotRunID)
	require.Equal(t, "fetch", gotStep)
}

func TestWorkflowFacade_ChildSuccessAdvancesNextStep(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "fetch", "process")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	def := model.WorkflowDefinition{
		Key:              "pipeline",
		MaxParallelSteps: 2,
		FailurePolicy:    constant.FailurePolicyFailFast,
		IsActive:         true,
		Steps: makeSteps(
			model.WorkflowStep{Key: "fetch", JobDefinitionKey: "fetch"},
			model.WorkflowStep{Key: "process", JobDefinitionKey: "process", DependsOn: []string{"fetch"}},
		),
	}
	require.NoError(t, h.DB.Create(&def).Error)
	run, err := w.StartRun(ctx, uuid.New(), def, nil, 100, nil)
	require.NoError(t, err)

	var fetchStep model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "fetch").First(&fetchStep).Error)
	var fetchJob model.Job
	require.NoError(t, h.DB.First(&fetchJob, "id = ?", *fetchStep.ChildJobID).Error)
	fetchJob.Status = constant.JobStatusSucceeded
	require.NoError(t, h.DB.Save(&fetchJob).Error)

	require.NoError(t, w.OnChildJobStateChange(ctx, fetchJob))

	var processStep model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "process").First(&processStep).Error)
	require.Equal(t, constant.StepStatusQueued, processStep.Status)
	require.NotNil(t, processStep.ChildJobID)

	var refreshedRun model.WorkflowRun
	require.NoError(t, h.DB.First(&refreshedRun, "id = ?", run.ID).Error)
	require.Equal(t, constant.WorkflowRunStatusRunning, refreshedRun.Status)
}

func TestWorkflowFacade_ChildFailureFailsFastAndCancelsSiblings(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "a", "b", "c")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	def := model.WorkflowDefinition{
		Key:              "fanout",
		MaxParallelSteps: 2,
		FailurePolicy:    constant.FailurePolicyFailFast,
		IsActive:         true,
		Steps: makeSteps(
			model.WorkflowStep{Key: "a", JobDefinitionKey: "a"},
			model.WorkflowStep{Key: "b", JobDefinitionKey: "b"},
			model.WorkflowStep{Key: "c", JobDefinitionKey: "c", DependsOn: []string{"a", "b"}},
		),
	}
	require.NoError(t, h.DB.Create(&def).Error)
	run, err := w.StartRun(ctx, uuid.New(), def, nil, 100, nil)
	require.NoError(t, err)

	var stepA model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "a").First(&stepA).Error)
	var jobA model.Job
	require.NoError(t, h.DB.First(&jobA, "id = ?", *stepA.ChildJobID).Error)
	jobA.Status = constant.JobStatusFailed
	errText := "boom"
	jobA.LastError = &errText
	require.NoError(t, h.DB.Save(&jobA).Error)

	require.NoError(t, w.OnChildJobStateChange(ctx, jobA))

	var refreshedRun model.WorkflowRun
	require.NoError(t, h.DB.First(&refreshedRun, "id = ?", run.ID).Error)
	require.Equal(t, constant.WorkflowRunStatusFailed, refreshedRun.Status)

	var stepB model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "b").First(&stepB).Error)
	require.Equal(t, constant.StepStatusCanceled, stepB.Status)

	var jobB model.Job
	require.NoError(t, h.DB.First(&jobB, "id = ?", *stepB.ChildJobID).Error)
	require.Equal(t, constant.JobStatusCanceled, jobB.Status)

	var stepC model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "c").First(&stepC).Error)
	require.Equal(t, constant.StepStatusCanceled, stepC.Status)
}

func TestWorkflowFacade_CancelRunIsIdempotent(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "only")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	def := model.WorkflowDefinition{
		Key:              "single",
		MaxParallelSteps: 1,
		FailurePolicy:    constant.FailurePolicyFailFast,
		IsActive:         true,
		Steps:            makeSteps(model.WorkflowStep{Key: "only", JobDefinitionKey: "only"}),
	}
	require.NoError(t, h.DB.Create(&def).Error)
	run, err := w.StartRun(ctx, uuid.New(), def, nil, 100, nil)
	require.NoError(t, err)

	applied, err := w.CancelRun(ctx, run.ID, "operator requested")
	require.NoError(t, err)
	require.True(t, applied)

	appliedAgain, err := w.CancelRun(ctx, run.ID, "operator requested")
	require.NoError(t, err)
	require.False(t, appliedAgain)
}

func TestWorkflowFacade_ReconcileRunningWorkflowsAdvancesFromChildJobState(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	seedStepDefinitions(t, h, "fetch", "process")
	w := NewWorkflowFacade(h.DB)
	ctx := h.CreateTestContext()

	def := model.WorkflowDefinition{
		Key:              "pipeline",
		MaxParallelSteps: 2,
		FailurePolicy:    constant.FailurePolicyFailFast,
		IsActive:         true,
		Steps: makeSteps(
			model.WorkflowStep{Key: "fetch", JobDefinitionKey: "fetch"},
			model.WorkflowStep{Key: "process", JobDefinitionKey: "process", DependsOn: []string{"fetch"}},
		),
	}
	require.NoError(t, h.DB.Create(&def).Error)
	run, err := w.StartRun(ctx, uuid.New(), def, nil, 100, nil)
	require.NoError(t, err)

	var fetchStep model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "fetch").First(&fetchStep).Error)
	var fetchJob model.Job
	require.NoError(t, h.DB.First(&fetchJob, "id = ?", *fetchStep.ChildJobID).Error)
	fetchJob.Status = constant.JobStatusSucceeded
	require.NoError(t, h.DB.Save(&fetchJob).Error)

	// Simulate a crash between the job completing and
	// OnChildJobStateChange running: the reconciler must catch up.
	processed, err := w.ReconcileRunningWorkflows(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var processStep model.WorkflowStepRun
	require.NoError(t, h.DB.Where("workflow_run_id = ? AND step_key = ?", run.ID, "process").First(&processStep).Error)
	require.Equal(t, constant.StepStatusQueued, processStep.Status)
}
