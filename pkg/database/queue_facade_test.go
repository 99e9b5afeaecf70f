package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/stretchr/testify/require"
)

func seedDefinition(t *testing.T, h *TestHelper) model.JobDefinition {
	def := model.JobDefinition{Key: "sync", MaxAttempts: 3, IsActive: true}
	require.NoError(t, h.DB.Create(&def).Error)
	return def
}

func TestQueueFacade_InsertJobDedupe(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	def := seedDefinition(t, h)
	q := NewQueueFacade(h.DB)
	ctx := h.CreateTestContext()

	tenant := uuid.New()
	dedupe := "daily-sync"
	job := &model.Job{TenantID: tenant, DefinitionID: def.ID, Source: constant.JobSourceManual, DedupeKey: &dedupe, MaxAttempts: 3}

	first, err := q.InsertJob(ctx, job)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first.ID)

	dup := &model.Job{TenantID: tenant, DefinitionID: def.ID, Source: constant.JobSourceManual, DedupeKey: &dedupe, MaxAttempts: 3}
	existing, err := q.InsertJob(ctx, dup)
	require.ErrorIs(t, err, ErrDedupConflict)
	require.Equal(t, first.ID, existing.ID)
}

func TestQueueFacade_ClaimNextRespectsOrderingAndDefinitionFilter(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	def := seedDefinition(t, h)
	q := NewQueueFacade(h.DB)
	ctx := h.CreateTestContext()
	tenant := uuid.New()

	low := &model.Job{TenantID: tenant, DefinitionID: def.ID, Source: constant.JobSourceManual, Priority: 200, MaxAttempts: 3}
	high := &model.Job{TenantID: tenant, DefinitionID: def.ID, Source: constant.JobSourceManual, Priority: 50, MaxAttempts: 3}
	_, err := q.InsertJob(ctx, low)
	require.NoError(t, err)
	_, err = q.InsertJob(ctx, high)
	require.NoError(t, err)

	claimed, err := q.ClaimNext(ctx, "worker-1", []uuid.UUID{def.ID}, DefaultLeaseDuration(def.TimeoutSeconds))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, high.ID, claimed.ID, "lower priority value claims first")
	require.Equal(t, constant.JobStatusRunning, claimed.Status)
	require.Equal(t, 1, claimed.AttemptCount)

	none, err := q.ClaimNext(ctx, "worker-2", []uuid.UUID{uuid.New()}, time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestQueueFacade_CompleteAttemptRetriesThenDeadLetters(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	def := seedDefinition(t, h)
	q := NewQueueFacade(h.DB)
	ctx := h.CreateTestContext()

	job := &model.Job{TenantID: uuid.New(), DefinitionID: def.ID, Source: constant.JobSourceManual, MaxAttempts: 2}
	_, err := q.InsertJob(ctx, job)
	require.NoError(t, err)

	claimed, err := q.ClaimNext(ctx, "worker-1", []uuid.UUID{def.ID}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	errText := "boom"
	status, err := q.CompleteAttempt(ctx, claimed.ID, "worker-1", constant.AttemptStatusFailed, nil, nil, nil, &errText)
	require.NoError(t, err)
	require.Equal(t, constant.JobStatusQueued, status, "first failure retries")

	var refreshed model.Job
	require.NoError(t, h.DB.First(&refreshed, "id = ?", claimed.ID).Error)
	require.True(t, refreshed.ScheduledFor.After(time.Now()), "backoff pushes scheduled_for into the future")

	claimed2, err := q.ClaimNext(ctx, "worker-1", []uuid.UUID{def.ID}, time.Minute)
	require.NoError(t, err)
	require.Nil(t, claimed2, "job is not yet due because of backoff")

	// Fast-forward past the backoff window (a real worker would just
	// wait) and drive the second, final attempt to failure too: with
	// max_attempts=2 exhausted, this must dead-letter the job (S3).
	require.NoError(t, h.DB.Model(&model.Job{}).Where("id = ?", claimed.ID).
		Update("scheduled_for", time.Now().UTC().Add(-time.Second)).Error)

	claimed3, err := q.ClaimNext(ctx, "worker-1", []uuid.UUID{def.ID}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed3, "job is due again after the backoff window elapses")
	require.Equal(t, 2, claimed3.AttemptCount)

	status, err = q.CompleteAttempt(ctx, claimed3.ID, "worker-1", constant.AttemptStatusFailed, nil, nil, nil, &errText)
	require.NoError(t, err)
	require.Equal(t, constant.JobStatusDeadLetter, status, "second failure exhausts max_attempts and dead-letters")

	var final model.Job
	require.NoError(t, h.DB.First(&final, "id = ?", claimed.ID).Error)
	require.Equal(t, constant.JobStatusDeadLetter, final.Status)
	require.Equal(t, 2, final.AttemptCount)
	require.NotNil(t, final.FinishedAt)

	var attempts []model.JobAttempt
	require.NoError(t, h.DB.Where("job_id = ?", claimed.ID).Order("attempt_no ASC").Find(&attempts).Error)
	require.Len(t, attempts, 2)
	require.Equal(t, constant.AttemptStatusFailed, attempts[0].Status)
	require.Equal(t, constant.AttemptStatusFailed, attempts[1].Status)
}

func TestQueueFacade_HeartbeatLeaseLost(t *testing.T) {
	h := NewTestHelper(t)
	defer h.Cleanup()
	def := seedDefinition(t, h)
	q := NewQueueFacade(h.DB)
	ctx := h.CreateTestContext()

	job := &model.Job{TenantID: uuid.New(), DefinitionID: def.ID, Source: constant.JobSourceManual, MaxAttempts: 3}
	_, err := q.InsertJob(ctx, job)
	require.NoError(t, err)
	claimed, err := q.ClaimNext(ctx, "worker-1", []uuid.UUID{def.ID}, time.Minute)
	require.NoError(t, err)

	err = q.HeartbeatLease(ctx, claimed.ID, "worker-2", time.Now().Add(time.Minute))
	require.Error(t, err)

	err = q.HeartbeatLease(ctx, claimed.ID, "worker-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
}
