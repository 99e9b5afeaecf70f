package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nrhinela/zoltag-sub001/pkg/constant"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueFacade is the typed repository spec §4.3 calls the Queue Store.
// It owns every mutation of jobs/job_attempts so the claim/lease/complete
// invariants stay in one place, the way WorkloadTaskFacade centralized
// the AMD task-state lock protocol it's grounded on.
type QueueFacade struct {
	db *gorm.DB
}

func NewQueueFacade(db *gorm.DB) *QueueFacade {
	return &QueueFacade{db: db}
}

// ErrDedupConflict is returned by InsertJob when an active duplicate
// already exists under the tenant's dedupe window; the caller receives
// the pre-existing Job instead of a new one.
var ErrDedupConflict = errors.New("active duplicate job exists")

// InsertJob creates a new queued Job. If dedupeKey collides with a still
// active (queued/running) job for the same tenant+definition, the
// existing row is returned alongside ErrDedupConflict rather than
// inserting a duplicate (spec §4.3, backed by uq_jobs_active_dedupe).
func (q *QueueFacade) InsertJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = time.Now().UTC()
	}
	job.QueuedAt = time.Now().UTC()
	job.Status = constant.JobStatusQueued

	err := q.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, nil
	}
	if !isUniqueViolation(err) {
		return nil, apperrors.WrapError(err, "insert job", apperrors.CodeStoreError)
	}

	existing, findErr := q.findActiveDuplicate(ctx, job)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, apperrors.WrapError(err, "insert job: unique violation with no matching duplicate", apperrors.CodeStoreError)
	}
	return existing, ErrDedupConflict
}

func (q *QueueFacade) findActiveDuplicate(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.DedupeKey == nil {
		return nil, nil
	}
	var existing model.Job
	err := q.db.WithContext(ctx).
		Where("tenant_id = ? AND definition_id = ? AND dedupe_key = ? AND status IN ?",
			job.TenantID, job.DefinitionID, *job.DedupeKey, []string{constant.JobStatusQueued, constant.JobStatusRunning}).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.WrapError(err, "find active duplicate", apperrors.CodeStoreError)
	}
	return &existing, nil
}

// ClaimNext implements the dispatcher's selection algorithm (spec §4.4):
// filter by accepted definitions and readiness, order by
// (priority, scheduled_for, queued_at, id), skip concurrently-locked
// rows, and transition the winner to running inside one transaction.
func (q *QueueFacade) ClaimNext(ctx context.Context, workerID string, acceptedDefinitions []uuid.UUID, leaseDuration time.Duration) (*model.Job, error) {
	if len(acceptedDefinitions) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var claimed *model.Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scan := tx.Where("status = ? AND scheduled_for <= ? AND definition_id IN ?", constant.JobStatusQueued, now, acceptedDefinitions).
			Order("priority ASC, scheduled_for ASC, queued_at ASC, id ASC").
			Limit(1)
		// SELECT ... FOR UPDATE SKIP LOCKED is Postgres syntax; SQLite (used
		// by the in-memory test helper) has no row-level locking and errors
		// on it, so it's only applied against a real Postgres connection.
		if tx.Dialector.Name() == "postgres" {
			scan = scan.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job model.Job
		err := scan.First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select queued job: %w", err)
		}

		leaseExpiresAt := now.Add(leaseDuration)
		job.Status = constant.JobStatusRunning
		job.AttemptCount++
		job.StartedAt = &now
		job.LeaseExpiresAt = &leaseExpiresAt
		job.ClaimedByWorker = &workerID
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("transition job to running: %w", err)
		}

		attempt := &model.JobAttempt{
			JobID:     job.ID,
			AttemptNo: job.AttemptCount,
			WorkerID:  workerID,
			Status:    constant.AttemptStatusRunning,
			StartedAt: now,
		}
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("insert job attempt: %w", err)
		}

		claimed = &job
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "claim next job", apperrors.CodeStoreError)
	}
	return claimed, nil
}

// DefaultLeaseDuration computes spec §4.4's lease window:
// min(timeoutSeconds, 15min) + 30s.
func DefaultLeaseDuration(timeoutSeconds int) time.Duration {
	leaseCap := 15 * time.Minute
	d := time.Duration(timeoutSeconds) * time.Second
	if d > leaseCap {
		d = leaseCap
	}
	return d + 30*time.Second
}

// HeartbeatLease refreshes lease_expires_at only while the job is still
// claimed by workerID and running (spec §4.3); any other caller has
// already lost the lease to the janitor.
func (q *QueueFacade) HeartbeatLease(ctx context.Context, jobID uuid.UUID, workerID string, newExpiry time.Time) error {
	res := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND claimed_by_worker = ? AND status = ?", jobID, workerID, constant.JobStatusRunning).
		Update("lease_expires_at", newExpiry)
	if res.Error != nil {
		return apperrors.WrapError(res.Error, "heartbeat lease", apperrors.CodeStoreError)
	}
	if res.RowsAffected == 0 {
		return apperrors.WrapMessage(fmt.Sprintf("lease lost for job %s", jobID), apperrors.CodeLeaseLost)
	}
	return nil
}

// BackoffDelay implements spec §4.6's retry backoff:
// min(2^attempt * base, cap), base=10s, cap=10min.
func BackoffDelay(attempt int) time.Duration {
	const base = 10 * time.Second
	const backoffCap = 10 * time.Minute
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// CompleteAttempt applies spec §4.6's state machine to the job's
// current attempt and returns the job's resulting status.
func (q *QueueFacade) CompleteAttempt(ctx context.Context, jobID uuid.UUID, workerID string, attemptStatus string, exitCode *int, stdoutTail, stderrTail, errorText *string) (string, error) {
	var nextStatus string

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		load := tx
		if tx.Dialector.Name() == "postgres" {
			load = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var job model.Job
		if err := load.First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.ClaimedByWorker == nil || *job.ClaimedByWorker != workerID {
			return apperrors.WrapMessage(fmt.Sprintf("lease lost for job %s", jobID), apperrors.CodeLeaseLost)
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.JobAttempt{}).
			Where("job_id = ? AND attempt_no = ?", jobID, job.AttemptCount).
			Updates(map[string]interface{}{
				"status":      attemptStatus,
				"finished_at": now,
				"exit_code":   exitCode,
				"stdout_tail": truncate(stdoutTail, model.MaxTailBytes),
				"stderr_tail": truncate(stderrTail, model.MaxTailBytes),
				"error_text":  truncate(errorText, model.MaxTailBytes),
			}).Error; err != nil {
			return fmt.Errorf("update job attempt: %w", err)
		}

		switch attemptStatus {
		case constant.AttemptStatusSucceeded:
			job.Status = constant.JobStatusSucceeded
			job.FinishedAt = &now
			job.LeaseExpiresAt = nil
			job.ClaimedByWorker = nil
		case constant.AttemptStatusFailed, constant.AttemptStatusTimeout:
			if job.AttemptCount < job.MaxAttempts {
				next := now.Add(BackoffDelay(job.AttemptCount))
				job.Status = constant.JobStatusQueued
				job.ScheduledFor = next
				job.LeaseExpiresAt = nil
				job.ClaimedByWorker = nil
			} else {
				job.Status = constant.JobStatusDeadLetter
				job.FinishedAt = &now
				job.LeaseExpiresAt = nil
				job.ClaimedByWorker = nil
			}
			job.LastError = truncate(errorText, model.MaxLastErrorBytes)
		case constant.AttemptStatusCanceled:
			job.Status = constant.JobStatusCanceled
			job.FinishedAt = &now
			job.LeaseExpiresAt = nil
			job.ClaimedByWorker = nil
		default:
			return apperrors.WrapMessage(fmt.Sprintf("unknown attempt status %q", attemptStatus), apperrors.CodeInvalidArgument)
		}

		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("save job after complete_attempt: %w", err)
		}
		nextStatus = job.Status
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.CodeLeaseLost) {
			return "", err
		}
		return "", apperrors.WrapError(err, "complete attempt", apperrors.CodeStoreError)
	}
	return nextStatus, nil
}

// CancelJob transitions a queued or running job to canceled; any other
// current status is a no-op reported to the caller as CodeInvalidArgument.
func (q *QueueFacade) CancelJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	now := time.Now().UTC()
	res := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{constant.JobStatusQueued, constant.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":            constant.JobStatusCanceled,
			"finished_at":       now,
			"last_error":        truncate(&reason, model.MaxLastErrorBytes),
			"lease_expires_at":  nil,
			"claimed_by_worker": nil,
		})
	if res.Error != nil {
		return apperrors.WrapError(res.Error, "cancel job", apperrors.CodeStoreError)
	}
	if res.RowsAffected == 0 {
		return apperrors.WrapMessage(fmt.Sprintf("job %s is not cancelable", jobID), apperrors.CodeInvalidArgument)
	}
	return nil
}

// ListJobs filters by tenant and, optionally, a set of statuses.
func (q *QueueFacade) ListJobs(ctx context.Context, tenantID uuid.UUID, statuses []string, limit, offset int) ([]model.Job, error) {
	var jobs []model.Job
	query := q.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Order("queued_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, apperrors.WrapError(err, "list jobs", apperrors.CodeStoreError)
	}
	return jobs, nil
}

// CountJobs mirrors ListJobs' filter for pagination totals.
func (q *QueueFacade) CountJobs(ctx context.Context, tenantID uuid.UUID, statuses []string) (int64, error) {
	var count int64
	query := q.db.WithContext(ctx).Model(&model.Job{}).Where("tenant_id = ?", tenantID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, apperrors.WrapError(err, "count jobs", apperrors.CodeStoreError)
	}
	return count, nil
}

// FindStaleRunning is used by the Lease Janitor (spec §4.7) to find
// jobs whose lease has expired.
func (q *QueueFacade) FindStaleRunning(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	var jobs []model.Job
	err := q.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at < ?", constant.JobStatusRunning, now).
		Order("lease_expires_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, apperrors.WrapError(err, "find stale running jobs", apperrors.CodeStoreError)
	}
	return jobs, nil
}

func truncate(s *string, max int) *string {
	if s == nil {
		return nil
	}
	if len(*s) <= max {
		return s
	}
	t := (*s)[:max]
	return &t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// Postgres unique_violation SQLSTATE is 23505; gorm's generic error
	// wrapping means matching on text is more portable across drivers
	// (sqlite, used in tests, reports "UNIQUE constraint failed").
	msg := err.Error()
	for _, pattern := range []string{"23505", "UNIQUE constraint failed", "duplicate key value"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
