package model

import (
	"time"

	"github.com/google/uuid"
)

// JobAttempt is the audit trail of one execution pass of a Job (spec
// §3 "JobAttempt"). AttemptNo is 1-indexed and unique per job.
type JobAttempt struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index:idx_job_attempts_job_started,priority:1;uniqueIndex:uq_job_attempts_job_attempt,priority:1"`
	AttemptNo int       `gorm:"not null;uniqueIndex:uq_job_attempts_job_attempt,priority:2"`
	WorkerID  string    `gorm:"not null"`
	PID       *int

	StartedAt  time.Time `gorm:"not null;default:now();index:idx_job_attempts_job_started,priority:2"`
	FinishedAt *time.Time

	ExitCode *int
	Status   string `gorm:"not null"`

	StdoutTail *string
	StderrTail *string
	ErrorText  *string
}

func (JobAttempt) TableName() string { return "job_attempts" }

// MaxTailBytes bounds the length of captured stdout/stderr tails
// (spec §3: "bounded length, e.g. 16 KiB").
const MaxTailBytes = 16 * 1024

// MaxLastErrorBytes bounds Job.LastError (spec §7: "truncated to 2 KiB").
const MaxLastErrorBytes = 2 * 1024
