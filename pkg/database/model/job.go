package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is one unit of durable work (spec §3 "Job"). Its invariants are
// enforced by the Queue Store, not by GORM hooks: status='queued' implies
// lease fields are nil; terminal statuses imply FinishedAt is set and
// lease fields are cleared.
type Job struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID     uuid.UUID `gorm:"type:uuid;not null;index:idx_jobs_tenant_status_time,priority:1"`
	DefinitionID uuid.UUID `gorm:"type:uuid;not null"`

	Source    string  `gorm:"not null"`
	SourceRef *string

	Status       string    `gorm:"not null;default:'queued';index:idx_jobs_tenant_status_time,priority:2"`
	Priority     int       `gorm:"not null;default:100"`
	Payload      ExtJSON   `gorm:"type:jsonb;not null;default:'{}'"`
	DedupeKey    *string
	CorrelationID *string

	ScheduledFor time.Time  `gorm:"not null;default:now()"`
	QueuedAt     time.Time  `gorm:"not null;default:now();index:idx_jobs_tenant_status_time,priority:3"`
	StartedAt    *time.Time
	FinishedAt   *time.Time

	AttemptCount int `gorm:"not null;default:0"`
	MaxAttempts  int `gorm:"not null;default:3"`

	LeaseExpiresAt  *time.Time
	ClaimedByWorker *string

	LastError *string
	CreatedBy *uuid.UUID `gorm:"type:uuid"`
}

func (Job) TableName() string { return "jobs" }

// SourceRefPrefix is prepended to the source_ref of every job spawned
// as a workflow step (spec §4.8): "workflow:{run_id}:{step_key}".
const SourceRefPrefix = "workflow"
