package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowRun is one instantiation of a WorkflowDefinition (spec §3
// "WorkflowRun"). FailurePolicy and MaxParallelSteps are copied from the
// definition at start_run time so later definition edits never change an
// in-flight run's behavior.
type WorkflowRun struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID             uuid.UUID `gorm:"type:uuid;not null;index:idx_workflow_runs_tenant_status,priority:1"`
	WorkflowDefinitionID uuid.UUID `gorm:"type:uuid;not null"`

	Status           string  `gorm:"not null;default:'running';index:idx_workflow_runs_tenant_status,priority:2"`
	Payload          ExtJSON `gorm:"type:jsonb;not null;default:'{}'"`
	Priority         int     `gorm:"not null;default:100"`
	MaxParallelSteps int     `gorm:"not null;default:2"`
	FailurePolicy    string  `gorm:"not null;default:'fail_fast'"`

	CreatedAt  time.Time `gorm:"not null;default:now()"`
	StartedAt  *time.Time
	FinishedAt *time.Time

	LastError *string
	CreatedBy *uuid.UUID `gorm:"type:uuid"`
}

func (WorkflowRun) TableName() string { return "workflow_runs" }
