package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// WorkflowStepRun mirrors one WorkflowStep for one WorkflowRun (spec §3
// "WorkflowStepRun"). ChildJobID is nil until the orchestrator enqueues
// the step's Job (source_ref "workflow:{run_id}:{step_key}" links them);
// the uq_workflow_step_runs_child_job_id constraint this mirrors keeps
// that link one-to-one.
type WorkflowStepRun struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	WorkflowRunID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_workflow_step_runs_run_step,priority:1"`
	StepKey       string    `gorm:"not null;uniqueIndex:uq_workflow_step_runs_run_step,priority:2"`
	DefinitionID  uuid.UUID `gorm:"type:uuid;not null"`
	DependsOn     pq.StringArray `gorm:"type:text[];not null"`

	Status     string     `gorm:"not null;default:'pending'"`
	Payload    ExtJSON    `gorm:"type:jsonb;not null;default:'{}'"`
	ChildJobID *uuid.UUID `gorm:"type:uuid;uniqueIndex:uq_workflow_step_runs_child_job_id"`

	CreatedAt  time.Time `gorm:"not null;default:now()"`
	StartedAt  *time.Time
	FinishedAt *time.Time

	LastError *string
}

func (WorkflowStepRun) TableName() string { return "workflow_step_runs" }
