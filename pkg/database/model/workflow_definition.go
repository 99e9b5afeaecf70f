package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowDefinition is the static DAG template a WorkflowRun instantiates
// (spec §3 "WorkflowDefinition"). Steps is a JSON array of step
// descriptors ({key, job_definition_key, depends_on[]}); the orchestrator
// validates acyclicity at definition time, not via a store constraint.
type WorkflowDefinition struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Key               string    `gorm:"uniqueIndex:uq_workflow_definitions_key;not null"`
	Description       string    `gorm:"not null;default:''"`
	Steps             ExtJSON   `gorm:"type:jsonb;not null;default:'[]'"`
	MaxParallelSteps  int       `gorm:"not null;default:2"`
	FailurePolicy     string    `gorm:"not null;default:'fail_fast'"`
	IsActive          bool      `gorm:"not null;default:true;index:idx_workflow_definitions_active"`
	CreatedAt         time.Time `gorm:"not null;default:now()"`
	UpdatedAt         time.Time `gorm:"not null;default:now()"`
}

func (WorkflowDefinition) TableName() string { return "workflow_definitions" }

// WorkflowStep is one entry of WorkflowDefinition.Steps, decoded on
// demand by the orchestrator rather than mapped to its own table.
type WorkflowStep struct {
	Key               string   `json:"key"`
	JobDefinitionKey  string   `json:"job_definition_key"`
	DependsOn         []string `json:"depends_on"`
}
