package model

import (
	"time"

	"github.com/google/uuid"
)

// JobDefinition is the immutable-by-key contract for a class of work
// (spec §3 "JobDefinition"). Rows are soft-deactivated via IsActive,
// never hard-deleted while jobs reference them.
type JobDefinition struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Key             string    `gorm:"uniqueIndex:uq_job_definitions_key;not null"`
	Description     string    `gorm:"not null;default:''"`
	PayloadSchema   ExtJSON   `gorm:"type:jsonb;not null;default:'{}'"`
	TimeoutSeconds  int       `gorm:"not null;default:3600"`
	MaxAttempts     int       `gorm:"not null;default:3"`
	IsActive        bool      `gorm:"not null;default:true;index:idx_job_definitions_active"`
	CreatedAt       time.Time `gorm:"not null;default:now()"`
	UpdatedAt       time.Time `gorm:"not null;default:now()"`
}

func (JobDefinition) TableName() string { return "job_definitions" }
