package model

import (
	"time"

	"github.com/google/uuid"
)

// JobTrigger is a source of automatic work (spec §3 "JobTrigger").
// An event trigger carries EventName; a schedule trigger carries
// CronExpr and an optional Timezone (UTC when unset). Neither the store
// nor the trigger engine checks this pairing: there is no CHECK
// constraint, and the engine selects rows by TriggerType and only
// rejects a schedule trigger with an empty CronExpr when evaluating it.
type JobTrigger struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID            uuid.UUID  `gorm:"type:uuid;not null;index:idx_job_triggers_tenant_enabled,priority:1"`
	Label               string     `gorm:"not null"`
	IsEnabled           bool       `gorm:"not null;default:true;index:idx_job_triggers_tenant_enabled,priority:2"`
	TriggerType         string     `gorm:"not null"`
	EventName           *string    `gorm:"index:idx_job_triggers_event"`
	CronExpr            *string
	Timezone            *string
	DefinitionID        uuid.UUID  `gorm:"type:uuid;not null"`
	PayloadTemplate     ExtJSON    `gorm:"type:jsonb;not null;default:'{}'"`
	DedupeWindowSeconds int        `gorm:"not null;default:300"`
	CreatedBy           *uuid.UUID `gorm:"type:uuid"`
	CreatedAt           time.Time  `gorm:"not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"not null;default:now()"`
}

func (JobTrigger) TableName() string { return "job_triggers" }
