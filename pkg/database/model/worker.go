package model

import (
	"time"

	"github.com/lib/pq"
)

// Worker is the registration record a worker process maintains via
// periodic heartbeat (spec §3 "Worker"). Rows are upserted by worker_id
// on every heartbeat and are advisory only: a missing or stale Worker
// row never blocks claim, it only feeds the Janitor's staleness check.
type Worker struct {
	WorkerID   string         `gorm:"primaryKey"`
	Hostname   string         `gorm:"not null"`
	Version    string         `gorm:"not null"`
	Queues     pq.StringArray `gorm:"type:text[];not null"`
	LastSeenAt time.Time      `gorm:"not null;default:now();index:idx_workers_last_seen"`
	// IsActive is cleared by the Janitor's stale-worker sweep (spec
	// §4.7 step 3) and set back by register/heartbeat; an inactive
	// worker is excluded from nothing directly (claim never reads it),
	// it's advisory metadata for operators and the registry listing.
	IsActive bool    `gorm:"not null;default:true"`
	Metadata ExtType `gorm:"type:jsonb;not null;default:'{}'"`
}

func (Worker) TableName() string { return "job_workers" }
