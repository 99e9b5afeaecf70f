package database

import (
	"context"
	"fmt"

	"github.com/nrhinela/zoltag-sub001/pkg/config"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/nrhinela/zoltag-sub001/pkg/logger/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

// Store wraps the gorm connection every facade in this package is built
// on. Reads are routed to ReplicaDSN when configured; writes (and any
// query run inside a transaction) always go to the primary, matching the
// single-writer assumption the claim/lease protocol depends on.
type Store struct {
	db *gorm.DB
}

// Open establishes the primary connection and, if configured, registers
// the replica as a read resolver.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.PrimaryDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open primary database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)

	if cfg.ReplicaDSN != "" {
		err = db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: []gorm.Dialector{postgres.Open(cfg.ReplicaDSN)},
		}))
		if err != nil {
			return nil, fmt.Errorf("register replica resolver: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// DB returns the underlying connection for facades and migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate runs AutoMigrate over every domain model, then layers on the
// partial indexes GORM struct tags cannot express.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&model.JobDefinition{},
		&model.JobTrigger{},
		&model.Job{},
		&model.JobAttempt{},
		&model.Worker{},
		&model.WorkflowDefinition{},
		&model.WorkflowRun{},
		&model.WorkflowStepRun{},
	)
	if err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return s.applyQueueIndexes(ctx)
}

// applyQueueIndexes creates the partial unique index that enforces
// active-job dedupe (spec §4.3) and the scan/lease indexes that keep
// the dispatcher's scan query sargable (spec §4.4). These use WHERE
// clauses GORM's `index:` tag syntax cannot express, so they're applied
// as raw DDL after AutoMigrate rather than via struct tags.
func (s *Store) applyQueueIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_active_dedupe
			ON jobs (tenant_id, definition_id, dedupe_key)
			WHERE dedupe_key IS NOT NULL AND status IN ('queued', 'running')`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_queue_scan
			ON jobs (status, scheduled_for, priority, queued_at)
			WHERE status = 'queued'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_worker_lease
			ON jobs (claimed_by_worker, lease_expires_at)
			WHERE status = 'running'`,
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			log.Errorf("apply queue index failed: %v", err)
			return fmt.Errorf("apply queue index: %w", err)
		}
	}
	return nil
}
