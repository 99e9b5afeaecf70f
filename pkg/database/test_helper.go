package database

import (
	"context"
	"testing"

	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestHelper provides common test utilities for database tests. It runs
// against an in-memory SQLite database rather than Postgres. SQLite
// accepts the partial-index DDL of applyQueueIndexes, so the helper
// applies it after AutoMigrate and the dedupe constraint holds in tests
// as it does in the store; SQLite has no row-level locking, so the
// postgres-only FOR UPDATE clauses are not exercised here.
type TestHelper struct {
	DB *gorm.DB
	T  *testing.T
}

// NewTestHelper creates a new TestHelper with an in-memory SQLite database
func NewTestHelper(t *testing.T) *TestHelper {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent mode to reduce noise
	})
	require.NoError(t, err, "Failed to open SQLite database")

	err = db.AutoMigrate(
		&model.JobDefinition{},
		&model.JobTrigger{},
		&model.Job{},
		&model.JobAttempt{},
		&model.Worker{},
		&model.WorkflowDefinition{},
		&model.WorkflowRun{},
		&model.WorkflowStepRun{},
	)
	require.NoError(t, err, "Failed to auto-migrate models")

	err = (&Store{db: db}).applyQueueIndexes(context.Background())
	require.NoError(t, err, "Failed to apply queue indexes")

	return &TestHelper{
		DB: db,
		T:  t,
	}
}

// Cleanup closes the database connection
func (h *TestHelper) Cleanup() {
	sqlDB, err := h.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
}

// CreateTestContext creates a test context
func (h *TestHelper) CreateTestContext() context.Context {
	return context.Background()
}

// TruncateTable truncates a table for clean test state
func (h *TestHelper) TruncateTable(tableName string) {
	h.DB.Exec("DELETE FROM " + tableName)
}

// Count returns the number of records in a table
func (h *TestHelper) Count(tableName string) int64 {
	var count int64
	h.DB.Table(tableName).Count(&count)
	return count
}

