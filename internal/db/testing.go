// Package db provides test utilities for database operations.
//
// This file contains test helpers that should be used by all tests
// requiring database access. Using these helpers ensures:
// - In-memory databases for speed
// - Proper cleanup via t.Cleanup()
// - Consistent patterns across the codebase
package db

import (
	"context"
	"os"
	"testing"

	"github.com/randalmurphal/taskara/internal/db/driver"
)

// PostgresTestDSNEnv names the variable that enables PostgreSQL tests.
const PostgresTestDSNEnv = "TASKARA_TEST_POSTGRES_DSN"

// NewTestDB creates a migrated in-memory SQLite database for testing.
// The database is automatically closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    pdb := db.NewTestDB(t)
//	    // use pdb...
//	}
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}

	t.Cleanup(func() {
		_ = d.Close()
	})

	return d
}

// NewTestPostgresDB connects to the database named by
// TASKARA_TEST_POSTGRES_DSN, migrates it and empties every table. The test
// is skipped when the variable is unset.
func NewTestPostgresDB(t testing.TB) *DB {
	t.Helper()

	dsn := os.Getenv(PostgresTestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresTestDSNEnv)
	}

	d, err := OpenWithDialect(dsn, driver.DialectPostgres, driver.Options{})
	if err != nil {
		t.Fatalf("open test postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})

	ctx := context.Background()
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("migrate test postgres: %v", err)
	}
	if _, err := d.DB().ExecContext(ctx, `
		TRUNCATE messages, threads, prompts, task_events, task_tags, task_labels, images, tasks
	`); err != nil {
		t.Fatalf("truncate test postgres: %v", err)
	}

	return d
}
