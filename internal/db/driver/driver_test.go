package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

func TestNewDriver(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"invalid", Dialect("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, err := New(tt.dialect)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if drv == nil {
				t.Error("expected driver, got nil")
			}
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"embedded", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"PG", DialectPostgres, false},
		{"networked", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM tasks WHERE id = ?", "SELECT * FROM tasks WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{`SELECT "odd?col" FROM t WHERE a = ? AND b = ?`, `SELECT "odd?col" FROM t WHERE a = $1 AND b = $2`},
	}

	pg := NewPostgres(Options{})
	lite := NewSQLite()
	for _, tt := range tests {
		assert.Equal(t, tt.want, pg.Rebind(tt.in))
		assert.Equal(t, tt.in, lite.Rebind(tt.in))
	}
}

func TestSQLiteDriver(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	drv := NewSQLite()

	// Test Open
	if err := drv.Open(dbPath); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	// Test Dialect
	if drv.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %v, want %v", drv.Dialect(), DialectSQLite)
	}

	// Test Placeholder
	if drv.Placeholder(1) != "?" {
		t.Errorf("Placeholder(1) = %v, want ?", drv.Placeholder(1))
	}

	// Test DB
	if drv.DB() == nil {
		t.Error("DB() returned nil")
	}

	// Test basic Exec
	ctx := context.Background()
	_, err := drv.Exec(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Errorf("Exec CREATE TABLE failed: %v", err)
	}

	// Test Insert
	_, err = drv.Exec(ctx, "INSERT INTO test (id, name) VALUES (?, ?)", 1, "hello")
	if err != nil {
		t.Errorf("Exec INSERT failed: %v", err)
	}

	// Test QueryRow
	row := drv.QueryRow(ctx, "SELECT name FROM test WHERE id = ?", 1)
	var name string
	if err := row.Scan(&name); err != nil {
		t.Errorf("QueryRow Scan failed: %v", err)
	}
	if name != "hello" {
		t.Errorf("got %q, want 'hello'", name)
	}

	// Test BeginTx
	tx, err := drv.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}

	_, err = tx.Exec(ctx, "INSERT INTO test (id, name) VALUES (?, ?)", 2, "world")
	if err != nil {
		t.Errorf("tx.Exec failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Errorf("tx.Commit failed: %v", err)
	}

	// Verify committed
	var count int
	row = drv.QueryRow(ctx, "SELECT COUNT(*) FROM test")
	if err := row.Scan(&count); err != nil {
		t.Errorf("count scan failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// Test Rollback
	tx2, err := drv.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	_, _ = tx2.Exec(ctx, "INSERT INTO test (id, name) VALUES (?, ?)", 3, "rollback")
	if err := tx2.Rollback(); err != nil {
		t.Errorf("tx.Rollback failed: %v", err)
	}

	row = drv.QueryRow(ctx, "SELECT COUNT(*) FROM test")
	if err := row.Scan(&count); err != nil {
		t.Errorf("count scan failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count after rollback = %d, want 2", count)
	}
}

func TestSQLiteDriver_ForeignKeysEnabled(t *testing.T) {
	drv := NewSQLite()
	require.NoError(t, drv.Open(":memory:"))
	defer func() { _ = drv.Close() }()

	var enabled int
	require.NoError(t, drv.QueryRow(context.Background(), "PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

func TestSQLiteDriver_Classify(t *testing.T) {
	drv := NewSQLite()
	require.NoError(t, drv.Open(":memory:"))
	defer func() { _ = drv.Close() }()

	ctx := context.Background()
	_, err := drv.Exec(ctx, "CREATE TABLE uniq (id TEXT PRIMARY KEY, name TEXT UNIQUE)")
	require.NoError(t, err)
	_, err = drv.Exec(ctx, "INSERT INTO uniq (id, name) VALUES (?, ?)", "a", "x")
	require.NoError(t, err)

	t.Run("primary key violation is conflict", func(t *testing.T) {
		_, err := drv.Exec(ctx, "INSERT INTO uniq (id, name) VALUES (?, ?)", "a", "y")
		require.Error(t, err)
		assert.True(t, tkerrors.IsConflict(drv.Classify("insert uniq", err)))
	})

	t.Run("unique index violation is conflict", func(t *testing.T) {
		_, err := drv.Exec(ctx, "INSERT INTO uniq (id, name) VALUES (?, ?)", "b", "x")
		require.Error(t, err)
		assert.True(t, tkerrors.IsConflict(drv.Classify("insert uniq", err)))
	})

	t.Run("syntax error is non-retryable storage", func(t *testing.T) {
		_, err := drv.Exec(ctx, "INSERT INTO nope VALUES (1)")
		require.Error(t, err)
		classified := drv.Classify("insert nope", err)
		assert.True(t, tkerrors.IsStorage(classified))
		assert.False(t, tkerrors.IsRetryable(classified))
	})

	t.Run("deadline is timeout", func(t *testing.T) {
		err := fmt.Errorf("exec: %w", context.DeadlineExceeded)
		assert.True(t, tkerrors.IsTimeout(drv.Classify("exec", err)))
	})

	t.Run("classified errors pass through", func(t *testing.T) {
		in := tkerrors.NotFound("task", "x")
		assert.Same(t, in, drv.Classify("get", in))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, drv.Classify("noop", nil))
	})
}

func TestPostgresDriver_Classify(t *testing.T) {
	drv := NewPostgres(Options{})

	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		retryable bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, tkerrors.IsConflict, false},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, tkerrors.IsTimeout, false},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, tkerrors.IsTimeout, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, tkerrors.IsStorage, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, tkerrors.IsStorage, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, tkerrors.IsStorage, true},
		{"not null violation", &pgconn.PgError{Code: "23502"}, tkerrors.IsStorage, false},
		{"deadline", context.DeadlineExceeded, tkerrors.IsTimeout, false},
		{"opaque", errors.New("boom"), tkerrors.IsStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := drv.Classify("op", fmt.Errorf("wrapped: %w", tt.err))
			assert.True(t, tt.check(got), "unexpected classification: %v", got)
			assert.Equal(t, tt.retryable, tkerrors.IsRetryable(got))
		})
	}
}

func TestSQLiteDriver_Close(t *testing.T) {
	drv := NewSQLite()

	// Close without Open should not error
	if err := drv.Close(); err != nil {
		t.Errorf("Close without Open failed: %v", err)
	}
}

func TestSQLiteDriver_BusyTimeoutPragma(t *testing.T) {
	drv := NewSQLite()
	drv.SetBusyTimeout(1500 * time.Millisecond)
	require.NoError(t, drv.Open(":memory:"))
	defer func() { _ = drv.Close() }()

	var timeout int
	require.NoError(t, drv.QueryRow(context.Background(), "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 1500, timeout)
}

func TestPostgresDriver_Placeholder(t *testing.T) {
	drv := NewPostgres(Options{})

	tests := []struct {
		index int
		want  string
	}{
		{1, "$1"},
		{2, "$2"},
		{10, "$10"},
	}

	for _, tt := range tests {
		got := drv.Placeholder(tt.index)
		if got != tt.want {
			t.Errorf("Placeholder(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestPostgresDriver_Dialect(t *testing.T) {
	drv := NewPostgres(Options{})

	if drv.Dialect() != DialectPostgres {
		t.Errorf("Dialect() = %v, want %v", drv.Dialect(), DialectPostgres)
	}
}

func TestPostgresDriver_Close(t *testing.T) {
	drv := NewPostgres(Options{})

	// Close without Open should not error
	if err := drv.Close(); err != nil {
		t.Errorf("Close without Open failed: %v", err)
	}
}

func TestPostgresDriver_OpenFailsFast(t *testing.T) {
	drv := NewPostgres(Options{})
	err := drv.Open("postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	assert.Error(t, err)
}

// TestSQLiteMigrate tests the migration functionality for SQLite
func TestSQLiteMigrate(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "migrate_test.db")

	drv := NewSQLite()
	if err := drv.Open(dbPath); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = drv.Close() }()

	// Create a mock schema FS
	schemaDir := filepath.Join(tmpDir, "schema")
	if err := os.MkdirAll(schemaDir, 0755); err != nil {
		t.Fatalf("create schema dir: %v", err)
	}

	// Write a test migration
	migration := `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT
		);
	`
	if err := os.WriteFile(filepath.Join(schemaDir, "test_001.sql"), []byte(migration), 0644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	// Create a mock SchemaFS
	mockFS := &mockSchemaFS{dir: tmpDir}

	ctx := context.Background()
	if err := drv.Migrate(ctx, mockFS, "test"); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	// Verify table was created
	var name string
	err := drv.QueryRow(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='test_table'").Scan(&name)
	if err != nil {
		t.Errorf("test_table not created: %v", err)
	}

	// Run again - should be idempotent
	if err := drv.Migrate(ctx, mockFS, "test"); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}

// mockSchemaFS implements SchemaFS for testing
type mockSchemaFS struct {
	dir string
}

func (m *mockSchemaFS) ReadDir(name string) ([]DirEntry, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, name))
	if err != nil {
		return nil, err
	}
	result := make([]DirEntry, len(entries))
	for i, e := range entries {
		result[i] = mockDirEntry{e}
	}
	return result, nil
}

func (m *mockSchemaFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(m.dir, name))
}

type mockDirEntry struct {
	os.DirEntry
}

func (m mockDirEntry) Name() string { return m.DirEntry.Name() }
func (m mockDirEntry) IsDir() bool  { return m.DirEntry.IsDir() }
