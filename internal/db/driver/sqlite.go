package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// DefaultBusyTimeout is how long a SQLite connection waits on a file lock
// held by another process before surfacing a timeout.
const DefaultBusyTimeout = 5 * time.Second

// SQLiteDriver implements the Driver interface for SQLite.
//
// The pool is capped at one connection: every statement and transaction in
// the process goes through it, which is the single-writer discipline of the
// embedded backend. Callers must not hold *sql.Rows open while issuing
// another statement.
type SQLiteDriver struct {
	db          *sql.DB
	busyTimeout time.Duration
}

// NewSQLite creates a new SQLite driver.
func NewSQLite() *SQLiteDriver {
	return &SQLiteDriver{busyTimeout: DefaultBusyTimeout}
}

// SetBusyTimeout overrides the lock wait used when the database is opened.
func (d *SQLiteDriver) SetBusyTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.busyTimeout = timeout
	}
}

// Open opens a SQLite database at the given path.
// ":memory:" opens a private in-memory database.
func (d *SQLiteDriver) Open(dsn string) error {
	db, err := sql.Open("sqlite", d.withPragmas(dsn))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	d.db = db
	return nil
}

// withPragmas appends per-connection pragmas as DSN parameters so a
// recycled connection gets the same settings as the first one.
func (d *SQLiteDriver) withPragmas(dsn string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", d.busyTimeout.Milliseconds()),
	}
	if !isMemoryDSN(dsn) {
		// Enable WAL mode and immediate write locks for cross-process access
		params = append(params,
			"_pragma=journal_mode(WAL)",
			"_pragma=synchronous(NORMAL)",
			"_txlock=immediate",
		)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the database connection.
func (d *SQLiteDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a query without returning rows.
func (d *SQLiteDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (d *SQLiteDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *SQLiteDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (d *SQLiteDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, d.Classify("begin transaction", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Migrate runs all migrations for the given schema type.
func (d *SQLiteDriver) Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error {
	return migrate(ctx, d.db, schemaFS, "schema", schemaType, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (datetime('now'))
		)
	`, "INSERT INTO _migrations (version) VALUES (?)")
}

// Dialect returns the SQLite dialect identifier.
func (d *SQLiteDriver) Dialect() Dialect {
	return DialectSQLite
}

// Placeholder returns the SQLite placeholder (always ?).
func (d *SQLiteDriver) Placeholder(index int) string {
	return "?"
}

// Rebind is a no-op for SQLite.
func (d *SQLiteDriver) Rebind(query string) string {
	return query
}

// Classify maps SQLite result codes onto the error taxonomy.
func (d *SQLiteDriver) Classify(op string, err error) error {
	if out, ok := classifyCommon(op, err); ok {
		return out
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return tkerrors.Storage(op, false, err)
	}

	code := se.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(se.Error(), "UNIQUE constraint failed") {
			return tkerrors.UniqueViolation(op, err)
		}
		return tkerrors.Storage(op, false, err)
	case sqlite3.SQLITE_BUSY:
		// busy_timeout elapsed waiting on another process's lock
		return tkerrors.Timeout(op, err)
	case sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_PROTOCOL:
		return tkerrors.Storage(op, true, err)
	default:
		return tkerrors.Storage(op, false, err)
	}
}

// DB returns the underlying sql.DB for advanced operations.
func (d *SQLiteDriver) DB() *sql.DB {
	return d.db
}
