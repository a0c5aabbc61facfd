package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// DefaultPoolMax is used when no pool size is configured.
const DefaultPoolMax = 10

// PostgresDriver implements the Driver interface for PostgreSQL.
// Concurrency between writers is left to the server's MVCC and row locks.
type PostgresDriver struct {
	db   *sql.DB
	opts Options
}

// NewPostgres creates a new PostgreSQL driver.
func NewPostgres(opts Options) *PostgresDriver {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultPoolMax
	}
	return &PostgresDriver{opts: opts}
}

// Open opens a PostgreSQL database connection.
// A failed ping is returned to the caller; there is no reconnect loop.
func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(d.opts.MaxOpenConns)
	db.SetMaxIdleConns(d.opts.MaxOpenConns)

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	d.db = db
	return nil
}

// Close closes the database connection.
func (d *PostgresDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a query without returning rows.
func (d *PostgresDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (d *PostgresDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *PostgresDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (d *PostgresDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, d.Classify("begin transaction", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Migrate runs all migrations for the given schema type.
// PostgreSQL migrations are read from schema/postgres/{type}_NNN.sql files.
func (d *PostgresDriver) Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error {
	return migrate(ctx, d.db, schemaFS, "schema/postgres", schemaType, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, "INSERT INTO _migrations (version) VALUES ($1)")
}

// Dialect returns the PostgreSQL dialect identifier.
func (d *PostgresDriver) Dialect() Dialect {
	return DialectPostgres
}

// Placeholder returns the PostgreSQL placeholder ($1, $2, etc.).
func (d *PostgresDriver) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Rebind rewrites ? placeholders into $n form.
func (d *PostgresDriver) Rebind(query string) string {
	return rebindDollar(query)
}

// Classify maps SQLSTATE codes onto the error taxonomy.
func (d *PostgresDriver) Classify(op string, err error) error {
	if out, ok := classifyCommon(op, err); ok {
		return out
	}

	if pgconn.Timeout(err) {
		return tkerrors.Timeout(op, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		var connErr *pgconn.ConnectError
		if errors.As(err, &connErr) {
			return tkerrors.Storage(op, true, err)
		}
		return tkerrors.Storage(op, false, err)
	}

	switch {
	case pgErr.Code == "23505": // unique_violation
		return tkerrors.UniqueViolation(op, err)
	case pgErr.Code == "57014": // query_canceled (statement_timeout)
		return tkerrors.Timeout(op, err)
	case pgErr.Code == "55P03": // lock_not_available (lock_timeout)
		return tkerrors.Timeout(op, err)
	case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
		return tkerrors.Storage(op, true, err)
	case strings.HasPrefix(pgErr.Code, "08"): // connection exception
		return tkerrors.Storage(op, true, err)
	case pgErr.Code == "57P01", pgErr.Code == "57P03": // admin_shutdown, cannot_connect_now
		return tkerrors.Storage(op, true, err)
	default:
		return tkerrors.Storage(op, false, err)
	}
}

// DB returns the underlying sql.DB for advanced operations.
func (d *PostgresDriver) DB() *sql.DB {
	return d.db
}
