// Package db provides database persistence for taskara.
//
// All statements are written once with ? placeholders and rebound by the
// active driver, so the same repository code runs against SQLite and
// PostgreSQL. Every returned error is classified into the taskara error
// taxonomy.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randalmurphal/taskara/internal/config"
	"github.com/randalmurphal/taskara/internal/db/driver"
)

// SchemaType is the migration file prefix for the taskara schema.
const SchemaType = "tasks"

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	dsn    string
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for repository diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) {
		if l != nil {
			d.logger = l
		}
	}
}

// Open connects to the backend selected by cfg and applies migrations.
// A connection failure is returned immediately; there are no retries.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}

	d, err := OpenWithDialect(cfg.DSN(), dialect, driver.Options{
		MaxOpenConns: cfg.Postgres.PoolMax,
		BusyTimeout:  cfg.SQLite.BusyTimeout,
	}, opts...)
	if err != nil {
		return nil, err
	}

	if err := d.Migrate(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate %s db: %w", dialect, err)
	}
	return d, nil
}

// OpenWithDialect opens a database with a specific dialect without migrating.
// For SQLite, dsn is the file path and its parent directory is created.
// For PostgreSQL, dsn is the connection string.
func OpenWithDialect(dsn string, dialect driver.Dialect, dopts driver.Options, opts ...Option) (*DB, error) {
	if dialect == driver.DialectSQLite && dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.NewWithOptions(dialect, dopts)
	if err != nil {
		return nil, err
	}

	if err := drv.Open(dsn); err != nil {
		return nil, drv.Classify("open database", err)
	}

	d := &DB{driver: drv, dsn: dsn, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// OpenInMemory opens a migrated, private in-memory SQLite database.
func OpenInMemory(opts ...Option) (*DB, error) {
	d, err := OpenWithDialect(":memory:", driver.DialectSQLite, driver.Options{}, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(context.Background()); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate in-memory db: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// DSN returns the connection string the database was opened with.
func (d *DB) DSN() string {
	return d.dsn
}

// DB returns the underlying sql.DB for advanced operations.
func (d *DB) DB() *sql.DB {
	return d.driver.DB()
}

// Driver returns the underlying driver.
func (d *DB) Driver() driver.Driver {
	return d.driver
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Logger returns the logger attached to the database.
func (d *DB) Logger() *slog.Logger {
	return d.logger
}

// Migrate applies pending schema migrations. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	adapter := &embedFSAdapter{fs: schemaFS}
	if err := d.driver.Migrate(ctx, adapter, SchemaType); err != nil {
		return d.driver.Classify("migrate", err)
	}
	return nil
}

// conn runs statements outside any transaction.
type conn struct {
	drv driver.Driver
	ctx context.Context
}

func (d *DB) conn(ctx context.Context) *conn {
	return &conn{drv: d.driver, ctx: ctx}
}

func (c *conn) Exec(query string, args ...any) (sql.Result, error) {
	return c.drv.Exec(c.ctx, c.drv.Rebind(query), args...)
}

func (c *conn) Query(query string, args ...any) (*sql.Rows, error) {
	return c.drv.Query(c.ctx, c.drv.Rebind(query), args...)
}

func (c *conn) QueryRow(query string, args ...any) *sql.Row {
	return c.drv.QueryRow(c.ctx, c.drv.Rebind(query), args...)
}

func (c *conn) classify(op string, err error) error {
	return c.drv.Classify(op, err)
}

// querier is satisfied by both *conn and *TxOps so read helpers can run
// inside or outside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	classify(op string, err error) error
}

var (
	_ querier = (*conn)(nil)
	_ querier = (*TxOps)(nil)
)
