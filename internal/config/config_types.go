package config

import "time"

// Config holds taskara configuration.
type Config struct {
	// Database selects and configures the storage backend.
	Database DatabaseConfig `yaml:"database"`

	// Images configures the filesystem image store.
	Images ImagesConfig `yaml:"images"`

	// Log configures the slog handler built by the CLI.
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig defines database connection settings.
type DatabaseConfig struct {
	// Driver is the database type: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite settings (embedded, single writer)
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres settings (networked, multi writer)
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig defines SQLite-specific settings.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits on another process's lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresConfig defines PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"` // Use env TASKARA_DB_PASSWORD
	SSLMode  string `yaml:"ssl_mode"`

	// PoolMax caps open connections. Default: 10
	PoolMax int `yaml:"pool_max"`

	// StatementTimeout is sent as the statement_timeout runtime parameter.
	// Zero leaves the server default.
	StatementTimeout time.Duration `yaml:"statement_timeout"`

	// ConnectTimeout bounds connection establishment. Zero means no limit.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// DSN, when set, is used verbatim and the discrete fields are ignored.
	DSN string `yaml:"dsn"`
}

// ImagesConfig defines where FileStore keeps image blobs.
type ImagesConfig struct {
	// Dir is the FileStore root. Empty stores images in the database.
	Dir string `yaml:"dir"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is text, json or auto. auto picks text on a terminal.
	// Default: auto
	Format string `yaml:"format"`
}

// Valid enum values.
var (
	ValidDrivers    = []string{"sqlite", "postgres"}
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"text", "json", "auto"}
)
