package config

import "time"

const (
	// DefaultSQLitePath is used when no path is configured.
	DefaultSQLitePath = "taskara.db"

	// DefaultPostgresPort is the standard PostgreSQL port.
	DefaultPostgresPort = 5432
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:        DefaultSQLitePath,
				BusyTimeout: 5 * time.Second,
			},
			Postgres: PostgresConfig{
				Port:    DefaultPostgresPort,
				SSLMode: "disable",
				PoolMax: 10,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
