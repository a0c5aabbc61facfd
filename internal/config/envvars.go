package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	// Database settings
	"TASKARA_DB_DRIVER":            "database.driver",
	"TASKARA_SQLITE_PATH":          "database.sqlite.path",
	"TASKARA_SQLITE_BUSY_TIMEOUT":  "database.sqlite.busy_timeout",
	"TASKARA_DB_HOST":              "database.postgres.host",
	"TASKARA_DB_PORT":              "database.postgres.port",
	"TASKARA_DB_NAME":              "database.postgres.database",
	"TASKARA_DB_USER":              "database.postgres.user",
	"TASKARA_DB_PASSWORD":          "database.postgres.password",
	"TASKARA_DB_SSL_MODE":          "database.postgres.ssl_mode",
	"TASKARA_DB_POOL_MAX":          "database.postgres.pool_max",
	"TASKARA_DB_STATEMENT_TIMEOUT": "database.postgres.statement_timeout",
	"TASKARA_DB_CONNECT_TIMEOUT":   "database.postgres.connect_timeout",
	"TASKARA_DB_DSN":               "database.postgres.dsn",
	// Images
	"TASKARA_IMAGES_DIR": "images.dir",
	// Logging
	"TASKARA_LOG_LEVEL":  "log.level",
	"TASKARA_LOG_FORMAT": "log.format",
}

// ApplyEnvVars applies environment variable overrides to a TrackedConfig.
// Returns a sorted list of paths that were overridden.
func ApplyEnvVars(tc *TrackedConfig) []string {
	var overridden []string

	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}

		if applyEnvVar(tc.Config, configPath, value) {
			tc.SetSource(configPath, SourceEnv)
			overridden = append(overridden, configPath)
		}
	}

	sort.Strings(overridden)
	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied. Unparseable numbers and durations
// are ignored.
func applyEnvVar(cfg *Config, path string, value string) bool {
	switch path {
	case "database.driver":
		cfg.Database.Driver = strings.ToLower(value)
	case "database.sqlite.path":
		cfg.Database.SQLite.Path = value
	case "database.sqlite.busy_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return false
		}
		cfg.Database.SQLite.BusyTimeout = d
	case "database.postgres.host":
		cfg.Database.Postgres.Host = value
	case "database.postgres.port":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Database.Postgres.Port = v
	case "database.postgres.database":
		cfg.Database.Postgres.Database = value
	case "database.postgres.user":
		cfg.Database.Postgres.User = value
	case "database.postgres.password":
		cfg.Database.Postgres.Password = value
	case "database.postgres.ssl_mode":
		cfg.Database.Postgres.SSLMode = value
	case "database.postgres.pool_max":
		v, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		cfg.Database.Postgres.PoolMax = v
	case "database.postgres.statement_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return false
		}
		cfg.Database.Postgres.StatementTimeout = d
	case "database.postgres.connect_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return false
		}
		cfg.Database.Postgres.ConnectTimeout = d
	case "database.postgres.dsn":
		cfg.Database.Postgres.DSN = value
	case "images.dir":
		cfg.Images.Dir = value
	case "log.level":
		cfg.Log.Level = strings.ToLower(value)
	case "log.format":
		cfg.Log.Format = strings.ToLower(value)
	default:
		return false
	}
	return true
}
