// Package config provides configuration management for taskara.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TASKARA_* environment variables, then CLI flags. Connection
// parameters are treated as opaque; Validate only checks that the fields a
// backend needs are present.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/randalmurphal/taskara/internal/db/driver"
	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// Validate performs presence checks on the configuration.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if !slices.Contains(ValidLogLevels, c.Log.Level) {
		return tkerrors.ConfigInvalid("log.level", fmt.Sprintf("must be one of %v, got %q", ValidLogLevels, c.Log.Level))
	}
	if !slices.Contains(ValidLogFormats, c.Log.Format) {
		return tkerrors.ConfigInvalid("log.format", fmt.Sprintf("must be one of %v, got %q", ValidLogFormats, c.Log.Format))
	}
	return nil
}

// Dialect resolves Driver, including its aliases (embedded, networked, pg,
// ...), to a backend dialect.
func (d *DatabaseConfig) Dialect() (driver.Dialect, error) {
	dialect, err := driver.ParseDialect(d.Driver)
	if err != nil {
		return "", tkerrors.ConfigInvalid("database.driver", fmt.Sprintf("must be one of %v or an alias, got %q", ValidDrivers, d.Driver))
	}
	return dialect, nil
}

// Validate checks that the selected backend has what it needs to connect.
func (d *DatabaseConfig) Validate() error {
	dialect, err := d.Dialect()
	if err != nil {
		return err
	}
	switch dialect {
	case driver.DialectSQLite:
		if d.SQLite.Path == "" {
			return tkerrors.ConfigInvalid("database.sqlite.path", "required for the sqlite driver")
		}
		if d.SQLite.BusyTimeout < 0 {
			return tkerrors.ConfigInvalid("database.sqlite.busy_timeout", "must not be negative")
		}
	case driver.DialectPostgres:
		if d.Postgres.DSN != "" {
			return nil
		}
		if d.Postgres.Host == "" {
			return tkerrors.ConfigInvalid("database.postgres.host", "required for the postgres driver unless dsn is set")
		}
		if d.Postgres.Database == "" {
			return tkerrors.ConfigInvalid("database.postgres.database", "required for the postgres driver unless dsn is set")
		}
		if d.Postgres.PoolMax < 0 {
			return tkerrors.ConfigInvalid("database.postgres.pool_max", "must not be negative")
		}
	}
	return nil
}

// DSN returns the connection string for the selected driver.
// Credentials are passed through without inspection.
func (d *DatabaseConfig) DSN() string {
	if dialect, _ := d.Dialect(); dialect != driver.DialectPostgres {
		return d.SQLite.Path
	}
	if d.Postgres.DSN != "" {
		return d.Postgres.DSN
	}

	p := d.Postgres
	u := url.URL{
		Scheme: "postgres",
		Host:   p.Host,
		Path:   "/" + p.Database,
	}
	if p.Port > 0 {
		u.Host = p.Host + ":" + strconv.Itoa(p.Port)
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}

	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	if p.StatementTimeout > 0 {
		q.Set("statement_timeout", strconv.FormatInt(p.StatementTimeout.Milliseconds(), 10))
	}
	if p.ConnectTimeout > 0 {
		secs := int64(p.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.FormatInt(secs, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
