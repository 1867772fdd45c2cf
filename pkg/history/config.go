package history

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseType defines the supported database backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, default).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the full path to the database file. Takes precedence over
	// StorageDir.
	Path string `mapstructure:"db_path" yaml:"db_path,omitempty"`

	// StorageDir is the directory holding history.db when Path is unset.
	// Default: ./data
	StorageDir string `mapstructure:"storage_dir" yaml:"storage_dir,omitempty"`
}

// EffectivePath resolves the database file location.
func (c *SQLiteConfig) EffectivePath() string {
	if c.Path != "" {
		return c.Path
	}
	dir := c.StorageDir
	if dir == "" {
		dir = "data"
	}
	return filepath.Join(dir, "history.db")
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host,omitempty"`
	Port         int    `mapstructure:"port" yaml:"port,omitempty"`
	Database     string `mapstructure:"database" yaml:"database,omitempty"`
	User         string `mapstructure:"user" yaml:"user,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode,omitempty"` // disable, require, verify-ca, verify-full
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)

	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}

	return dsn
}

// Config contains history store configuration.
type Config struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type,omitempty"`
	SQLite   SQLiteConfig   `mapstructure:",squash" yaml:",inline"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`

	// MaxHistory is the number of distinct execution timestamps kept per
	// scan slug. Default: 1000.
	MaxHistory int `mapstructure:"max_history" yaml:"max_history,omitempty"`

	// RetentionDays is the age threshold for the startup cleanup.
	// Default: 90.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days,omitempty"`

	// AutoCleanup controls whether the startup cleanup runs. Default: true.
	AutoCleanup *bool `mapstructure:"auto_cleanup" yaml:"auto_cleanup,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
	}

	if c.MaxHistory == 0 {
		c.MaxHistory = 1000
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	if c.AutoCleanup == nil {
		enabled := true
		c.AutoCleanup = &enabled
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite, "":
		// EffectivePath always resolves to something usable.
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}

	if c.MaxHistory < 0 {
		return fmt.Errorf("max_history must not be negative")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}

	return nil
}

// AutoCleanupEnabled reports whether the startup cleanup runs.
func (c *Config) AutoCleanupEnabled() bool {
	return c.AutoCleanup == nil || *c.AutoCleanup
}

// DBFileSize returns the on-disk size of the SQLite database, or 0 for
// other backends.
func (c *Config) DBFileSize() int64 {
	if c.Type != DatabaseTypeSQLite {
		return 0
	}
	info, err := os.Stat(c.SQLite.EffectivePath())
	if err != nil {
		return 0
	}
	return info.Size()
}
