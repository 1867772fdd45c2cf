package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented starter configuration written by
// `nasscan init`. It is valid YAML that loads as-is once the NAS
// credentials are filled in.
const sampleConfig = `# nasscan Configuration File
#
# nasscan periodically measures directory sizes on NAS hosts and keeps
# the history in a local database. Every option below can be overridden
# with environment variables using the NASSCAN_ prefix, e.g.
# NASSCAN_LOGGING_LEVEL=debug.

logging:
  level: off        # off, debug, info, warn, error (ENABLE_LOGS overrides)
  format: text      # text or json
  output: stdout    # stdout, stderr, or a file path

api:
  host: 0.0.0.0
  port: 8000
  request_timeout: 60s

metrics:
  enabled: false    # serves Prometheus metrics on /metrics when true

storage:
  type: sqlite          # sqlite or postgres
  max_history: 30       # executions kept per scan (0 = unlimited)
  retention_days: 90    # rows older than this are removed at startup (0 = keep forever)
  # db_path: /var/lib/nasscan/history.db
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: nasscan
  #   user: nasscan
  #   password: secret
  #   ssl_mode: disable

scanner:
  max_parallel_tasks: 3     # concurrent path measurements per scan, 1..10
  execution_mode: parallel  # parallel or sequential

scheduler:
  reload_interval: 5m   # how often the config file is re-read (negative disables)
  misfire_grace: 1h     # firings later than this are dropped

shutdown_timeout: 30s

scans:
  - name: Media library
    nas:
      host: nas.example.com
      username: admin
      password: change-me
      # port: 5001
      # verify_ssl: true
    shares:
      - photo
    folders:
      - albums
    # paths:                # explicit paths take precedence over shares x folders
    #   - /photo/albums
    interval: 6h            # N{s|m|h|d} or a 5-field cron expression ("0 3 * * *")
`

// InitConfig creates the sample configuration file at the default
// location. Returns the path it was written to.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath creates the sample configuration file at an explicit
// path. Refuses to overwrite unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Config files carry NAS credentials, keep them owner-only.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
