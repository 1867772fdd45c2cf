// Package config loads and validates the nasscan configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NASSCAN_* plus the documented plain variables)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/nasscan/pkg/history"
)

// Plain environment variables observed in addition to NASSCAN_* overrides.
// Each maps onto one config field; there are no hidden effects.
const (
	EnvEnableLogs           = "ENABLE_LOGS"            // off|debug|info|warn|error
	EnvMaxParallelTasks     = "MAX_PARALLEL_TASKS"     // 1..10
	EnvDefaultExecutionMode = "DEFAULT_EXECUTION_MODE" // parallel|sequential
	EnvVerifyTLS            = "VERIFY_TLS"             // overrides per-scan TLS verification
)

// Config represents the nasscan service configuration.
type Config struct {
	// Logging controls log output behavior. The service is silent by
	// default; ENABLE_LOGS switches it on.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// API contains the REST API server configuration.
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Storage configures the history database (SQLite or PostgreSQL).
	Storage history.Config `mapstructure:"storage" yaml:"storage"`

	// Scanner contains scan execution tuning.
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner"`

	// Scheduler contains scheduler tuning.
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Scans is the list of configured scan descriptors.
	Scans []ScanConfig `mapstructure:"scans" yaml:"scans"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: off, debug, info, warn, error (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=OFF DEBUG INFO WARN ERROR off debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// APIConfig contains REST API server configuration.
type APIConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port. Default: 8000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds each API request. Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
// When Enabled is false no collectors are registered.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ScannerConfig contains scan execution tuning.
type ScannerConfig struct {
	// MaxParallelTasks bounds concurrent path measurements per scan.
	// Default: 3, capped at 10.
	MaxParallelTasks int `mapstructure:"max_parallel_tasks" validate:"omitempty,min=1,max=10" yaml:"max_parallel_tasks"`

	// ExecutionMode is parallel or sequential. Sequential is shorthand
	// for max_parallel_tasks=1.
	ExecutionMode string `mapstructure:"execution_mode" validate:"omitempty,oneof=parallel sequential" yaml:"execution_mode"`

	// VerifyTLS, when set, overrides per-scan TLS verification.
	VerifyTLS *bool `mapstructure:"verify_tls" yaml:"verify_tls,omitempty"`
}

// SchedulerConfig contains scheduler tuning.
type SchedulerConfig struct {
	// ReloadInterval is how often the config file is re-read and
	// diff-applied. Default: 5m
	ReloadInterval time.Duration `mapstructure:"reload_interval" yaml:"reload_interval"`

	// MisfireGrace is how late a missed firing may still run. Default: 1h
	MisfireGrace time.Duration `mapstructure:"misfire_grace" yaml:"misfire_grace"`
}

// ApplyDefaults fills in missing configuration with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "off"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8000
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = 60 * time.Second
	}

	cfg.Storage.ApplyDefaults()

	if cfg.Scanner.MaxParallelTasks == 0 {
		cfg.Scanner.MaxParallelTasks = 3
	}
	if cfg.Scanner.ExecutionMode == "" {
		cfg.Scanner.ExecutionMode = "parallel"
	}

	if cfg.Scheduler.ReloadInterval == 0 {
		cfg.Scheduler.ReloadInterval = 5 * time.Minute
	}
	if cfg.Scheduler.MisfireGrace == 0 {
		cfg.Scheduler.MisfireGrace = time.Hour
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	now := time.Now().UTC()
	for i := range cfg.Scans {
		cfg.Scans[i].applyDefaults(now)
	}

	assignSlugs(cfg.Scans)
}

// applyEnvOverrides applies the documented plain environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvEnableLogs); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv(EnvMaxParallelTasks); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			return fmt.Errorf("%s must be an integer in [1, 10], got %q", EnvMaxParallelTasks, v)
		}
		cfg.Scanner.MaxParallelTasks = n
	}

	if v := os.Getenv(EnvDefaultExecutionMode); v != "" {
		mode := strings.ToLower(v)
		if mode != "parallel" && mode != "sequential" {
			return fmt.Errorf("%s must be parallel or sequential, got %q", EnvDefaultExecutionMode, v)
		}
		cfg.Scanner.ExecutionMode = mode
	}

	if v := os.Getenv(EnvVerifyTLS); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvVerifyTLS, v)
		}
		cfg.Scanner.VerifyTLS = &verify
	}

	return nil
}

// Validate checks the configuration. Struct tags are checked with
// validator; cross-field scan rules are checked by hand so the error can
// point at the offending scan.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	for i := range cfg.Scans {
		if err := cfg.Scans[i].Validate(); err != nil {
			return fmt.Errorf("scan %q: %w", cfg.Scans[i].Name, err)
		}
	}

	return nil
}

// EffectiveParallelism returns the bounded path parallelism, honoring
// the sequential execution mode.
func (c *ScannerConfig) EffectiveParallelism() int {
	if c.ExecutionMode == "sequential" {
		return 1
	}
	n := c.MaxParallelTasks
	if n < 1 {
		n = 3
	}
	if n > 10 {
		n = 10
	}
	return n
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = findConfigFile()
		if configPath == "" {
			return nil, fmt.Errorf("no configuration file found\n\n"+
				"Searched ./config.yaml and %s\n\n"+
				"Initialize one first:\n"+
				"  nasscan init\n\n"+
				"Or specify a custom config file:\n"+
				"  nasscan start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files carry NAS credentials, keep them owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the NASSCAN_ prefix with underscores,
// e.g. NASSCAN_LOGGING_LEVEL=debug.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NASSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		timeDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// timeDecodeHook converts RFC 3339 strings to time.Time for created_at.
func timeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.Parse(time.RFC3339, v)
		default:
			return data, nil
		}
	}
}

// findConfigFile returns the first existing config file in the search
// path, or empty.
func findConfigFile() string {
	candidates := []string{
		"config.yaml",
		GetDefaultConfigPath(),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nasscan")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nasscan")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
