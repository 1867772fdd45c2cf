package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marmos91/nasscan/pkg/models"
)

// intervalPattern matches duration literals like "30s", "10m", "6h", "1d".
var intervalPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// NASConfig holds access parameters for one NAS.
type NASConfig struct {
	Host     string `mapstructure:"host" validate:"required" yaml:"host"`
	Username string `mapstructure:"username" validate:"required" yaml:"username"`
	Password string `mapstructure:"password" validate:"required" yaml:"password"`

	// Port defaults to 5001 for HTTPS and 5000 for HTTP.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`

	// UseHTTPS selects the scheme. Default: true.
	UseHTTPS *bool `mapstructure:"use_https" yaml:"use_https,omitempty"`

	// VerifySSL controls TLS certificate verification. Default: true.
	// The VERIFY_TLS environment variable overrides it globally.
	VerifySSL *bool `mapstructure:"verify_ssl" yaml:"verify_ssl,omitempty"`
}

// TLS reports whether HTTPS is enabled.
func (n *NASConfig) TLS() bool {
	return n.UseHTTPS == nil || *n.UseHTTPS
}

// Verify reports whether TLS certificates are verified.
func (n *NASConfig) Verify() bool {
	return n.VerifySSL == nil || *n.VerifySSL
}

// EffectivePort returns the configured port or the scheme default.
func (n *NASConfig) EffectivePort() int {
	if n.Port != 0 {
		return n.Port
	}
	if n.TLS() {
		return 5001
	}
	return 5000
}

// BaseURL returns the NAS API base URL, e.g. "https://nas.local:5001".
func (n *NASConfig) BaseURL() string {
	scheme := "http"
	if n.TLS() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.Host, n.EffectivePort())
}

// ScanConfig is one configured unit of work: which NAS, which paths, and
// how often.
type ScanConfig struct {
	// Name is the human readable scan name.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Slug is the URL-safe unique identifier. Generated from Name when
	// absent (generated duplicates are suffixed -2, -3, ...); explicit
	// duplicates are resolved by the scheduler, oldest CreatedAt wins.
	Slug string `mapstructure:"slug" yaml:"slug,omitempty"`

	// CreatedAt orders scans for the duplicate-slug keep-oldest policy.
	// Set to load time when absent.
	CreatedAt time.Time `mapstructure:"created_at" yaml:"created_at,omitempty"`

	// Enabled scans get a scheduler job. Default: true.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`

	NAS NASConfig `mapstructure:"nas" yaml:"nas"`

	// Shares are share roots to measure, each becoming "/<share>".
	Shares []string `mapstructure:"shares" yaml:"shares,omitempty"`

	// Folders are subfolders under the single configured share; the
	// effective set is the share × folder product. Valid only with
	// exactly one share.
	Folders []string `mapstructure:"folders" yaml:"folders,omitempty"`

	// Paths are explicit absolute paths.
	Paths []string `mapstructure:"paths" yaml:"paths,omitempty"`

	// Interval is either a five-field cron expression or a duration
	// literal N{s|m|h|d}.
	Interval string `mapstructure:"interval" validate:"required" yaml:"interval"`
}

func (s *ScanConfig) applyDefaults(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.Enabled == nil {
		enabled := true
		s.Enabled = &enabled
	}
}

// IsEnabled reports whether the scan should get a scheduler job.
func (s *ScanConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate checks the cross-field rules:
//
//   - shares (without folders): scan every share
//   - shares + folders: scan every share/folder combination; only one
//     share may be configured then
//   - paths: scan every path
//   - shares and paths combine
func (s *ScanConfig) Validate() error {
	hasShares := s.Shares != nil
	hasPaths := s.Paths != nil

	if !hasShares && !hasPaths {
		return fmt.Errorf("at least one of 'shares' or 'paths' must be set")
	}

	if hasShares && len(s.Shares) == 0 {
		return fmt.Errorf("'shares' list must not be empty")
	}

	if hasPaths && len(s.Paths) == 0 {
		return fmt.Errorf("'paths' list must not be empty")
	}

	if s.Folders != nil {
		if !hasShares {
			return fmt.Errorf("'folders' can only be used together with 'shares'")
		}
		if len(s.Folders) == 0 {
			return fmt.Errorf("'folders' list must not be empty")
		}
		if len(s.Shares) > 1 {
			return fmt.Errorf("'folders' requires exactly one share, got %d", len(s.Shares))
		}
	}

	if _, err := ParseTrigger(s.Interval); err != nil {
		return fmt.Errorf("interval: %w", err)
	}

	return nil
}

// EffectivePaths expands the descriptor into the ordered, normalized
// list of paths to measure: explicit paths first, then the share or
// share/folder combinations.
func (s *ScanConfig) EffectivePaths() []string {
	paths := make([]string, 0, len(s.Paths)+len(s.Shares)*max(1, len(s.Folders)))

	for _, p := range s.Paths {
		paths = append(paths, models.NormalizePath(p))
	}

	if len(s.Folders) > 0 {
		for _, share := range s.Shares {
			for _, folder := range s.Folders {
				paths = append(paths, models.NormalizePath(share+"/"+folder))
			}
		}
	} else {
		for _, share := range s.Shares {
			paths = append(paths, models.NormalizePath(share))
		}
	}

	return paths
}

// TriggerFields returns the fields whose change requires the scheduler to
// re-create the job. Changes to anything else (name, credentials, TLS
// flags) are picked up without rescheduling.
func (s *ScanConfig) TriggerFields() string {
	return strings.Join([]string{
		strings.Join(s.Shares, ","),
		strings.Join(s.Folders, ","),
		strings.Join(s.Paths, ","),
		s.Interval,
		s.NAS.Host,
		fmt.Sprintf("%d", s.NAS.EffectivePort()),
	}, "|")
}

// TriggerKind distinguishes interval literals from cron expressions.
type TriggerKind int

const (
	// TriggerInterval is a duration literal like "30s", "10m", "6h", "1d".
	TriggerInterval TriggerKind = iota
	// TriggerCron is a five-field cron expression.
	TriggerCron
)

// Trigger is a parsed scan interval.
type Trigger struct {
	Kind TriggerKind

	// Every is set for interval triggers.
	Every time.Duration

	// Spec is set for cron triggers.
	Spec string
}

// Describe returns a human readable trigger description for job info.
func (t Trigger) Describe() string {
	if t.Kind == TriggerInterval {
		return "every " + t.Every.String()
	}
	return "cron " + t.Spec
}

// ParseTrigger parses a scan interval: either a duration literal
// N{s|m|h|d} or a five-field cron expression. Anything else is a
// configuration error.
func ParseTrigger(interval string) (Trigger, error) {
	if m := intervalPattern.FindStringSubmatch(interval); m != nil {
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}

		var n int64
		if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil || n <= 0 {
			return Trigger{}, fmt.Errorf("invalid interval %q", interval)
		}

		return Trigger{Kind: TriggerInterval, Every: time.Duration(n) * unit}, nil
	}

	if fields := strings.Fields(interval); len(fields) == 5 {
		if _, err := cron.ParseStandard(interval); err != nil {
			return Trigger{}, fmt.Errorf("invalid cron expression %q: %w", interval, err)
		}
		return Trigger{Kind: TriggerCron, Spec: interval}, nil
	}

	return Trigger{}, fmt.Errorf("invalid interval %q: want N{s|m|h|d} or a five-field cron expression", interval)
}
