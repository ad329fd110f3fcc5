package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete odooctl configuration
type Config struct {
	API           APIConfig          `mapstructure:"api"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Poller        PollerConfig       `mapstructure:"poller"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	TUI           TUIConfig          `mapstructure:"tui"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Paths         PathsConfig        `mapstructure:"paths"`
}

// APIConfig controls how the backend is reached
type APIConfig struct {
	// BaseURL is the backend address including the API prefix,
	// e.g. "http://localhost:8000/api/v1"
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeoutSeconds bounds a single HTTP exchange (0 = transport default)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// UserAgent is sent with every request
	UserAgent string `mapstructure:"user_agent"`
}

// AuthConfig controls where credentials are persisted
type AuthConfig struct {
	// Store selects the credential backend: "file", "sqlite" or "memory"
	Store string `mapstructure:"store"`
	// Path overrides the credential file location (default: {state dir}/credentials.yaml
	// or {state dir}/odooctl.db)
	Path string `mapstructure:"path"`
	// Email is the default login used by `odooctl login` when --email is omitted
	Email string `mapstructure:"email"`
}

// PollerConfig tunes the adaptive task poller
type PollerConfig struct {
	InitialIntervalMs int     `mapstructure:"initial_interval_ms"`
	MaxIntervalMs     int     `mapstructure:"max_interval_ms"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
	TightenFactor     float64 `mapstructure:"tighten_factor"`
	// MaxErrors is the number of consecutive failed lookups tolerated
	MaxErrors int `mapstructure:"max_errors"`
	// TimeoutMs bounds the total wall-clock time spent polling one task
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// NotificationConfig controls the notification bus
type NotificationConfig struct {
	// DefaultDurationMs is the lifetime of a notification published without one
	DefaultDurationMs int `mapstructure:"default_duration_ms"`
	// Quiet suppresses printing notifications to stderr in CLI mode
	Quiet bool `mapstructure:"quiet"`
}

// ScheduleConfig holds recurring triggers for `odooctl schedule run`
type ScheduleConfig struct {
	// Timezone is an IANA location used to interpret cron expressions (default: Local)
	Timezone string      `mapstructure:"timezone"`
	Jobs     []JobConfig `mapstructure:"jobs"`
}

// JobConfig is one scheduled trigger
type JobConfig struct {
	Name     string `mapstructure:"name"`
	Cron     string `mapstructure:"cron"`
	Action   string `mapstructure:"action"`
	TargetID int    `mapstructure:"target_id"`
}

// MetricsConfig controls the Prometheus endpoint served by long-running commands
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// TUIConfig controls the watch dashboard
type TUIConfig struct {
	// Spinner selects the progress spinner: "dot", "line", "points", "minidot"
	Spinner string `mapstructure:"spinner"`
	// MaxToasts limits how many notifications are stacked at once
	MaxToasts int `mapstructure:"max_toasts"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled writes logs to {state dir}/odooctl.log; when false logs go nowhere
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress"`
}

// PathsConfig controls where local state lives
type PathsConfig struct {
	// StateDir holds credentials, history and logs. Empty means the default
	// under XDG_STATE_HOME or ~/.local/state/odooctl.
	StateDir string `mapstructure:"state_dir"`
}

// ResolveStateDir returns the state directory with ~ expanded.
func (p *PathsConfig) ResolveStateDir() string {
	if p.StateDir == "" {
		return StateDir()
	}
	return expandHome(p.StateDir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:               "http://localhost:8000/api/v1",
			RequestTimeoutSeconds: 30,
			UserAgent:             "odooctl",
		},
		Auth: AuthConfig{
			Store: "file",
		},
		Poller: PollerConfig{
			InitialIntervalMs: 1000,
			MaxIntervalMs:     10000,
			BackoffFactor:     1.5,
			TightenFactor:     0.8,
			MaxErrors:         10,
			TimeoutMs:         300000, // 5 minutes
		},
		Notifications: NotificationConfig{
			DefaultDurationMs: 5000,
		},
		Schedule: ScheduleConfig{
			Timezone: "Local",
			Jobs:     []JobConfig{},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9469",
		},
		TUI: TUIConfig{
			Spinner:   "dot",
			MaxToasts: 5,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// InitialInterval returns the first poll delay as a time.Duration
func (c *PollerConfig) InitialInterval() time.Duration {
	return time.Duration(c.InitialIntervalMs) * time.Millisecond
}

// MaxInterval returns the poll delay ceiling as a time.Duration
func (c *PollerConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMs) * time.Millisecond
}

// Timeout returns the total polling budget as a time.Duration
func (c *PollerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DefaultDuration returns the default notification lifetime
func (c *NotificationConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout (0 means none)
func (c *APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// API defaults
	viper.SetDefault("api.base_url", defaults.API.BaseURL)
	viper.SetDefault("api.request_timeout_seconds", defaults.API.RequestTimeoutSeconds)
	viper.SetDefault("api.user_agent", defaults.API.UserAgent)

	// Auth defaults
	viper.SetDefault("auth.store", defaults.Auth.Store)
	viper.SetDefault("auth.path", defaults.Auth.Path)
	viper.SetDefault("auth.email", defaults.Auth.Email)

	// Poller defaults
	viper.SetDefault("poller.initial_interval_ms", defaults.Poller.InitialIntervalMs)
	viper.SetDefault("poller.max_interval_ms", defaults.Poller.MaxIntervalMs)
	viper.SetDefault("poller.backoff_factor", defaults.Poller.BackoffFactor)
	viper.SetDefault("poller.tighten_factor", defaults.Poller.TightenFactor)
	viper.SetDefault("poller.max_errors", defaults.Poller.MaxErrors)
	viper.SetDefault("poller.timeout_ms", defaults.Poller.TimeoutMs)

	// Notification defaults
	viper.SetDefault("notifications.default_duration_ms", defaults.Notifications.DefaultDurationMs)
	viper.SetDefault("notifications.quiet", defaults.Notifications.Quiet)

	// Schedule defaults
	viper.SetDefault("schedule.timezone", defaults.Schedule.Timezone)
	viper.SetDefault("schedule.jobs", defaults.Schedule.Jobs)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.listen", defaults.Metrics.Listen)

	// TUI defaults
	viper.SetDefault("tui.spinner", defaults.TUI.Spinner)
	viper.SetDefault("tui.max_toasts", defaults.TUI.MaxToasts)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Paths defaults
	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "odooctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".odooctl"
	}
	return filepath.Join(home, ".config", "odooctl")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDir returns the default directory for credentials, history and logs
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "odooctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".odooctl"
	}
	return filepath.Join(home, ".local", "state", "odooctl")
}

// DotenvFiles returns the .env files consulted before the config is read,
// in precedence order.
func DotenvFiles() []string {
	var files []string
	for _, f := range []string{".env", filepath.Join(ConfigDir(), ".env")} {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	return files
}

// ValidCredentialStores returns the list of valid auth.store values
func ValidCredentialStores() []string {
	return []string{"file", "sqlite", "memory"}
}

// ValidSpinners returns the list of valid tui.spinner values
func ValidSpinners() []string {
	return []string{"dot", "line", "points", "minidot"}
}
