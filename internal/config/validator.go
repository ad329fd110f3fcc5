package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "poller.max_errors")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// CronParser accepts standard five-field expressions and descriptors such as
// @daily. The scheduler parses with the same settings.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidJobActions returns the list of actions a scheduled job may trigger
func ValidJobActions() []string {
	return []string{
		"backup",
		"restart",
		"start",
		"stop",
		"deploy",
		"test-connection",
		"system-info",
		"install-deps",
		"issue-ssl",
		"deploy-modules",
	}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validatePoller()...)
	errors = append(errors, c.validateNotifications()...)
	errors = append(errors, c.validateSchedule()...)
	errors = append(errors, c.validateMetrics()...)
	errors = append(errors, c.validateTUI()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateAPI validates the APIConfig
func (c *Config) validateAPI() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "api.base_url",
			Value:   c.API.BaseURL,
			Message: "must be an absolute http(s) URL",
		})
	}

	if c.API.RequestTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "api.request_timeout_seconds",
			Value:   c.API.RequestTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateAuth validates the AuthConfig
func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.Store != "" && !slices.Contains(ValidCredentialStores(), c.Auth.Store) {
		errors = append(errors, ValidationError{
			Field:   "auth.store",
			Value:   c.Auth.Store,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidCredentialStores(), ", ")),
		})
	}

	if strings.ContainsRune(c.Auth.Path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "auth.path",
			Value:   c.Auth.Path,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validatePoller validates the PollerConfig
func (c *Config) validatePoller() []ValidationError {
	var errors []ValidationError
	p := c.Poller

	if p.InitialIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "poller.initial_interval_ms",
			Value:   p.InitialIntervalMs,
			Message: "must be positive",
		})
	}

	if p.MaxIntervalMs < p.InitialIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "poller.max_interval_ms",
			Value:   p.MaxIntervalMs,
			Message: fmt.Sprintf("must be at least poller.initial_interval_ms (%d)", p.InitialIntervalMs),
		})
	}

	if p.BackoffFactor < 1 {
		errors = append(errors, ValidationError{
			Field:   "poller.backoff_factor",
			Value:   p.BackoffFactor,
			Message: "must be at least 1",
		})
	}

	if p.TightenFactor <= 0 || p.TightenFactor > 1 {
		errors = append(errors, ValidationError{
			Field:   "poller.tighten_factor",
			Value:   p.TightenFactor,
			Message: "must be in (0, 1]",
		})
	}

	if p.MaxErrors < 1 {
		errors = append(errors, ValidationError{
			Field:   "poller.max_errors",
			Value:   p.MaxErrors,
			Message: "must be at least 1",
		})
	}

	if p.TimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "poller.timeout_ms",
			Value:   p.TimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

// validateNotifications validates the NotificationConfig
func (c *Config) validateNotifications() []ValidationError {
	var errors []ValidationError

	if c.Notifications.DefaultDurationMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "notifications.default_duration_ms",
			Value:   c.Notifications.DefaultDurationMs,
			Message: "must be positive",
		})
	}

	return errors
}

// validateSchedule validates the ScheduleConfig and every job in it
func (c *Config) validateSchedule() []ValidationError {
	var errors []ValidationError

	if tz := c.Schedule.Timezone; tz != "" && tz != "Local" {
		if _, err := time.LoadLocation(tz); err != nil {
			errors = append(errors, ValidationError{
				Field:   "schedule.timezone",
				Value:   tz,
				Message: "unknown time zone",
			})
		}
	}

	seen := make(map[string]bool)
	for i, job := range c.Schedule.Jobs {
		prefix := fmt.Sprintf("schedule.jobs[%d]", i)

		// Unnamed jobs are called "<action>-<target_id>".
		name := job.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", job.Action, job.TargetID)
		}
		if seen[name] {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   name,
				Message: "duplicate job name",
			})
		}
		seen[name] = true

		if _, err := CronParser.Parse(job.Cron); err != nil {
			errors = append(errors, ValidationError{
				Field:   prefix + ".cron",
				Value:   job.Cron,
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}

		if !slices.Contains(ValidJobActions(), job.Action) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".action",
				Value:   job.Action,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidJobActions(), ", ")),
			})
		}

		if job.TargetID <= 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".target_id",
				Value:   job.TargetID,
				Message: "must be a positive id",
			})
		}
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	var errors []ValidationError

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errors = append(errors, ValidationError{
				Field:   "metrics.listen",
				Value:   c.Metrics.Listen,
				Message: "must be host:port",
			})
		}
	}

	return errors
}

// validateTUI validates the TUIConfig
func (c *Config) validateTUI() []ValidationError {
	var errors []ValidationError

	if c.TUI.Spinner != "" && !slices.Contains(ValidSpinners(), c.TUI.Spinner) {
		errors = append(errors, ValidationError{
			Field:   "tui.spinner",
			Value:   c.TUI.Spinner,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSpinners(), ", ")),
		})
	}

	const maxToastsLimit = 20
	if c.TUI.MaxToasts < 0 || c.TUI.MaxToasts > maxToastsLimit {
		errors = append(errors, ValidationError{
			Field:   "tui.max_toasts",
			Value:   c.TUI.MaxToasts,
			Message: fmt.Sprintf("must be between 0 and %d", maxToastsLimit),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if path := c.Paths.StateDir; path != "" {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "paths.state_dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "paths.state_dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}
