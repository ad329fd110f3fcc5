package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/odooctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify odooctl configuration",
	Long: `View or modify odooctl configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  odooctl config set api.base_url https://ops.example.com/api/v1
  odooctl config set auth.store sqlite
  odooctl config set poller.timeout_ms 600000

Valid keys:
  api.base_url                       - Backend address including /api/v1
  api.request_timeout_seconds        - Per-request timeout (0 = none)
  api.user_agent                     - User-Agent prefix
  auth.store                         - Credential store: file, sqlite, memory
  auth.path                          - Credential file/database override
  auth.email                         - Default login email
  poller.initial_interval_ms         - First delay between task lookups
  poller.max_interval_ms             - Longest delay between task lookups
  poller.backoff_factor              - Delay growth while a task is unchanged
  poller.tighten_factor              - Delay shrink after a status change
  poller.max_errors                  - Consecutive failed lookups before giving up
  poller.timeout_ms                  - Total time spent following one task
  notifications.default_duration_ms  - Lifetime of a notification
  notifications.quiet                - Do not print notifications (true/false)
  schedule.timezone                  - IANA zone for cron expressions
  metrics.enabled                    - Serve /metrics during 'schedule run'
  metrics.listen                     - Address of the status server
  tui.spinner                        - dot, line, points, minidot
  tui.max_toasts                     - Notifications stacked in the dashboard
  logging.enabled                    - Write odooctl.log (true/false)
  logging.level                      - debug, info, warn, error
  logging.max_size_mb                - Rotate the log past this size
  logging.max_backups                - Rotated files kept
  logging.compress                   - Gzip rotated files (true/false)
  paths.state_dir                    - Credentials, history and logs`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/odooctl/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys maps every settable key to its value kind.
var configKeys = map[string]string{
	"api.base_url":                      "string",
	"api.request_timeout_seconds":       "int",
	"api.user_agent":                    "string",
	"auth.store":                        "string",
	"auth.path":                         "string",
	"auth.email":                        "string",
	"poller.initial_interval_ms":        "int",
	"poller.max_interval_ms":            "int",
	"poller.backoff_factor":             "float",
	"poller.tighten_factor":             "float",
	"poller.max_errors":                 "int",
	"poller.timeout_ms":                 "int",
	"notifications.default_duration_ms": "int",
	"notifications.quiet":               "bool",
	"schedule.timezone":                 "string",
	"metrics.enabled":                   "bool",
	"metrics.listen":                    "string",
	"tui.spinner":                       "string",
	"tui.max_toasts":                    "int",
	"logging.enabled":                   "bool",
	"logging.level":                     "string",
	"logging.max_size_mb":               "int",
	"logging.max_backups":               "int",
	"logging.compress":                  "bool",
	"paths.state_dir":                   "string",
}

// enumKeys lists the keys restricted to a fixed set of values.
var enumKeys = map[string]func() []string{
	"auth.store":    config.ValidCredentialStores,
	"tui.spinner":   config.ValidSpinners,
	"logging.level": config.ValidLogLevels,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(w, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintln(w, "# Config file: (none - using defaults)")
	}
	if _, err := config.Load(); err != nil {
		_, _ = fmt.Fprintf(w, "# WARNING: %s\n", strings.ReplaceAll(strings.TrimSpace(err.Error()), "\n", "\n# "))
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// parseConfigValue converts value to the kind registered for key.
func parseConfigValue(key, value string) (any, error) {
	kind, ok := configKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'odooctl config set --help' to see valid keys", key)
	}

	switch kind {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a number", key)
		}
		return f, nil
	default:
		if valid, ok := enumKeys[key]; ok && !slices.Contains(valid(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(valid(), ", "))
		}
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	// Reject values that make the whole configuration invalid
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to config file
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Set %s = %v\n", key, typedValue)
	_, _ = fmt.Fprintf(w, "Config saved to %s\n", configFile)

	return nil
}

const defaultConfigContent = `# odooctl configuration

# Where the ops backend lives
api:
  # Base URL including the API prefix
  base_url: http://localhost:8000/api/v1
  # Per-request timeout in seconds (0 = no timeout)
  request_timeout_seconds: 30
  user_agent: odooctl

# Where credentials are stored
auth:
  # Options: file, sqlite, memory
  store: file
  # Default email for 'odooctl login'
  email: ""

# How remote tasks are followed
poller:
  # Delay before the first lookup, and the floor after status changes
  initial_interval_ms: 1000
  # Longest delay between lookups
  max_interval_ms: 10000
  # Delay growth while the status is unchanged
  backoff_factor: 1.5
  # Delay shrink after the status changed
  tighten_factor: 0.8
  # Consecutive failed lookups before giving up
  max_errors: 10
  # Total time spent following one task (5 minutes)
  timeout_ms: 300000

notifications:
  # Lifetime of a notification in milliseconds
  default_duration_ms: 5000
  # Do not print notifications to stderr
  quiet: false

# Recurring operations for 'odooctl schedule run'
schedule:
  timezone: Local
  jobs: []
  # jobs:
  #   - name: nightly-backup
  #     cron: "0 2 * * *"
  #     action: backup
  #     target_id: 7

# Status server of 'odooctl schedule run'
metrics:
  enabled: true
  listen: 127.0.0.1:9469

# Watch dashboard
tui:
  # Options: dot, line, points, minidot
  spinner: dot
  max_toasts: 5

logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false

paths:
  # Credentials, history and logs (default: ~/.local/state/odooctl)
  state_dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'odooctl config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Created config file at %s\n", configFile)
	_, _ = fmt.Fprintln(w, "Edit this file to customize odooctl's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(w, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(w, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	_, _ = fmt.Fprintln(w, "\nSearch paths:")
	_, _ = fmt.Fprintf(w, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	_, _ = fmt.Fprintf(w, "  2. ./config.yaml (current directory)\n")
	_, _ = fmt.Fprintln(w, "\nDotenv files: ./.env, "+filepath.Join(config.ConfigDir(), ".env"))
	_, _ = fmt.Fprintln(w, "Environment variables: ODOOCTL_* (e.g., ODOOCTL_API_BASE_URL)")
	_, _ = fmt.Fprintf(w, "State directory: %s\n", config.Get().Paths.ResolveStateDir())

	return nil
}
