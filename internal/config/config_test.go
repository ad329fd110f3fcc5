package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.API.BaseURL != "http://localhost:8000/api/v1" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "http://localhost:8000/api/v1")
	}
	if cfg.Auth.Store != "file" {
		t.Errorf("Auth.Store = %q, want %q", cfg.Auth.Store, "file")
	}

	// Poller defaults match the documented schedule
	if cfg.Poller.InitialIntervalMs != 1000 {
		t.Errorf("Poller.InitialIntervalMs = %d, want 1000", cfg.Poller.InitialIntervalMs)
	}
	if cfg.Poller.MaxIntervalMs != 10000 {
		t.Errorf("Poller.MaxIntervalMs = %d, want 10000", cfg.Poller.MaxIntervalMs)
	}
	if cfg.Poller.BackoffFactor != 1.5 {
		t.Errorf("Poller.BackoffFactor = %v, want 1.5", cfg.Poller.BackoffFactor)
	}
	if cfg.Poller.TightenFactor != 0.8 {
		t.Errorf("Poller.TightenFactor = %v, want 0.8", cfg.Poller.TightenFactor)
	}
	if cfg.Poller.MaxErrors != 10 {
		t.Errorf("Poller.MaxErrors = %d, want 10", cfg.Poller.MaxErrors)
	}
	if cfg.Poller.TimeoutMs != 300000 {
		t.Errorf("Poller.TimeoutMs = %d, want 300000", cfg.Poller.TimeoutMs)
	}

	if cfg.Notifications.DefaultDurationMs != 5000 {
		t.Errorf("Notifications.DefaultDurationMs = %d, want 5000", cfg.Notifications.DefaultDurationMs)
	}
	if len(cfg.Schedule.Jobs) != 0 {
		t.Errorf("Schedule.Jobs should be empty, got %v", cfg.Schedule.Jobs)
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
}

func TestDurationHelpers(t *testing.T) {
	p := PollerConfig{InitialIntervalMs: 1000, MaxIntervalMs: 10000, TimeoutMs: 300000}
	if p.InitialInterval() != time.Second {
		t.Errorf("InitialInterval() = %v, want 1s", p.InitialInterval())
	}
	if p.MaxInterval() != 10*time.Second {
		t.Errorf("MaxInterval() = %v, want 10s", p.MaxInterval())
	}
	if p.Timeout() != 5*time.Minute {
		t.Errorf("Timeout() = %v, want 5m", p.Timeout())
	}

	n := NotificationConfig{DefaultDurationMs: 5000}
	if n.DefaultDuration() != 5*time.Second {
		t.Errorf("DefaultDuration() = %v, want 5s", n.DefaultDuration())
	}

	a := APIConfig{RequestTimeoutSeconds: 0}
	if a.RequestTimeout() != 0 {
		t.Errorf("RequestTimeout() = %v, want 0", a.RequestTimeout())
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/odooctl" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/odooctl")
		}
		if got := ConfigFile(); got != "/custom/config/odooctl/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "odooctl")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	if got := StateDir(); got != "/custom/state/odooctl" {
		t.Errorf("StateDir() = %q, want %q", got, "/custom/state/odooctl")
	}

	p := PathsConfig{}
	if p.ResolveStateDir() != "/custom/state/odooctl" {
		t.Errorf("ResolveStateDir() with empty StateDir = %q", p.ResolveStateDir())
	}

	home, _ := os.UserHomeDir()
	p.StateDir = "~/odoo-state"
	if got := p.ResolveStateDir(); got != filepath.Join(home, "odoo-state") {
		t.Errorf("ResolveStateDir() = %q, want home-relative path", got)
	}

	p.StateDir = "/var/lib/odooctl"
	if got := p.ResolveStateDir(); got != "/var/lib/odooctl" {
		t.Errorf("ResolveStateDir() = %q", got)
	}
}

func TestDotenvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "cfg"))
	t.Chdir(dir)

	if files := DotenvFiles(); len(files) != 0 {
		t.Errorf("Expected no dotenv files, got %v", files)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ODOOCTL_API_BASE_URL=http://x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	files := DotenvFiles()
	if len(files) != 1 || files[0] != ".env" {
		t.Errorf("Expected [.env], got %v", files)
	}
}

func TestLoad(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.Poller.MaxErrors != 10 {
			t.Errorf("Expected default max_errors 10, got %d", cfg.Poller.MaxErrors)
		}
	})

	t.Run("overrides and jobs", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("api.base_url", "https://ops.example.com/api/v1")
		viper.Set("schedule.jobs", []map[string]any{
			{"name": "nightly", "cron": "0 2 * * *", "action": "backup", "target_id": 7},
		})

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.API.BaseURL != "https://ops.example.com/api/v1" {
			t.Errorf("Expected overridden base URL, got %q", cfg.API.BaseURL)
		}
		if len(cfg.Schedule.Jobs) != 1 || cfg.Schedule.Jobs[0].TargetID != 7 {
			t.Errorf("Expected one job with target 7, got %+v", cfg.Schedule.Jobs)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("poller.max_errors", 0)

		_, err := Load()
		if err == nil {
			t.Fatal("Expected validation error")
		}
		if _, ok := err.(ValidationErrors); !ok {
			t.Errorf("Expected ValidationErrors, got %T", err)
		}
		if cfg := Get(); cfg.Poller.MaxErrors != 10 {
			t.Errorf("Get() should fall back to defaults, got max_errors %d", cfg.Poller.MaxErrors)
		}
	})
}
