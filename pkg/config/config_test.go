package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enrolld.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/enrolld-test
listen_addr: "localhost:9999"
role_holder:
  package_name: com.example.roleholder
  updater_package_name: com.example.updater
  delegation_enabled: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "localhost:9999" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if !cfg.RoleHolder.DelegationEnabled {
		t.Error("delegation_enabled not applied")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Notify.Timeout != 30*time.Second {
		t.Errorf("notify timeout = %v", cfg.Notify.Timeout)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad listen addr", "listen_addr: not-an-addr\n"},
		{"delegation without role holder", "role_holder:\n  delegation_enabled: true\n"},
		{"bad notify url", "notify:\n  url: '::::'\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	if got := cfg.HistoryPath(); got != "/data/history.db" {
		t.Errorf("HistoryPath = %q", got)
	}
	cfg.History.Path = "/elsewhere/h.db"
	if got := cfg.HistoryPath(); got != "/elsewhere/h.db" {
		t.Errorf("explicit HistoryPath = %q", got)
	}
	if got := cfg.ResumePath(); got != "/data/state" {
		t.Errorf("ResumePath = %q", got)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "listen_addr: \"localhost:8440\"\n")

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Watch(ctx, func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("listen_addr: \"localhost:8441\"\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.ListenAddr != "localhost:8441" {
			t.Errorf("reloaded listen_addr = %q", cfg.ListenAddr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
