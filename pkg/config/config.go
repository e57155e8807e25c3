// Package config loads and validates the enrolld daemon configuration
// from YAML, with optional hot reload through a file watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the root daemon configuration.
type Config struct {
	// DataDir is the base directory for all persisted state.
	DataDir string `yaml:"data_dir" validate:"required"`

	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`

	// UserID is the user provisioning operations run as.
	UserID int `yaml:"user_id" validate:"gte=0"`

	// ResumeComponent is the dormant component armed before an
	// encryption reboot.
	ResumeComponent string `yaml:"resume_component"`

	RoleHolder RoleHolderConfig `yaml:"role_holder"`
	Notify     NotifyConfig     `yaml:"notify"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// RoleHolderConfig configures delegation to the device management role
// holder.
type RoleHolderConfig struct {
	// PackageName is the role holder package, empty when no role holder
	// is configured.
	PackageName string `yaml:"package_name"`

	// UpdaterPackageName is the role holder updater package.
	UpdaterPackageName string `yaml:"updater_package_name"`

	// DelegationEnabled is the feature flag gating all delegation.
	DelegationEnabled bool `yaml:"delegation_enabled"`
}

// NotifyConfig configures the admin notification webhook.
type NotifyConfig struct {
	// URL is the webhook endpoint; empty disables notifications.
	URL string `yaml:"url" validate:"omitempty,url"`

	// Timeout bounds a single acknowledged delivery.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// Path is the SQLite database path. Empty derives it from DataDir.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output" validate:"required"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:         "/var/lib/enrolld",
		ListenAddr:      "localhost:8440",
		UserID:          0,
		ResumeComponent: "enrolld/.ResumeTrigger",
		RoleHolder: RoleHolderConfig{
			DelegationEnabled: false,
		},
		Notify: NotifyConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "enrolld",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
	}
}

// Load reads a YAML config file on top of the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.RoleHolder.DelegationEnabled && c.RoleHolder.PackageName == "" {
		return fmt.Errorf("invalid configuration: delegation enabled without a role holder package")
	}
	return nil
}

// HistoryPath returns the resolved run history database path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.DataDir, "history.db")
}

// ResumePath returns the directory holding the resume slot.
func (c *Config) ResumePath() string {
	return filepath.Join(c.DataDir, "state")
}
