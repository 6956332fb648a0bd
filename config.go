package gatekeep

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a gatekeep client. Zero values fall
// back to the defaults from DefaultConfig.
type Config struct {
	// AuditRetention caps the number of audit entries kept; the oldest
	// are dropped silently beyond it.
	AuditRetention int `env:"GATEKEEP_AUDIT_RETENTION" yaml:"audit_retention"`

	// SnapshotDir enables disk persistence when set: the store snapshot
	// is written there on Stop and on the snapshot schedule.
	SnapshotDir string `env:"GATEKEEP_SNAPSHOT_DIR" yaml:"snapshot_dir"`

	// SQLitePath enables SQLite persistence when set. Mutually exclusive
	// with SnapshotDir.
	SQLitePath string `env:"GATEKEEP_SQLITE_PATH" yaml:"sqlite_path"`

	// SnapshotSchedule is a cron expression for periodic snapshots
	// (e.g. "*/5 * * * *"). Empty disables scheduled snapshots; the
	// shutdown snapshot still happens whenever persistence is set.
	SnapshotSchedule string `env:"GATEKEEP_SNAPSHOT_SCHEDULE" yaml:"snapshot_schedule"`

	// Admin configures the optional admin HTTP server.
	Admin AdminConfig `yaml:"admin"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled bool `env:"GATEKEEP_ADMIN_ENABLED" yaml:"enabled"`
	Port    int  `env:"GATEKEEP_ADMIN_PORT" yaml:"port"`
}

// DefaultConfig returns the recommended defaults.
func DefaultConfig() Config {
	return Config{
		AuditRetention: 100,
		Admin: AdminConfig{
			Enabled: false,
			Port:    19000,
		},
	}
}

// LoadConfig reads configuration from the environment on top of defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file on top of defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	if c.AuditRetention < 0 {
		return fmt.Errorf("audit retention cannot be negative")
	}
	if c.SnapshotDir != "" && c.SQLitePath != "" {
		return fmt.Errorf("snapshot_dir and sqlite_path are mutually exclusive")
	}
	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin port must be in (0, 65535]")
	}
	return nil
}
