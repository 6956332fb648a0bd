package gatekeep

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/OrlandoBitencourt/gatekeep/internal/store"
)

// Option configures a gatekeep client.
type Option func(*clientConfig) error

// clientConfig holds internal configuration.
type clientConfig struct {
	auditRetention   int
	persistence      store.Persistence
	snapshotSchedule string

	adminEnabled bool
	adminPort    int

	logger    *slog.Logger
	clock     func() time.Time
	telemetry bool
}

// WithConfig applies a full Config struct. This is an alternative to using
// individual options.
func WithConfig(cfg Config) Option {
	return func(c *clientConfig) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		c.auditRetention = cfg.AuditRetention
		c.snapshotSchedule = cfg.SnapshotSchedule
		c.adminEnabled = cfg.Admin.Enabled
		c.adminPort = cfg.Admin.Port

		if cfg.SnapshotDir != "" {
			p, err := store.NewDiskPersistence(cfg.SnapshotDir)
			if err != nil {
				return fmt.Errorf("failed to open snapshot dir: %w", err)
			}
			c.persistence = p
		}
		if cfg.SQLitePath != "" {
			p, err := store.NewSQLitePersistence(cfg.SQLitePath)
			if err != nil {
				return err
			}
			c.persistence = p
		}

		return nil
	}
}

// WithAuditRetention caps the audit trail at n entries. Default: 100.
func WithAuditRetention(n int) Option {
	return func(c *clientConfig) error {
		if n <= 0 {
			return fmt.Errorf("audit retention must be positive")
		}
		c.auditRetention = n
		return nil
	}
}

// WithDiskPersistence persists the store snapshot as JSON under dir.
func WithDiskPersistence(dir string) Option {
	return func(c *clientConfig) error {
		p, err := store.NewDiskPersistence(dir)
		if err != nil {
			return fmt.Errorf("failed to open snapshot dir: %w", err)
		}
		c.persistence = p
		return nil
	}
}

// WithSQLitePersistence persists the store snapshot in a SQLite file.
func WithSQLitePersistence(path string) Option {
	return func(c *clientConfig) error {
		p, err := store.NewSQLitePersistence(path)
		if err != nil {
			return err
		}
		c.persistence = p
		return nil
	}
}

// WithPersistence plugs in a custom persistence backend.
func WithPersistence(p store.Persistence) Option {
	return func(c *clientConfig) error {
		c.persistence = p
		return nil
	}
}

// WithSnapshotSchedule persists the snapshot on a cron schedule
// (e.g. "*/5 * * * *"). Requires a persistence option.
func WithSnapshotSchedule(cronSpec string) Option {
	return func(c *clientConfig) error {
		if cronSpec == "" {
			return fmt.Errorf("snapshot schedule cannot be empty")
		}
		c.snapshotSchedule = cronSpec
		return nil
	}
}

// WithAdminServer enables the admin HTTP server.
//
// Endpoints map one-to-one to control operations; see internal/server.
func WithAdminServer(cfg AdminConfig) Option {
	return func(c *clientConfig) error {
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("admin port must be in (0, 65535]")
		}
		c.adminEnabled = true
		c.adminPort = cfg.Port
		return nil
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}

// WithClock injects the time source used for record stamps and audit
// timestamps. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *clientConfig) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithTelemetry enables OpenTelemetry instruments on the global providers.
func WithTelemetry() Option {
	return func(c *clientConfig) error {
		c.telemetry = true
		return nil
	}
}
