package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
	if c.Database.PingTimeoutSeconds <= 0 {
		return errors.New("database.ping_timeout_seconds must be positive")
	}
	if c.Database.MaxOpenConns < 0 {
		return errors.New("database.max_open_conns must not be negative")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.PollConcurrency <= 0 {
		return errors.New("engine.poll_concurrency must be positive")
	}
	if c.Engine.MaxRunning < 0 {
		return errors.New("engine.max_running must not be negative")
	}
	switch c.Engine.SimulateStatus {
	case "completed", "failed":
	default:
		return fmt.Errorf("engine.simulate_status must be completed or failed, got %q", c.Engine.SimulateStatus)
	}
	if c.Engine.ScriptTimeout <= 0 {
		return errors.New("engine.script_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.PollIntervalSeconds <= 0 {
		return errors.New("daemon.poll_interval_seconds must be positive")
	}
	if c.Daemon.MaxIterations < 0 {
		return errors.New("daemon.max_iterations must not be negative")
	}
	return nil
}

func (c *Config) validateArchive() error {
	switch c.Archive.Backend {
	case ArchiveBackendLocal:
		if c.Archive.Dir == "" {
			return errors.New("archive.dir must be set for the local backend")
		}
	case ArchiveBackendS3:
		if c.Archive.Endpoint == "" {
			return errors.New("archive.endpoint is required for the s3 backend")
		}
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("archive.backend: unsupported value %q", c.Archive.Backend)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
