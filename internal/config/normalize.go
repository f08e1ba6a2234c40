package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeEngine()
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
	if strings.TrimSpace(c.Tracing.ServiceName) == "" {
		c.Tracing.ServiceName = defaultServiceName
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ErrorTable, err = expandPath(strings.TrimSpace(c.Paths.ErrorTable)); err != nil {
		return fmt.Errorf("paths.error_table: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch driver {
	case "", "sqlite3":
		driver = DriverSQLite
	case "pgx", "postgresql":
		driver = DriverPostgres
	}
	c.Database.Driver = driver
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
}

func (c *Config) normalizeEngine() {
	c.Engine.SimulateStatus = strings.ToLower(strings.TrimSpace(c.Engine.SimulateStatus))
	if c.Engine.SimulateStatus == "" {
		c.Engine.SimulateStatus = defaultSimulateStatus
	}
}

func (c *Config) normalizeArchive() error {
	c.Archive.Backend = strings.ToLower(strings.TrimSpace(c.Archive.Backend))
	if c.Archive.Backend == "" {
		c.Archive.Backend = ArchiveBackendLocal
	}
	if c.Archive.Backend == ArchiveBackendLocal {
		if strings.TrimSpace(c.Archive.Dir) == "" {
			c.Archive.Dir = defaultArchiveDir
		}
		var err error
		if c.Archive.Dir, err = expandPath(c.Archive.Dir); err != nil {
			return fmt.Errorf("archive.dir: %w", err)
		}
	}
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
