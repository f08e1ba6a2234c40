package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir" env:"DATA_DIR"`
	WorkDir    string `toml:"work_dir" env:"WORK_DIR"`
	LogDir     string `toml:"log_dir" env:"LOG_DIR"`
	ErrorTable string `toml:"error_table" env:"ERROR_TABLE"`
}

// Database selects the entity store backend.
type Database struct {
	Driver             string `toml:"driver" env:"DRIVER"`
	DSN                string `toml:"dsn" env:"DSN"`
	PingTimeoutSeconds int    `toml:"ping_timeout_seconds" env:"PING_TIMEOUT_SECONDS"`
	MaxOpenConns       int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// Engine tunes the transition engine.
type Engine struct {
	PollConcurrency int  `toml:"poll_concurrency" env:"POLL_CONCURRENCY"`
	MaxRunning      int  `toml:"max_running" env:"MAX_RUNNING"`
	Simulate        bool `toml:"simulate" env:"SIMULATE"`
	// SimulateStatus is the terminal status the simulation adapter reports
	// when Simulate is set.
	SimulateStatus string `toml:"simulate_status" env:"SIMULATE_STATUS"`
	ScriptTimeout  int    `toml:"script_timeout_seconds" env:"SCRIPT_TIMEOUT_SECONDS"`
}

// Daemon contains the campaign loop timing.
type Daemon struct {
	PollIntervalSeconds int  `toml:"poll_interval_seconds" env:"POLL_INTERVAL_SECONDS"`
	MaxIterations       int  `toml:"max_iterations" env:"MAX_ITERATIONS"`
	AutoAccept          bool `toml:"auto_accept" env:"AUTO_ACCEPT"`
}

// Archive configures where rendered submission descriptors are kept.
type Archive struct {
	Backend   string `toml:"backend" env:"BACKEND"`
	Dir       string `toml:"dir" env:"DIR"`
	Endpoint  string `toml:"endpoint" env:"ENDPOINT"`
	Bucket    string `toml:"bucket" env:"BUCKET"`
	Region    string `toml:"region" env:"REGION"`
	AccessKey string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `toml:"use_ssl" env:"USE_SSL"`
	Prefix    string `toml:"prefix" env:"PREFIX"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"FORMAT"`
	Level  string `toml:"level" env:"LEVEL"`
}

// Tracing enables the OTLP span exporter when Endpoint is set.
type Tracing struct {
	Endpoint    string `toml:"endpoint" env:"ENDPOINT"`
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
	Insecure    bool   `toml:"insecure" env:"INSECURE"`
}

// Config is the runtime context shared by the CLI, the engine, and the daemon.
// It is built once at startup and must not be mutated afterwards.
//
// Configuration sections by subsystem:
//   - Paths: data, work, and log directories plus the error table
//   - Database: entity store driver and DSN
//   - Engine: polling concurrency, launch limits, simulation mode
//   - Daemon: campaign loop timing
//   - Archive: submission descriptor archive backend
//   - Logging: log format and level
//   - Tracing: OpenTelemetry exporter
type Config struct {
	Paths    Paths    `toml:"paths" envPrefix:"PATHS_"`
	Database Database `toml:"database" envPrefix:"DATABASE_"`
	Engine   Engine   `toml:"engine" envPrefix:"ENGINE_"`
	Daemon   Daemon   `toml:"daemon" envPrefix:"DAEMON_"`
	Archive  Archive  `toml:"archive" envPrefix:"ARCHIVE_"`
	Logging  Logging  `toml:"logging" envPrefix:"LOGGING_"`
	Tracing  Tracing  `toml:"tracing" envPrefix:"TRACING_"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cm/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// variables prefixed with CM_ override file values. The returned config has
// all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, "", false, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the store, adapters, and logs write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir, c.LockDir()}
	if c.Archive.Backend == ArchiveBackendLocal {
		dirs = append(dirs, c.Archive.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabaseDSN returns the DSN handed to the store. The sqlite backend falls
// back to a database file under the data directory.
func (c *Config) DatabaseDSN() string {
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn
	}
	if c.Database.Driver == DriverSQLite {
		return filepath.Join(c.Paths.DataDir, defaultDatabaseFile)
	}
	return ""
}

// LockDir is where daemon instance locks live.
func (c *Config) LockDir() string {
	if c.Paths.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.DataDir, "locks")
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
