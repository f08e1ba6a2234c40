package testsupport

import (
	"path/filepath"
	"testing"

	"cmtools/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Archive.Dir = filepath.Join(base, "archive")
	cfgVal.Daemon.PollIntervalSeconds = 1
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSimulate puts the engine in simulate mode with the given terminal status.
func WithSimulate(status string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Simulate = true
		b.cfg.Engine.SimulateStatus = status
	}
}

// WithErrorTable writes an error classification table and points the config at it.
func WithErrorTable(contents string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "errors.yaml")
		WriteFile(b.t, path, contents)
		b.cfg.Paths.ErrorTable = path
	}
}

// WithMaxRunning caps how many workflows a launch may hold RUNNING.
func WithMaxRunning(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.MaxRunning = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
