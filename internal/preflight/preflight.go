package preflight

import (
	"context"

	"cmtools/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is the part of the store the checks need.
type Pinger interface {
	Ping(ctx context.Context) error
	Driver() string
}

// RunAll executes all applicable preflight checks for the given config.
// A nil store skips the store check.
func RunAll(ctx context.Context, cfg *config.Config, st Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Lock directory", cfg.LockDir()),
	}

	if st != nil {
		results = append(results, CheckStore(ctx, st))
	}

	if cfg.Paths.ErrorTable != "" {
		results = append(results, CheckErrorTable(cfg.Paths.ErrorTable))
	}

	switch cfg.Archive.Backend {
	case config.ArchiveBackendLocal:
		results = append(results, CheckDirectoryAccess("Archive directory", cfg.Archive.Dir))
	case config.ArchiveBackendS3:
		results = append(results, CheckArchiveBucket(ctx, cfg))
	}

	// Simulated runs never start a process.
	if !cfg.Engine.Simulate {
		results = append(results, CheckShell())
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
