package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cmtools/internal/config"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }
func (f fakePinger) Driver() string             { return "sqlite" }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckStore(t *testing.T) {
	if result := CheckStore(context.Background(), fakePinger{}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	result := CheckStore(context.Background(), fakePinger{err: context.DeadlineExceeded})
	if result.Passed {
		t.Fatal("expected failure for unreachable store")
	}
	if result.Detail != "sqlite (error: timed out)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckErrorTable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "errors.yaml")
	if err := os.WriteFile(good, []byte("errors:\n  - name: oom\n    diag_message: out of memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckErrorTable(good); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("errors:\n  - diag_message: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckErrorTable(bad); result.Passed {
		t.Fatal("expected failure for unnamed entry")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Archive.Backend = config.ArchiveBackendLocal
	cfg.Archive.Dir = filepath.Join(base, "archive")
	cfg.Engine.Simulate = true
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), &cfg, fakePinger{})
	// data, work, logs, lock, store, archive
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ReportsStoreFailure(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = base
	cfg.Paths.WorkDir = base
	cfg.Paths.LogDir = base
	cfg.Archive.Backend = config.ArchiveBackendLocal
	cfg.Archive.Dir = base
	cfg.Engine.Simulate = true
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	failed := Failed(RunAll(context.Background(), &cfg, fakePinger{err: errors.New("connection refused")}))
	if len(failed) != 1 || failed[0].Name != "Store" {
		t.Fatalf("expected only the store check to fail, got %+v", failed)
	}
}
