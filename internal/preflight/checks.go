package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"cmtools/internal/archive"
	"cmtools/internal/config"
	"cmtools/internal/errclass"
)

// CheckStore verifies the store answers within five seconds.
func CheckStore(ctx context.Context, st Pinger) Result {
	const name = "Store"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := st.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", st.Driver(), summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", st.Driver())}
}

// CheckErrorTable verifies the error table parses.
func CheckErrorTable(path string) Result {
	const name = "Error table"

	table, err := errclass.Load(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", path, table.Len())}
}

// CheckArchiveBucket verifies the S3 archive bucket is reachable, creating
// it when missing.
func CheckArchiveBucket(ctx context.Context, cfg *config.Config) Result {
	const name = "Archive bucket"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := archive.New(checkCtx, cfg); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s/%s (error: %s)", cfg.Archive.Endpoint, cfg.Archive.Bucket, summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s (reachable)", cfg.Archive.Endpoint, cfg.Archive.Bucket)}
}

// CheckShell verifies /bin/sh is available to the command adapter and to
// script handlers.
func CheckShell() Result {
	const name = "Shell"

	path, err := exec.LookPath("/bin/sh")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("/bin/sh (error: %v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
