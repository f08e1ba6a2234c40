package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"cmtools/internal/blocks"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
)

// runScript simulates the script when it is fake or the process runs in
// simulate mode, and otherwise runs its command synchronously.
func runScript(ctx context.Context, env Env, run hierarchy.ScriptRun, cfg blocks.Resolved) (ScriptResult, error) {
	stamp := run.Stamp
	if stamp == "" {
		stamp = hierarchy.StatusCompleted
	}
	if run.Fake || env.Simulate {
		return ScriptResult{Status: stamp}, nil
	}

	command := cfg.String(KeyCommand)
	if strings.TrimSpace(command) == "" {
		return ScriptResult{Status: stamp}, nil
	}

	runCtx := ctx
	if env.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, env.ScriptTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if env.WorkDir != "" {
		if err := os.MkdirAll(env.WorkDir, 0o755); err != nil {
			return ScriptResult{}, fmt.Errorf("create script work dir: %w", err)
		}
		cmd.Dir = env.WorkDir
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger := logging.NewComponentLogger(env.Logger, "script")
	err := cmd.Run()
	if err == nil {
		logger.Debug("script completed", logging.String("script", run.Name))
		return ScriptResult{Status: stamp}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ScriptResult{}, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		diag := fmt.Sprintf("script %s: %v", run.Name, err)
		if tail := lastOutputLine(output.String()); tail != "" {
			diag += ": " + tail
		}
		return ScriptResult{Status: hierarchy.StatusFailed, Diagnostic: diag}, nil
	}
	return ScriptResult{}, fmt.Errorf("run script %s: %w", run.Name, err)
}

func lastOutputLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
