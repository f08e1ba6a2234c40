package execution

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
)

const (
	stampSuffix  = ".stamp.yaml"
	scriptSuffix = ".sh"
	logSuffix    = ".log"
)

// Stamp is the file a payload wrapper writes when it exits.
type Stamp struct {
	Status     string `yaml:"status"`
	Diagnostic string `yaml:"diagnostic,omitempty"`
}

// CommandAdapter runs a descriptor's command through /bin/sh in the
// background. The execution id is the path of the stamp file the wrapper
// script writes on exit.
type CommandAdapter struct {
	workDir string
	logger  *slog.Logger
}

// NewCommandAdapter creates an adapter rooted at workDir.
func NewCommandAdapter(workDir string, logger *slog.Logger) *CommandAdapter {
	return &CommandAdapter{workDir: workDir, logger: logging.NewComponentLogger(logger, "command-adapter")}
}

func (a *CommandAdapter) Submit(ctx context.Context, desc SubmissionDescriptor) (string, error) {
	if strings.TrimSpace(desc.Command) == "" {
		return "", fmt.Errorf("workflow %s has no command", desc.Fullname)
	}
	dir := filepath.Join(a.workDir, filepath.FromSlash(desc.Fullname))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	base := filepath.Join(dir, fmt.Sprintf("%s_%s", desc.Job, uuid.NewString()[:8]))
	stampPath := base + stampSuffix
	scriptPath := base + scriptSuffix

	if err := os.WriteFile(scriptPath, []byte(wrapperScript(dir, desc.Command, base+logSuffix, stampPath)), 0o755); err != nil {
		return "", fmt.Errorf("write wrapper script: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cmd := exec.Command("/bin/sh", scriptPath)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start wrapper script: %w", err)
	}
	go func() {
		_ = cmd.Wait()
	}()

	a.logger.Debug("payload started",
		logging.String(logging.FieldEntity, desc.Fullname),
		logging.String("script", scriptPath),
		logging.Int("pid", cmd.Process.Pid),
	)
	return stampPath, nil
}

func (a *CommandAdapter) Poll(ctx context.Context, executionID string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	if !strings.HasSuffix(executionID, stampSuffix) {
		return PollResult{}, fmt.Errorf("execution id %q is not a stamp path", executionID)
	}
	data, err := os.ReadFile(executionID)
	if errors.Is(err, fs.ErrNotExist) {
		return PollResult{Status: hierarchy.StatusRunning}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("read stamp: %w", err)
	}
	return parseStamp(data, strings.TrimSuffix(executionID, stampSuffix)+logSuffix)
}

func parseStamp(data []byte, logPath string) (PollResult, error) {
	var stamp Stamp
	if err := yaml.Unmarshal(data, &stamp); err != nil {
		return PollResult{}, fmt.Errorf("parse stamp: %w", err)
	}
	status, ok := hierarchy.ParseStatus(stamp.Status)
	if !ok || !status.Terminal() {
		return PollResult{}, fmt.Errorf("stamp status %q is not completed or failed", stamp.Status)
	}
	result := PollResult{Status: status, Diagnostic: stamp.Diagnostic}
	if status == hierarchy.StatusFailed {
		if tail := lastLine(logPath); tail != "" {
			result.Diagnostic = strings.TrimSpace(result.Diagnostic + ": " + tail)
		}
	}
	return result, nil
}

func wrapperScript(dir, command, logPath, stampPath string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "cd %s || exit 1\n", shellQuote(dir))
	fmt.Fprintf(&b, "( %s ) > %s 2>&1\n", command, shellQuote(logPath))
	b.WriteString("rc=$?\n")
	fmt.Fprintf(&b, "tmp=%s.tmp\n", shellQuote(stampPath))
	b.WriteString("if [ \"$rc\" -eq 0 ]; then\n")
	b.WriteString("  printf 'status: completed\\n' > \"$tmp\"\n")
	b.WriteString("else\n")
	b.WriteString("  printf 'status: failed\\ndiagnostic: \"exit code %d\"\\n' \"$rc\" > \"$tmp\"\n")
	b.WriteString("fi\n")
	fmt.Fprintf(&b, "mv \"$tmp\" %s\n", shellQuote(stampPath))
	return b.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func lastLine(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	var last string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
