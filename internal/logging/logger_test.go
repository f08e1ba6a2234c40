package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmtools/internal/config"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "cm.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndEntity(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithEntity(context.Background(), "example/test/step1")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "engine")).Info("entity prepared", logging.String("status", "ready"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{"[engine]", "example/test/step1 |", "entity prepared", "status=ready"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRequestID(services.WithOperation(context.Background(), "launch"), "req-1")
	logging.WithContext(ctx, logger).Warn("submit failed")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json log line: %v", err)
	}
	if record["msg"] != "submit failed" || record["level"] != "warn" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record[logging.FieldOperation] != "launch" || record[logging.FieldCorrelationID] != "req-1" {
		t.Fatalf("expected context fields, got %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestJSONLoggerClassifiesTransitionsAndErrors(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logger.With(logging.String(logging.FieldEntity, ""))
	logger.Info("entity changed",
		logging.Fullname("example/test/step1"),
		logging.Transition(hierarchy.StatusWaiting, hierarchy.StatusReady),
		logging.Status(hierarchy.StatusReady),
	)
	stale := services.Wrap(services.ErrStaleState, "engine", "check", "job_01", nil)
	logging.WarnWithContext(logger, "operation failed", "operation_failed", logging.Error(stale))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", content)
	}
	var changed, failed map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &changed); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &failed); err != nil {
		t.Fatalf("decode second line: %v", err)
	}

	if _, ok := changed[logging.FieldEntity]; ok {
		t.Fatalf("expected empty entity to be dropped, got %v", changed)
	}
	transition, _ := changed[logging.FieldTransition].(map[string]any)
	if transition["from"] != "WAITING" || transition["to"] != "READY" || changed[logging.FieldStatus] != "READY" {
		t.Fatalf("unexpected status fields: %v", changed)
	}
	if changed[logging.FieldFullname] != "example/test/step1" {
		t.Fatalf("expected fullname, got %v", changed)
	}
	if failed[logging.FieldErrorKind] != "stale" || failed[logging.FieldEventType] != "operation_failed" {
		t.Fatalf("expected classified warning, got %v", failed)
	}
	if msg, _ := failed[logging.FieldError].(string); !strings.Contains(msg, "job_01") {
		t.Fatalf("expected error text, got %v", failed)
	}
	if ts, _ := failed["ts"].(string); !strings.HasSuffix(ts, "Z") || len(ts) != len("2006-01-02T15:04:05.000Z") {
		t.Fatalf("unexpected ts %q", ts)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
