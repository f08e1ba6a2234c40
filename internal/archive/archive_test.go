package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmtools/internal/archive"
	"cmtools/internal/config"
	"cmtools/internal/execution"
)

func TestLocalPutDescriptor(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Archive.Backend = config.ArchiveBackendLocal
	cfg.Archive.Dir = dir

	a, err := archive.New(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	desc := execution.SubmissionDescriptor{
		Fullname:   "example/test/step1/group_0/w00",
		Job:        "job_01",
		Generation: 1,
		Command:    "run-pipeline",
	}
	location, err := archive.PutDescriptor(context.Background(), a, desc)
	if err != nil {
		t.Fatalf("PutDescriptor failed: %v", err)
	}
	want := filepath.Join(dir, "example", "test", "step1", "group_0", "w00", "job_01.yaml")
	if location != want {
		t.Fatalf("unexpected location %q want %q", location, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read archived descriptor: %v", err)
	}
	if !strings.Contains(string(data), "command: run-pipeline") {
		t.Fatalf("unexpected descriptor body %q", data)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	a := archive.NewLocal(t.TempDir())
	for _, key := range []string{"", "../outside.yaml"} {
		if _, err := a.Put(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestBucketConfigValidate(t *testing.T) {
	valid := archive.BucketConfig{Endpoint: "localhost:9000", Bucket: "cm"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected error for scheme in endpoint")
	}
	invalid = valid
	invalid.Bucket = ""
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestNilArchiveIsNoop(t *testing.T) {
	location, err := archive.PutDescriptor(context.Background(), nil, execution.SubmissionDescriptor{})
	if err != nil || location != "" {
		t.Fatalf("expected no-op, got %q %v", location, err)
	}
}
