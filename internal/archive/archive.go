// Package archive keeps a copy of every rendered submission descriptor so
// operators can see exactly what was handed to the execution backend.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cmtools/internal/config"
	"cmtools/internal/execution"
)

// Archive stores opaque objects under slash-separated keys and returns a
// location string suitable for logs.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

// New selects the backend named by cfg.Archive.Backend.
func New(ctx context.Context, cfg *config.Config) (Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveBackendLocal:
		return NewLocal(cfg.Archive.Dir), nil
	case config.ArchiveBackendS3:
		return NewBucket(ctx, BucketConfig{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Region:    cfg.Archive.Region,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
		})
	default:
		return nil, fmt.Errorf("archive backend %q is not supported", cfg.Archive.Backend)
	}
}

// DescriptorKey is the archive key for one job's submission.
func DescriptorKey(desc execution.SubmissionDescriptor) string {
	return path.Join(desc.Fullname, desc.Job+".yaml")
}

// PutDescriptor renders desc as YAML and stores it.
func PutDescriptor(ctx context.Context, a Archive, desc execution.SubmissionDescriptor) (string, error) {
	if a == nil {
		return "", nil
	}
	body, err := yaml.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("render descriptor: %w", err)
	}
	return a.Put(ctx, DescriptorKey(desc), body)
}

// Local writes objects below a directory.
type Local struct {
	root string
}

// NewLocal returns an archive rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

func (l *Local) Put(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("archive key %q is not a relative object path", key)
	}
	target := filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write archive object: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("commit archive object: %w", err)
	}
	return target, nil
}
