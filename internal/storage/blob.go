// Package storage holds the blob store drivers used for message attachments,
// the orphan-blob ledger and CDN invalidation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/messaging/internal/config"
)

// ErrBlobNotFound is returned by Get when the key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the narrow put/get/delete contract the engine consumes.
// Delete of a missing key is not an error.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewBlobStore opens the driver selected in cfg.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("bucket required for s3 driver")
		}
		return NewS3Store(ctx, cfg)
	case "local", "file":
		if cfg.LocalPath == "" {
			return nil, errors.New("local_path required for local driver")
		}
		return NewLocalStore(cfg.LocalPath)
	case "memory":
		return NewMemoryStore(), nil
	case "":
		return nil, errors.New("storage driver not set")
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// NewKey builds a fresh, collision-free blob key for an upload.
func NewKey(tenantID, fileName string) string {
	ext := strings.ToLower(path.Ext(sanitizeKey(fileName)))
	return sanitizeKey(fmt.Sprintf("attachments/%s/%s/%s%s",
		tenantID, time.Now().UTC().Format("2006/01"), uuid.NewString(), ext))
}

// sanitizeKey prevents path traversal.
func sanitizeKey(key string) string {
	key = filepath.ToSlash(key)
	key = strings.TrimLeft(key, "/")
	parts := strings.Split(key, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}
