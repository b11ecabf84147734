// Package storage persists uploaded media objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"messenger/internal/config"
)

// MediaStore writes and removes media objects. Put returns the public URL
// clients use to fetch the object.
type MediaStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// New builds the MediaStore selected by MEDIA_BACKEND.
func New(cfg *config.Config) (MediaStore, error) {
	switch strings.ToLower(cfg.MediaBackend) {
	case "s3":
		return NewS3Store(S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
	case "local", "":
		return NewLocalStore(cfg.MediaDir, cfg.MediaBaseURL)
	default:
		return nil, fmt.Errorf("unsupported MEDIA_BACKEND %q", cfg.MediaBackend)
	}
}

// validateKey rejects keys that could escape the store's namespace.
func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty key")
	}
	if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return errors.New("invalid key")
	}
	return nil
}
