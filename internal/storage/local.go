package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps media on the local filesystem, served statically under baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory objects are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// BaseURL is the URL prefix objects are served under.
func (s *LocalStore) BaseURL() string {
	return s.baseURL
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, _ string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}

	written, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}

	return s.baseURL + "/" + key, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
