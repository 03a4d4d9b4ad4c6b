// Package fs implements imagestore.BlobRepository on a local directory,
// with blob files named {guid}.{format}.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

// Repository is a filesystem implementation of imagestore.BlobRepository.
// Writes go to a temp file in the same directory and are renamed into
// place, so a failed save never leaves a readable partial blob.
type Repository struct {
	baseDir string
}

var _ imagestore.BlobRepository = (*Repository)(nil)

// Config options for the filesystem blob repository
type Config struct {
	BaseDir string // directory for blob files
}

// New creates a filesystem blob repository, creating the base directory if
// it does not exist.
func New(config Config) (*Repository, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, &imagestore.StorageError{Op: "init", Key: config.BaseDir, Err: err}
	}
	return &Repository{baseDir: config.BaseDir}, nil
}

func (r *Repository) path(guid, format string) string {
	return filepath.Join(r.baseDir, fmt.Sprintf("%s.%s", guid, format))
}

func (r *Repository) Save(ctx context.Context, guid, format string, data []byte) error {
	tmp, err := os.CreateTemp(r.baseDir, ".blob-*")
	if err != nil {
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	if err := os.Rename(tmpPath, r.path(guid, format)); err != nil {
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, guid, format string) ([]byte, error) {
	data, err := os.ReadFile(r.path(guid, format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, imagestore.ErrImageNotFound
		}
		return nil, &imagestore.StorageError{Op: "get", Key: guid, Err: err}
	}
	return data, nil
}

func (r *Repository) Exists(ctx context.Context, guid string) (bool, error) {
	format, err := r.DetectFormat(ctx, guid)
	if err != nil {
		return false, err
	}
	return format != "", nil
}

func (r *Repository) Delete(ctx context.Context, guid, format string) (bool, error) {
	formats := []string{format}
	if format == "" {
		formats = imagestore.SupportedFormats
	}

	deleted := false
	for _, f := range formats {
		err := os.Remove(r.path(guid, f))
		if err == nil {
			deleted = true
		} else if !os.IsNotExist(err) {
			return deleted, &imagestore.StorageError{Op: "delete", Key: guid, Err: err}
		}
	}
	return deleted, nil
}

func (r *Repository) ListAll(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, &imagestore.StorageError{Op: "list", Key: r.baseDir, Err: err}
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		guid, ok := parseBlobName(entry.Name())
		if !ok {
			continue
		}
		seen[guid] = struct{}{}
	}

	guids := make([]string, 0, len(seen))
	for guid := range seen {
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	return guids, nil
}

func (r *Repository) DetectFormat(ctx context.Context, guid string) (string, error) {
	for _, format := range imagestore.SupportedFormats {
		if _, err := os.Stat(r.path(guid, format)); err == nil {
			return format, nil
		} else if !os.IsNotExist(err) {
			return "", &imagestore.StorageError{Op: "detect_format", Key: guid, Err: err}
		}
	}
	return "", nil
}

func (r *Repository) ModTime(ctx context.Context, guid, format string) (time.Time, error) {
	info, err := os.Stat(r.path(guid, format))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, imagestore.ErrImageNotFound
		}
		return time.Time{}, &imagestore.StorageError{Op: "mod_time", Key: guid, Err: err}
	}
	return info.ModTime(), nil
}

// parseBlobName extracts the GUID from a blob file name, requiring a
// canonical UUID stem and a recognized extension.
func parseBlobName(name string) (string, bool) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", false
	}
	format := ext[1:]
	supported := false
	for _, known := range imagestore.SupportedFormats {
		if format == known {
			supported = true
			break
		}
	}
	if !supported {
		return "", false
	}
	stem := name[:len(name)-len(ext)]
	if _, err := uuid.Parse(stem); err != nil {
		return "", false
	}
	return stem, true
}
