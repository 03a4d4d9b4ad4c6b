// Package jsonfile implements imagestore.MetadataRepository over a single
// durable JSON document: one object mapping GUID to record.
package jsonfile

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

// ModTimeProbe reports the blob modification time for a GUID/format pair.
// It is the age fallback for records whose created_at is unknown.
type ModTimeProbe func(guid, format string) (time.Time, bool)

// Repository is a file-backed metadata repository. All mutations rewrite the
// whole document under a single-writer lock with a temp-file + fsync +
// rename cycle, so a crash never leaves a torn document behind.
type Repository struct {
	mu      sync.RWMutex
	path    string
	records map[string]*imagestore.ImageMetadata
	probe   ModTimeProbe
	logger  *slog.Logger

	corruptionRecovered bool
}

var _ imagestore.MetadataRepository = (*Repository)(nil)

// Option represents a functional option for configuring the repository
type Option func(*Repository)

// WithModTimeProbe wires the blob-mtime fallback used by FilterByAge.
func WithModTimeProbe(probe ModTimeProbe) Option {
	return func(r *Repository) {
		r.probe = probe
	}
}

// WithLogger sets the logger for the repository
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// New loads (or initializes) the metadata document at path. A document that
// cannot be parsed, or whose top level is not an object, resets the state to
// empty with a warning instead of failing startup: availability wins over
// the corrupted history, and any remaining blobs become orphans until purge.
func New(path string, opts ...Option) (*Repository, error) {
	r := &Repository{
		path:    path,
		records: make(map[string]*imagestore.ImageMetadata),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &imagestore.StorageError{Op: "init", Key: path, Err: err}
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// CorruptionRecovered reports whether the last load discarded an unreadable
// document. Metadata loss after corruption is a known, tolerated failure
// mode; this flag makes it observable.
func (r *Repository) CorruptionRecovered() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.corruptionRecovered
}

func (r *Repository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &imagestore.StorageError{Op: "load", Key: r.path, Err: err}
	}

	var doc map[string]*imagestore.ImageMetadata
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn("metadata document unreadable, resetting to empty", "path", r.path, "err", err)
		r.corruptionRecovered = true
		return nil
	}
	for guid, record := range doc {
		record.GUID = guid
		r.records[guid] = record
	}
	return nil
}

// persist rewrites the document crash-safely. Callers hold the write lock.
func (r *Repository) persist() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".metadata-*")
	if err != nil {
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return &imagestore.StorageError{Op: "save", Key: r.path, Err: err}
	}
	return nil
}

func (r *Repository) Save(ctx context.Context, record *imagestore.ImageMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.records[record.GUID]
	r.records[record.GUID] = record.Clone()
	if err := r.persist(); err != nil {
		if existed {
			r.records[record.GUID] = previous
		} else {
			delete(r.records, record.GUID)
		}
		return err
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, guid string) (*imagestore.ImageMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[guid]
	if !ok {
		return nil, imagestore.ErrImageNotFound
	}
	return record.Clone(), nil
}

func (r *Repository) Delete(ctx context.Context, guid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[guid]
	if !ok {
		return false, nil
	}
	delete(r.records, guid)
	if err := r.persist(); err != nil {
		r.records[guid] = record
		return false, err
	}
	return true, nil
}

func (r *Repository) ListAll(ctx context.Context, group *string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guids := make([]string, 0, len(r.records))
	for guid, record := range r.records {
		if group != nil && (record.Group == nil || *record.Group != *group) {
			continue
		}
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	return guids, nil
}

func (r *Repository) Exists(ctx context.Context, guid string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[guid]
	return ok, nil
}

func (r *Repository) FilterByAge(ctx context.Context, ageDays int, group *string) ([]*imagestore.ImageMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)
	var matched []*imagestore.ImageMetadata
	for _, record := range r.records {
		if group != nil && (record.Group == nil || *record.Group != *group) {
			continue
		}
		ts := record.CreatedAt
		if ts.IsZero() && r.probe != nil {
			if mt, ok := r.probe(record.GUID, record.Format); ok {
				ts = mt
			}
		}
		// A record whose age cannot be determined has no usable
		// timestamp and no backing blob; treat it as expired.
		if ts.IsZero() || ts.Before(cutoff) {
			matched = append(matched, record.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].GUID < matched[j].GUID })
	return matched, nil
}
