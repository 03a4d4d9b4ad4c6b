package imagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const metadataFileName = "metadata.json"

var _ Service = (*Consolidated)(nil)

// Consolidated is a self-contained Service implementation over a single
// directory: blob files named {guid}.{format} next to one metadata.json
// document, with the metadata map held in memory. It satisfies the exact
// same contract as the split service.
type Consolidated struct {
	mu      sync.RWMutex
	dir     string
	records map[string]*ImageMetadata
	aliases *aliasIndex
	logger  *slog.Logger

	// corruptionRecovered is set when the metadata document could not be
	// parsed at load and the in-memory state was reset to empty.
	corruptionRecovered bool
}

// ConsolidatedConfig options for the consolidated backend
type ConsolidatedConfig struct {
	Dir    string // directory holding blobs and metadata.json
	Logger *slog.Logger
}

// NewConsolidated creates the backend, loading the metadata document and
// rebuilding the alias index. A corrupt or ill-shaped document resets the
// state to empty with a warning rather than failing startup; blobs left on
// disk become orphans until the next purge.
func NewConsolidated(cfg ConsolidatedConfig) (*Consolidated, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Key: cfg.Dir, Err: err}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consolidated{
		dir:     cfg.Dir,
		records: make(map[string]*ImageMetadata),
		aliases: newAliasIndex(),
		logger:  logger,
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	logger.Debug("consolidated storage initialized", "dir", cfg.Dir, "images", len(c.records))
	return c, nil
}

// CorruptionRecovered reports whether the last load discarded an unreadable
// metadata document.
func (c *Consolidated) CorruptionRecovered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.corruptionRecovered
}

func (c *Consolidated) load() error {
	path := filepath.Join(c.dir, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StorageError{Op: "load_metadata", Key: path, Err: err}
	}

	var doc map[string]*ImageMetadata
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn("metadata document unreadable, resetting to empty", "path", path, "err", err)
		c.records = make(map[string]*ImageMetadata)
		c.corruptionRecovered = true
		return nil
	}
	for guid, record := range doc {
		record.GUID = guid
		c.records[guid] = record
		if record.Alias != nil && *record.Alias != "" {
			c.aliases.add(*record.Alias, guid, record.Group)
		}
	}
	return nil
}

// persist writes the whole metadata document crash-safely: temp file in the
// same directory, fsync, rename. Callers hold the write lock.
func (c *Consolidated) persist() error {
	doc := make(map[string]*ImageMetadata, len(c.records))
	for guid, record := range c.records {
		doc[guid] = record
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StorageError{Op: "save_metadata", Err: err}
	}

	path := filepath.Join(c.dir, metadataFileName)
	return atomicWriteFile(path, data)
}

// atomicWriteFile writes data to a temp file in the target's directory,
// fsyncs, and renames it over the destination.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &StorageError{Op: "write", Key: path, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Key: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Key: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "write", Key: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &StorageError{Op: "write", Key: path, Err: err}
	}
	return nil
}

func (c *Consolidated) blobPath(guid, format string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s.%s", guid, format))
}

// detectFormat probes the supported extensions in preference order.
func (c *Consolidated) detectFormat(guid string) string {
	for _, format := range SupportedFormats {
		if _, err := os.Stat(c.blobPath(guid, format)); err == nil {
			return format
		}
	}
	return ""
}

func (c *Consolidated) SaveImage(ctx context.Context, data []byte, format string, group *string) (string, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return "", err
	}

	guid := uuid.New().String()
	if err := atomicWriteFile(c.blobPath(guid, f), data); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[guid] = &ImageMetadata{
		GUID:      guid,
		Format:    f,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
		Group:     group,
	}
	if err := c.persist(); err != nil {
		delete(c.records, guid)
		os.Remove(c.blobPath(guid, f))
		return "", err
	}

	c.logger.Debug("image saved", "guid", guid, "format", f, "size", len(data))
	return guid, nil
}

func (c *Consolidated) GetImage(ctx context.Context, identifier string, group *string) ([]byte, string, error) {
	c.mu.RLock()
	guid, ok := c.aliases.resolve(identifier, group)
	if !ok {
		c.mu.RUnlock()
		return nil, "", ErrImageNotFound
	}
	record := c.records[guid]
	c.mu.RUnlock()

	if record != nil && !canAccess(record.Group, group) {
		return nil, "", ErrPermissionDenied
	}

	format := ""
	if record != nil {
		format = record.Format
	}
	if format == "" || !fileExists(c.blobPath(guid, format)) {
		format = c.detectFormat(guid)
	}
	if format == "" {
		return nil, "", ErrImageNotFound
	}

	data, err := os.ReadFile(c.blobPath(guid, format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrImageNotFound
		}
		return nil, "", &StorageError{Op: "get", Key: guid, Err: err}
	}
	return data, format, nil
}

func (c *Consolidated) DeleteImage(ctx context.Context, identifier string, group *string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	guid, ok := c.aliases.resolve(identifier, group)
	if !ok {
		return false, nil
	}
	record := c.records[guid]
	if record != nil && !canAccess(record.Group, group) {
		return false, ErrPermissionDenied
	}

	deleted, err := c.deleteLocked(guid, record)
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// deleteLocked removes the blob files, the record, and any alias binding.
// Callers hold the write lock.
func (c *Consolidated) deleteLocked(guid string, record *ImageMetadata) (bool, error) {
	deleted := false
	for _, format := range SupportedFormats {
		path := c.blobPath(guid, format)
		if err := os.Remove(path); err == nil {
			deleted = true
		} else if !os.IsNotExist(err) {
			return deleted, &StorageError{Op: "delete", Key: guid, Err: err}
		}
	}

	if record != nil {
		delete(c.records, guid)
		c.aliases.removeGUID(guid, record.Group)
		if err := c.persist(); err != nil {
			return deleted, err
		}
		deleted = true
	}
	return deleted, nil
}

func (c *Consolidated) ListImages(ctx context.Context, group *string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	guids := make([]string, 0, len(c.records))
	for guid, record := range c.records {
		if group != nil && !groupEqual(record.Group, group) {
			continue
		}
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	return guids, nil
}

func (c *Consolidated) Exists(ctx context.Context, identifier string, group *string) (bool, error) {
	c.mu.RLock()
	guid, ok := c.aliases.resolve(identifier, group)
	if !ok {
		c.mu.RUnlock()
		return false, nil
	}
	record := c.records[guid]
	c.mu.RUnlock()

	if record != nil && group != nil && !canAccess(record.Group, group) {
		return false, nil
	}
	return c.detectFormat(guid) != "", nil
}

func (c *Consolidated) Purge(ctx context.Context, ageDays int, group *string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

	// Snapshot before deleting: the records map must not change shape
	// under the iteration.
	var candidates []*ImageMetadata
	for _, record := range c.records {
		if group != nil && !groupEqual(record.Group, group) {
			continue
		}
		if ageDays > 0 && !c.olderThan(record, cutoff) {
			continue
		}
		candidates = append(candidates, record)
	}

	count := 0
	for _, record := range candidates {
		if _, err := c.deleteLocked(record.GUID, record); err != nil {
			return count, fmt.Errorf("purge aborted: %w", err)
		}
		count++
	}

	if group == nil {
		swept, err := c.sweepOrphanedBlobsLocked(ageDays, cutoff)
		if err != nil {
			return count, err
		}
		count += swept
	}

	c.logger.Info("purge completed", "deleted", count, "age_days", ageDays)
	return count, nil
}

// olderThan checks the record's creation time against the cutoff, falling
// back to the blob's file mtime when the timestamp is unknown. A record
// whose age cannot be determined at all is treated as expired.
func (c *Consolidated) olderThan(record *ImageMetadata, cutoff time.Time) bool {
	ts := record.CreatedAt
	if ts.IsZero() {
		format := record.Format
		if format == "" || !fileExists(c.blobPath(record.GUID, format)) {
			format = c.detectFormat(record.GUID)
		}
		if format == "" {
			return true
		}
		info, err := os.Stat(c.blobPath(record.GUID, format))
		if err != nil {
			return true
		}
		ts = info.ModTime()
	}
	return ts.Before(cutoff)
}

func (c *Consolidated) sweepOrphanedBlobsLocked(ageDays int, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, &StorageError{Op: "list", Key: c.dir, Err: err}
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		guid, ok := parseBlobName(entry.Name())
		if !ok {
			continue
		}
		if _, exists := c.records[guid]; exists {
			continue
		}
		if ageDays > 0 {
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return count, &StorageError{Op: "delete", Key: guid, Err: err}
		}
		c.logger.Debug("removed orphaned blob", "guid", guid)
		count++
	}
	return count, nil
}

func (c *Consolidated) ResolveIdentifier(ctx context.Context, identifier string, group *string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	guid, ok := c.aliases.resolve(identifier, group)
	if !ok {
		return "", nil
	}
	return guid, nil
}

func (c *Consolidated) RegisterAlias(ctx context.Context, alias, guid string, group *string) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}
	if _, err := uuid.Parse(guid); err != nil {
		return &ValidationError{Field: "guid", Value: guid, Err: ErrInvalidGUID}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[guid]
	if !ok {
		return &AliasError{Alias: alias, Group: aliasScope(group), Op: "register", Err: ErrImageNotFound}
	}
	if !canAccess(record.Group, group) {
		return ErrPermissionDenied
	}

	scope := record.Group
	if existing, ok := c.aliases.lookup(alias, scope); ok {
		if existing == guid {
			return nil
		}
		return &AliasError{Alias: alias, Group: aliasScope(scope), Op: "register", Err: ErrAliasExists}
	}

	previous := record.Alias
	record.Alias = &alias
	if err := c.persist(); err != nil {
		record.Alias = previous
		return err
	}

	// Index mutations follow the persist: a failed write must leave the
	// live index matching the stored document.
	if old, ok := c.aliases.aliasFor(guid); ok && old != alias {
		c.aliases.remove(old, scope)
	}
	c.aliases.add(alias, guid, scope)

	c.logger.Info("alias registered", "alias", alias, "guid", guid, "group", aliasScope(scope))
	return nil
}

func (c *Consolidated) UnregisterAlias(ctx context.Context, alias string, group *string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	guid, ok := c.aliases.lookup(alias, group)
	if !ok {
		return false, nil
	}

	if record, ok := c.records[guid]; ok && record.Alias != nil {
		record.Alias = nil
		if err := c.persist(); err != nil {
			record.Alias = &alias
			return false, err
		}
	}
	c.aliases.remove(alias, group)
	return true, nil
}

func (c *Consolidated) GetAlias(ctx context.Context, guid string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	alias, _ := c.aliases.aliasFor(guid)
	return alias, nil
}

func (c *Consolidated) ListAliases(ctx context.Context, group *string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aliases.list(group), nil
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
	for _, known := range SupportedFormats {
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

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
