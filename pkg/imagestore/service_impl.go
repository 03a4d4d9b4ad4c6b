package imagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// service implements Service over a BlobRepository and a MetadataRepository,
// with an in-memory alias index rebuilt from metadata at construction.
//
// Blob writes need no cross-call locking: every save targets a freshly
// generated random GUID. Metadata and alias mutations read-modify-write
// shared state and run under a single-writer lock.
type service struct {
	mu      sync.RWMutex
	blobs   BlobRepository
	meta    MetadataRepository
	aliases *aliasIndex
	logger  *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithBlobRepository sets the blob repository for the service
func WithBlobRepository(repo BlobRepository) Option {
	return func(s *service) {
		s.blobs = repo
	}
}

// WithMetadataRepository sets the metadata repository for the service
func WithMetadataRepository(repo MetadataRepository) Option {
	return func(s *service) {
		s.meta = repo
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new storage service with the given options. The alias index
// is rebuilt from the metadata repository, so restart recovery is automatic.
func New(options ...Option) (Service, error) {
	s := &service{
		aliases: newAliasIndex(),
		logger:  slog.Default(),
	}

	for _, option := range options {
		option(s)
	}

	if s.blobs == nil {
		return nil, fmt.Errorf("blob repository is required")
	}
	if s.meta == nil {
		return nil, fmt.Errorf("metadata repository is required")
	}

	if err := s.aliases.rebuild(context.Background(), s.meta); err != nil {
		return nil, fmt.Errorf("failed to rebuild alias index: %w", err)
	}

	return s, nil
}

func (s *service) SaveImage(ctx context.Context, data []byte, format string, group *string) (string, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return "", err
	}

	guid := uuid.New().String()

	if err := s.blobs.Save(ctx, guid, f, data); err != nil {
		return "", err
	}

	record := &ImageMetadata{
		GUID:      guid,
		Format:    f,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
		Group:     group,
	}

	s.mu.Lock()
	err = s.meta.Save(ctx, record)
	s.mu.Unlock()
	if err != nil {
		// The blob is an orphan now; remove it best-effort and surface
		// the metadata error, not the cleanup outcome.
		if _, cleanupErr := s.blobs.Delete(ctx, guid, f); cleanupErr != nil {
			s.logger.Warn("orphaned blob cleanup failed", "guid", guid, "err", cleanupErr)
		}
		return "", err
	}

	s.logger.Debug("image saved", "guid", guid, "format", f, "size", len(data))
	return guid, nil
}

func (s *service) GetImage(ctx context.Context, identifier string, group *string) ([]byte, string, error) {
	guid, err := s.ResolveIdentifier(ctx, identifier, group)
	if err != nil {
		return nil, "", err
	}
	if guid == "" {
		return nil, "", ErrImageNotFound
	}

	record, err := s.meta.Get(ctx, guid)
	if err != nil && !errors.Is(err, ErrImageNotFound) {
		return nil, "", err
	}

	if record != nil && !canAccess(record.Group, group) {
		s.logger.Warn("group mismatch", "guid", guid, "stored_group", *record.Group)
		return nil, "", ErrPermissionDenied
	}

	if record != nil {
		data, err := s.blobs.Get(ctx, guid, record.Format)
		if err == nil {
			return data, record.Format, nil
		}
		if !errors.Is(err, ErrImageNotFound) {
			return nil, "", err
		}
	}

	// No record, or the record's format points at a missing file: probe
	// the disk directly so orphaned blobs remain readable.
	detected, err := s.blobs.DetectFormat(ctx, guid)
	if err != nil {
		return nil, "", err
	}
	if detected == "" {
		return nil, "", ErrImageNotFound
	}
	data, err := s.blobs.Get(ctx, guid, detected)
	if err != nil {
		return nil, "", err
	}
	return data, detected, nil
}

func (s *service) DeleteImage(ctx context.Context, identifier string, group *string) (bool, error) {
	guid, err := s.ResolveIdentifier(ctx, identifier, group)
	if err != nil {
		return false, err
	}
	if guid == "" {
		return false, nil
	}

	record, err := s.meta.Get(ctx, guid)
	if err != nil && !errors.Is(err, ErrImageNotFound) {
		return false, err
	}
	if record != nil && !canAccess(record.Group, group) {
		return false, ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blobDeleted, err := s.blobs.Delete(ctx, guid, "")
	if err != nil {
		return false, err
	}
	metaDeleted, err := s.meta.Delete(ctx, guid)
	if err != nil {
		return false, err
	}
	if record != nil {
		s.aliases.removeGUID(guid, record.Group)
	}

	if blobDeleted || metaDeleted {
		s.logger.Debug("image deleted", "guid", guid)
		return true, nil
	}
	return false, nil
}

func (s *service) ListImages(ctx context.Context, group *string) ([]string, error) {
	return s.meta.ListAll(ctx, group)
}

func (s *service) Exists(ctx context.Context, identifier string, group *string) (bool, error) {
	guid, err := s.ResolveIdentifier(ctx, identifier, group)
	if err != nil || guid == "" {
		return false, err
	}

	record, err := s.meta.Get(ctx, guid)
	if err != nil && !errors.Is(err, ErrImageNotFound) {
		return false, err
	}
	if record != nil && group != nil && !canAccess(record.Group, group) {
		return false, nil
	}

	return s.blobs.Exists(ctx, guid)
}

func (s *service) Purge(ctx context.Context, ageDays int, group *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot the candidate records before deleting anything so a
	// concurrent save cannot shift the set mid-iteration.
	var candidates []*ImageMetadata
	if ageDays <= 0 {
		guids, err := s.meta.ListAll(ctx, group)
		if err != nil {
			return 0, err
		}
		for _, guid := range guids {
			record, err := s.meta.Get(ctx, guid)
			if err != nil {
				if errors.Is(err, ErrImageNotFound) {
					continue
				}
				return 0, err
			}
			candidates = append(candidates, record)
		}
	} else {
		records, err := s.meta.FilterByAge(ctx, ageDays, group)
		if err != nil {
			return 0, err
		}
		candidates = records
	}

	count := 0
	for _, record := range candidates {
		if _, err := s.blobs.Delete(ctx, record.GUID, ""); err != nil {
			return count, fmt.Errorf("purge aborted: %w", err)
		}
		if _, err := s.meta.Delete(ctx, record.GUID); err != nil {
			return count, fmt.Errorf("purge aborted: %w", err)
		}
		s.aliases.removeGUID(record.GUID, record.Group)
		count++
	}

	// Orphaned blobs carry no ownership evidence, so only a global purge
	// may touch them.
	if group == nil {
		swept, err := s.sweepOrphanedBlobs(ctx, ageDays)
		if err != nil {
			return count, err
		}
		count += swept
	}

	s.logger.Info("purge completed", "deleted", count, "age_days", ageDays)
	return count, nil
}

func (s *service) sweepOrphanedBlobs(ctx context.Context, ageDays int) (int, error) {
	blobGUIDs, err := s.blobs.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)
	count := 0
	for _, guid := range blobGUIDs {
		exists, err := s.meta.Exists(ctx, guid)
		if err != nil {
			return count, err
		}
		if exists {
			continue
		}
		if ageDays > 0 {
			format, err := s.blobs.DetectFormat(ctx, guid)
			if err != nil || format == "" {
				continue
			}
			mt, err := s.blobs.ModTime(ctx, guid, format)
			if err != nil || mt.After(cutoff) {
				continue
			}
		}
		if _, err := s.blobs.Delete(ctx, guid, ""); err != nil {
			return count, fmt.Errorf("purge aborted: %w", err)
		}
		s.logger.Debug("removed orphaned blob", "guid", guid)
		count++
	}
	return count, nil
}

func (s *service) ResolveIdentifier(ctx context.Context, identifier string, group *string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guid, ok := s.aliases.resolve(identifier, group)
	if !ok {
		return "", nil
	}
	return guid, nil
}

func (s *service) RegisterAlias(ctx context.Context, alias, guid string, group *string) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}
	if _, err := uuid.Parse(guid); err != nil {
		return &ValidationError{Field: "guid", Value: guid, Err: ErrInvalidGUID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.meta.Get(ctx, guid)
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			return &AliasError{Alias: alias, Group: aliasScope(group), Op: "register", Err: ErrImageNotFound}
		}
		return err
	}
	if !canAccess(record.Group, group) {
		return ErrPermissionDenied
	}

	// The alias scope comes from the record, not the caller: the index
	// must stay reconstructible from metadata content alone.
	scope := record.Group

	if existing, ok := s.aliases.lookup(alias, scope); ok {
		if existing == guid {
			return nil // idempotent re-registration
		}
		return &AliasError{Alias: alias, Group: aliasScope(scope), Op: "register", Err: ErrAliasExists}
	}

	previous := record.Alias
	record.Alias = &alias
	if err := s.meta.Save(ctx, record); err != nil {
		record.Alias = previous
		return err
	}

	// Index mutations follow the persist: a failed write must leave the
	// live index matching the stored document. A GUID carries at most one
	// alias, so re-aliasing replaces the old binding instead of leaving
	// it dangling in the forward map.
	if old, ok := s.aliases.aliasFor(guid); ok && old != alias {
		s.aliases.remove(old, scope)
	}
	s.aliases.add(alias, guid, scope)

	s.logger.Info("alias registered", "alias", alias, "guid", guid, "group", aliasScope(scope))
	return nil
}

func (s *service) UnregisterAlias(ctx context.Context, alias string, group *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guid, ok := s.aliases.lookup(alias, group)
	if !ok {
		return false, nil
	}

	record, err := s.meta.Get(ctx, guid)
	if err != nil && !errors.Is(err, ErrImageNotFound) {
		return false, err
	}
	if record != nil && record.Alias != nil {
		record.Alias = nil
		if err := s.meta.Save(ctx, record); err != nil {
			return false, err
		}
	}
	s.aliases.remove(alias, group)

	s.logger.Info("alias unregistered", "alias", alias, "guid", guid, "group", aliasScope(group))
	return true, nil
}

func (s *service) GetAlias(ctx context.Context, guid string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alias, _ := s.aliases.aliasFor(guid)
	return alias, nil
}

func (s *service) ListAliases(ctx context.Context, group *string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases.list(group), nil
}
