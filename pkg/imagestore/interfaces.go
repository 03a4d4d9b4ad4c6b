package imagestore

import (
	"context"
	"time"
)

// BlobRepository stores and retrieves raw image bytes keyed by GUID and
// format extension. Implementations must not leave a readable partial blob
// behind on a failed write.
type BlobRepository interface {
	// Save writes the blob for (guid, format) atomically.
	Save(ctx context.Context, guid, format string, data []byte) error

	// Get returns the blob bytes, or ErrImageNotFound.
	Get(ctx context.Context, guid, format string) ([]byte, error)

	// Exists probes the supported formats in preference order.
	Exists(ctx context.Context, guid string) (bool, error)

	// Delete removes the blob. An empty format probes every supported
	// extension. Returns true when at least one file was removed.
	Delete(ctx context.Context, guid, format string) (bool, error)

	// ListAll scans the storage location and returns the GUIDs of entries
	// whose name parses as a canonical UUID with a recognized extension.
	// Everything else is ignored.
	ListAll(ctx context.Context) ([]string, error)

	// DetectFormat probes for the blob's extension independent of any
	// metadata. Returns "" when no blob is found.
	DetectFormat(ctx context.Context, guid string) (string, error)

	// ModTime returns the blob's file modification time, used as the age
	// fallback for records without a usable created_at.
	ModTime(ctx context.Context, guid, format string) (time.Time, error)
}

// MetadataRepository stores structured records keyed by GUID, backed by a
// single durable document (or table). Mutations are single-writer: the
// implementation serializes read-modify-write cycles internally.
type MetadataRepository interface {
	// Save upserts the record by GUID with a crash-safe write.
	Save(ctx context.Context, record *ImageMetadata) error

	// Get returns the record, or ErrImageNotFound.
	Get(ctx context.Context, guid string) (*ImageMetadata, error)

	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, guid string) (bool, error)

	// ListAll returns the stored GUIDs, filtered by group when non-nil.
	ListAll(ctx context.Context, group *string) ([]string, error)

	// Exists reports whether a record is present.
	Exists(ctx context.Context, guid string) (bool, error)

	// FilterByAge returns the records whose creation time precedes
	// now - ageDays. Records with an unknown creation time fall back to
	// the blob modification time when the repository has a probe wired.
	FilterByAge(ctx context.Context, ageDays int, group *string) ([]*ImageMetadata, error)
}
