// Package postgres implements imagestore.MetadataRepository on PostgreSQL,
// for split deployments where the metadata document outgrows a single file.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Schema is the table backing the repository. Alias uniqueness per group is
// enforced by the service's alias index; the partial unique index below is a
// backstop against writers bypassing the service.
const Schema = `
CREATE TABLE IF NOT EXISTS image_metadata (
    guid        UUID PRIMARY KEY,
    format      TEXT NOT NULL,
    size        BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    grp         TEXT,
    alias       TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS image_metadata_group_alias
    ON image_metadata (COALESCE(grp, ''), alias) WHERE alias IS NOT NULL;
`

// Repository implements imagestore.MetadataRepository using PostgreSQL.
// Row-level upserts make each mutation atomic, so no document-level lock is
// needed here; created_at is NOT NULL, so the blob-mtime age fallback does
// not apply to this backend.
type Repository struct {
	db DBTX
}

var _ imagestore.MetadataRepository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies the repository schema.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return &imagestore.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

func (r *Repository) Save(ctx context.Context, record *imagestore.ImageMetadata) error {
	query := `
		INSERT INTO image_metadata (guid, format, size, created_at, grp, alias)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guid) DO UPDATE SET
			format = EXCLUDED.format,
			size = EXCLUDED.size,
			created_at = EXCLUDED.created_at,
			grp = EXCLUDED.grp,
			alias = EXCLUDED.alias`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		record.GUID, record.Format, record.Size, createdAt, record.Group, record.Alias)
	if err != nil {
		return &imagestore.StorageError{Op: "save_metadata", Key: record.GUID, Err: err}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, guid string) (*imagestore.ImageMetadata, error) {
	query := `
		SELECT guid, format, size, created_at, grp, alias
		FROM image_metadata WHERE guid = $1`

	record := &imagestore.ImageMetadata{}
	err := r.db.QueryRow(ctx, query, guid).Scan(
		&record.GUID, &record.Format, &record.Size, &record.CreatedAt,
		&record.Group, &record.Alias)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, imagestore.ErrImageNotFound
		}
		return nil, &imagestore.StorageError{Op: "get_metadata", Key: guid, Err: err}
	}
	return record, nil
}

func (r *Repository) Delete(ctx context.Context, guid string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM image_metadata WHERE guid = $1`, guid)
	if err != nil {
		return false, &imagestore.StorageError{Op: "delete_metadata", Key: guid, Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListAll(ctx context.Context, group *string) ([]string, error) {
	query := `SELECT guid FROM image_metadata ORDER BY guid`
	args := []interface{}{}
	if group != nil {
		query = `SELECT guid FROM image_metadata WHERE grp = $1 ORDER BY guid`
		args = append(args, *group)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &imagestore.StorageError{Op: "list_metadata", Err: err}
	}
	defer rows.Close()

	var guids []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, &imagestore.StorageError{Op: "list_metadata", Err: err}
		}
		guids = append(guids, guid)
	}
	if err := rows.Err(); err != nil {
		return nil, &imagestore.StorageError{Op: "list_metadata", Err: err}
	}
	return guids, nil
}

func (r *Repository) Exists(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM image_metadata WHERE guid = $1)`, guid).Scan(&exists)
	if err != nil {
		return false, &imagestore.StorageError{Op: "exists_metadata", Key: guid, Err: err}
	}
	return exists, nil
}

func (r *Repository) FilterByAge(ctx context.Context, ageDays int, group *string) ([]*imagestore.ImageMetadata, error) {
	query := `
		SELECT guid, format, size, created_at, grp, alias
		FROM image_metadata
		WHERE created_at < now() - make_interval(days => $1)`
	args := []interface{}{ageDays}
	if group != nil {
		query += ` AND grp = $2`
		args = append(args, *group)
	}
	query += ` ORDER BY guid`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &imagestore.StorageError{Op: "filter_metadata", Err: err}
	}
	defer rows.Close()

	var matched []*imagestore.ImageMetadata
	for rows.Next() {
		record := &imagestore.ImageMetadata{}
		if err := rows.Scan(&record.GUID, &record.Format, &record.Size,
			&record.CreatedAt, &record.Group, &record.Alias); err != nil {
			return nil, &imagestore.StorageError{Op: "filter_metadata", Err: err}
		}
		matched = append(matched, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &imagestore.StorageError{Op: "filter_metadata", Err: err}
	}
	return matched, nil
}
