// Package config builds imagestore services from declarative configuration.
// Backend selection by name happens here and only here; the core library
// deals in constructed repositories and services.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofr-lab/gplot/pkg/imagestore"
	"github.com/gofr-lab/gplot/pkg/imagestore/repo/jsonfile"
	repopg "github.com/gofr-lab/gplot/pkg/imagestore/repo/postgres"
	fsstorage "github.com/gofr-lab/gplot/pkg/imagestore/storage/fs"
	s3storage "github.com/gofr-lab/gplot/pkg/imagestore/storage/s3"
)

// BackendKind identifies a storage service shape.
type BackendKind string

// Backend kinds (typed).
const (
	// BackendConsolidated is the single-directory, single-document backend.
	BackendConsolidated BackendKind = "consolidated"
	// BackendSplit composes independent blob and metadata repositories.
	BackendSplit BackendKind = "split"
)

// ParseBackendKind maps a configuration string to a BackendKind.
func ParseBackendKind(name string) (BackendKind, error) {
	switch BackendKind(name) {
	case BackendConsolidated, BackendSplit:
		return BackendKind(name), nil
	case "":
		return BackendSplit, nil
	default:
		return "", fmt.Errorf("%w: %q", imagestore.ErrUnknownBackend, name)
	}
}

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		DataDir:       "./data",
		Backend:       BackendSplit,
		MetadataStore: "jsonfile",
		BlobStore:     "fs",
	}
}

// Config describes how to assemble a storage service.
type Config struct {
	DataDir string
	Backend BackendKind

	// Split-backend composition
	MetadataStore string // "jsonfile", "postgres"
	BlobStore     string // "fs", "s3"

	// Postgres metadata repository
	DatabaseURL string

	// S3 blob repository
	S3 S3Config

	Logger *slog.Logger
}

// S3Config carries the S3 blob repository settings.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	CreateBucket    bool
}

// StorageDir returns the directory holding blob files and, for the jsonfile
// repository, the metadata document.
func (c *Config) StorageDir() string {
	return filepath.Join(c.DataDir, "storage")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory is required")
	}
	if _, err := ParseBackendKind(string(c.Backend)); err != nil {
		return err
	}
	if c.Backend == BackendSplit {
		switch c.MetadataStore {
		case "jsonfile":
		case "postgres":
			if c.DatabaseURL == "" {
				return errors.New("database_url is required when using postgres metadata")
			}
		default:
			return fmt.Errorf("unsupported metadata store: %s", c.MetadataStore)
		}
		switch c.BlobStore {
		case "fs":
		case "s3":
			if c.S3.Bucket == "" {
				return errors.New("s3 bucket is required when using s3 blobs")
			}
		default:
			return fmt.Errorf("unsupported blob store: %s", c.BlobStore)
		}
	}
	return nil
}

// Factory builds a storage service from a validated Config.
type Factory func(*Config) (imagestore.Service, error)

// Registry maps backend kinds to factories. It is a configuration-time
// value, constructed once by the composition root; nothing in the core
// consults it after startup.
type Registry struct {
	factories map[BackendKind]Factory
}

// NewRegistry returns a registry with the built-in backends registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[BackendKind]Factory)}
	r.Register(BackendConsolidated, buildConsolidated)
	r.Register(BackendSplit, buildSplit)
	return r
}

// Register adds or replaces a factory for a backend kind.
func (r *Registry) Register(kind BackendKind, factory Factory) {
	r.factories[kind] = factory
}

// Build constructs the service for the configured backend kind.
func (r *Registry) Build(cfg *Config) (imagestore.Service, error) {
	factory, ok := r.factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", imagestore.ErrUnknownBackend, cfg.Backend)
	}
	return factory(cfg)
}

// BuildService assembles the service using the default registry.
func (c *Config) BuildService() (imagestore.Service, error) {
	return NewRegistry().Build(c)
}

func buildConsolidated(cfg *Config) (imagestore.Service, error) {
	return imagestore.NewConsolidated(imagestore.ConsolidatedConfig{
		Dir:    cfg.StorageDir(),
		Logger: cfg.Logger,
	})
}

func buildSplit(cfg *Config) (imagestore.Service, error) {
	blobs, err := buildBlobRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob repository: %w", err)
	}

	meta, err := buildMetadataRepository(cfg, blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata repository: %w", err)
	}

	opts := []imagestore.Option{
		imagestore.WithBlobRepository(blobs),
		imagestore.WithMetadataRepository(meta),
	}
	if cfg.Logger != nil {
		opts = append(opts, imagestore.WithLogger(cfg.Logger))
	}
	return imagestore.New(opts...)
}

func buildBlobRepository(cfg *Config) (imagestore.BlobRepository, error) {
	switch cfg.BlobStore {
	case "fs", "":
		return fsstorage.New(fsstorage.Config{BaseDir: cfg.StorageDir()})
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 cfg.S3.Region,
			Bucket:                 cfg.S3.Bucket,
			AccessKeyID:            cfg.S3.AccessKeyID,
			SecretAccessKey:        cfg.S3.SecretAccessKey,
			Endpoint:               cfg.S3.Endpoint,
			UsePathStyle:           cfg.S3.UsePathStyle,
			CreateBucketIfNotExist: cfg.S3.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported blob store: %s", cfg.BlobStore)
	}
}

func buildMetadataRepository(cfg *Config, blobs imagestore.BlobRepository) (imagestore.MetadataRepository, error) {
	switch cfg.MetadataStore {
	case "jsonfile", "":
		opts := []jsonfile.Option{
			jsonfile.WithModTimeProbe(func(guid, format string) (time.Time, bool) {
				mt, err := blobs.ModTime(context.Background(), guid, format)
				return mt, err == nil
			}),
		}
		if cfg.Logger != nil {
			opts = append(opts, jsonfile.WithLogger(cfg.Logger))
		}
		return jsonfile.New(filepath.Join(cfg.StorageDir(), "metadata.json"), opts...)
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		if err := pool.Ping(context.Background()); err != nil {
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := repopg.Migrate(context.Background(), pool); err != nil {
			return nil, err
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported metadata store: %s", cfg.MetadataStore)
	}
}
