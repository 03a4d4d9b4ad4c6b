package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

func TestParseBackendKind(t *testing.T) {
	kind, err := ParseBackendKind("consolidated")
	require.NoError(t, err)
	assert.Equal(t, BackendConsolidated, kind)

	kind, err = ParseBackendKind("split")
	require.NoError(t, err)
	assert.Equal(t, BackendSplit, kind)

	// Empty defaults to split.
	kind, err = ParseBackendKind("")
	require.NoError(t, err)
	assert.Equal(t, BackendSplit, kind)

	_, err = ParseBackendKind("hybrid")
	assert.ErrorIs(t, err, imagestore.ErrUnknownBackend)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, BackendSplit, cfg.Backend)
	assert.Equal(t, "jsonfile", cfg.MetadataStore)
	assert.Equal(t, "fs", cfg.BlobStore)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"unknown backend", func(c *Config) { c.Backend = "hybrid" }, true},
		{"postgres without url", func(c *Config) { c.MetadataStore = "postgres" }, true},
		{"postgres with url", func(c *Config) {
			c.MetadataStore = "postgres"
			c.DatabaseURL = "postgres://localhost/gplot"
		}, false},
		{"s3 without bucket", func(c *Config) { c.BlobStore = "s3" }, true},
		{"s3 with bucket", func(c *Config) {
			c.BlobStore = "s3"
			c.S3.Bucket = "charts"
		}, false},
		{"unknown metadata store", func(c *Config) { c.MetadataStore = "redis" }, true},
		{"unknown blob store", func(c *Config) { c.BlobStore = "tape" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryBuildsBothBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("consolidated", func(t *testing.T) {
		cfg, err := Load(func(c *Config) error {
			c.DataDir = t.TempDir()
			c.Backend = BackendConsolidated
			return nil
		})
		require.NoError(t, err)

		svc, err := cfg.BuildService()
		require.NoError(t, err)

		guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, guid)
	})

	t.Run("split jsonfile fs", func(t *testing.T) {
		cfg, err := Load(func(c *Config) error {
			c.DataDir = t.TempDir()
			c.Backend = BackendSplit
			return nil
		})
		require.NoError(t, err)

		svc, err := cfg.BuildService()
		require.NoError(t, err)

		guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, guid)
	})
}

func TestRegistryUnknownBackend(t *testing.T) {
	registry := NewRegistry()

	cfg := defaults()
	cfg.DataDir = t.TempDir()
	cfg.Backend = "hybrid"

	_, err := registry.Build(&cfg)
	assert.ErrorIs(t, err, imagestore.ErrUnknownBackend)
}

func TestRegistryCustomFactory(t *testing.T) {
	registry := NewRegistry()

	called := false
	registry.Register("custom", func(cfg *Config) (imagestore.Service, error) {
		called = true
		return imagestore.NewConsolidated(imagestore.ConsolidatedConfig{Dir: cfg.StorageDir()})
	})

	cfg := defaults()
	cfg.DataDir = t.TempDir()
	cfg.Backend = "custom"

	_, err := registry.Build(&cfg)
	require.NoError(t, err)
	assert.True(t, called)
}
