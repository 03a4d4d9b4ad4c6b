package imagestore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofr-lab/gplot/pkg/imagestore"
	"github.com/gofr-lab/gplot/pkg/imagestore/repo/jsonfile"
	fsstorage "github.com/gofr-lab/gplot/pkg/imagestore/storage/fs"
)

// backendFactory builds a service over dir. Calling it again with the same
// dir simulates a process restart.
type backendFactory func(t *testing.T, dir string) imagestore.Service

func newSplitService(t *testing.T, dir string) imagestore.Service {
	t.Helper()

	blobs, err := fsstorage.New(fsstorage.Config{BaseDir: dir})
	require.NoError(t, err)

	meta, err := jsonfile.New(filepath.Join(dir, "metadata.json"),
		jsonfile.WithModTimeProbe(func(guid, format string) (time.Time, bool) {
			mt, err := blobs.ModTime(context.Background(), guid, format)
			return mt, err == nil
		}))
	require.NoError(t, err)

	svc, err := imagestore.New(
		imagestore.WithBlobRepository(blobs),
		imagestore.WithMetadataRepository(meta),
	)
	require.NoError(t, err)
	return svc
}

func newConsolidatedService(t *testing.T, dir string) imagestore.Service {
	t.Helper()

	svc, err := imagestore.NewConsolidated(imagestore.ConsolidatedConfig{Dir: dir})
	require.NoError(t, err)
	return svc
}

var backends = map[string]backendFactory{
	"split":        newSplitService,
	"consolidated": newConsolidatedService,
}

func groupPtr(s string) *string { return &s }

func TestSaveAndGetImage(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			data := []byte("fake png bytes")
			guid, err := svc.SaveImage(ctx, data, "png", nil)
			require.NoError(t, err)
			require.NoError(t, uuid.Validate(guid))

			got, format, err := svc.GetImage(ctx, guid, nil)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Equal(t, "png", format)
		})
	}
}

func TestSaveImageNormalizesFormat(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("x"), ".PNG", nil)
			require.NoError(t, err)

			_, format, err := svc.GetImage(ctx, guid, nil)
			require.NoError(t, err)
			assert.Equal(t, "png", format)
		})
	}
}

func TestSaveImageRejectsUnsupportedFormat(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())

			_, err := svc.SaveImage(context.Background(), []byte("x"), "bmp", nil)
			assert.ErrorIs(t, err, imagestore.ErrUnsupportedFormat)
		})
	}
}

func TestGetImageNotFound(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			_, _, err := svc.GetImage(ctx, uuid.New().String(), nil)
			assert.ErrorIs(t, err, imagestore.ErrImageNotFound)

			_, _, err = svc.GetImage(ctx, "no-such-alias", nil)
			assert.ErrorIs(t, err, imagestore.ErrImageNotFound)
		})
	}
}

func TestGroupAccessControl(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("team-a image"), "png", groupPtr("team-a"))
			require.NoError(t, err)

			t.Run("other group is denied", func(t *testing.T) {
				_, _, err := svc.GetImage(ctx, guid, groupPtr("team-b"))
				assert.ErrorIs(t, err, imagestore.ErrPermissionDenied)

				_, err = svc.DeleteImage(ctx, guid, groupPtr("team-b"))
				assert.ErrorIs(t, err, imagestore.ErrPermissionDenied)
			})

			t.Run("owning group is allowed", func(t *testing.T) {
				_, _, err := svc.GetImage(ctx, guid, groupPtr("team-a"))
				assert.NoError(t, err)
			})

			t.Run("anonymous caller is allowed", func(t *testing.T) {
				_, _, err := svc.GetImage(ctx, guid, nil)
				assert.NoError(t, err)
			})

			t.Run("grouped caller reads public image", func(t *testing.T) {
				public, err := svc.SaveImage(ctx, []byte("public image"), "png", nil)
				require.NoError(t, err)
				_, _, err = svc.GetImage(ctx, public, groupPtr("team-b"))
				assert.NoError(t, err)
			})
		})
	}
}

func TestListImagesScopedByGroup(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			a1, err := svc.SaveImage(ctx, []byte("a1"), "png", groupPtr("team-a"))
			require.NoError(t, err)
			a2, err := svc.SaveImage(ctx, []byte("a2"), "svg", groupPtr("team-a"))
			require.NoError(t, err)
			_, err = svc.SaveImage(ctx, []byte("b1"), "png", groupPtr("team-b"))
			require.NoError(t, err)
			_, err = svc.SaveImage(ctx, []byte("pub"), "png", nil)
			require.NoError(t, err)

			scoped, err := svc.ListImages(ctx, groupPtr("team-a"))
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{a1, a2}, scoped)

			all, err := svc.ListImages(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, all, 4)
		})
	}
}

func TestAliasRoundTrip(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			data := []byte("aliased image")
			guid, err := svc.SaveImage(ctx, data, "png", nil)
			require.NoError(t, err)

			require.NoError(t, svc.RegisterAlias(ctx, "quarterly-report", guid, nil))

			got, _, err := svc.GetImage(ctx, "quarterly-report", nil)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			alias, err := svc.GetAlias(ctx, guid)
			require.NoError(t, err)
			assert.Equal(t, "quarterly-report", alias)

			aliases, err := svc.ListAliases(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"quarterly-report": guid}, aliases)
		})
	}
}

func TestRegisterAliasValidation(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
			require.NoError(t, err)

			assert.ErrorIs(t, svc.RegisterAlias(ctx, "ab", guid, nil), imagestore.ErrInvalidAlias)
			assert.ErrorIs(t, svc.RegisterAlias(ctx, "has space", guid, nil), imagestore.ErrInvalidAlias)
			assert.ErrorIs(t, svc.RegisterAlias(ctx, "dots.not.ok", guid, nil), imagestore.ErrInvalidAlias)

			assert.ErrorIs(t, svc.RegisterAlias(ctx, "fine-alias", "not-a-uuid", nil), imagestore.ErrInvalidGUID)

			err = svc.RegisterAlias(ctx, "fine-alias", uuid.New().String(), nil)
			assert.ErrorIs(t, err, imagestore.ErrImageNotFound)
		})
	}
}

func TestRegisterAliasDuplicate(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			first, err := svc.SaveImage(ctx, []byte("first"), "png", nil)
			require.NoError(t, err)
			second, err := svc.SaveImage(ctx, []byte("second"), "png", nil)
			require.NoError(t, err)

			require.NoError(t, svc.RegisterAlias(ctx, "taken", first, nil))

			// Re-registering the same binding is a no-op.
			assert.NoError(t, svc.RegisterAlias(ctx, "taken", first, nil))

			// Binding the alias to a different image is a conflict.
			err = svc.RegisterAlias(ctx, "taken", second, nil)
			assert.ErrorIs(t, err, imagestore.ErrAliasExists)
		})
	}
}

func TestReAliasReplacesOldBinding(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
			require.NoError(t, err)

			require.NoError(t, svc.RegisterAlias(ctx, "old-name", guid, nil))
			require.NoError(t, svc.RegisterAlias(ctx, "new-name", guid, nil))

			resolved, err := svc.ResolveIdentifier(ctx, "old-name", nil)
			require.NoError(t, err)
			assert.Empty(t, resolved)

			resolved, err = svc.ResolveIdentifier(ctx, "new-name", nil)
			require.NoError(t, err)
			assert.Equal(t, guid, resolved)
		})
	}
}

func TestAliasScopedByGroup(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			aGUID, err := svc.SaveImage(ctx, []byte("a"), "png", groupPtr("team-a"))
			require.NoError(t, err)
			bGUID, err := svc.SaveImage(ctx, []byte("b"), "png", groupPtr("team-b"))
			require.NoError(t, err)

			// The same alias can coexist in different groups.
			require.NoError(t, svc.RegisterAlias(ctx, "dashboard", aGUID, groupPtr("team-a")))
			require.NoError(t, svc.RegisterAlias(ctx, "dashboard", bGUID, groupPtr("team-b")))

			resolved, err := svc.ResolveIdentifier(ctx, "dashboard", groupPtr("team-a"))
			require.NoError(t, err)
			assert.Equal(t, aGUID, resolved)

			resolved, err = svc.ResolveIdentifier(ctx, "dashboard", groupPtr("team-b"))
			require.NoError(t, err)
			assert.Equal(t, bGUID, resolved)

			// An alias in another group does not resolve.
			resolved, err = svc.ResolveIdentifier(ctx, "dashboard", groupPtr("team-c"))
			require.NoError(t, err)
			assert.Empty(t, resolved)
		})
	}
}

func TestRegisterAliasDeniedAcrossGroups(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("a"), "png", groupPtr("team-a"))
			require.NoError(t, err)

			err = svc.RegisterAlias(ctx, "stolen", guid, groupPtr("team-b"))
			assert.ErrorIs(t, err, imagestore.ErrPermissionDenied)
		})
	}
}

func TestResolveIdentifierPrefersGUID(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			// A well-formed UUID resolves to itself even when nothing is
			// stored under it.
			random := uuid.New().String()
			resolved, err := svc.ResolveIdentifier(ctx, random, nil)
			require.NoError(t, err)
			assert.Equal(t, random, resolved)
		})
	}
}

func TestUnregisterAlias(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
			require.NoError(t, err)
			require.NoError(t, svc.RegisterAlias(ctx, "temp-name", guid, nil))

			removed, err := svc.UnregisterAlias(ctx, "temp-name", nil)
			require.NoError(t, err)
			assert.True(t, removed)

			resolved, err := svc.ResolveIdentifier(ctx, "temp-name", nil)
			require.NoError(t, err)
			assert.Empty(t, resolved)

			removed, err = svc.UnregisterAlias(ctx, "temp-name", nil)
			require.NoError(t, err)
			assert.False(t, removed)
		})
	}
}

func TestDeleteImageCascadesAlias(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
			require.NoError(t, err)
			require.NoError(t, svc.RegisterAlias(ctx, "short-lived", guid, nil))

			deleted, err := svc.DeleteImage(ctx, guid, nil)
			require.NoError(t, err)
			assert.True(t, deleted)

			resolved, err := svc.ResolveIdentifier(ctx, "short-lived", nil)
			require.NoError(t, err)
			assert.Empty(t, resolved)

			exists, err := svc.Exists(ctx, guid, nil)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestDeleteImageUnknown(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())

			deleted, err := svc.DeleteImage(context.Background(), uuid.New().String(), nil)
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestPurgeAll(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				_, err := svc.SaveImage(ctx, []byte(fmt.Sprintf("image %d", i)), "png", nil)
				require.NoError(t, err)
			}

			purged, err := svc.Purge(ctx, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, 5, purged)

			remaining, err := svc.ListImages(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, remaining)
		})
	}
}

func TestPurgeScopedByGroup(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			_, err := svc.SaveImage(ctx, []byte("a"), "png", groupPtr("team-a"))
			require.NoError(t, err)
			keep, err := svc.SaveImage(ctx, []byte("b"), "png", groupPtr("team-b"))
			require.NoError(t, err)

			purged, err := svc.Purge(ctx, 0, groupPtr("team-a"))
			require.NoError(t, err)
			assert.Equal(t, 1, purged)

			exists, err := svc.Exists(ctx, keep, groupPtr("team-b"))
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestPurgeByAgeKeepsFreshImages(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("fresh"), "png", nil)
			require.NoError(t, err)

			purged, err := svc.Purge(ctx, 30, nil)
			require.NoError(t, err)
			assert.Zero(t, purged)

			exists, err := svc.Exists(ctx, guid, nil)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestAliasSurvivesRestart(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			svc := factory(t, dir)
			data := []byte("persistent image")
			guid, err := svc.SaveImage(ctx, data, "png", groupPtr("team-a"))
			require.NoError(t, err)
			require.NoError(t, svc.RegisterAlias(ctx, "persistent", guid, groupPtr("team-a")))

			// A new service over the same directory rebuilds the alias
			// index from the metadata document.
			restarted := factory(t, dir)

			got, format, err := restarted.GetImage(ctx, "persistent", groupPtr("team-a"))
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Equal(t, "png", format)

			aliases, err := restarted.ListAliases(ctx, groupPtr("team-a"))
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"persistent": guid}, aliases)
		})
	}
}

func TestConcurrentSaves(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			const n = 50
			var wg sync.WaitGroup
			guids := make([]string, n)
			errs := make([]error, n)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					guids[i], errs[i] = svc.SaveImage(ctx, []byte(fmt.Sprintf("image %d", i)), "png", nil)
				}(i)
			}
			wg.Wait()

			seen := make(map[string]bool, n)
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				assert.False(t, seen[guids[i]], "GUID collision: %s", guids[i])
				seen[guids[i]] = true
			}

			stored, err := svc.ListImages(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, stored, n)
		})
	}
}

func TestOrphanedBlobRemainsReadable(t *testing.T) {
	// Only the consolidated backend exposes its blob layout directly; the
	// split service covers this path through its fs repository tests.
	dir := t.TempDir()
	svc := newConsolidatedService(t, dir)
	ctx := context.Background()

	guid := uuid.New().String()
	data := []byte("orphan bytes")
	require.NoError(t, writeFile(t, filepath.Join(dir, guid+".png"), data))

	got, format, err := svc.GetImage(ctx, guid, nil)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "png", format)
}

func TestPurgeSweepsOrphanedBlobs(t *testing.T) {
	dir := t.TempDir()
	svc := newConsolidatedService(t, dir)
	ctx := context.Background()

	guid := uuid.New().String()
	require.NoError(t, writeFile(t, filepath.Join(dir, guid+".png"), []byte("orphan")))

	t.Run("group-scoped purge leaves orphans alone", func(t *testing.T) {
		purged, err := svc.Purge(ctx, 0, groupPtr("team-a"))
		require.NoError(t, err)
		assert.Zero(t, purged)
	})

	t.Run("global purge removes them", func(t *testing.T) {
		purged, err := svc.Purge(ctx, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		_, _, err = svc.GetImage(ctx, guid, nil)
		assert.ErrorIs(t, err, imagestore.ErrImageNotFound)
	})
}

// flakyMetadataRepo wraps a real repository and fails Save on demand.
type flakyMetadataRepo struct {
	imagestore.MetadataRepository
	failSave bool
}

func (r *flakyMetadataRepo) Save(ctx context.Context, record *imagestore.ImageMetadata) error {
	if r.failSave {
		return fmt.Errorf("metadata write failed")
	}
	return r.MetadataRepository.Save(ctx, record)
}

func TestReAliasKeepsOldBindingWhenPersistFails(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	blobs, err := fsstorage.New(fsstorage.Config{BaseDir: dir})
	require.NoError(t, err)
	jsonRepo, err := jsonfile.New(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	meta := &flakyMetadataRepo{MetadataRepository: jsonRepo}

	svc, err := imagestore.New(
		imagestore.WithBlobRepository(blobs),
		imagestore.WithMetadataRepository(meta),
	)
	require.NoError(t, err)

	guid, err := svc.SaveImage(ctx, []byte("x"), "png", nil)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterAlias(ctx, "old-name", guid, nil))

	meta.failSave = true
	require.Error(t, svc.RegisterAlias(ctx, "new-name", guid, nil))
	meta.failSave = false

	// The failed re-alias must not touch the live index: the old binding
	// still resolves and the new one does not exist.
	resolved, err := svc.ResolveIdentifier(ctx, "old-name", nil)
	require.NoError(t, err)
	assert.Equal(t, guid, resolved)

	alias, err := svc.GetAlias(ctx, guid)
	require.NoError(t, err)
	assert.Equal(t, "old-name", alias)

	resolved, err = svc.ResolveIdentifier(ctx, "new-name", nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)

	// Once the repository recovers, re-aliasing works normally.
	require.NoError(t, svc.RegisterAlias(ctx, "new-name", guid, nil))
	alias, err = svc.GetAlias(ctx, guid)
	require.NoError(t, err)
	assert.Equal(t, "new-name", alias)
}

func TestGetImageByForeignAliasIsNotFound(t *testing.T) {
	// Aliases live in per-group namespaces: an alias bound in another
	// group does not exist for the caller, so the lookup reads as absent
	// rather than forbidden.
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			svc := factory(t, t.TempDir())
			ctx := context.Background()

			guid, err := svc.SaveImage(ctx, []byte("q4"), "png", groupPtr("finance"))
			require.NoError(t, err)
			require.NoError(t, svc.RegisterAlias(ctx, "q4-report", guid, groupPtr("finance")))

			_, _, err = svc.GetImage(ctx, "q4-report", groupPtr("marketing"))
			assert.ErrorIs(t, err, imagestore.ErrImageNotFound)
			assert.NotErrorIs(t, err, imagestore.ErrPermissionDenied)

			// The GUID itself is still guarded by the group check.
			_, _, err = svc.GetImage(ctx, guid, groupPtr("marketing"))
			assert.ErrorIs(t, err, imagestore.ErrPermissionDenied)
		})
	}
}
