package imagestore

import "context"

// Service is the storage surface consumed by the render pipeline and the
// HTTP/MCP handlers. The group token is supplied by the authentication layer
// on every call; the service treats it as an opaque equality-comparable
// value and never inspects it. A nil group means public access.
type Service interface {
	// SaveImage stores the blob under a freshly generated GUID, writes the
	// metadata record, and returns the GUID. On a metadata failure after a
	// successful blob write the orphaned blob is removed best-effort and
	// the original error is propagated.
	SaveImage(ctx context.Context, data []byte, format string, group *string) (string, error)

	// GetImage resolves the identifier (canonical GUID first, then alias
	// within the group) and returns the blob bytes with their format.
	// Returns ErrPermissionDenied when the record belongs to a different
	// non-nil group, ErrImageNotFound when unresolved.
	GetImage(ctx context.Context, identifier string, group *string) ([]byte, string, error)

	// DeleteImage removes the blob, its record, and any alias. Same group
	// check as GetImage. Returns false when nothing was stored.
	DeleteImage(ctx context.Context, identifier string, group *string) (bool, error)

	// ListImages returns the stored GUIDs scoped to the group.
	ListImages(ctx context.Context, group *string) ([]string, error)

	// Exists reports whether the identifier resolves to an accessible blob.
	Exists(ctx context.Context, identifier string, group *string) (bool, error)

	// Purge deletes records in scope older than ageDays (0 means all),
	// sweeps orphaned records and blobs, and returns the total count.
	Purge(ctx context.Context, ageDays int, group *string) (int, error)

	// ResolveIdentifier maps a GUID or alias to a GUID. A well-formed UUID
	// is returned unchanged without consulting the alias index. Returns ""
	// when the identifier does not resolve.
	ResolveIdentifier(ctx context.Context, identifier string, group *string) (string, error)

	// RegisterAlias binds alias -> guid within the group. Idempotent for
	// the same GUID; ErrAliasExists for a different one. The GUID must
	// reference an existing record.
	RegisterAlias(ctx context.Context, alias, guid string, group *string) error

	// UnregisterAlias removes the binding, reporting whether it existed.
	UnregisterAlias(ctx context.Context, alias string, group *string) (bool, error)

	// GetAlias returns the alias currently carried by the GUID, or "".
	GetAlias(ctx context.Context, guid string) (string, error)

	// ListAliases returns the alias -> GUID map for the group.
	ListAliases(ctx context.Context, group *string) (map[string]string, error)
}
