package imagestore

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrImageNotFound indicates no record exists for the resolved
	// identifier within the caller's scope.
	ErrImageNotFound = errors.New("image not found")

	// ErrPermissionDenied indicates the record exists but belongs to a
	// different non-nil group. It must never be collapsed into
	// ErrImageNotFound; callers map the two to different wire outcomes.
	ErrPermissionDenied = errors.New("access denied: image belongs to a different group")

	// ErrAliasExists indicates the (alias, group) pair already maps to a
	// different GUID.
	ErrAliasExists = errors.New("alias already exists")

	// ErrInvalidAlias indicates an alias that does not match the required
	// format (3-64 characters of [A-Za-z0-9_-]).
	ErrInvalidAlias = errors.New("invalid alias format")

	// ErrInvalidGUID indicates a malformed GUID supplied to an operation
	// expecting a canonical UUID.
	ErrInvalidGUID = errors.New("invalid GUID format")

	// ErrUnsupportedFormat indicates a format outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrUnknownBackend indicates an unrecognized backend name was
	// requested from the registry.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// StorageError represents an underlying disk or object-store failure. These
// must propagate; they are never silently swallowed.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError represents a malformed input (alias, GUID, format).
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AliasError represents a failed alias operation.
type AliasError struct {
	Alias string
	Group string
	Op    string
	Err   error
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("alias operation %s failed for %q in group %q: %v", e.Op, e.Alias, e.Group, e.Err)
}

func (e *AliasError) Unwrap() error {
	return e.Err
}
