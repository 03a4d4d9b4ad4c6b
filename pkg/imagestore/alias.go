package imagestore

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// aliasPattern is the bit-exact alias constraint shared by every backend.
var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// ValidateAlias checks an alias against the required format.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return &ValidationError{Field: "alias", Value: alias, Err: ErrInvalidAlias}
	}
	return nil
}

// defaultAliasScope is the alias scope used for records without a group.
const defaultAliasScope = "default"

// aliasScope maps an optional group token to an alias map key.
func aliasScope(group *string) string {
	if group == nil || *group == "" {
		return defaultAliasScope
	}
	return *group
}

// aliasIndex is the bidirectional in-memory alias map. It has no storage of
// its own: it is rebuilt from metadata at startup and then maintained
// incrementally, inside the owning service's critical sections. The maps
// themselves are not goroutine-safe.
type aliasIndex struct {
	byGroup map[string]map[string]string // scope -> alias -> guid
	byGUID  map[string]string            // guid -> alias
}

func newAliasIndex() *aliasIndex {
	return &aliasIndex{
		byGroup: make(map[string]map[string]string),
		byGUID:  make(map[string]string),
	}
}

// rebuild repopulates both maps from the metadata repository. It is the
// one-time construction step; later mutations go through add/remove.
func (ix *aliasIndex) rebuild(ctx context.Context, meta MetadataRepository) error {
	ix.byGroup = make(map[string]map[string]string)
	ix.byGUID = make(map[string]string)

	guids, err := meta.ListAll(ctx, nil)
	if err != nil {
		return err
	}
	for _, guid := range guids {
		record, err := meta.Get(ctx, guid)
		if err != nil {
			continue // record vanished between list and get
		}
		if record.Alias == nil || *record.Alias == "" {
			continue
		}
		ix.add(*record.Alias, guid, record.Group)
	}
	return nil
}

// resolve maps an identifier to a GUID. A string that parses as a canonical
// UUID is returned unchanged without consulting the alias maps, so an alias
// that happens to be UUID-shaped is never reachable by alias lookup.
func (ix *aliasIndex) resolve(identifier string, group *string) (string, bool) {
	if _, err := uuid.Parse(identifier); err == nil {
		return identifier, true
	}
	scoped, ok := ix.byGroup[aliasScope(group)]
	if !ok {
		return "", false
	}
	guid, ok := scoped[identifier]
	return guid, ok
}

// lookup returns the GUID currently bound to (alias, group), if any.
func (ix *aliasIndex) lookup(alias string, group *string) (string, bool) {
	scoped, ok := ix.byGroup[aliasScope(group)]
	if !ok {
		return "", false
	}
	guid, ok := scoped[alias]
	return guid, ok
}

func (ix *aliasIndex) add(alias, guid string, group *string) {
	scope := aliasScope(group)
	if ix.byGroup[scope] == nil {
		ix.byGroup[scope] = make(map[string]string)
	}
	ix.byGroup[scope][alias] = guid
	ix.byGUID[guid] = alias
}

// remove deletes the binding and returns the GUID it pointed at.
func (ix *aliasIndex) remove(alias string, group *string) (string, bool) {
	scope := aliasScope(group)
	scoped, ok := ix.byGroup[scope]
	if !ok {
		return "", false
	}
	guid, ok := scoped[alias]
	if !ok {
		return "", false
	}
	delete(scoped, alias)
	if len(scoped) == 0 {
		delete(ix.byGroup, scope)
	}
	delete(ix.byGUID, guid)
	return guid, true
}

// removeGUID drops any alias carried by the GUID (cascade on delete).
func (ix *aliasIndex) removeGUID(guid string, group *string) {
	alias, ok := ix.byGUID[guid]
	if !ok {
		return
	}
	delete(ix.byGUID, guid)
	scope := aliasScope(group)
	if scoped, ok := ix.byGroup[scope]; ok {
		delete(scoped, alias)
		if len(scoped) == 0 {
			delete(ix.byGroup, scope)
		}
	}
}

func (ix *aliasIndex) aliasFor(guid string) (string, bool) {
	alias, ok := ix.byGUID[guid]
	return alias, ok
}

// list returns a copy of the alias -> GUID map for the group.
func (ix *aliasIndex) list(group *string) map[string]string {
	out := make(map[string]string)
	for alias, guid := range ix.byGroup[aliasScope(group)] {
		out[alias] = guid
	}
	return out
}
