package imagestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAlias(t *testing.T) {
	valid := []string{
		"abc",
		"my-chart",
		"my_chart_2",
		"ABC-123",
		strings.Repeat("a", 64),
	}
	for _, alias := range valid {
		assert.NoError(t, ValidateAlias(alias), "alias %q", alias)
	}

	invalid := []string{
		"",
		"ab", // too short
		strings.Repeat("a", 65),
		"has space",
		"dots.here",
		"slash/here",
		"ünïcode",
	}
	for _, alias := range invalid {
		assert.ErrorIs(t, ValidateAlias(alias), ErrInvalidAlias, "alias %q", alias)
	}
}

func TestAliasScope(t *testing.T) {
	assert.Equal(t, "default", aliasScope(nil))

	empty := ""
	assert.Equal(t, "default", aliasScope(&empty))

	team := "team-a"
	assert.Equal(t, "team-a", aliasScope(&team))
}

func TestAliasIndexResolveUUIDFirst(t *testing.T) {
	ix := newAliasIndex()

	// A UUID-shaped identifier resolves to itself even when an alias of the
	// same spelling exists.
	shaped := "123e4567-e89b-12d3-a456-426614174000"
	ix.add(shaped, "other-guid", nil)

	guid, ok := ix.resolve(shaped, nil)
	assert.True(t, ok)
	assert.Equal(t, shaped, guid)
}

func TestAliasIndexCascade(t *testing.T) {
	ix := newAliasIndex()
	team := "team-a"

	ix.add("one", "guid-1", &team)
	ix.add("two", "guid-2", &team)

	ix.removeGUID("guid-1", &team)

	_, ok := ix.lookup("one", &team)
	assert.False(t, ok)
	_, ok = ix.aliasFor("guid-1")
	assert.False(t, ok)

	guid, ok := ix.lookup("two", &team)
	assert.True(t, ok)
	assert.Equal(t, "guid-2", guid)
}

func TestCanAccess(t *testing.T) {
	a, b := "team-a", "team-b"

	assert.True(t, canAccess(nil, nil))
	assert.True(t, canAccess(nil, &a))
	assert.True(t, canAccess(&a, nil))
	assert.True(t, canAccess(&a, &a))
	assert.False(t, canAccess(&a, &b))
}
