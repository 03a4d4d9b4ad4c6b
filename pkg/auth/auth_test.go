package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.json")
	svc, err := New(Config{Secret: "test-secret", TokenStorePath: path})
	require.NoError(t, err)
	return svc, path
}

func TestCreateAndVerifyToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	info, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "team-a", info.Group)
	assert.WithinDuration(t, time.Now().Add(time.Hour), info.ExpiresAt, time.Minute)
}

func TestCreateTokenRequiresGroup(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateToken("", time.Hour)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.VerifyToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc, _ := newTestService(t)
	other, err := New(Config{Secret: "different-secret"})
	require.NoError(t, err)

	token, err := other.CreateToken("team-a", time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateToken("team-a", -time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevokeToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)

	revoked, err := svc.RevokeToken(token)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	revoked, err = svc.RevokeToken("unknown-token")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestTokenStorePersistsAcrossRestart(t *testing.T) {
	svc, path := newTestService(t)

	token, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)
	_, err = svc.RevokeToken(token)
	require.NoError(t, err)

	reloaded, err := New(Config{Secret: "test-secret", TokenStorePath: path})
	require.NoError(t, err)

	_, err = reloaded.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestListTokens(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)
	_, err = svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)
	revokeMe, err := svc.CreateToken("team-b", time.Hour)
	require.NoError(t, err)
	_, err = svc.RevokeToken(revokeMe)
	require.NoError(t, err)

	tokens := svc.ListTokens()
	assert.Len(t, tokens["team-a"], 2)
	assert.Empty(t, tokens["team-b"])
}

func TestCorruptTokenStoreResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	svc, err := New(Config{Secret: "test-secret", TokenStorePath: path})
	require.NoError(t, err)
	assert.Empty(t, svc.ListTokens())
}

func TestTokenStoreShape(t *testing.T) {
	svc, path := newTestService(t)

	_, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 1)
	for _, record := range doc {
		assert.Equal(t, "team-a", record["group"])
	}
}

func TestRandomSecretFallback(t *testing.T) {
	svc, err := New(Config{})
	require.NoError(t, err)

	token, err := svc.CreateToken("team-a", time.Hour)
	require.NoError(t, err)

	info, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "team-a", info.Group)
}
