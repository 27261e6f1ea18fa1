package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, subject string, expiry time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiry),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyLocalAcceptsValidToken(t *testing.T) {
	revoked, err := LoadRevocationSet("")
	require.NoError(t, err)
	v := NewVerifier("test-secret", "", revoked)

	token := signToken(t, "test-secret", "user-1", time.Now().Add(time.Hour))
	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
}

func TestVerifyLocalRejectsExpiredToken(t *testing.T) {
	revoked, err := LoadRevocationSet("")
	require.NoError(t, err)
	v := NewVerifier("test-secret", "", revoked)

	token := signToken(t, "test-secret", "user-1", time.Now().Add(-time.Minute))
	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyLocalRejectsWrongSecret(t *testing.T) {
	revoked, err := LoadRevocationSet("")
	require.NoError(t, err)
	v := NewVerifier("test-secret", "", revoked)

	token := signToken(t, "other-secret", "user-1", time.Now().Add(time.Hour))
	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	revoked, err := LoadRevocationSet("")
	require.NoError(t, err)
	v := NewVerifier("test-secret", "", revoked)

	token := signToken(t, "test-secret", "user-1", time.Now().Add(time.Hour))
	revoked.Add(token)

	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestVerifyCachesSuccessfulResult(t *testing.T) {
	revoked, err := LoadRevocationSet("")
	require.NoError(t, err)
	v := NewVerifier("test-secret", "", revoked)

	token := signToken(t, "test-secret", "user-1", time.Now().Add(time.Hour))
	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)

	_, cached := v.cache.get(token)
	assert.True(t, cached)
}

func TestCacheSweepsExpiredEntries(t *testing.T) {
	c := newCache(10)
	c.put("a", Identity{UserID: "a"}, -time.Second)
	c.put("b", Identity{UserID: "b"}, time.Minute)

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
}
