package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

func TestTokensExpireAndKeepKindsApart(t *testing.T) {
	tokens := NewTokens(config.AuthConfig{AccessSecret: "a", RefreshSecret: "r", AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "test"})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	pair, err := tokens.Issue(User{ID: "usr_1", Role: RoleShopOwner, TokenVersion: 3})
	require.NoError(t, err)

	c, err := tokens.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", c.Subject)
	assert.Equal(t, RoleShopOwner, c.Role)

	rc, err := tokens.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 3, rc.Version)

	_, err = tokens.ParseAccess(pair.RefreshToken)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	now = now.Add(2 * time.Minute)
	_, err = tokens.ParseAccess(pair.AccessToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}
