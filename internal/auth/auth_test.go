package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments/paymentstest"
)

func TestRegisterValidation(t *testing.T) {
	env := authtest.New()
	ctx := context.Background()

	_, err := env.Service.Register(ctx, auth.RegisterInput{Email: "not-an-email", Password: "password123"})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = env.Service.Register(ctx, auth.RegisterInput{Email: "a@example.com", Password: "short"})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = env.Service.Register(ctx, auth.RegisterInput{Email: "a@example.com", Password: "password123", Role: "platform_admin"})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	sess, err := env.Service.Register(ctx, auth.RegisterInput{Email: " Owner@Example.com ", Password: "password123", Role: "shop_owner"})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", sess.User.Email)
	assert.Equal(t, auth.RoleShopOwner, sess.User.Role)
	assert.NotEmpty(t, sess.Tokens.AccessToken)

	_, err = env.Service.Register(ctx, auth.RegisterInput{Email: "owner@example.com", Password: "password123"})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestLoginAndSuspension(t *testing.T) {
	env := authtest.New()
	ctx := context.Background()
	u, _ := env.User(t, auth.RoleCustomer)

	_, err := env.Service.Login(ctx, u.Email, "wrong-password")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = env.Service.Login(ctx, "nobody@example.com", "password123")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = env.Service.SetStatus(ctx, u.ID, auth.StatusSuspended)
	require.NoError(t, err)
	_, err = env.Service.Login(ctx, u.Email, "password123")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestRefreshRevokedByLogout(t *testing.T) {
	env := authtest.New()
	ctx := context.Background()
	u, _ := env.User(t, auth.RoleCustomer)

	sess, err := env.Service.Login(ctx, u.Email, "password123")
	require.NoError(t, err)

	refreshed, err := env.Service.Refresh(ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, refreshed.User.ID)

	// an access token is not a refresh token
	_, err = env.Service.Refresh(ctx, sess.Tokens.AccessToken)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	require.NoError(t, env.Service.Logout(ctx, u.ID))
	_, err = env.Service.Refresh(ctx, refreshed.Tokens.RefreshToken)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestEnsureAdminPromotesExisting(t *testing.T) {
	env := authtest.New()
	ctx := context.Background()
	u, _ := env.User(t, auth.RoleCustomer)

	admin, err := env.Service.EnsureAdmin(ctx, u.Email, "", "new-password")
	require.NoError(t, err)
	assert.Equal(t, u.ID, admin.ID)
	assert.Equal(t, auth.RolePlatformAdmin, admin.Role)

	_, err = env.Service.Login(ctx, u.Email, "new-password")
	require.NoError(t, err)
}

func TestStripeCustomerCreatedOnce(t *testing.T) {
	env := authtest.New()
	gw := paymentstest.New()
	u, _ := env.User(t, auth.RoleCustomer)

	first, err := env.Service.StripeCustomer(context.Background(), gw, u.ID)
	require.NoError(t, err)
	second, err := env.Service.StripeCustomer(context.Background(), gw, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListUsersByRole(t *testing.T) {
	env := authtest.New()
	env.User(t, auth.RoleCustomer)
	env.User(t, auth.RoleCustomer)
	env.User(t, auth.RoleShopOwner)

	page, err := env.Service.Users().List(context.Background(), auth.ListFilter{Role: "customer", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.NotEmpty(t, page.NextCursor)

	counts, err := env.Service.Users().CountByRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[auth.RoleCustomer])
	assert.Equal(t, 1, counts[auth.RoleShopOwner])
}

func TestHandlers(t *testing.T) {
	env := authtest.New()
	mux := http.NewServeMux()
	auth.NewHandler(env.Service, env.Middleware).Register(mux, nil)

	body, _ := json.Marshal(map[string]string{"email": "c@example.com", "password": "password123", "name": "C"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Item       auth.Session `json:"item"`
		EventTopic string       `json:"event_topic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "marketplace.user.registered", resp.EventTopic)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Item.Tokens.AccessToken)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c@example.com")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	env := authtest.New()
	_, customerToken := env.User(t, auth.RoleCustomer)
	_, adminToken := env.User(t, auth.RolePlatformAdmin)

	h := env.Middleware.Require(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, auth.RolePlatformAdmin)

	for token, want := range map[string]int{customerToken: http.StatusForbidden, adminToken: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}
