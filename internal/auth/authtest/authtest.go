// Package authtest builds a memory-mode auth stack for handler tests in
// other packages.
package authtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

type Env struct {
	Service    *auth.Service
	Middleware *auth.Middleware
	seq        atomic.Int64
}

func Config() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:  "test-access",
		RefreshSecret: "test-refresh",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "marketplace-test",
	}
}

func New() *Env {
	svc := auth.NewService(auth.NewStore(nil), auth.NewTokens(Config()), nil)
	svc.SetPasswordCost(bcrypt.MinCost)
	return &Env{Service: svc, Middleware: auth.NewMiddleware(svc)}
}

// User creates an active user with role and returns it with an access token.
func (e *Env) User(t testing.TB, role auth.Role) (auth.User, string) {
	t.Helper()
	n := e.seq.Add(1)
	email := fmt.Sprintf("%s%d@example.com", role, n)
	ctx := context.Background()
	if role == auth.RolePlatformAdmin {
		if _, err := e.Service.EnsureAdmin(ctx, email, "Admin", "password123"); err != nil {
			t.Fatalf("ensure admin: %v", err)
		}
		sess, err := e.Service.Login(ctx, email, "password123")
		if err != nil {
			t.Fatalf("login admin: %v", err)
		}
		return sess.User, sess.Tokens.AccessToken
	}
	sess, err := e.Service.Register(ctx, auth.RegisterInput{Email: email, Password: "password123", Name: fmt.Sprintf("User %d", n), Role: string(role)})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return sess.User, sess.Tokens.AccessToken
}

// Principal returns the principal for a user created by User.
func Principal(u auth.User) auth.Principal {
	return auth.Principal{UserID: u.ID, Role: u.Role, Email: u.Email, Name: u.Name}
}
