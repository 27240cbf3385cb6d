package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

func (p Principal) IsAdmin() bool { return p.Role == RolePlatformAdmin }

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type Middleware struct {
	svc *Service
}

func NewMiddleware(svc *Service) *Middleware { return &Middleware{svc: svc} }

// Require authenticates the request and, when roles are given, requires the
// caller to hold one of them.
func (m *Middleware) Require(next http.HandlerFunc, roles ...Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			httpx.WriteError(w, r, apperr.Unauthorized("missing bearer token"))
			return
		}
		p, err := m.svc.Authenticate(r.Context(), raw)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		if len(roles) > 0 && !hasRole(p.Role, roles) {
			httpx.WriteError(w, r, apperr.Forbidden("insufficient role"))
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional attaches the principal when a valid token is present and lets
// anonymous requests through.
func (m *Middleware) Optional(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := bearer(r); raw != "" {
			if p, err := m.svc.Authenticate(r.Context(), raw); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
		}
		next(w, r)
	})
}

func hasRole(role Role, roles []Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// MustPrincipal is for handlers behind Require.
func MustPrincipal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}
