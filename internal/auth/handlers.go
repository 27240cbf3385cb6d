package auth

import (
	"net/http"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
)

type Handler struct {
	svc *Service
	mw  *Middleware
}

func NewHandler(svc *Service, mw *Middleware) *Handler {
	return &Handler{svc: svc, mw: mw}
}

// Register mounts /v1/auth. limit wraps every route (per-client rate limit).
func (h *Handler) Register(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /v1/auth/register", limit(http.HandlerFunc(h.register)))
	mux.Handle("POST /v1/auth/login", limit(http.HandlerFunc(h.login)))
	mux.Handle("POST /v1/auth/refresh", limit(http.HandlerFunc(h.refresh)))
	mux.Handle("POST /v1/auth/logout", limit(h.mw.Require(h.logout)))
	mux.Handle("GET /v1/auth/me", h.mw.Require(h.me))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, sess, "marketplace.user.registered")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.user.logged_in")
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.user.token_refreshed")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p := MustPrincipal(r)
	if err := h.svc.Logout(r.Context(), p.UserID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": p.UserID, "event_topic": "marketplace.user.logged_out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), MustPrincipal(r).UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, u, "marketplace.user.read")
}
