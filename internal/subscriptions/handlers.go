package subscriptions

import (
	"net/http"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
)

type Handler struct {
	svc *Service
	mw  *auth.Middleware
}

func NewHandler(svc *Service, mw *auth.Middleware) *Handler {
	return &Handler{svc: svc, mw: mw}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/subscriptions", h.mw.Require(h.listMine))
	mux.Handle("GET /v1/subscriptions/{subscriptionID}", h.mw.Require(h.get))
	mux.Handle("POST /v1/subscriptions/{subscriptionID}/cancel", h.mw.Require(h.cancel, auth.RoleCustomer, auth.RolePlatformAdmin))
	mux.Handle("GET /v1/shops/{shopID}/subscriptions", h.mw.Require(h.listShop, auth.RoleShopOwner, auth.RolePlatformAdmin))
}

func page(r *http.Request) (db.Cursor, int, error) {
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		return db.Cursor{}, 0, apperr.Invalid(err.Error())
	}
	return cursor, httpx.Limit(r), nil
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListMine(r.Context(), auth.MustPrincipal(r), httpx.Query(r, "status"), cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.subscription.listed"})
}

func (h *Handler) listShop(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListShop(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), httpx.Query(r, "status"), cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.subscription.listed"})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), auth.MustPrincipal(r), r.PathValue("subscriptionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sub, "marketplace.subscription.viewed")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Cancel(r.Context(), auth.MustPrincipal(r), r.PathValue("subscriptionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sub, "marketplace.subscription.cancel_requested")
}
