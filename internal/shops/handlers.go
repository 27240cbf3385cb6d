package shops

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
	owner := []auth.Role{auth.RoleShopOwner, auth.RolePlatformAdmin}

	mux.Handle("GET /v1/shops", http.HandlerFunc(h.listActive))
	mux.Handle("POST /v1/shops", h.mw.Require(h.create, auth.RoleShopOwner))
	mux.Handle("GET /v1/shops/mine", h.mw.Require(h.listMine, owner...))
	mux.Handle("GET /v1/shops/{shopID}", h.mw.Optional(h.get))
	mux.Handle("GET /v1/stores/{slug}", http.HandlerFunc(h.getBySlug))
	mux.Handle("PATCH /v1/shops/{shopID}", h.mw.Require(h.update, owner...))
	mux.Handle("DELETE /v1/shops/{shopID}", h.mw.Require(h.delete, owner...))
	mux.Handle("POST /v1/shops/{shopID}/connect", h.mw.Require(h.connect, owner...))
	mux.Handle("POST /v1/shops/{shopID}/connect/onboarding-link", h.mw.Require(h.onboardingLink, owner...))
	mux.Handle("POST /v1/shops/{shopID}/connect/sync", h.mw.Require(h.sync, owner...))
}

func listFilter(r *http.Request) (ListFilter, error) {
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		return ListFilter{}, apperr.Invalid(err.Error())
	}
	return ListFilter{Cursor: cursor, Limit: httpx.Limit(r)}, nil
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	f.Status = StatusActive
	page, err := h.svc.store.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "marketplace.shop.listed"})
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	f.OwnerID = auth.MustPrincipal(r).UserID
	f.Status = httpx.Query(r, "status")
	page, err := h.svc.store.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "marketplace.shop.listed"})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sh, err := h.svc.Create(r.Context(), auth.MustPrincipal(r), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, sh, "marketplace.shop.created")
}

// get shows active shops to everyone and any shop to its owner or an admin.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("shopID")
	var (
		sh  Shop
		err error
	)
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		sh, err = h.svc.RequireOwner(r.Context(), p, id)
		if apperr.Is(err, apperr.CodeForbidden) {
			sh, err = h.svc.GetActive(r.Context(), id)
		}
	} else {
		sh, err = h.svc.GetActive(r.Context(), id)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.read")
}

func (h *Handler) getBySlug(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.store.GetBySlug(r.Context(), r.PathValue("slug"))
	if err == nil && sh.Status != StatusActive {
		err = apperr.NotFound("shop")
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.read")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sh, err := h.svc.Update(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.updated")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("shopID")
	if err := h.svc.Delete(r.Context(), auth.MustPrincipal(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "marketplace.shop.deleted"})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.ConnectAccount(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.connect_account_created")
}

func (h *Handler) onboardingLink(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.OnboardingLink(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"url": url, "event_topic": "marketplace.shop.onboarding_link_created"})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.SyncAccount(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.kyc_updated")
}
