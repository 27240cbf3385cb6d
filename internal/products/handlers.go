package products

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

	mux.Handle("GET /v1/shops/{shopID}/products", h.mw.Optional(h.list))
	mux.Handle("POST /v1/shops/{shopID}/products", h.mw.Require(h.create, owner...))
	mux.Handle("GET /v1/shops/{shopID}/products/{productID}", h.mw.Require(h.get, owner...))
	mux.Handle("PATCH /v1/shops/{shopID}/products/{productID}", h.mw.Require(h.update, owner...))
	mux.Handle("DELETE /v1/shops/{shopID}/products/{productID}", h.mw.Require(h.delete, owner...))
	mux.Handle("POST /v1/shops/{shopID}/products/{productID}/images", h.mw.Require(h.uploadImage, owner...))
	mux.Handle("GET /v1/products/{productID}", http.HandlerFunc(h.getPublic))
}

// list serves the owner view (every status, optional status filter) to the
// shop's owner and the public catalog to everyone else.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	shopID := r.PathValue("shopID")
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid(err.Error()))
		return
	}
	limit := httpx.Limit(r)

	var page db.Page[Product]
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Role != auth.RoleCustomer {
		page, err = h.svc.ListOwned(r.Context(), p, ListFilter{ShopID: shopID, Status: httpx.Query(r, "status"), Cursor: cursor, Limit: limit})
		if apperr.Is(err, apperr.CodeForbidden) {
			page, err = h.svc.Catalog(r.Context(), shopID, cursor, limit)
		}
	} else {
		page, err = h.svc.Catalog(r.Context(), shopID, cursor, limit)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "marketplace.product.listed"})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req Input
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	prod, err := h.svc.Create(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, prod, "marketplace.product.created")
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	prod, err := h.svc.Get(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("productID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, prod, "marketplace.product.read")
}

func (h *Handler) getPublic(w http.ResponseWriter, r *http.Request) {
	prod, err := h.svc.GetPublic(r.Context(), r.PathValue("productID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, prod, "marketplace.product.read")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req Input
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	prod, err := h.svc.Update(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("productID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, prod, "marketplace.product.updated")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("productID")
	if err := h.svc.Delete(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "marketplace.product.deleted"})
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+(1<<20))
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("multipart field \"file\" is required"))
		return
	}
	defer file.Close()
	prod, err := h.svc.AddImage(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("productID"), file)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, prod, "marketplace.product.image_added")
}
