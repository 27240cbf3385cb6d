package shipping

import (
	"net/http"

	"github.com/shopspring/decimal"

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
	base := "/v1/shops/{shopID}/shipping"

	mux.Handle("GET "+base+"/zones", h.mw.Require(h.listZones, owner...))
	mux.Handle("POST "+base+"/zones", h.mw.Require(h.createZone, owner...))
	mux.Handle("PUT "+base+"/zones/{zoneID}", h.mw.Require(h.updateZone, owner...))
	mux.Handle("DELETE "+base+"/zones/{zoneID}", h.mw.Require(h.deleteZone, owner...))
	mux.Handle("GET "+base+"/zones/{zoneID}/rates", h.mw.Require(h.listRates, owner...))
	mux.Handle("POST "+base+"/zones/{zoneID}/rates", h.mw.Require(h.createRate, owner...))
	mux.Handle("PUT "+base+"/rates/{rateID}", h.mw.Require(h.updateRate, owner...))
	mux.Handle("DELETE "+base+"/rates/{rateID}", h.mw.Require(h.deleteRate, owner...))
	mux.Handle("GET "+base+"/quote", http.HandlerFunc(h.quote))
}

func page(r *http.Request) (db.Cursor, int, error) {
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		return db.Cursor{}, 0, apperr.Invalid(err.Error())
	}
	return cursor, httpx.Limit(r), nil
}

func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListZones(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.shipping_zone.listed"})
}

func (h *Handler) createZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	z, err := h.svc.CreateZone(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, z, "marketplace.shipping_zone.created")
}

func (h *Handler) updateZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	z, err := h.svc.UpdateZone(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("zoneID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, z, "marketplace.shipping_zone.updated")
}

func (h *Handler) deleteZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("zoneID")
	if err := h.svc.DeleteZone(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "marketplace.shipping_zone.deleted"})
}

func (h *Handler) listRates(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListRates(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("zoneID"), cursor, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.shipping_rate.listed"})
}

func (h *Handler) createRate(w http.ResponseWriter, r *http.Request) {
	var req RateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	rate, err := h.svc.CreateRate(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("zoneID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, rate, "marketplace.shipping_rate.created")
}

func (h *Handler) updateRate(w http.ResponseWriter, r *http.Request) {
	var req RateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	rate, err := h.svc.UpdateRate(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("rateID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, rate, "marketplace.shipping_rate.updated")
}

func (h *Handler) deleteRate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rateID")
	if err := h.svc.DeleteRate(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "marketplace.shipping_rate.deleted"})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	subtotal := decimal.Zero
	if raw := httpx.Query(r, "subtotal"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.WriteError(w, r, apperr.Invalid("subtotal must be a decimal number"))
			return
		}
		subtotal = v
	}
	opts, err := h.svc.QuoteRates(r.Context(), r.PathValue("shopID"), httpx.Query(r, "country"), subtotal)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": opts, "event_topic": "marketplace.shipping.quoted"})
}
