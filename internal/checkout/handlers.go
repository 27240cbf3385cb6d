package checkout

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

// Register mounts /v1/checkout/sessions behind limit.
func (h *Handler) Register(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	base := "/v1/checkout/sessions"
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, limit(h.mw.Require(fn, auth.RoleCustomer)))
	}
	route("POST "+base, h.create)
	route("GET "+base, h.list)
	route("GET "+base+"/{sessionID}", h.get)
	route("PUT "+base+"/{sessionID}/info", h.saveInfo)
	route("GET "+base+"/{sessionID}/shipping-options", h.shippingOptions)
	route("PUT "+base+"/{sessionID}/shipping", h.selectShipping)
	route("POST "+base+"/{sessionID}/payment", h.createPayment)
	route("POST "+base+"/{sessionID}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.Create(r.Context(), auth.MustPrincipal(r), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, sess, "marketplace.checkout.created")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid(err.Error()))
		return
	}
	p, err := h.svc.ListMine(r.Context(), auth.MustPrincipal(r), httpx.Query(r, "status"), cursor, httpx.Limit(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.checkout.listed"})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Get(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.checkout.viewed")
}

func (h *Handler) saveInfo(w http.ResponseWriter, r *http.Request) {
	var req InfoInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.SaveInfo(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.checkout.info_saved")
}

func (h *Handler) shippingOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.svc.ShippingOptions(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": opts, "event_topic": "marketplace.shipping.quoted"})
}

func (h *Handler) selectShipping(w http.ResponseWriter, r *http.Request) {
	var req ShippingInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sess, err := h.svc.SelectShipping(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.checkout.shipping_selected")
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	pay, err := h.svc.CreatePayment(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, pay, "marketplace.checkout.payment_created")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Cancel(r.Context(), auth.MustPrincipal(r), r.PathValue("sessionID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sess, "marketplace.checkout.cancelled")
}
