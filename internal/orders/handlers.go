package orders

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

	mux.Handle("GET /v1/orders", h.mw.Require(h.listMine))
	mux.Handle("GET /v1/orders/{orderID}", h.mw.Require(h.get))
	mux.Handle("POST /v1/orders/{orderID}/refund-request", h.mw.Require(h.requestRefund, auth.RoleCustomer))
	mux.Handle("GET /v1/shops/{shopID}/orders", h.mw.Require(h.listShop, owner...))
	mux.Handle("POST /v1/shops/{shopID}/orders/{orderID}/fulfillment", h.mw.Require(h.fulfill, owner...))
	mux.Handle("POST /v1/shops/{shopID}/orders/{orderID}/refund/approve", h.mw.Require(h.approveRefund, owner...))
	mux.Handle("POST /v1/shops/{shopID}/orders/{orderID}/refund/reject", h.mw.Require(h.rejectRefund, owner...))
	mux.Handle("GET /v1/admin/orders", h.mw.Require(h.listAll, auth.RolePlatformAdmin))
	mux.Handle("GET /v1/admin/orders/_explain", h.mw.Require(h.explain, auth.RolePlatformAdmin))
}

func listFilter(r *http.Request) (ListFilter, error) {
	cursor, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		return ListFilter{}, apperr.Invalid(err.Error())
	}
	return ListFilter{
		ShopID:            httpx.Query(r, "shop_id"),
		FulfillmentStatus: httpx.Query(r, "fulfillment_status"),
		PaymentStatus:     httpx.Query(r, "payment_status"),
		Cursor:            cursor,
		Limit:             httpx.Limit(r),
	}, nil
}

func writePage(w http.ResponseWriter, p db.Page[Order]) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": false, "event_topic": "marketplace.order.listed"})
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListMine(r.Context(), auth.MustPrincipal(r), f.Cursor, f.Limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(r.Context(), auth.MustPrincipal(r), r.PathValue("orderID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, o, "marketplace.order.viewed")
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := h.svc.RequestRefund(r.Context(), auth.MustPrincipal(r), r.PathValue("orderID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, o, "marketplace.order.refund_requested")
}

func (h *Handler) listShop(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListShop(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p)
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillmentInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := h.svc.Transition(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("orderID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, o, "marketplace.order."+o.FulfillmentStatus)
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	o, err := h.svc.DecideRefund(r.Context(), auth.MustPrincipal(r), r.PathValue("shopID"), r.PathValue("orderID"), approve, req.Note)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, o, "marketplace.order.refund_"+o.RefundStatus)
}

func (h *Handler) approveRefund(w http.ResponseWriter, r *http.Request) { h.decide(w, r, true) }

func (h *Handler) rejectRefund(w http.ResponseWriter, r *http.Request) { h.decide(w, r, false) }

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	f.CustomerID = httpx.Query(r, "customer_id")
	p, err := h.svc.ListAll(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p)
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	plan, err := h.svc.Store().ExplainList(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"plan": plan, "event_topic": "marketplace.order.explained"})
}
