package platform

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
)

type Handler struct {
	svc *Service
	mw  *auth.Middleware
}

func NewHandler(svc *Service, mw *auth.Middleware) *Handler {
	return &Handler{svc: svc, mw: mw}
}

func (h *Handler) Register(mux *http.ServeMux) {
	admin := func(fn http.HandlerFunc) http.Handler { return h.mw.Require(fn, auth.RolePlatformAdmin) }

	mux.Handle("GET /v1/admin/dashboard", admin(h.dashboard))
	mux.Handle("GET /v1/admin/shops", admin(h.listShops))
	for _, action := range []string{ActionApprove, ActionReject, ActionSuspend, ActionReactivate} {
		mux.Handle("POST /v1/admin/shops/{shopID}/"+action, admin(h.moderateShop(action)))
	}
	mux.Handle("PUT /v1/admin/shops/{shopID}/fee", admin(h.setShopFee))
	mux.Handle("DELETE /v1/admin/shops/{shopID}/fee", admin(h.clearShopFee))
	mux.Handle("GET /v1/admin/users", admin(h.listUsers))
	mux.Handle("POST /v1/admin/users/{userID}/suspend", admin(h.userStatus(auth.StatusSuspended)))
	mux.Handle("POST /v1/admin/users/{userID}/reactivate", admin(h.userStatus(auth.StatusActive)))
	mux.Handle("GET /v1/admin/fees", admin(h.getFee))
	mux.Handle("PUT /v1/admin/fees", admin(h.setFee))
	mux.Handle("GET /v1/admin/reports/revenue", admin(h.revenue))
	mux.Handle("GET /v1/admin/disputes", admin(h.listDisputes))
	mux.Handle("GET /v1/admin/disputes/{disputeID}", admin(h.getDispute))
	mux.Handle("POST /v1/admin/disputes/{disputeID}/resolve", admin(h.resolveDispute))
	mux.Handle("POST /v1/orders/{orderID}/disputes", h.mw.Require(h.openDispute, auth.RoleCustomer))
}

func cursorParam(r *http.Request) (db.Cursor, error) {
	c, err := db.ParseCursor(httpx.Query(r, "cursor"))
	if err != nil {
		return db.Cursor{}, apperr.Invalid(err.Error())
	}
	return c, nil
}

func writePage[T any](w http.ResponseWriter, p db.Page[T], topic string) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": p.Items, "next_cursor": p.NextCursor, "cached": p.Cached, "event_topic": topic})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, d, "marketplace.dashboard.viewed")
}

func (h *Handler) listShops(w http.ResponseWriter, r *http.Request) {
	cursor, err := cursorParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListShops(r.Context(), shops.ListFilter{Status: httpx.Query(r, "status"), OwnerID: httpx.Query(r, "owner_id"), Cursor: cursor, Limit: httpx.Limit(r)})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p, "marketplace.shop.listed")
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) moderateShop(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, r, err)
				return
			}
		}
		sh, err := h.svc.ModerateShop(r.Context(), r.PathValue("shopID"), action, req.Reason)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.Item(w, http.StatusOK, sh, "marketplace.shop."+action+"d")
	}
}

type feeRequest struct {
	Percent *decimal.Decimal `json:"percent"`
}

func decodeFee(r *http.Request) (decimal.Decimal, error) {
	var req feeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return decimal.Decimal{}, err
	}
	if req.Percent == nil {
		return decimal.Decimal{}, apperr.Invalid("percent is required")
	}
	return *req.Percent, nil
}

func (h *Handler) setShopFee(w http.ResponseWriter, r *http.Request) {
	pct, err := decodeFee(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sh, err := h.svc.SetShopFee(r.Context(), r.PathValue("shopID"), &pct)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.fee_updated")
}

func (h *Handler) clearShopFee(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.SetShopFee(r.Context(), r.PathValue("shopID"), nil)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, sh, "marketplace.shop.fee_updated")
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	cursor, err := cursorParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListUsers(r.Context(), auth.ListFilter{Role: httpx.Query(r, "role"), Status: httpx.Query(r, "status"), Cursor: cursor, Limit: httpx.Limit(r)})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p, "marketplace.user.listed")
}

func (h *Handler) userStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := h.svc.SetUserStatus(r.Context(), auth.MustPrincipal(r), r.PathValue("userID"), status)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		topic := "marketplace.user.reactivated"
		if status == auth.StatusSuspended {
			topic = "marketplace.user.suspended"
		}
		httpx.Item(w, http.StatusOK, u, topic)
	}
}

func (h *Handler) getFee(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.DefaultFee(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, map[string]decimal.Decimal{"default_fee_percent": p}, "marketplace.fee.viewed")
}

func (h *Handler) setFee(w http.ResponseWriter, r *http.Request) {
	pct, err := decodeFee(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.SetDefaultFee(r.Context(), pct)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, map[string]decimal.Decimal{"default_fee_percent": p}, "marketplace.fee.updated")
}

// timeParam accepts RFC3339 timestamps or plain dates.
func timeParam(r *http.Request, key string, def time.Time) (time.Time, error) {
	raw := httpx.Query(r, key)
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.Newf(apperr.CodeInvalidInput, "%s must be an RFC3339 date", key)
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	to, err := timeParam(r, "to", h.svc.now().UTC())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, err := timeParam(r, "from", to.AddDate(0, 0, -30))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	rep, err := h.svc.Revenue(r.Context(), from, to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, rep, "marketplace.report.revenue")
}

func (h *Handler) openDispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	d, err := h.svc.OpenDispute(r.Context(), auth.MustPrincipal(r), r.PathValue("orderID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusCreated, d, "marketplace.dispute.opened")
}

func (h *Handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	cursor, err := cursorParam(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.ListDisputes(r.Context(), DisputeFilter{Status: httpx.Query(r, "status"), ShopID: httpx.Query(r, "shop_id"), Cursor: cursor, Limit: httpx.Limit(r)})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	writePage(w, p, "marketplace.dispute.listed")
}

func (h *Handler) getDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDispute(r.Context(), r.PathValue("disputeID"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, d, "marketplace.dispute.viewed")
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	d, err := h.svc.ResolveDispute(r.Context(), auth.MustPrincipal(r), r.PathValue("disputeID"), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.Item(w, http.StatusOK, d, "marketplace.dispute."+d.Status)
}
