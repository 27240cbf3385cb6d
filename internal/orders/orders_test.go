package orders_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops/shopstest"
)

type fixture struct {
	env      *shopstest.Env
	svc      *orders.Service
	owned    shopstest.Owned
	customer auth.User
	token    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	env := shopstest.New()
	svc := orders.NewService(orders.Deps{Store: orders.NewStore(nil), Shops: env.Shops, Gateway: env.Gateway, Events: env.Events})
	owned := env.ActiveShop(t, "Coffee Roasters")
	customer, token := env.User(t, auth.RoleCustomer)
	return fixture{env: env, svc: svc, owned: owned, customer: customer, token: token}
}

func (f fixture) paidOrder(t *testing.T, session string, total int64) orders.Order {
	t.Helper()
	amount := decimal.NewFromInt(total)
	o, err := f.svc.CreatePaid(context.Background(), orders.Order{
		ShopID:            f.owned.Shop.ID,
		CustomerID:        f.customer.ID,
		CheckoutSessionID: session,
		Items:             []orders.Item{{ProductID: "prd_1", Name: "Beans", Quantity: 1, UnitPrice: amount, LineTotal: amount}},
		Currency:          "USD",
		Subtotal:          amount,
		ShippingCost:      decimal.Zero,
		PlatformFee:       amount.Div(decimal.NewFromInt(10)),
		Total:             amount,
		Email:             f.customer.Email,
		PaymentIntentID:   "pi_" + session,
	})
	require.NoError(t, err)
	return o
}

func TestCanTransition(t *testing.T) {
	assert.True(t, orders.CanTransition(orders.FulfillmentUnfulfilled, orders.FulfillmentFulfilled))
	assert.True(t, orders.CanTransition(orders.FulfillmentFulfilled, orders.FulfillmentShipped))
	assert.True(t, orders.CanTransition(orders.FulfillmentShipped, orders.FulfillmentDelivered))
	assert.False(t, orders.CanTransition(orders.FulfillmentUnfulfilled, orders.FulfillmentShipped))
	assert.False(t, orders.CanTransition(orders.FulfillmentShipped, orders.FulfillmentCancelled))
	assert.False(t, orders.CanTransition(orders.FulfillmentDelivered, orders.FulfillmentUnfulfilled))
	assert.False(t, orders.CanTransition(orders.FulfillmentCancelled, orders.FulfillmentFulfilled))
}

func TestCreatePaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.paidOrder(t, "chk_1", 40)
	second := f.paidOrder(t, "chk_1", 40)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, orders.PaymentPaid, first.PaymentStatus)
	assert.Equal(t, orders.FulfillmentUnfulfilled, first.FulfillmentStatus)
	assert.NotNil(t, first.PaidAt)

	page, err := f.svc.ListMine(context.Background(), authtest.Principal(f.customer), db.Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.True(t, f.env.Events.Has("marketplace.order.created"))
}

func TestFulfillmentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "chk_1", 25)
	owner := authtest.Principal(f.owned.Owner)

	_, err := f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentShipped, TrackingNumber: "1Z"})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	o, err = f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentFulfilled})
	require.NoError(t, err)
	assert.NotNil(t, o.FulfilledAt)

	_, err = f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentShipped})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	o, err = f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentShipped, Carrier: "UPS", TrackingNumber: " 1Z999 "})
	require.NoError(t, err)
	assert.Equal(t, "1Z999", o.TrackingNumber)
	assert.Equal(t, "UPS", o.Carrier)

	o, err = f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentDelivered})
	require.NoError(t, err)
	assert.NotNil(t, o.DeliveredAt)

	_, err = f.svc.Transition(ctx, owner, f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentCancelled})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	other := f.env.ActiveShop(t, "Tea House")
	_, err = f.svc.Transition(ctx, authtest.Principal(other.Owner), f.owned.Shop.ID, o.ID, orders.FulfillmentInput{Status: orders.FulfillmentCancelled})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestRefundApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "chk_1", 50)
	customer := authtest.Principal(f.customer)
	owner := authtest.Principal(f.owned.Owner)

	tooMuch := decimal.NewFromInt(60)
	_, err := f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{Amount: &tooMuch})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	zero := decimal.Zero
	_, err = f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{Amount: &zero})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	partial := decimal.RequireFromString("20.5")
	o, err = f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{Amount: &partial, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, orders.RefundRequested, o.RefundStatus)

	_, err = f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	o, err = f.svc.DecideRefund(ctx, owner, f.owned.Shop.ID, o.ID, true, "sorry")
	require.NoError(t, err)
	assert.Equal(t, orders.RefundApproved, o.RefundStatus)
	assert.Equal(t, orders.PaymentRefunded, o.PaymentStatus)
	assert.NotEmpty(t, o.StripeRefundID)

	require.Len(t, f.env.Gateway.Refunds, 1)
	refund := f.env.Gateway.Refunds[0]
	assert.Equal(t, "pi_cs_1", refund.PaymentIntentID)
	assert.True(t, partial.Equal(refund.Amount))
	assert.Equal(t, "refund-"+o.ID, refund.IdempotencyKey)

	_, err = f.svc.DecideRefund(ctx, owner, f.owned.Shop.ID, o.ID, true, "")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestRefundRejectionAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "chk_1", 30)
	customer := authtest.Principal(f.customer)

	_, err := f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{Reason: "changed mind"})
	require.NoError(t, err)
	o, err = f.svc.DecideRefund(ctx, authtest.Principal(f.owned.Owner), f.owned.Shop.ID, o.ID, false, "opened package")
	require.NoError(t, err)
	assert.Equal(t, orders.RefundRejected, o.RefundStatus)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Empty(t, f.env.Gateway.Refunds)

	o, err = f.svc.RequestRefund(ctx, customer, o.ID, orders.RefundRequest{})
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(*o.RefundAmount))
	assert.Empty(t, o.RefundDecisionNote)
}

func TestRefundGatewayFailureKeepsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "chk_1", 30)
	_, err := f.svc.RequestRefund(ctx, authtest.Principal(f.customer), o.ID, orders.RefundRequest{})
	require.NoError(t, err)

	f.env.Gateway.Fail = apperr.Upstream("stripe request failed", assert.AnError)
	_, err = f.svc.DecideRefund(ctx, authtest.Principal(f.owned.Owner), f.owned.Shop.ID, o.ID, true, "")
	assert.Equal(t, apperr.CodeUpstream, apperr.CodeOf(err))

	stored, err := f.svc.Store().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundRequested, stored.RefundStatus)
	assert.Equal(t, orders.PaymentPaid, stored.PaymentStatus)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paidOrder(t, "chk_1", 10)

	_, err := f.svc.Get(ctx, authtest.Principal(f.customer), o.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, authtest.Principal(f.owned.Owner), o.ID)
	require.NoError(t, err)
	admin, _ := f.env.User(t, auth.RolePlatformAdmin)
	_, err = f.svc.Get(ctx, authtest.Principal(admin), o.ID)
	require.NoError(t, err)

	stranger, _ := f.env.User(t, auth.RoleCustomer)
	_, err = f.svc.Get(ctx, authtest.Principal(stranger), o.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestStatsAndRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.paidOrder(t, "chk_1", 100)
	refunded := f.paidOrder(t, "chk_2", 40)
	_, err := f.svc.RequestRefund(ctx, authtest.Principal(f.customer), refunded.ID, orders.RefundRequest{})
	require.NoError(t, err)
	_, err = f.svc.DecideRefund(ctx, authtest.Principal(f.owned.Owner), f.owned.Shop.ID, refunded.ID, true, "")
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Orders)
	assert.True(t, decimal.NewFromInt(100).Equal(st.GMV), st.GMV.String())
	assert.True(t, decimal.NewFromInt(10).Equal(st.PlatformFee), st.PlatformFee.String())

	now := time.Now()
	rows, err := f.svc.RevenueByShop(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Orders)
	assert.True(t, decimal.NewFromInt(140).Equal(rows[0].Gross))
	assert.True(t, decimal.NewFromInt(40).Equal(rows[0].Refunded))
	assert.True(t, decimal.NewFromInt(90).Equal(rows[0].Net), rows[0].Net.String())

	_, err = f.svc.RevenueByShop(ctx, now, now.Add(-time.Hour))
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestShopOrdersEndpoint(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	orders.NewHandler(f.svc, f.env.Middleware).Register(mux)
	o := f.paidOrder(t, "chk_1", 12)

	req := httptest.NewRequest(http.MethodPost, "/v1/shops/"+f.owned.Shop.ID+"/orders/"+o.ID+"/fulfillment", strings.NewReader(`{"status":"fulfilled"}`))
	req.Header.Set("Authorization", "Bearer "+f.owned.Token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/shops/"+f.owned.Shop.ID+"/orders?fulfillment_status=fulfilled", nil)
	req.Header.Set("Authorization", "Bearer "+f.owned.Token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []orders.Order `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, orders.FulfillmentFulfilled, resp.Items[0].FulfillmentStatus)

	req = httptest.NewRequest(http.MethodGet, "/v1/shops/"+f.owned.Shop.ID+"/orders", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/orders/"+o.ID+"/refund-request", strings.NewReader(`{"reason":"late"}`))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
