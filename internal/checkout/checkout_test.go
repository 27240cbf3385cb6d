package checkout

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
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/products"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shipping"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops/shopstest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/subscriptions"
)

type fixture struct {
	env      *shopstest.Env
	svc      *Service
	products *products.Service
	orders   *orders.Service
	subs     *subscriptions.Service
	owned    shopstest.Owned
	product  products.Product
	rate     shipping.Rate
	customer auth.User
	p        auth.Principal
	token    string
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	env := shopstest.New()
	prodSvc := products.NewService(products.NewStore(nil), env.Shops, nil, env.Events, time.Minute)
	shipSvc := shipping.NewService(shipping.NewStore(nil), env.Shops, env.Events)
	ordSvc := orders.NewService(orders.Deps{Store: orders.NewStore(nil), Shops: env.Shops, Gateway: env.Gateway, Events: env.Events})
	subSvc := subscriptions.NewService(subscriptions.Deps{Store: subscriptions.NewStore(nil), Orders: ordSvc, Shops: env.Shops, Gateway: env.Gateway, Events: env.Events})
	svc := NewService(Deps{
		Store:         NewStore(nil),
		Products:      prodSvc,
		Shipping:      shipSvc,
		Shops:         env.Shops,
		Orders:        ordSvc,
		Subscriptions: subSvc,
		Fees:          fees.NewSettings(nil, 10),
		Users:         env.Service,
		Gateway:       env.Gateway,
		Events:        env.Events,
	})

	owned := env.ActiveShop(t, "Garden Supply")
	owner := authtest.Principal(owned.Owner)
	name, active, stock := "Seed box", products.StatusActive, 5
	prod, err := prodSvc.Create(ctx, owner, owned.Shop.ID, products.Input{
		Name: &name, Status: &active, PriceOneTime: dec("20"), PriceMonthly: dec("15"), Stock: &stock,
	})
	require.NoError(t, err)
	zone, err := shipSvc.CreateZone(ctx, owner, owned.Shop.ID, shipping.ZoneInput{Name: "US", Countries: []string{"US"}})
	require.NoError(t, err)
	rate, err := shipSvc.CreateRate(ctx, owner, owned.Shop.ID, zone.ID, shipping.RateInput{Name: "Ground", Price: decimal.NewFromInt(5), MinDays: 2, MaxDays: 5, FreeShippingThreshold: dec("100")})
	require.NoError(t, err)

	customer, token := env.User(t, auth.RoleCustomer)
	return fixture{
		env: env, svc: svc, products: prodSvc, orders: ordSvc, subs: subSvc, owned: owned, product: prod, rate: rate,
		customer: customer, p: authtest.Principal(customer), token: token,
	}
}

func address() orders.Address {
	return orders.Address{Name: "Sam Doe", Line1: "1 Main St", City: "Austin", PostalCode: "78701", Country: "us"}
}

// toStep3 runs a session through info and shipping.
func (f fixture) toStep3(t *testing.T, purchaseType string, qty int) Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.p, CreateInput{PurchaseType: purchaseType, Items: []LineInput{{ProductID: f.product.ID, Quantity: qty}}})
	require.NoError(t, err)
	_, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	require.NoError(t, err)
	sess, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	require.NoError(t, err)
	return sess
}

func event(t *testing.T, id, typ string, obj any) payments.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return payments.Event{ID: id, Type: typ, Raw: raw}
}

func TestOneTimeCheckoutFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 2}}})
	require.NoError(t, err)
	assert.Equal(t, StepItems, sess.CurrentStep)
	assert.Equal(t, products.PurchaseOneTime, sess.PurchaseType)
	assert.Equal(t, "40.00", sess.Subtotal.StringFixed(2))
	assert.WithinDuration(t, sess.CreatedAt.Add(DefaultTTL), sess.ExpiresAt, time.Second)

	_, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	_, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: orders.Address{Name: "Sam", Country: "US"}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	sess, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Email: "Sam@Example.com", Address: address()})
	require.NoError(t, err)
	assert.Equal(t, StepInfo, sess.CurrentStep)
	assert.Equal(t, "sam@example.com", sess.Email)
	assert.Equal(t, "US", sess.ShippingAddress.Country)

	opts, err := f.svc.ShippingOptions(ctx, f.p, sess.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)

	_, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: "rat_missing"})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	sess, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	require.NoError(t, err)
	assert.Equal(t, StepShipping, sess.CurrentStep)
	assert.Equal(t, "45.00", sess.Total.StringFixed(2))

	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, pay.ClientSecret)
	assert.Equal(t, StatusPaymentPending, pay.Session.Status)
	require.Len(t, f.env.Gateway.Intents, 1)
	intent := f.env.Gateway.Intents[0]
	assert.Equal(t, "45.00", intent.Amount.StringFixed(2))
	assert.Equal(t, "4.50", intent.ApplicationFee.StringFixed(2))
	assert.Equal(t, f.owned.Shop.StripeAccountID, intent.DestinationAccount)
	assert.Equal(t, sess.ID, intent.Metadata["checkout_session_id"])

	again, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, pay.PaymentIntentID, again.PaymentIntentID)
	assert.Len(t, f.env.Gateway.Intents, 1)

	_, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	succeeded := event(t, "evt_1", payments.EventPaymentIntentSucceeded, map[string]any{
		"id": pay.PaymentIntentID, "status": "succeeded", "metadata": map[string]string{"checkout_session_id": sess.ID},
	})
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, succeeded))
	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, succeeded))

	done, err := f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotEmpty(t, done.OrderID)

	page, err := f.orders.ListMine(ctx, f.p, db.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	o := page.Items[0]
	assert.Equal(t, done.OrderID, o.ID)
	assert.Equal(t, "45.00", o.Total.StringFixed(2))
	assert.Equal(t, "4.50", o.PlatformFee.StringFixed(2))
	assert.Equal(t, "Ground", o.ShippingRateName)

	prod, err := f.products.GetPublic(ctx, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, *prod.Stock)

	_, err = f.svc.Cancel(ctx, f.p, sess.ID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.True(t, f.env.Events.Has("marketplace.checkout.completed"))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.p, CreateInput{})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.Create(ctx, f.p, CreateInput{PurchaseType: "daily", Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 0}}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.Create(ctx, f.p, CreateInput{PurchaseType: products.PurchaseWeekly, Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 6}}})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	other := f.env.ActiveShop(t, "Other Shop")
	name, active := "Rake", products.StatusActive
	rake, err := f.products.Create(ctx, authtest.Principal(other.Owner), other.Shop.ID, products.Input{Name: &name, Status: &active, PriceOneTime: dec("9"), PriceMonthly: dec("3")})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}, {ProductID: rake.ID, Quantity: 1}}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.Create(ctx, f.p, CreateInput{PurchaseType: products.PurchaseMonthly, Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}, {ProductID: rake.ID, Quantity: 1}}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestOwnershipAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}}})
	require.NoError(t, err)

	stranger, _ := f.env.User(t, auth.RoleCustomer)
	_, err = f.svc.SaveInfo(ctx, authtest.Principal(stranger), sess.ID, InfoInput{Address: address()})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	later := time.Now().Add(DefaultTTL + time.Hour)
	f.svc.now = func() time.Time { return later }
	_, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	assert.Equal(t, apperr.CodeExpired, apperr.CodeOf(err))

	stored, err := f.svc.Store().Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)

	_, err = f.svc.Cancel(ctx, f.p, sess.ID)
	assert.Equal(t, apperr.CodeExpired, apperr.CodeOf(err))
}

func TestSaveInfoResetsShipping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseOneTime, 1)
	require.Equal(t, "25.00", sess.Total.StringFixed(2))

	sess, err := f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	require.NoError(t, err)
	assert.Equal(t, StepInfo, sess.CurrentStep)
	assert.Empty(t, sess.ShippingRateID)
	assert.Equal(t, "20.00", sess.Total.StringFixed(2))

	_, err = f.svc.CreatePayment(ctx, f.p, sess.ID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestPaymentFailureReopensSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseOneTime, 1)
	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentFailed(ctx, event(t, "evt_1", payments.EventPaymentIntentFailed, map[string]any{
		"id": pay.PaymentIntentID, "status": "requires_payment_method",
		"last_payment_error": map[string]string{"code": "card_declined", "message": "Your card was declined."},
	})))
	sess, err = f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, sess.Status)
	assert.Equal(t, StepShipping, sess.CurrentStep)
	assert.Equal(t, "Your card was declined.", sess.LastError)

	retry, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, pay.PaymentIntentID, retry.PaymentIntentID)
	assert.Equal(t, StatusPaymentPending, retry.Session.Status)
	assert.Len(t, f.env.Gateway.Intents, 1)
}

func failIntent(t *testing.T, f fixture, id, paymentIntentID string) {
	t.Helper()
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), event(t, id, payments.EventPaymentIntentFailed, map[string]any{
		"id": paymentIntentID, "status": "requires_payment_method",
		"last_payment_error": map[string]string{"code": "card_declined", "message": "Your card was declined."},
	})))
}

func TestEditAfterFailedPaymentVoidsIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseOneTime, 1)
	assert.True(t, strings.HasPrefix(sess.ID, "chk_"), sess.ID)
	first, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	failIntent(t, f, "evt_1", first.PaymentIntentID)

	edited, err := f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	require.NoError(t, err)
	assert.Empty(t, edited.PaymentIntentID)
	assert.Empty(t, edited.ClientSecret)
	assert.Equal(t, []string{first.PaymentIntentID}, f.env.Gateway.CanceledIntents)

	_, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	require.NoError(t, err)
	second, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.PaymentIntentID, second.PaymentIntentID)
	require.Len(t, f.env.Gateway.Intents, 2)
	assert.Equal(t, "checkout-"+sess.ID+"-2", f.env.Gateway.Intents[1].IdempotencyKey)

	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, event(t, "evt_2", payments.EventPaymentIntentSucceeded, map[string]any{
		"id": second.PaymentIntentID, "status": "succeeded", "metadata": map[string]string{"checkout_session_id": sess.ID},
	})))
	done, err := f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, second.PaymentIntentID, done.PaymentIntentID)
}

func TestEditRefusedOnceOldIntentCharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseOneTime, 1)
	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	failIntent(t, f, "evt_1", pay.PaymentIntentID)
	f.env.Gateway.Confirm(pay.PaymentIntentID)

	_, err = f.svc.SaveInfo(ctx, f.p, sess.ID, InfoInput{Address: address()})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	_, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	kept, err := f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, pay.PaymentIntentID, kept.PaymentIntentID)

	require.NoError(t, f.svc.HandlePaymentSucceeded(ctx, event(t, "evt_2", payments.EventPaymentIntentSucceeded, map[string]any{
		"id": pay.PaymentIntentID, "status": "succeeded", "metadata": map[string]string{"checkout_session_id": sess.ID},
	})))
	done, err := f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotEmpty(t, done.OrderID)
	o, err := f.orders.Get(ctx, f.p, done.OrderID)
	require.NoError(t, err)
	assert.Equal(t, pay.PaymentIntentID, o.PaymentIntentID)
}

func TestEditAfterFailedInvoiceVoidsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseMonthly, 1)
	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleInvoicePaymentFailed(ctx, event(t, "evt_1", payments.EventInvoicePaymentFailed, map[string]any{
		"id": "in_1", "subscription": pay.StripeSubscriptionID, "billing_reason": payments.BillingSubscriptionCreate,
	})))

	_, err = f.svc.SelectShipping(ctx, f.p, sess.ID, ShippingInput{RateID: f.rate.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{pay.StripeSubscriptionID}, f.env.Gateway.Canceled)

	again, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, pay.StripeSubscriptionID, again.StripeSubscriptionID)
}

func TestCancelVoidsPendingIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseOneTime, 1)
	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{pay.PaymentIntentID}, f.env.Gateway.CanceledIntents)
}

func TestShopFeeOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.env.Shops.SetFeeOverride(ctx, f.owned.Shop.ID, dec("2.5"))
	require.NoError(t, err)

	sess := f.toStep3(t, products.PurchaseOneTime, 2)
	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.50", pay.Session.PlatformFeePercent.StringFixed(2))
	assert.Equal(t, "1.13", pay.Session.PlatformFee.StringFixed(2))
}

func TestSubscriptionCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toStep3(t, products.PurchaseMonthly, 1)
	assert.Equal(t, "20.00", sess.Total.StringFixed(2))

	pay, err := f.svc.CreatePayment(ctx, f.p, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, pay.StripeSubscriptionID)
	require.Len(t, f.env.Gateway.Subscriptions, 1)
	in := f.env.Gateway.Subscriptions[0]
	assert.Equal(t, payments.IntervalMonth, in.Interval)
	assert.Equal(t, "20.00", in.UnitAmount.StringFixed(2))
	assert.Equal(t, "10.00", in.ApplicationFeePercent.StringFixed(2))
	assert.Empty(t, f.env.Gateway.Intents)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	invoice := event(t, "evt_1", payments.EventInvoicePaid, map[string]any{
		"id": "in_1", "subscription": pay.StripeSubscriptionID, "payment_intent": "pi_first",
		"billing_reason": payments.BillingSubscriptionCreate, "amount_paid": 2000, "currency": "usd",
		"lines": map[string]any{"data": []any{map[string]any{"period": map[string]any{"start": start.Unix(), "end": end.Unix()}}}},
	})
	require.NoError(t, f.svc.HandleInvoicePaid(ctx, invoice))
	require.NoError(t, f.svc.HandleInvoicePaid(ctx, invoice))

	done, err := f.svc.Get(ctx, f.p, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "pi_first", done.PaymentIntentID)

	subs, err := f.subs.ListMine(ctx, f.p, "", db.Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, subs.Items, 1)
	sub := subs.Items[0]
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	assert.Equal(t, done.OrderID, sub.OrderID)
	assert.Equal(t, subscriptions.IntervalMonthly, sub.Interval)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))

	o, err := f.orders.Get(ctx, f.p, done.OrderID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, o.SubscriptionID)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}}})
	require.NoError(t, err)
	fresh, err := f.svc.Create(ctx, f.p, CreateInput{Items: []LineInput{{ProductID: f.product.ID, Quantity: 1}}})
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.SweepExpired(ctx, time.Now().Add(DefaultTTL+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	stored, err := f.svc.Store().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestCheckoutRoutesRequireCustomer(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.svc, f.env.Middleware).Register(mux, nil)
	body := `{"items":[{"product_id":"` + f.product.ID + `","quantity":1}]}`

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.owned.Token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/checkout/sessions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Item       Session `json:"item"`
		EventTopic string  `json:"event_topic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "marketplace.checkout.created", resp.EventTopic)
	assert.Equal(t, StepItems, resp.Item.CurrentStep)
}
