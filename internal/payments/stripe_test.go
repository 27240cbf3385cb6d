package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeClient(config.StripeConfig{SecretKey: "sk_test_123", BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestCreatePaymentIntentForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "chk_1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "12345", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "1235", r.PostForm.Get("application_fee_amount"))
		assert.Equal(t, "acct_9", r.PostForm.Get("transfer_data[destination]"))
		assert.Equal(t, "chk_1", r.PostForm.Get("metadata[checkout_session_id]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method"}`))
	})

	pi, err := c.CreatePaymentIntent(context.Background(), PaymentIntentInput{
		Amount:             decimal.RequireFromString("123.45"),
		Currency:           "USD",
		ApplicationFee:     decimal.RequireFromString("12.35"),
		DestinationAccount: "acct_9",
		Metadata:           map[string]string{"checkout_session_id": "chk_1"},
		IdempotencyKey:     "chk_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", pi.ID)
	assert.Equal(t, "pi_1_secret", pi.ClientSecret)
}

func TestCancelPaymentIntent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents/pi_7/cancel", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abandoned", r.PostForm.Get("cancellation_reason"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_7","status":"canceled"}`))
	})

	pi, err := c.CancelPaymentIntent(context.Background(), "pi_7")
	require.NoError(t, err)
	assert.Equal(t, "canceled", pi.Status)
}

func TestCreateSubscriptionCreatesPriceFirst(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/prices":
			assert.Equal(t, "month", r.PostForm.Get("recurring[interval]"))
			assert.Equal(t, "Coffee club", r.PostForm.Get("product_data[name]"))
			assert.Equal(t, "1500", r.PostForm.Get("unit_amount"))
			_, _ = w.Write([]byte(`{"id":"price_1"}`))
		case "/v1/subscriptions":
			assert.Equal(t, "price_1", r.PostForm.Get("items[0][price]"))
			assert.Equal(t, "default_incomplete", r.PostForm.Get("payment_behavior"))
			assert.Equal(t, "10.00", r.PostForm.Get("application_fee_percent"))
			assert.Equal(t, []string{"latest_invoice.payment_intent"}, r.PostForm["expand[]"])
			_, _ = w.Write([]byte(`{"id":"sub_1","status":"incomplete","current_period_start":1767225600,"current_period_end":1769904000,
				"latest_invoice":{"payment_intent":{"client_secret":"pi_sub_secret"}}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	sub, err := c.CreateSubscription(context.Background(), SubscriptionInput{
		CustomerID:            "cus_1",
		ProductName:           "Coffee club",
		UnitAmount:            decimal.NewFromInt(15),
		Currency:              "usd",
		Interval:              IntervalMonth,
		ApplicationFeePercent: decimal.NewFromInt(10),
		DestinationAccount:    "acct_9",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1/prices", "/v1/subscriptions"}, paths)
	assert.Equal(t, "pi_sub_secret", sub.ClientSecret)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodStart)
}

func TestStripeErrorsMapToCodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/refunds" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Refund amount exceeds charge"}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	})

	_, err := c.CreateRefund(context.Background(), RefundInput{PaymentIntentID: "pi_1", Amount: decimal.NewFromInt(5), Currency: "usd"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "Refund amount exceeds charge")

	_, err = c.GetAccount(context.Background(), "acct_1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstream, apperr.CodeOf(err))
}

func TestGetAccountMapsRequirements(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/accounts/acct_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct_1","charges_enabled":false,"details_submitted":true,
			"requirements":{"currently_due":["individual.verification.document"],"disabled_reason":"requirements.pending_verification"}}`))
	})

	acct, err := c.GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, acct.DetailsSubmitted)
	assert.Equal(t, []string{"individual.verification.document"}, acct.CurrentlyDue)
	assert.Equal(t, "requirements.pending_verification", acct.DisabledReason)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), ToMinor(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, int64(1), ToMinor(decimal.RequireFromString("0.005"), "EUR"))
	assert.Equal(t, int64(500), ToMinor(decimal.NewFromInt(500), "JPY"))
	assert.True(t, FromMinor(1999, "usd").Equal(decimal.RequireFromString("19.99")))
	assert.True(t, FromMinor(500, "jpy").Equal(decimal.NewFromInt(500)))
}
