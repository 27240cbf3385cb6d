package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testSecret = "whsec_test"

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: testSecret})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

const invoicePaid = `{"id":"evt_1","object":"event","type":"invoice.paid","created":1767225600,
	"data":{"object":{"id":"in_1","subscription":"sub_1","billing_reason":"subscription_cycle","amount_paid":1500,"currency":"usd",
	"lines":{"data":[{"period":{"start":1767225600,"end":1769904000}}]}}}}`

func TestWebhookDispatchesOnceAndDecodes(t *testing.T) {
	hooks := NewWebhooks(testSecret, NewEventLog(nil))
	var got []InvoiceObject
	hooks.On(EventInvoicePaid, func(_ context.Context, evt Event) error {
		inv, err := Decode[InvoiceObject](evt)
		if err != nil {
			return err
		}
		got = append(got, inv)
		return nil
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		hooks.ServeHTTP(rec, signedRequest(t, invoicePaid))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "sub_1", got[0].Subscription)
	assert.Equal(t, BillingSubscriptionCycle, got[0].BillingReason)
	p, ok := got[0].Period()
	require.True(t, ok)
	start, _ := p.Bounds()
	assert.Equal(t, int64(1767225600), start.Unix())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	hooks := NewWebhooks(testSecret, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(invoicePaid))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	hooks.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandlerFailureIsRetried(t *testing.T) {
	hooks := NewWebhooks(testSecret, nil)
	calls := 0
	hooks.On(EventInvoicePaid, func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return errors.New("db down")
		}
		return nil
	})

	rec := httptest.NewRecorder()
	hooks.ServeHTTP(rec, signedRequest(t, invoicePaid))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	hooks.ServeHTTP(rec, signedRequest(t, invoicePaid))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestWebhookUnhandledTypeIsAcknowledged(t *testing.T) {
	hooks := NewWebhooks(testSecret, nil)
	body := `{"id":"evt_2","object":"event","type":"product.created","data":{"object":{"id":"prod_1"}}}`
	rec := httptest.NewRecorder()
	hooks.ServeHTTP(rec, signedRequest(t, body))
	assert.Equal(t, http.StatusOK, rec.Code)
}
