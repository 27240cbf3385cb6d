package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	client *resty.Client
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.SecretKey).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Stripe-Version", "2024-06-20")
	return &StripeClient{client: c}
}

type stripeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func (s *StripeClient) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var apiErr stripeErrorEnvelope
	req := s.client.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr)
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	if form != nil {
		req.SetFormDataFromValues(form)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return apperr.Upstream("stripe request failed", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		if resp.StatusCode() == 400 || resp.StatusCode() == 402 {
			return apperr.Newf(apperr.CodeInvalidInput, "stripe: %s", msg)
		}
		return apperr.Upstream("stripe "+path+" failed", fmt.Errorf("%d %s", resp.StatusCode(), msg))
	}
	return nil
}

func setMetadata(form url.Values, md map[string]string) {
	for k, v := range md {
		form.Set("metadata["+k+"]", v)
	}
}

type accountResp struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Requirements     struct {
		CurrentlyDue   []string `json:"currently_due"`
		DisabledReason string   `json:"disabled_reason"`
	} `json:"requirements"`
}

func (a accountResp) toAccount() Account {
	return Account{
		ID:               a.ID,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
		CurrentlyDue:     a.Requirements.CurrentlyDue,
		DisabledReason:   a.Requirements.DisabledReason,
	}
}

func (s *StripeClient) CreateConnectAccount(ctx context.Context, in ConnectAccountInput) (Account, error) {
	form := url.Values{}
	form.Set("type", "express")
	if in.Country != "" {
		form.Set("country", in.Country)
	}
	if in.Email != "" {
		form.Set("email", in.Email)
	}
	form.Set("capabilities[card_payments][requested]", "true")
	form.Set("capabilities[transfers][requested]", "true")
	form.Set("metadata[shop_id]", in.ShopID)

	var out accountResp
	if err := s.do(ctx, resty.MethodPost, "/v1/accounts", form, "acct-"+in.ShopID, &out); err != nil {
		return Account{}, err
	}
	return out.toAccount(), nil
}

func (s *StripeClient) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var out accountResp
	if err := s.do(ctx, resty.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, "", &out); err != nil {
		return Account{}, err
	}
	return out.toAccount(), nil
}

func (s *StripeClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var out struct {
		URL string `json:"url"`
	}
	if err := s.do(ctx, resty.MethodPost, "/v1/account_links", form, "", &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (s *StripeClient) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	form.Set("metadata[user_id]", userID)

	var out struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, resty.MethodPost, "/v1/customers", form, "cus-"+userID, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (s *StripeClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(ToMinor(in.Amount, in.Currency), 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if in.DestinationAccount != "" {
		form.Set("transfer_data[destination]", in.DestinationAccount)
		form.Set("application_fee_amount", strconv.FormatInt(ToMinor(in.ApplicationFee, in.Currency), 10))
	}
	if in.CustomerID != "" {
		form.Set("customer", in.CustomerID)
	}
	if in.ReceiptEmail != "" {
		form.Set("receipt_email", in.ReceiptEmail)
	}
	if in.Description != "" {
		form.Set("description", in.Description)
	}
	setMetadata(form, in.Metadata)

	var out PaymentIntent
	if err := s.do(ctx, resty.MethodPost, "/v1/payment_intents", form, in.IdempotencyKey, &out); err != nil {
		return PaymentIntent{}, err
	}
	return out, nil
}

// CancelPaymentIntent voids an unconfirmed intent. Stripe refuses once the
// intent is processing or has succeeded.
func (s *StripeClient) CancelPaymentIntent(ctx context.Context, paymentIntentID string) (PaymentIntent, error) {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")
	var out PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(paymentIntentID) + "/cancel"
	if err := s.do(ctx, resty.MethodPost, path, form, "", &out); err != nil {
		return PaymentIntent{}, err
	}
	return out, nil
}

type subscriptionResp struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	LatestInvoice      *struct {
		PaymentIntent *struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"latest_invoice"`
}

func (r subscriptionResp) toSubscription() Subscription {
	sub := Subscription{
		ID:                r.ID,
		Status:            r.Status,
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
	}
	if r.CurrentPeriodStart > 0 {
		sub.CurrentPeriodStart = time.Unix(r.CurrentPeriodStart, 0).UTC()
	}
	if r.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(r.CurrentPeriodEnd, 0).UTC()
	}
	if r.LatestInvoice != nil && r.LatestInvoice.PaymentIntent != nil {
		sub.ClientSecret = r.LatestInvoice.PaymentIntent.ClientSecret
	}
	return sub
}

// CreateSubscription creates an inline recurring price and a subscription
// left incomplete until the first invoice's payment intent is confirmed by
// the client.
func (s *StripeClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error) {
	priceForm := url.Values{}
	priceForm.Set("unit_amount", strconv.FormatInt(ToMinor(in.UnitAmount, in.Currency), 10))
	priceForm.Set("currency", strings.ToLower(in.Currency))
	priceForm.Set("recurring[interval]", in.Interval)
	priceForm.Set("product_data[name]", in.ProductName)
	var price struct {
		ID string `json:"id"`
	}
	priceKey := ""
	if in.IdempotencyKey != "" {
		priceKey = in.IdempotencyKey + "-price"
	}
	if err := s.do(ctx, resty.MethodPost, "/v1/prices", priceForm, priceKey, &price); err != nil {
		return Subscription{}, err
	}

	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	form := url.Values{}
	form.Set("customer", in.CustomerID)
	form.Set("items[0][price]", price.ID)
	form.Set("items[0][quantity]", strconv.FormatInt(qty, 10))
	form.Set("payment_behavior", "default_incomplete")
	form.Set("payment_settings[save_default_payment_method]", "on_subscription")
	form.Add("expand[]", "latest_invoice.payment_intent")
	if in.DestinationAccount != "" {
		form.Set("transfer_data[destination]", in.DestinationAccount)
		form.Set("application_fee_percent", in.ApplicationFeePercent.StringFixed(2))
	}
	setMetadata(form, in.Metadata)

	var out subscriptionResp
	if err := s.do(ctx, resty.MethodPost, "/v1/subscriptions", form, in.IdempotencyKey, &out); err != nil {
		return Subscription{}, err
	}
	return out.toSubscription(), nil
}

func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (Subscription, error) {
	var out subscriptionResp
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		if err := s.do(ctx, resty.MethodPost, path, form, "", &out); err != nil {
			return Subscription{}, err
		}
		return out.toSubscription(), nil
	}
	if err := s.do(ctx, resty.MethodDelete, path, nil, "", &out); err != nil {
		return Subscription{}, err
	}
	return out.toSubscription(), nil
}

func (s *StripeClient) CreateRefund(ctx context.Context, in RefundInput) (Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", in.PaymentIntentID)
	if in.Amount.IsPositive() {
		form.Set("amount", strconv.FormatInt(ToMinor(in.Amount, in.Currency), 10))
	}
	if in.Reason != "" {
		form.Set("reason", in.Reason)
	}
	form.Set("reverse_transfer", "true")
	form.Set("refund_application_fee", "true")
	setMetadata(form, in.Metadata)

	var out Refund
	if err := s.do(ctx, resty.MethodPost, "/v1/refunds", form, in.IdempotencyKey, &out); err != nil {
		return Refund{}, err
	}
	return out, nil
}
