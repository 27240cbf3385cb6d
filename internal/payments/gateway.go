// Package payments wraps everything the marketplace delegates to Stripe:
// Connect accounts and onboarding links (KYC is Stripe's), payment intents
// with application fees, recurring subscriptions, refunds, and the signed
// webhook endpoint that reports their outcome.
package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Gateway interface {
	CreateConnectAccount(ctx context.Context, in ConnectAccountInput) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) (PaymentIntent, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (Subscription, error)
	CreateRefund(ctx context.Context, in RefundInput) (Refund, error)
}

type ConnectAccountInput struct {
	Email   string
	Country string
	ShopID  string
}

type Account struct {
	ID               string   `json:"id"`
	ChargesEnabled   bool     `json:"charges_enabled"`
	PayoutsEnabled   bool     `json:"payouts_enabled"`
	DetailsSubmitted bool     `json:"details_submitted"`
	CurrentlyDue     []string `json:"currently_due,omitempty"`
	DisabledReason   string   `json:"disabled_reason,omitempty"`
}

type PaymentIntentInput struct {
	Amount             decimal.Decimal
	Currency           string
	ApplicationFee     decimal.Decimal
	DestinationAccount string
	CustomerID         string
	ReceiptEmail       string
	Description        string
	Metadata           map[string]string
	IdempotencyKey     string
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// Interval values accepted by Stripe recurring prices.
const (
	IntervalWeek  = "week"
	IntervalMonth = "month"
	IntervalYear  = "year"
)

type SubscriptionInput struct {
	CustomerID            string
	ProductName           string
	UnitAmount            decimal.Decimal
	Currency              string
	Interval              string
	Quantity              int64
	ApplicationFeePercent decimal.Decimal
	DestinationAccount    string
	Metadata              map[string]string
	IdempotencyKey        string
}

type Subscription struct {
	ID                 string
	Status             string
	ClientSecret       string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

type RefundInput struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
