// Package paymentstest provides an in-memory payments.Gateway for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
)

type Gateway struct {
	mu  sync.Mutex
	seq int

	// Accounts returned by GetAccount, keyed by account id.
	Accounts map[string]payments.Account
	// Fail, when set, is returned by every call.
	Fail error

	Intents       []payments.PaymentIntentInput
	Subscriptions []payments.SubscriptionInput
	Refunds       []payments.RefundInput
	Canceled      []string
	// CanceledIntents lists payment intents voided through CancelPaymentIntent.
	CanceledIntents []string
	confirmed       map[string]bool
}

func New() *Gateway {
	return &Gateway{Accounts: make(map[string]payments.Account)}
}

func (g *Gateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_test_%d", prefix, g.seq)
}

func (g *Gateway) CreateConnectAccount(_ context.Context, in payments.ConnectAccountInput) (payments.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.Account{}, g.Fail
	}
	acct := payments.Account{ID: g.next("acct"), CurrentlyDue: []string{"external_account"}}
	g.Accounts[acct.ID] = acct
	return acct, nil
}

// Verify marks an account as fully onboarded.
func (g *Gateway) Verify(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts[accountID] = payments.Account{ID: accountID, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
}

func (g *Gateway) GetAccount(_ context.Context, accountID string) (payments.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.Account{}, g.Fail
	}
	acct, ok := g.Accounts[accountID]
	if !ok {
		return payments.Account{}, apperr.Upstream("stripe account lookup failed", fmt.Errorf("no such account %s", accountID))
	}
	return acct, nil
}

func (g *Gateway) CreateAccountLink(_ context.Context, accountID, refreshURL, returnURL string) (string, error) {
	if g.Fail != nil {
		return "", g.Fail
	}
	return "https://connect.stripe.test/setup/" + accountID, nil
}

func (g *Gateway) CreateCustomer(_ context.Context, email, name, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return "", g.Fail
	}
	return g.next("cus"), nil
}

func (g *Gateway) CreatePaymentIntent(_ context.Context, in payments.PaymentIntentInput) (payments.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.PaymentIntent{}, g.Fail
	}
	g.Intents = append(g.Intents, in)
	id := g.next("pi")
	return payments.PaymentIntent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

// Confirm marks an intent as charged; cancelling it afterwards fails the way
// Stripe does.
func (g *Gateway) Confirm(paymentIntentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.confirmed == nil {
		g.confirmed = make(map[string]bool)
	}
	g.confirmed[paymentIntentID] = true
}

func (g *Gateway) CancelPaymentIntent(_ context.Context, paymentIntentID string) (payments.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.PaymentIntent{}, g.Fail
	}
	if g.confirmed[paymentIntentID] {
		return payments.PaymentIntent{}, apperr.Upstream("stripe request failed", fmt.Errorf("payment intent %s has status succeeded", paymentIntentID))
	}
	g.CanceledIntents = append(g.CanceledIntents, paymentIntentID)
	return payments.PaymentIntent{ID: paymentIntentID, Status: "canceled"}, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, in payments.SubscriptionInput) (payments.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.Subscription{}, g.Fail
	}
	g.Subscriptions = append(g.Subscriptions, in)
	id := g.next("sub")
	now := time.Now().UTC().Truncate(time.Second)
	return payments.Subscription{
		ID:                 id,
		Status:             "incomplete",
		ClientSecret:       id + "_pi_secret",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) (payments.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.Subscription{}, g.Fail
	}
	g.Canceled = append(g.Canceled, subscriptionID)
	status := "active"
	if !atPeriodEnd {
		status = "canceled"
	}
	return payments.Subscription{ID: subscriptionID, Status: status, CancelAtPeriodEnd: atPeriodEnd}, nil
}

func (g *Gateway) CreateRefund(_ context.Context, in payments.RefundInput) (payments.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return payments.Refund{}, g.Fail
	}
	g.Refunds = append(g.Refunds, in)
	return payments.Refund{ID: g.next("re"), Status: "succeeded"}, nil
}

var _ payments.Gateway = (*Gateway)(nil)
