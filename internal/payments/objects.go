package payments

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a verified webhook event. Raw holds data.object.
type Event struct {
	ID      string
	Type    string
	Account string
	Created time.Time
	Raw     json.RawMessage
}

// Decode unmarshals the event object into one of the payload types below.
func Decode[T any](evt Event) (T, error) {
	var out T
	if len(evt.Raw) == 0 {
		return out, fmt.Errorf("event %s has no object", evt.ID)
	}
	if err := json.Unmarshal(evt.Raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", evt.Type, err)
	}
	return out, nil
}

// Event types the marketplace reacts to.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventInvoicePaid            = "invoice.paid"
	EventInvoicePaymentFailed   = "invoice.payment_failed"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventAccountUpdated         = "account.updated"
	EventDisputeCreated         = "charge.dispute.created"
	EventDisputeClosed          = "charge.dispute.closed"
)

type PaymentIntentObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// FailureMessage returns Stripe's reason for the last failed attempt.
func (p PaymentIntentObject) FailureMessage() string {
	if p.LastPaymentError == nil {
		return "payment failed"
	}
	if p.LastPaymentError.Message != "" {
		return p.LastPaymentError.Message
	}
	return p.LastPaymentError.Code
}

type Period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (p Period) Bounds() (time.Time, time.Time) {
	return unix(p.Start), unix(p.End)
}

// Billing reasons on invoices.
const (
	BillingSubscriptionCreate = "subscription_create"
	BillingSubscriptionCycle  = "subscription_cycle"
)

type InvoiceObject struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	Lines         struct {
		Data []struct {
			Period Period `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// Period is the service period of the first invoice line.
func (i InvoiceObject) Period() (Period, bool) {
	if len(i.Lines.Data) == 0 {
		return Period{}, false
	}
	return i.Lines.Data[0].Period, true
}

type SubscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
}

type AccountObject struct {
	accountResp
}

func (a AccountObject) Account() Account { return a.toAccount() }

type DisputeObject struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
