// Package orders records paid orders, drives their fulfillment through a
// fixed state machine and handles customer refund requests.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FulfillmentUnfulfilled = "unfulfilled"
	FulfillmentFulfilled   = "fulfilled"
	FulfillmentShipped     = "shipped"
	FulfillmentDelivered   = "delivered"
	FulfillmentCancelled   = "cancelled"
)

const (
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
	PaymentFailed   = "failed"
)

const (
	RefundNone      = "none"
	RefundRequested = "requested"
	RefundApproved  = "approved"
	RefundRejected  = "rejected"
)

var fulfillmentFlow = map[string][]string{
	FulfillmentUnfulfilled: {FulfillmentFulfilled, FulfillmentCancelled},
	FulfillmentFulfilled:   {FulfillmentShipped, FulfillmentCancelled},
	FulfillmentShipped:     {FulfillmentDelivered},
}

// CanTransition reports whether fulfillment may move from one status to
// another. delivered and cancelled are terminal.
func CanTransition(from, to string) bool {
	for _, s := range fulfillmentFlow[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID                 string           `json:"id"`
	ShopID             string           `json:"shop_id"`
	CustomerID         string           `json:"customer_id"`
	CheckoutSessionID  string           `json:"checkout_session_id,omitempty"`
	SubscriptionID     string           `json:"subscription_id,omitempty"`
	Items              []Item           `json:"items"`
	Currency           string           `json:"currency"`
	Subtotal           decimal.Decimal  `json:"subtotal"`
	ShippingCost       decimal.Decimal  `json:"shipping_cost"`
	PlatformFee        decimal.Decimal  `json:"platform_fee"`
	Total              decimal.Decimal  `json:"total"`
	Email              string           `json:"email"`
	ShippingAddress    *Address         `json:"shipping_address,omitempty"`
	ShippingRateName   string           `json:"shipping_rate_name,omitempty"`
	PaymentStatus      string           `json:"payment_status"`
	PaymentIntentID    string           `json:"payment_intent_id,omitempty"`
	FulfillmentStatus  string           `json:"fulfillment_status"`
	Carrier            string           `json:"carrier,omitempty"`
	TrackingNumber     string           `json:"tracking_number,omitempty"`
	RefundStatus       string           `json:"refund_status"`
	RefundReason       string           `json:"refund_reason,omitempty"`
	RefundAmount       *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundDecisionNote string           `json:"refund_decision_note,omitempty"`
	StripeRefundID     string           `json:"stripe_refund_id,omitempty"`
	PaidAt             *time.Time       `json:"paid_at,omitempty"`
	FulfilledAt        *time.Time       `json:"fulfilled_at,omitempty"`
	ShippedAt          *time.Time       `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func orderKey(o Order) (time.Time, string) { return o.CreatedAt, o.ID }

// Stats aggregates paid orders for the admin dashboard.
type Stats struct {
	Orders      int             `json:"orders"`
	GMV         decimal.Decimal `json:"gmv"`
	PlatformFee decimal.Decimal `json:"platform_revenue"`
}

// ShopRevenue is one row of the revenue-by-shop report.
type ShopRevenue struct {
	ShopID      string          `json:"shop_id"`
	Orders      int             `json:"orders"`
	Gross       decimal.Decimal `json:"gross"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Refunded    decimal.Decimal `json:"refunded"`
	Net         decimal.Decimal `json:"net"`
}
