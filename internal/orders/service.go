package orders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/notify"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
)

type Service struct {
	store    *Store
	shops    *shops.Service
	gateway  payments.Gateway
	events   events.Publisher
	notifier notify.Notifier
	now      func() time.Time
}

type Deps struct {
	Store    *Store
	Shops    *shops.Service
	Gateway  payments.Gateway
	Events   events.Publisher
	Notifier notify.Notifier
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	return &Service{store: d.Store, shops: d.Shops, gateway: d.Gateway, events: d.Events, notifier: d.Notifier, now: time.Now}
}

func (s *Service) Store() *Store { return s.store }

// CreatePaid records a paid order. It is idempotent per checkout session and
// per payment intent: a second call returns the order already stored.
func (s *Service) CreatePaid(ctx context.Context, o Order) (Order, error) {
	if o.CheckoutSessionID != "" {
		if existing, err := s.store.GetByCheckoutSession(ctx, o.CheckoutSessionID); err == nil {
			return existing, nil
		}
	}
	if o.PaymentIntentID != "" {
		if existing, err := s.store.GetByPaymentIntent(ctx, o.PaymentIntentID); err == nil {
			return existing, nil
		}
	}
	if len(o.Items) == 0 {
		return Order{}, apperr.Invalid("order has no items")
	}
	now := s.now().UTC()
	if o.ID == "" {
		o.ID = db.NewID("ord")
	}
	o.PaymentStatus = PaymentPaid
	o.FulfillmentStatus = FulfillmentUnfulfilled
	o.RefundStatus = RefundNone
	o.PaidAt = &now
	o.CreatedAt, o.UpdatedAt = now, now
	if err := s.store.Create(ctx, o); err != nil {
		if apperr.Is(err, apperr.CodeConflict) && o.CheckoutSessionID != "" {
			return s.store.GetByCheckoutSession(ctx, o.CheckoutSessionID)
		}
		return Order{}, err
	}
	events.Emit(ctx, s.events, "marketplace.order.created", o)

	shopName := o.ShopID
	if sh, err := s.shops.Store().Get(ctx, o.ShopID); err == nil {
		shopName = sh.Name
	}
	if err := notify.Send(ctx, s.notifier, notify.OrderPaid, o.Email, map[string]any{
		"OrderID": o.ID, "ShopName": shopName, "Total": o.Total.StringFixed(2), "Currency": o.Currency,
	}); err != nil {
		slog.WarnContext(ctx, "order notification failed", "order_id", o.ID, "error", err.Error())
	}
	return o, nil
}

// Get returns an order visible to p: its customer, the shop owner or an admin.
func (s *Service) Get(ctx context.Context, p auth.Principal, orderID string) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if p.IsAdmin() || o.CustomerID == p.UserID {
		return o, nil
	}
	if _, err := s.shops.RequireOwner(ctx, p, o.ShopID); err != nil {
		return Order{}, apperr.NotFound("order")
	}
	return o, nil
}

func (s *Service) shopOrder(ctx context.Context, p auth.Principal, shopID, orderID string) (Order, error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return Order{}, err
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.ShopID != shopID {
		return Order{}, apperr.NotFound("order")
	}
	return o, nil
}

type FulfillmentInput struct {
	Status         string `json:"status"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// Transition moves the fulfillment status of a shop order.
func (s *Service) Transition(ctx context.Context, p auth.Principal, shopID, orderID string, in FulfillmentInput) (Order, error) {
	o, err := s.shopOrder(ctx, p, shopID, orderID)
	if err != nil {
		return Order{}, err
	}
	to := strings.TrimSpace(in.Status)
	if !CanTransition(o.FulfillmentStatus, to) {
		return Order{}, apperr.Newf(apperr.CodeConflict, "cannot move order from %s to %s", o.FulfillmentStatus, to)
	}
	now := s.now().UTC()
	switch to {
	case FulfillmentFulfilled:
		o.FulfilledAt = &now
	case FulfillmentShipped:
		tracking := strings.TrimSpace(in.TrackingNumber)
		if tracking == "" {
			return Order{}, apperr.Invalid("tracking_number is required to ship an order")
		}
		o.TrackingNumber = tracking
		o.Carrier = strings.TrimSpace(in.Carrier)
		o.ShippedAt = &now
	case FulfillmentDelivered:
		o.DeliveredAt = &now
	case FulfillmentCancelled:
		o.CancelledAt = &now
	}
	o.FulfillmentStatus = to
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return Order{}, err
	}
	events.Emit(ctx, s.events, "marketplace.order."+to, o)
	if to == FulfillmentShipped {
		if err := notify.Send(ctx, s.notifier, notify.OrderShipped, o.Email, map[string]any{
			"OrderID": o.ID, "Carrier": o.Carrier, "TrackingNumber": o.TrackingNumber,
		}); err != nil {
			slog.WarnContext(ctx, "shipping notification failed", "order_id", o.ID, "error", err.Error())
		}
	}
	return o, nil
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

func (s *Service) RequestRefund(ctx context.Context, p auth.Principal, orderID string, in RefundRequest) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.CustomerID != p.UserID {
		return Order{}, apperr.NotFound("order")
	}
	if o.PaymentStatus != PaymentPaid {
		return Order{}, apperr.Conflict("only paid orders can be refunded")
	}
	if o.RefundStatus == RefundRequested || o.RefundStatus == RefundApproved {
		return Order{}, apperr.Conflict("a refund is already " + o.RefundStatus)
	}
	amount := o.Total
	if in.Amount != nil {
		amount = in.Amount.Round(2)
	}
	if !amount.IsPositive() || amount.GreaterThan(o.Total) {
		return Order{}, apperr.Invalid("refund amount must be greater than 0 and at most the order total")
	}
	o.RefundStatus = RefundRequested
	o.RefundAmount = &amount
	o.RefundReason = strings.TrimSpace(in.Reason)
	o.RefundDecisionNote = ""
	o.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return Order{}, err
	}
	events.Emit(ctx, s.events, "marketplace.order.refund_requested", o)
	return o, nil
}

// DecideRefund approves or rejects a pending refund. Approval refunds the
// payment through Stripe, reversing the transfer and the application fee.
func (s *Service) DecideRefund(ctx context.Context, p auth.Principal, shopID, orderID string, approve bool, note string) (Order, error) {
	o, err := s.shopOrder(ctx, p, shopID, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.RefundStatus != RefundRequested {
		return Order{}, apperr.Conflict("no pending refund request")
	}
	decision, topic := RefundRejected, "marketplace.order.refund_rejected"
	if approve {
		if o.PaymentIntentID == "" {
			return Order{}, apperr.Conflict("order has no payment to refund")
		}
		refund, err := s.gateway.CreateRefund(ctx, payments.RefundInput{
			PaymentIntentID: o.PaymentIntentID,
			Amount:          *o.RefundAmount,
			Currency:        o.Currency,
			Reason:          "requested_by_customer",
			Metadata:        map[string]string{"order_id": o.ID, "shop_id": o.ShopID},
			IdempotencyKey:  "refund-" + o.ID,
		})
		if err != nil {
			return Order{}, err
		}
		o.StripeRefundID = refund.ID
		o.PaymentStatus = PaymentRefunded
		decision, topic = RefundApproved, "marketplace.order.refund_approved"
	}
	o.RefundStatus = decision
	o.RefundDecisionNote = strings.TrimSpace(note)
	o.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, o); err != nil {
		return Order{}, err
	}
	events.Emit(ctx, s.events, topic, o)
	if err := notify.Send(ctx, s.notifier, notify.RefundDecided, o.Email, map[string]any{
		"OrderID": o.ID, "Decision": decision, "Amount": o.RefundAmount.StringFixed(2), "Currency": o.Currency, "Note": o.RefundDecisionNote,
	}); err != nil {
		slog.WarnContext(ctx, "refund notification failed", "order_id", o.ID, "error", err.Error())
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, p auth.Principal, cursor db.Cursor, limit int) (db.Page[Order], error) {
	return s.store.List(ctx, ListFilter{CustomerID: p.UserID, Cursor: cursor, Limit: limit})
}

func (s *Service) ListShop(ctx context.Context, p auth.Principal, shopID string, f ListFilter) (db.Page[Order], error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return db.Page[Order]{}, err
	}
	f.ShopID = shopID
	f.CustomerID = ""
	return s.store.List(ctx, f)
}

func (s *Service) ListAll(ctx context.Context, f ListFilter) (db.Page[Order], error) {
	return s.store.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) RevenueByShop(ctx context.Context, from, to time.Time) ([]ShopRevenue, error) {
	if !to.After(from) {
		return nil, apperr.Invalid("to must be after from")
	}
	return s.store.RevenueByShop(ctx, from, to)
}
