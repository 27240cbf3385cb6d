package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
)

type Service struct {
	store   *Store
	orders  *orders.Service
	shops   *shops.Service
	gateway payments.Gateway
	events  events.Publisher
	now     func() time.Time
}

type Deps struct {
	Store   *Store
	Orders  *orders.Service
	Shops   *shops.Service
	Gateway payments.Gateway
	Events  events.Publisher
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Service{store: d.Store, orders: d.Orders, shops: d.Shops, gateway: d.Gateway, events: d.Events, now: time.Now}
}

func (s *Service) Store() *Store { return s.store }

// Record stores the subscription created by a completed checkout. A second
// call for the same Stripe subscription returns the stored record.
func (s *Service) Record(ctx context.Context, sub Subscription) (Subscription, error) {
	if existing, err := s.store.GetByStripeID(ctx, sub.StripeSubscriptionID); err == nil {
		return existing, nil
	}
	now := s.now().UTC()
	if sub.ID == "" {
		sub.ID = db.NewID("sub")
	}
	if sub.Status == "" {
		sub.Status = StatusIncomplete
	}
	sub.CreatedAt, sub.UpdatedAt = now, now
	if err := s.store.Create(ctx, sub); err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			return s.store.GetByStripeID(ctx, sub.StripeSubscriptionID)
		}
		return Subscription{}, err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.created", sub)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if p.IsAdmin() || sub.CustomerID == p.UserID {
		return sub, nil
	}
	if _, err := s.shops.RequireOwner(ctx, p, sub.ShopID); err != nil {
		return Subscription{}, apperr.NotFound("subscription")
	}
	return sub, nil
}

func (s *Service) ListMine(ctx context.Context, p auth.Principal, status string, cursor db.Cursor, limit int) (db.Page[Subscription], error) {
	return s.store.List(ctx, ListFilter{CustomerID: p.UserID, Status: status, Cursor: cursor, Limit: limit})
}

func (s *Service) ListShop(ctx context.Context, p auth.Principal, shopID, status string, cursor db.Cursor, limit int) (db.Page[Subscription], error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return db.Page[Subscription]{}, err
	}
	return s.store.List(ctx, ListFilter{ShopID: shopID, Status: status, Cursor: cursor, Limit: limit})
}

func (s *Service) CountActive(ctx context.Context) (int, error) {
	return s.store.CountByStatus(ctx, StatusActive)
}

// Cancel asks Stripe to end the subscription at the end of the current
// period. The status stays as is until Stripe reports the deletion.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id string) (Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.CustomerID != p.UserID && !p.IsAdmin() {
		return Subscription{}, apperr.NotFound("subscription")
	}
	if sub.Status == StatusCanceled {
		return Subscription{}, apperr.Conflict("subscription is already canceled")
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}
	remote, err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID, true)
	if err != nil {
		return Subscription{}, err
	}
	sub.CancelAtPeriodEnd = true
	if remote.Status != "" {
		sub.Status = FromStripe(remote.Status)
	}
	sub.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return Subscription{}, err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.cancel_requested", sub)
	return sub, nil
}

// lookup resolves the local record of a Stripe subscription. Events for
// subscriptions not created through checkout are ignored.
func (s *Service) lookup(ctx context.Context, evt payments.Event, stripeID string) (Subscription, bool, error) {
	if stripeID == "" {
		return Subscription{}, false, nil
	}
	sub, err := s.store.GetByStripeID(ctx, stripeID)
	if apperr.Is(err, apperr.CodeNotFound) {
		slog.DebugContext(ctx, "webhook for unknown subscription", "event_id", evt.ID, "stripe_subscription_id", stripeID)
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

func unixPtr(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// HandleInvoicePaid activates the subscription for the invoiced period and
// records a renewal order for subscription_cycle invoices.
func (s *Service) HandleInvoicePaid(ctx context.Context, evt payments.Event) error {
	inv, err := payments.Decode[payments.InvoiceObject](evt)
	if err != nil {
		return err
	}
	sub, ok, err := s.lookup(ctx, evt, inv.Subscription)
	if err != nil || !ok {
		return err
	}
	if period, found := inv.Period(); found {
		start, end := period.Bounds()
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = timeOrNil(start), timeOrNil(end)
	}
	if sub.Status != StatusCanceled {
		sub.Status = StatusActive
	}
	sub.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.activated", sub)

	if inv.BillingReason != payments.BillingSubscriptionCycle || inv.AmountPaid <= 0 {
		return nil
	}
	total := payments.FromMinor(inv.AmountPaid, sub.Currency)
	subtotal := sub.UnitPrice.Mul(decimal.NewFromInt(int64(sub.Quantity)))
	o, err := s.orders.CreatePaid(ctx, orders.Order{
		ShopID:         sub.ShopID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Items: []orders.Item{{
			ProductID: sub.ProductID,
			Name:      sub.ProductName,
			Quantity:  sub.Quantity,
			UnitPrice: sub.UnitPrice,
			LineTotal: subtotal,
		}},
		Currency:         sub.Currency,
		Subtotal:         subtotal,
		ShippingCost:     sub.ShippingCost,
		PlatformFee:      fees.Calculate(total, sub.PlatformFeePercent),
		Total:            total,
		Email:            sub.Email,
		ShippingAddress:  sub.ShippingAddress,
		ShippingRateName: sub.ShippingRateName,
		PaymentIntentID:  inv.PaymentIntent,
	})
	if err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.renewed", map[string]string{"subscription_id": sub.ID, "order_id": o.ID})
	return nil
}

func (s *Service) HandleInvoicePaymentFailed(ctx context.Context, evt payments.Event) error {
	inv, err := payments.Decode[payments.InvoiceObject](evt)
	if err != nil {
		return err
	}
	sub, ok, err := s.lookup(ctx, evt, inv.Subscription)
	if err != nil || !ok {
		return err
	}
	if sub.Status == StatusCanceled {
		return nil
	}
	sub.Status = StatusPastDue
	sub.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.past_due", sub)
	return nil
}

// HandleSubscriptionUpdated mirrors status, period and the cancel flag.
func (s *Service) HandleSubscriptionUpdated(ctx context.Context, evt payments.Event) error {
	obj, err := payments.Decode[payments.SubscriptionObject](evt)
	if err != nil {
		return err
	}
	sub, ok, err := s.lookup(ctx, evt, obj.ID)
	if err != nil || !ok {
		return err
	}
	s.mirror(&sub, obj)
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.updated", sub)
	return nil
}

func (s *Service) HandleSubscriptionDeleted(ctx context.Context, evt payments.Event) error {
	obj, err := payments.Decode[payments.SubscriptionObject](evt)
	if err != nil {
		return err
	}
	sub, ok, err := s.lookup(ctx, evt, obj.ID)
	if err != nil || !ok {
		return err
	}
	s.mirror(&sub, obj)
	sub.Status = StatusCanceled
	if sub.CanceledAt == nil {
		now := s.now().UTC()
		sub.CanceledAt = &now
	}
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.subscription.canceled", sub)
	return nil
}

func (s *Service) mirror(sub *Subscription, obj payments.SubscriptionObject) {
	sub.Status = FromStripe(obj.Status)
	if obj.CurrentPeriodStart > 0 {
		sub.CurrentPeriodStart = unixPtr(obj.CurrentPeriodStart)
	}
	if obj.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = unixPtr(obj.CurrentPeriodEnd)
	}
	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	if obj.CanceledAt > 0 {
		sub.CanceledAt = unixPtr(obj.CanceledAt)
	}
	sub.UpdatedAt = s.now().UTC()
}

// Register hooks the subscription handlers onto the webhook endpoint.
func (s *Service) Register(wh *payments.Webhooks) {
	wh.On(payments.EventInvoicePaid, s.HandleInvoicePaid)
	wh.On(payments.EventInvoicePaymentFailed, s.HandleInvoicePaymentFailed)
	wh.On(payments.EventSubscriptionUpdated, s.HandleSubscriptionUpdated)
	wh.On(payments.EventSubscriptionDeleted, s.HandleSubscriptionDeleted)
}

// SweepLapsed marks active subscriptions past_due when their period ended
// more than grace ago without a renewal.
func (s *Service) SweepLapsed(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	lapsed, err := s.store.MarkLapsed(ctx, now.Add(-grace), now.UTC())
	if err != nil {
		return 0, err
	}
	for _, sub := range lapsed {
		events.Emit(ctx, s.events, "marketplace.subscription.past_due", sub)
	}
	if len(lapsed) > 0 {
		slog.InfoContext(ctx, "subscriptions lapsed", "count", len(lapsed))
	}
	return len(lapsed), nil
}
