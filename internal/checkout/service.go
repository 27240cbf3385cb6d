package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/products"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shipping"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/subscriptions"
)

const (
	DefaultTTL = 24 * time.Hour
	maxLines   = 50
)

var countryRe = regexp.MustCompile(`^[A-Z]{2}$`)

var stripeInterval = map[string]string{
	products.PurchaseWeekly:  payments.IntervalWeek,
	products.PurchaseMonthly: payments.IntervalMonth,
	products.PurchaseYearly:  payments.IntervalYear,
}

type Service struct {
	store         *Store
	products      *products.Service
	shipping      *shipping.Service
	shops         *shops.Service
	orders        *orders.Service
	subscriptions *subscriptions.Service
	fees          *fees.Settings
	users         *auth.Service
	gateway       payments.Gateway
	events        events.Publisher
	ttl           time.Duration
	now           func() time.Time
}

type Deps struct {
	Store         *Store
	Products      *products.Service
	Shipping      *shipping.Service
	Shops         *shops.Service
	Orders        *orders.Service
	Subscriptions *subscriptions.Service
	Fees          *fees.Settings
	Users         *auth.Service
	Gateway       payments.Gateway
	Events        events.Publisher
	TTL           time.Duration
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.TTL <= 0 {
		d.TTL = DefaultTTL
	}
	return &Service{
		store:         d.Store,
		products:      d.Products,
		shipping:      d.Shipping,
		shops:         d.Shops,
		orders:        d.Orders,
		subscriptions: d.Subscriptions,
		fees:          d.Fees,
		users:         d.Users,
		gateway:       d.Gateway,
		events:        d.Events,
		ttl:           d.TTL,
		now:           time.Now,
	}
}

func (s *Service) Store() *Store { return s.store }

type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateInput struct {
	PurchaseType string      `json:"purchase_type"`
	Items        []LineInput `json:"items"`
}

// Create opens a session at step 1. Every line must be an active product of
// the same active shop, priced for the purchase type and in stock.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Session, error) {
	pt := strings.TrimSpace(in.PurchaseType)
	if pt == "" {
		pt = products.PurchaseOneTime
	}
	if !products.ValidPurchaseType(pt) {
		return Session{}, apperr.Invalid("purchase_type must be one_time, weekly, monthly or yearly")
	}
	if len(in.Items) == 0 {
		return Session{}, apperr.Invalid("at least one item is required")
	}
	if len(in.Items) > maxLines {
		return Session{}, apperr.Newf(apperr.CodeInvalidInput, "at most %d items per checkout", maxLines)
	}
	if products.IsRecurring(pt) && len(in.Items) != 1 {
		return Session{}, apperr.Invalid("a subscription checkout carries exactly one product")
	}

	var shopID, currency string
	subtotal := decimal.Zero
	seen := map[string]bool{}
	items := make([]orders.Item, 0, len(in.Items))
	for _, line := range in.Items {
		if line.Quantity <= 0 {
			return Session{}, apperr.Invalid("quantity must be greater than 0")
		}
		if seen[line.ProductID] {
			return Session{}, apperr.Invalid("each product may appear only once")
		}
		seen[line.ProductID] = true
		prod, err := s.products.GetPublic(ctx, line.ProductID)
		if err != nil {
			return Session{}, err
		}
		if shopID == "" {
			shopID, currency = prod.ShopID, prod.Currency
		} else if prod.ShopID != shopID {
			return Session{}, apperr.Invalid("all items must come from the same shop")
		}
		price, ok := prod.PriceFor(pt)
		if !ok {
			return Session{}, apperr.Newf(apperr.CodeInvalidInput, "%s is not offered as %s", prod.Name, pt)
		}
		if prod.Stock != nil && *prod.Stock < line.Quantity {
			return Session{}, apperr.Newf(apperr.CodeConflict, "only %d of %s left in stock", *prod.Stock, prod.Name)
		}
		lineTotal := price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		items = append(items, orders.Item{ProductID: prod.ID, Name: prod.Name, Quantity: line.Quantity, UnitPrice: price, LineTotal: lineTotal})
		subtotal = subtotal.Add(lineTotal)
	}

	now := s.now().UTC()
	sess := Session{
		ID:           db.NewID("chk"),
		CustomerID:   p.UserID,
		ShopID:       shopID,
		PurchaseType: pt,
		Items:        items,
		Currency:     currency,
		Subtotal:     subtotal,
		Email:        p.Email,
		ShippingCost: decimal.Zero,
		PlatformFee:  decimal.Zero,
		Total:        subtotal,
		CurrentStep:  StepItems,
		Status:       StatusOpen,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.created", sess)
	return sess, nil
}

// load fetches a session for its customer and applies lazy expiry.
func (s *Service) load(ctx context.Context, p auth.Principal, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.CustomerID != p.UserID {
		return Session{}, apperr.Forbidden("not your checkout session")
	}
	if sess.Mutable() && s.now().After(sess.ExpiresAt) {
		sess.Status = StatusExpired
		sess.UpdatedAt = s.now().UTC()
		if err := s.store.Update(ctx, sess); err != nil {
			return Session{}, err
		}
		events.Emit(ctx, s.events, "marketplace.checkout.expired", sess)
	}
	return sess, nil
}

// mutable loads a session that may still change.
func (s *Service) mutable(ctx context.Context, p auth.Principal, id string) (Session, error) {
	sess, err := s.load(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	switch sess.Status {
	case StatusExpired:
		return Session{}, apperr.New(apperr.CodeExpired, "checkout session expired")
	case StatusCompleted, StatusCancelled:
		return Session{}, apperr.Conflict("checkout session is " + sess.Status)
	}
	return sess, nil
}

// editable is mutable minus sessions waiting for Stripe to confirm a payment.
func (s *Service) editable(ctx context.Context, p auth.Principal, id string) (Session, error) {
	sess, err := s.mutable(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusPaymentPending {
		return Session{}, apperr.Conflict("payment in progress; cancel the checkout to change it")
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Session, error) {
	return s.load(ctx, p, id)
}

func (s *Service) ListMine(ctx context.Context, p auth.Principal, status string, cursor db.Cursor, limit int) (db.Page[Session], error) {
	return s.store.ListByCustomer(ctx, p.UserID, status, cursor, limit)
}

type InfoInput struct {
	Email   string         `json:"email"`
	Address orders.Address `json:"shipping_address"`
}

func (in InfoInput) normalize(fallbackEmail string) (string, orders.Address, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		email = fallbackEmail
	}
	if email == "" || !strings.Contains(email, "@") {
		return "", orders.Address{}, apperr.Invalid("a valid email is required")
	}
	a := in.Address
	a.Name, a.Line1, a.Line2 = strings.TrimSpace(a.Name), strings.TrimSpace(a.Line1), strings.TrimSpace(a.Line2)
	a.City, a.State, a.PostalCode = strings.TrimSpace(a.City), strings.TrimSpace(a.State), strings.TrimSpace(a.PostalCode)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name}, {"line1", a.Line1}, {"city", a.City}, {"postal_code", a.PostalCode}, {"country", a.Country},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "", orders.Address{}, apperr.Invalid("shipping_address is missing " + strings.Join(missing, ", "))
	}
	if !countryRe.MatchString(a.Country) {
		return "", orders.Address{}, apperr.Invalid("country must be an ISO-3166 alpha-2 code")
	}
	return email, a, nil
}

// SaveInfo records buyer e-mail and address and moves to step 2. Any
// shipping selection is dropped because it depends on the address.
func (s *Service) SaveInfo(ctx context.Context, p auth.Principal, id string, in InfoInput) (Session, error) {
	sess, err := s.editable(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	email, addr, err := in.normalize(p.Email)
	if err != nil {
		return Session{}, err
	}
	if err := s.voidPayment(ctx, &sess); err != nil {
		return Session{}, err
	}
	sess.Email = email
	sess.ShippingAddress = &addr
	sess.ShippingRateID, sess.ShippingRateName = "", ""
	sess.ShippingCost = decimal.Zero
	sess.Total = sess.Subtotal
	sess.CurrentStep = StepInfo
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.info_saved", sess)
	return sess, nil
}

// ShippingOptions quotes the shop's rates for the saved address.
func (s *Service) ShippingOptions(ctx context.Context, p auth.Principal, id string) ([]shipping.Option, error) {
	sess, err := s.mutable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if sess.CurrentStep < StepInfo || sess.ShippingAddress == nil {
		return nil, apperr.Conflict("save buyer information first")
	}
	return s.shipping.QuoteRates(ctx, sess.ShopID, sess.ShippingAddress.Country, sess.Subtotal)
}

type ShippingInput struct {
	RateID string `json:"shipping_rate_id"`
}

// SelectShipping prices the chosen rate for the saved destination and moves
// to step 3.
func (s *Service) SelectShipping(ctx context.Context, p auth.Principal, id string, in ShippingInput) (Session, error) {
	sess, err := s.editable(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if sess.CurrentStep < StepInfo || sess.ShippingAddress == nil {
		return Session{}, apperr.Conflict("save buyer information first")
	}
	opts, err := s.shipping.QuoteRates(ctx, sess.ShopID, sess.ShippingAddress.Country, sess.Subtotal)
	if err != nil {
		return Session{}, err
	}
	var chosen *shipping.Option
	for i := range opts {
		if opts[i].RateID == in.RateID {
			chosen = &opts[i]
			break
		}
	}
	if chosen == nil {
		return Session{}, apperr.Invalid("shipping rate is not available for this destination")
	}
	if err := s.voidPayment(ctx, &sess); err != nil {
		return Session{}, err
	}
	sess.ShippingRateID = chosen.RateID
	sess.ShippingRateName = chosen.Name
	sess.ShippingCost = chosen.Price
	sess.Total = sess.Subtotal.Add(chosen.Price)
	sess.CurrentStep = StepShipping
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.shipping_selected", sess)
	return sess, nil
}

// Payment is what the client needs to confirm the charge with Stripe.js.
type Payment struct {
	Session              Session `json:"session"`
	ClientSecret         string  `json:"client_secret"`
	PaymentIntentID      string  `json:"payment_intent_id,omitempty"`
	StripeSubscriptionID string  `json:"stripe_subscription_id,omitempty"`
}

func paymentOf(sess Session) Payment {
	return Payment{Session: sess, ClientSecret: sess.ClientSecret, PaymentIntentID: sess.PaymentIntentID, StripeSubscriptionID: sess.StripeSubscriptionID}
}

// CreatePayment creates the Stripe payment intent (one-time) or subscription
// (recurring) for a step-3 session. Calling it again returns the same one.
func (s *Service) CreatePayment(ctx context.Context, p auth.Principal, id string) (Payment, error) {
	sess, err := s.mutable(ctx, p, id)
	if err != nil {
		return Payment{}, err
	}
	if sess.ClientSecret != "" {
		if sess.Status == StatusOpen {
			sess.Status = StatusPaymentPending
			sess.UpdatedAt = s.now().UTC()
			if err := s.store.Update(ctx, sess); err != nil {
				return Payment{}, err
			}
		}
		return paymentOf(sess), nil
	}
	if sess.CurrentStep < StepShipping {
		return Payment{}, apperr.Conflict("select a shipping rate first")
	}
	shop, err := s.shops.GetActive(ctx, sess.ShopID)
	if err != nil {
		return Payment{}, err
	}
	if shop.StripeAccountID == "" || !shop.ChargesEnabled {
		return Payment{}, apperr.Conflict("shop cannot accept payments yet")
	}
	platformDefault, err := s.fees.DefaultPercent(ctx)
	if err != nil {
		return Payment{}, err
	}
	pct := fees.Effective(shop.PlatformFeePercent, platformDefault)
	fee := fees.Calculate(sess.Total, pct)
	customerID, err := s.users.StripeCustomer(ctx, s.gateway, sess.CustomerID)
	if err != nil {
		return Payment{}, err
	}

	sess.PaymentAttempts++
	key := fmt.Sprintf("checkout-%s-%d", sess.ID, sess.PaymentAttempts)
	meta := map[string]string{"checkout_session_id": sess.ID, "shop_id": sess.ShopID, "customer_id": sess.CustomerID}
	if products.IsRecurring(sess.PurchaseType) {
		line := sess.Items[0]
		sub, err := s.gateway.CreateSubscription(ctx, payments.SubscriptionInput{
			CustomerID:            customerID,
			ProductName:           fmt.Sprintf("%s x%d (%s)", line.Name, line.Quantity, shop.Name),
			UnitAmount:            sess.Total,
			Currency:              sess.Currency,
			Interval:              stripeInterval[sess.PurchaseType],
			Quantity:              1,
			ApplicationFeePercent: pct,
			DestinationAccount:    shop.StripeAccountID,
			Metadata:              meta,
			IdempotencyKey:        key,
		})
		if err != nil {
			return Payment{}, err
		}
		sess.StripeSubscriptionID = sub.ID
		sess.ClientSecret = sub.ClientSecret
	} else {
		pi, err := s.gateway.CreatePaymentIntent(ctx, payments.PaymentIntentInput{
			Amount:             sess.Total,
			Currency:           sess.Currency,
			ApplicationFee:     fee,
			DestinationAccount: shop.StripeAccountID,
			CustomerID:         customerID,
			ReceiptEmail:       sess.Email,
			Description:        fmt.Sprintf("%s order %s", shop.Name, sess.ID),
			Metadata:           meta,
			IdempotencyKey:     key,
		})
		if err != nil {
			return Payment{}, err
		}
		sess.PaymentIntentID = pi.ID
		sess.ClientSecret = pi.ClientSecret
	}
	sess.PlatformFeePercent = &pct
	sess.PlatformFee = fee
	sess.Status = StatusPaymentPending
	sess.LastError = ""
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess); err != nil {
		return Payment{}, err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.payment_created", sess)
	return paymentOf(sess), nil
}

func (s *Service) Cancel(ctx context.Context, p auth.Principal, id string) (Session, error) {
	sess, err := s.mutable(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if err := s.voidPayment(ctx, &sess); err != nil {
		return Session{}, err
	}
	sess.Status = StatusCancelled
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.cancelled", sess)
	return sess, nil
}

// voidPayment cancels the Stripe intent or incomplete subscription of an
// earlier attempt, then clears it from the session. If Stripe refuses, the
// session keeps its ids so a late success still completes it.
func (s *Service) voidPayment(ctx context.Context, sess *Session) error {
	switch {
	case sess.StripeSubscriptionID != "":
		if _, err := s.gateway.CancelSubscription(ctx, sess.StripeSubscriptionID, false); err != nil {
			return apperr.Wrap(apperr.CodeConflict, "previous payment could not be cancelled", err)
		}
		slog.InfoContext(ctx, "voided checkout subscription", "session_id", sess.ID, "stripe_subscription_id", sess.StripeSubscriptionID)
	case sess.PaymentIntentID != "":
		if _, err := s.gateway.CancelPaymentIntent(ctx, sess.PaymentIntentID); err != nil {
			return apperr.Wrap(apperr.CodeConflict, "previous payment could not be cancelled", err)
		}
		slog.InfoContext(ctx, "voided checkout payment intent", "session_id", sess.ID, "payment_intent_id", sess.PaymentIntentID)
	}
	sess.clearPayment()
	return nil
}

// Complete turns a paid session into an order, and for recurring sessions
// into a subscription record. Completing twice is a no-op.
func (s *Service) Complete(ctx context.Context, sess Session, paymentIntentID string, period *payments.Period) (Session, error) {
	if sess.Status == StatusCompleted {
		return sess, nil
	}
	if !sess.Mutable() {
		slog.WarnContext(ctx, "payment received for closed checkout session", "session_id", sess.ID, "status", sess.Status)
	}
	if paymentIntentID == "" {
		paymentIntentID = sess.PaymentIntentID
	}
	recurring := products.IsRecurring(sess.PurchaseType)
	order := orders.Order{
		ShopID:            sess.ShopID,
		CustomerID:        sess.CustomerID,
		CheckoutSessionID: sess.ID,
		Items:             sess.Items,
		Currency:          sess.Currency,
		Subtotal:          sess.Subtotal,
		ShippingCost:      sess.ShippingCost,
		PlatformFee:       sess.PlatformFee,
		Total:             sess.Total,
		Email:             sess.Email,
		ShippingAddress:   sess.ShippingAddress,
		ShippingRateName:  sess.ShippingRateName,
		PaymentIntentID:   paymentIntentID,
	}
	if recurring {
		order.SubscriptionID = db.NewID("sub")
	}
	o, err := s.orders.CreatePaid(ctx, order)
	if err != nil {
		return Session{}, err
	}

	if recurring {
		line := sess.Items[0]
		pct := decimal.Zero
		if sess.PlatformFeePercent != nil {
			pct = *sess.PlatformFeePercent
		}
		sub := subscriptions.Subscription{
			ID:                   o.SubscriptionID,
			CustomerID:           sess.CustomerID,
			ShopID:               sess.ShopID,
			ProductID:            line.ProductID,
			ProductName:          line.Name,
			OrderID:              o.ID,
			StripeSubscriptionID: sess.StripeSubscriptionID,
			Interval:             sess.PurchaseType,
			Quantity:             line.Quantity,
			UnitPrice:            line.UnitPrice,
			ShippingCost:         sess.ShippingCost,
			Price:                sess.Total,
			Currency:             sess.Currency,
			PlatformFeePercent:   pct,
			Email:                sess.Email,
			ShippingAddress:      sess.ShippingAddress,
			ShippingRateName:     sess.ShippingRateName,
			Status:               subscriptions.StatusActive,
		}
		if period != nil {
			start, end := period.Bounds()
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd = &start, &end
		}
		if _, err := s.subscriptions.Record(ctx, sub); err != nil {
			return Session{}, err
		}
	}

	now := s.now().UTC()
	sess.Status = StatusCompleted
	sess.OrderID = o.ID
	sess.PaymentIntentID = paymentIntentID
	sess.CompletedAt = &now
	sess.LastError = ""
	sess.UpdatedAt = now
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	for _, line := range sess.Items {
		if err := s.products.ReserveStock(ctx, line.ProductID, line.Quantity); err != nil {
			slog.WarnContext(ctx, "stock reservation failed after payment", "session_id", sess.ID, "product_id", line.ProductID, "error", err.Error())
		}
	}
	events.Emit(ctx, s.events, "marketplace.checkout.completed", sess)
	return sess, nil
}

// HandlePaymentSucceeded completes one-time sessions.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, evt payments.Event) error {
	pi, err := payments.Decode[payments.PaymentIntentObject](evt)
	if err != nil {
		return err
	}
	sess, ok, err := s.sessionForIntent(ctx, pi)
	if err != nil || !ok {
		return err
	}
	if products.IsRecurring(sess.PurchaseType) {
		return nil
	}
	_, err = s.Complete(ctx, sess, pi.ID, nil)
	return err
}

// HandlePaymentFailed sends the session back to step 3 so the customer can
// retry with another payment method.
func (s *Service) HandlePaymentFailed(ctx context.Context, evt payments.Event) error {
	pi, err := payments.Decode[payments.PaymentIntentObject](evt)
	if err != nil {
		return err
	}
	sess, ok, err := s.sessionForIntent(ctx, pi)
	if err != nil || !ok {
		return err
	}
	return s.reopen(ctx, sess, pi.FailureMessage())
}

func (s *Service) sessionForIntent(ctx context.Context, pi payments.PaymentIntentObject) (Session, bool, error) {
	sess, err := s.store.GetByPaymentIntent(ctx, pi.ID)
	if apperr.Is(err, apperr.CodeNotFound) && pi.Metadata["checkout_session_id"] != "" {
		sess, err = s.store.Get(ctx, pi.Metadata["checkout_session_id"])
		if err == nil && sess.PaymentIntentID != pi.ID {
			slog.WarnContext(ctx, "payment intent does not match checkout session", "session_id", sess.ID, "payment_intent_id", pi.ID)
			return Session{}, false, nil
		}
	}
	if apperr.Is(err, apperr.CodeNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *Service) reopen(ctx context.Context, sess Session, reason string) error {
	if sess.Status != StatusPaymentPending {
		return nil
	}
	sess.Status = StatusOpen
	sess.CurrentStep = StepShipping
	sess.LastError = reason
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.checkout.payment_failed", sess)
	return nil
}

// HandleInvoicePaid completes a subscription session on its first invoice.
func (s *Service) HandleInvoicePaid(ctx context.Context, evt payments.Event) error {
	inv, err := payments.Decode[payments.InvoiceObject](evt)
	if err != nil {
		return err
	}
	if inv.BillingReason != payments.BillingSubscriptionCreate || inv.Subscription == "" {
		return nil
	}
	sess, err := s.store.GetByStripeSubscription(ctx, inv.Subscription)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var period *payments.Period
	if p, ok := inv.Period(); ok {
		period = &p
	}
	_, err = s.Complete(ctx, sess, inv.PaymentIntent, period)
	return err
}

// HandleInvoicePaymentFailed reopens a subscription session whose first
// invoice could not be charged.
func (s *Service) HandleInvoicePaymentFailed(ctx context.Context, evt payments.Event) error {
	inv, err := payments.Decode[payments.InvoiceObject](evt)
	if err != nil {
		return err
	}
	if inv.BillingReason != payments.BillingSubscriptionCreate || inv.Subscription == "" {
		return nil
	}
	sess, err := s.store.GetByStripeSubscription(ctx, inv.Subscription)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.reopen(ctx, sess, "subscription payment failed")
}

// Register hooks the checkout handlers onto the webhook endpoint. It must run
// before subscriptions registers its invoice handlers.
func (s *Service) Register(wh *payments.Webhooks) {
	wh.On(payments.EventPaymentIntentSucceeded, s.HandlePaymentSucceeded)
	wh.On(payments.EventPaymentIntentFailed, s.HandlePaymentFailed)
	wh.On(payments.EventInvoicePaid, s.HandleInvoicePaid)
	wh.On(payments.EventInvoicePaymentFailed, s.HandleInvoicePaymentFailed)
}

// SweepExpired expires stale open and payment_pending sessions.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.ExpireStale(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "checkout sessions expired", "count", n)
		events.Emit(ctx, s.events, "marketplace.checkout.swept", map[string]int{"expired": n})
	}
	return n, nil
}
