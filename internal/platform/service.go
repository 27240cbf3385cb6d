package platform

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/subscriptions"
)

type Service struct {
	disputes      *DisputeStore
	users         *auth.Service
	shops         *shops.Service
	orders        *orders.Service
	subscriptions *subscriptions.Service
	fees          *fees.Settings
	events        events.Publisher
	now           func() time.Time
}

type Deps struct {
	Disputes      *DisputeStore
	Users         *auth.Service
	Shops         *shops.Service
	Orders        *orders.Service
	Subscriptions *subscriptions.Service
	Fees          *fees.Settings
	Events        events.Publisher
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Service{
		disputes:      d.Disputes,
		users:         d.Users,
		shops:         d.Shops,
		orders:        d.Orders,
		subscriptions: d.Subscriptions,
		fees:          d.Fees,
		events:        d.Events,
		now:           time.Now,
	}
}

type Dashboard struct {
	UsersByRole         map[auth.Role]int `json:"users_by_role"`
	ShopsByStatus       map[string]int    `json:"shops_by_status"`
	Orders              int               `json:"orders"`
	GMV                 decimal.Decimal   `json:"gmv"`
	PlatformRevenue     decimal.Decimal   `json:"platform_revenue"`
	ActiveSubscriptions int               `json:"active_subscriptions"`
	OpenDisputes        int               `json:"open_disputes"`
	DefaultFeePercent   decimal.Decimal   `json:"default_fee_percent"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

// Dashboard gathers the platform counters concurrently.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	d := Dashboard{GeneratedAt: s.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.UsersByRole, err = s.users.Users().CountByRole(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.ShopsByStatus, err = s.shops.Store().CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		st, err := s.orders.Stats(gctx)
		d.Orders, d.GMV, d.PlatformRevenue = st.Orders, st.GMV, st.PlatformFee
		return err
	})
	g.Go(func() (err error) {
		d.ActiveSubscriptions, err = s.subscriptions.CountActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.OpenDisputes, err = s.disputes.CountOpen(gctx)
		return err
	})
	g.Go(func() (err error) {
		d.DefaultFeePercent, err = s.fees.DefaultPercent(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func (s *Service) ListShops(ctx context.Context, f shops.ListFilter) (db.Page[shops.Shop], error) {
	return s.shops.Store().List(ctx, f)
}

// Shop moderation actions and the status each one requires and produces.
const (
	ActionApprove    = "approve"
	ActionReject     = "reject"
	ActionSuspend    = "suspend"
	ActionReactivate = "reactivate"
)

var shopActions = map[string]struct{ from, to string }{
	ActionApprove:    {shops.StatusPending, shops.StatusActive},
	ActionReject:     {shops.StatusPending, shops.StatusRejected},
	ActionSuspend:    {shops.StatusActive, shops.StatusSuspended},
	ActionReactivate: {shops.StatusSuspended, shops.StatusActive},
}

func (s *Service) ModerateShop(ctx context.Context, shopID, action, reason string) (shops.Shop, error) {
	move, ok := shopActions[action]
	if !ok {
		return shops.Shop{}, apperr.Newf(apperr.CodeInvalidInput, "unknown action %q", action)
	}
	sh, err := s.shops.Store().Get(ctx, shopID)
	if err != nil {
		return shops.Shop{}, err
	}
	if sh.Status != move.from {
		return shops.Shop{}, apperr.Newf(apperr.CodeConflict, "cannot %s a %s shop", action, sh.Status)
	}
	if (action == ActionReject || action == ActionSuspend) && strings.TrimSpace(reason) == "" {
		return shops.Shop{}, apperr.Invalid("reason is required")
	}
	return s.shops.SetStatus(ctx, shopID, move.to, reason)
}

func (s *Service) ListUsers(ctx context.Context, f auth.ListFilter) (db.Page[auth.User], error) {
	if f.Role != "" {
		if _, ok := auth.ParseRole(f.Role); !ok {
			return db.Page[auth.User]{}, apperr.Invalid("unknown role")
		}
	}
	return s.users.Users().List(ctx, f)
}

func (s *Service) SetUserStatus(ctx context.Context, p auth.Principal, userID, status string) (auth.User, error) {
	if userID == p.UserID && status == auth.StatusSuspended {
		return auth.User{}, apperr.Invalid("cannot suspend your own account")
	}
	return s.users.SetStatus(ctx, userID, status)
}

func (s *Service) DefaultFee(ctx context.Context) (decimal.Decimal, error) {
	return s.fees.DefaultPercent(ctx)
}

func (s *Service) SetDefaultFee(ctx context.Context, pct decimal.Decimal) (decimal.Decimal, error) {
	p, err := s.fees.SetDefaultPercent(ctx, pct)
	if err != nil {
		return decimal.Decimal{}, err
	}
	events.Emit(ctx, s.events, "marketplace.fee.updated", map[string]string{"default_fee_percent": p.StringFixed(2)})
	return p, nil
}

func (s *Service) SetShopFee(ctx context.Context, shopID string, pct *decimal.Decimal) (shops.Shop, error) {
	return s.shops.SetFeeOverride(ctx, shopID, pct)
}

// RevenueRow is a revenue report line with the shop's display name.
type RevenueRow struct {
	orders.ShopRevenue
	ShopName string `json:"shop_name"`
}

type RevenueReport struct {
	From   time.Time       `json:"from"`
	To     time.Time       `json:"to"`
	Shops  []RevenueRow    `json:"shops"`
	Gross  decimal.Decimal `json:"gross"`
	Fees   decimal.Decimal `json:"platform_fee"`
	Refund decimal.Decimal `json:"refunded"`
}

func (s *Service) Revenue(ctx context.Context, from, to time.Time) (RevenueReport, error) {
	rows, err := s.orders.RevenueByShop(ctx, from, to)
	if err != nil {
		return RevenueReport{}, err
	}
	rep := RevenueReport{From: from, To: to, Shops: make([]RevenueRow, 0, len(rows)), Gross: decimal.Zero, Fees: decimal.Zero, Refund: decimal.Zero}
	for _, r := range rows {
		row := RevenueRow{ShopRevenue: r}
		if sh, err := s.shops.Store().Get(ctx, r.ShopID); err == nil {
			row.ShopName = sh.Name
		}
		rep.Shops = append(rep.Shops, row)
		rep.Gross = rep.Gross.Add(r.Gross)
		rep.Fees = rep.Fees.Add(r.PlatformFee)
		rep.Refund = rep.Refund.Add(r.Refunded)
	}
	return rep, nil
}

type DisputeInput struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// OpenDispute lets a customer contest one of their paid orders. An order
// carries at most one active dispute.
func (s *Service) OpenDispute(ctx context.Context, p auth.Principal, orderID string, in DisputeInput) (Dispute, error) {
	o, err := s.orders.Get(ctx, p, orderID)
	if err != nil {
		return Dispute{}, err
	}
	if o.CustomerID != p.UserID {
		return Dispute{}, apperr.NotFound("order")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Dispute{}, apperr.Invalid("reason is required")
	}
	if o.PaymentStatus != orders.PaymentPaid {
		return Dispute{}, apperr.Conflict("only paid orders can be disputed")
	}
	if _, err := s.disputes.ActiveForOrder(ctx, o.ID); err == nil {
		return Dispute{}, apperr.Conflict("order already has an open dispute")
	} else if !apperr.Is(err, apperr.CodeNotFound) {
		return Dispute{}, err
	}
	now := s.now().UTC()
	d := Dispute{
		ID:              db.NewID("dsp"),
		OrderID:         o.ID,
		ShopID:          o.ShopID,
		CustomerID:      o.CustomerID,
		Source:          SourceCustomer,
		PaymentIntentID: o.PaymentIntentID,
		Reason:          reason,
		Description:     strings.TrimSpace(in.Description),
		Amount:          o.Total,
		Currency:        o.Currency,
		Status:          DisputeOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return Dispute{}, err
	}
	events.Emit(ctx, s.events, "marketplace.dispute.opened", d)
	return d, nil
}

func (s *Service) ListDisputes(ctx context.Context, f DisputeFilter) (db.Page[Dispute], error) {
	return s.disputes.List(ctx, f)
}

func (s *Service) GetDispute(ctx context.Context, id string) (Dispute, error) {
	return s.disputes.Get(ctx, id)
}

type ResolveInput struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

// ResolveDispute moves a dispute to under_review or closes it.
func (s *Service) ResolveDispute(ctx context.Context, p auth.Principal, id string, in ResolveInput) (Dispute, error) {
	switch in.Status {
	case DisputeUnderReview, DisputeWon, DisputeLost, DisputeResolved:
	default:
		return Dispute{}, apperr.Invalid("status must be under_review, won, lost or resolved")
	}
	d, err := s.disputes.Get(ctx, id)
	if err != nil {
		return Dispute{}, err
	}
	if Closed(d.Status) {
		return Dispute{}, apperr.Newf(apperr.CodeConflict, "dispute is already %s", d.Status)
	}
	now := s.now().UTC()
	d.Status = in.Status
	d.Resolution = strings.TrimSpace(in.Resolution)
	d.UpdatedAt = now
	if Closed(d.Status) {
		d.ResolvedBy = p.UserID
		d.ResolvedAt = &now
	}
	if err := s.disputes.Update(ctx, d); err != nil {
		return Dispute{}, err
	}
	topic := "marketplace.dispute.updated"
	if Closed(d.Status) {
		topic = "marketplace.dispute.closed"
	}
	events.Emit(ctx, s.events, topic, d)
	return d, nil
}

// HandleDisputeCreated records a chargeback raised through Stripe against
// the order paid by the disputed payment intent.
func (s *Service) HandleDisputeCreated(ctx context.Context, evt payments.Event) error {
	obj, err := payments.Decode[payments.DisputeObject](evt)
	if err != nil {
		return err
	}
	if _, err := s.disputes.GetByStripeID(ctx, obj.ID); err == nil {
		return nil
	}
	o, err := s.orders.Store().GetByPaymentIntent(ctx, obj.PaymentIntent)
	if apperr.Is(err, apperr.CodeNotFound) {
		slog.WarnContext(ctx, "dispute for unknown payment", "dispute_id", obj.ID, "payment_intent", obj.PaymentIntent)
		return nil
	}
	if err != nil {
		return err
	}
	currency := strings.ToUpper(obj.Currency)
	if currency == "" {
		currency = o.Currency
	}
	now := s.now().UTC()
	d := Dispute{
		ID:              db.NewID("dsp"),
		OrderID:         o.ID,
		ShopID:          o.ShopID,
		CustomerID:      o.CustomerID,
		Source:          SourceStripe,
		StripeDisputeID: obj.ID,
		PaymentIntentID: obj.PaymentIntent,
		Reason:          obj.Reason,
		Amount:          payments.FromMinor(obj.Amount, currency),
		Currency:        currency,
		Status:          DisputeOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			return nil
		}
		return err
	}
	events.Emit(ctx, s.events, "marketplace.dispute.opened", d)
	return nil
}

// HandleDisputeClosed mirrors Stripe's outcome onto the recorded dispute.
func (s *Service) HandleDisputeClosed(ctx context.Context, evt payments.Event) error {
	obj, err := payments.Decode[payments.DisputeObject](evt)
	if err != nil {
		return err
	}
	d, err := s.disputes.GetByStripeID(ctx, obj.ID)
	if apperr.Is(err, apperr.CodeNotFound) {
		slog.DebugContext(ctx, "closed dispute not recorded", "dispute_id", obj.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if Closed(d.Status) {
		return nil
	}
	switch obj.Status {
	case DisputeWon, DisputeLost:
		d.Status = obj.Status
	default:
		d.Status = DisputeResolved
	}
	now := s.now().UTC()
	d.Resolution = "stripe: " + obj.Status
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.disputes.Update(ctx, d); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.dispute.closed", d)
	return nil
}

func (s *Service) Register(wh *payments.Webhooks) {
	wh.On(payments.EventDisputeCreated, s.HandleDisputeCreated)
	wh.On(payments.EventDisputeClosed, s.HandleDisputeClosed)
}
