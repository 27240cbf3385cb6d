// Package subscriptions mirrors the Stripe subscriptions created by
// recurring checkouts and turns each renewal invoice into an order.
package subscriptions

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
)

const (
	StatusIncomplete = "incomplete"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
)

const (
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// FromStripe maps a Stripe subscription status onto the local set.
func FromStripe(status string) string {
	switch status {
	case "active", "trialing":
		return StatusActive
	case "past_due", "paused":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	case "unpaid":
		return StatusUnpaid
	default:
		return StatusIncomplete
	}
}

type Subscription struct {
	ID                   string          `json:"id"`
	CustomerID           string          `json:"customer_id"`
	ShopID               string          `json:"shop_id"`
	ProductID            string          `json:"product_id"`
	ProductName          string          `json:"product_name"`
	OrderID              string          `json:"order_id,omitempty"`
	StripeSubscriptionID string          `json:"stripe_subscription_id"`
	Interval             string          `json:"interval"`
	Quantity             int             `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	ShippingCost         decimal.Decimal `json:"shipping_cost"`
	// Price is the amount billed each interval.
	Price              decimal.Decimal `json:"price"`
	Currency           string          `json:"currency"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	Email              string          `json:"email"`
	ShippingAddress    *orders.Address `json:"shipping_address,omitempty"`
	ShippingRateName   string          `json:"shipping_rate_name,omitempty"`
	Status             string          `json:"status"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func subKey(s Subscription) (time.Time, string) { return s.CreatedAt, s.ID }

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES users(id),
		shop_id TEXT NOT NULL REFERENCES shops(id),
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		order_id TEXT,
		stripe_subscription_id TEXT NOT NULL UNIQUE,
		interval TEXT NOT NULL CHECK (interval IN ('weekly','monthly','yearly')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(18,2) NOT NULL,
		shipping_cost NUMERIC(18,2) NOT NULL DEFAULT 0,
		price NUMERIC(18,2) NOT NULL,
		currency TEXT NOT NULL,
		platform_fee_percent NUMERIC(5,2) NOT NULL,
		email TEXT NOT NULL,
		shipping_address JSONB,
		shipping_rate_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('incomplete','active','past_due','canceled','unpaid')),
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		canceled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions (customer_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_shop ON subscriptions (shop_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_period_end ON subscriptions (status, current_period_end)`,
}

type Store struct {
	db    *sql.DB
	memMu sync.RWMutex
	mem   map[string]Subscription
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, mem: make(map[string]Subscription)}
}

const subColumns = `id, customer_id, shop_id, product_id, product_name, order_id, stripe_subscription_id, interval, quantity,
	unit_price, shipping_cost, price, currency, platform_fee_percent, email, shipping_address, shipping_rate_name, status,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanSub(row scanner) (Subscription, error) {
	var s Subscription
	var orderID sql.NullString
	var addr []byte
	var start, end, canceled sql.NullTime
	if err := row.Scan(&s.ID, &s.CustomerID, &s.ShopID, &s.ProductID, &s.ProductName, &orderID, &s.StripeSubscriptionID, &s.Interval, &s.Quantity,
		&s.UnitPrice, &s.ShippingCost, &s.Price, &s.Currency, &s.PlatformFeePercent, &s.Email, &addr, &s.ShippingRateName, &s.Status,
		&start, &end, &s.CancelAtPeriodEnd, &canceled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Subscription{}, err
	}
	s.OrderID = orderID.String
	if len(addr) > 0 && string(addr) != "null" {
		s.ShippingAddress = &orders.Address{}
		if err := json.Unmarshal(addr, s.ShippingAddress); err != nil {
			return Subscription{}, err
		}
	}
	s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CanceledAt = timePtr(start), timePtr(end), timePtr(canceled)
	return s, nil
}

func (s *Store) Create(ctx context.Context, sub Subscription) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for _, existing := range s.mem {
			if existing.StripeSubscriptionID == sub.StripeSubscriptionID {
				return apperr.Conflict("subscription already recorded")
			}
		}
		s.mem[sub.ID] = sub
		return nil
	}
	var addr any
	if sub.ShippingAddress != nil {
		b, _ := json.Marshal(sub.ShippingAddress)
		addr = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		sub.ID, sub.CustomerID, sub.ShopID, sub.ProductID, sub.ProductName, db.NilIfEmpty(sub.OrderID), sub.StripeSubscriptionID, sub.Interval, sub.Quantity,
		sub.UnitPrice.StringFixed(2), sub.ShippingCost.StringFixed(2), sub.Price.StringFixed(2), sub.Currency, sub.PlatformFeePercent.StringFixed(2),
		sub.Email, addr, sub.ShippingRateName, sub.Status,
		timeArg(sub.CurrentPeriodStart), timeArg(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd, timeArg(sub.CanceledAt), sub.CreatedAt, sub.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("subscription already recorded")
	}
	return err
}

// Update stores the Stripe-mirrored state of sub.
func (s *Store) Update(ctx context.Context, sub Subscription) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.mem[sub.ID]; !ok {
			return apperr.NotFound("subscription")
		}
		s.mem[sub.ID] = sub
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET status=$2, current_period_start=$3, current_period_end=$4,
		cancel_at_period_end=$5, canceled_at=$6, order_id=$7, updated_at=$8 WHERE id=$1`,
		sub.ID, sub.Status, timeArg(sub.CurrentPeriodStart), timeArg(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd, timeArg(sub.CanceledAt), db.NilIfEmpty(sub.OrderID), sub.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("subscription")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Subscription, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		sub, ok := s.mem[id]
		if !ok {
			return Subscription{}, apperr.NotFound("subscription")
		}
		return sub, nil
	}
	sub, err := scanSub(s.db.QueryRowContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return Subscription{}, apperr.NotFound("subscription")
	}
	return sub, err
}

func (s *Store) GetByStripeID(ctx context.Context, stripeID string) (Subscription, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, sub := range s.mem {
			if sub.StripeSubscriptionID == stripeID {
				return sub, nil
			}
		}
		return Subscription{}, apperr.NotFound("subscription")
	}
	sub, err := scanSub(s.db.QueryRowContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeID))
	if err == sql.ErrNoRows {
		return Subscription{}, apperr.NotFound("subscription")
	}
	return sub, err
}

type ListFilter struct {
	CustomerID string
	ShopID     string
	Status     string
	Cursor     db.Cursor
	Limit      int
}

func (s *Store) List(ctx context.Context, f ListFilter) (db.Page[Subscription], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Subscription, 0)
		for _, sub := range s.mem {
			if (f.CustomerID == "" || sub.CustomerID == f.CustomerID) &&
				(f.ShopID == "" || sub.ShopID == f.ShopID) &&
				(f.Status == "" || sub.Status == f.Status) {
				items = append(items, sub)
			}
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, subKey), nil
	}
	flt := db.NewFilter().EqIf("customer_id", f.CustomerID).EqIf("shop_id", f.ShopID).EqIf("status", f.Status).After(f.Cursor)
	rows, err := s.db.QueryContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE `+flt.Clause()+
		` ORDER BY created_at DESC, id DESC LIMIT `+flt.Arg(f.Limit+1), flt.Args()...)
	if err != nil {
		return db.Page[Subscription]{}, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return db.Page[Subscription]{}, err
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Subscription]{}, err
	}
	return db.Trim(items, f.Limit, subKey), nil
}

func (s *Store) CountByStatus(ctx context.Context, status string) (int, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		n := 0
		for _, sub := range s.mem {
			if sub.Status == status {
				n++
			}
		}
		return n, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE status = $1`, status).Scan(&n)
	return n, err
}

// MarkLapsed moves active subscriptions whose period ended before cutoff to
// past_due and returns them.
func (s *Store) MarkLapsed(ctx context.Context, cutoff, now time.Time) ([]Subscription, error) {
	var out []Subscription
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for id, sub := range s.mem {
			if sub.Status == StatusActive && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(cutoff) {
				sub.Status = StatusPastDue
				sub.UpdatedAt = now
				s.mem[id] = sub
				out = append(out, sub)
			}
		}
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `UPDATE subscriptions SET status = 'past_due', updated_at = $2
		WHERE status = 'active' AND current_period_end < $1 RETURNING `+subColumns, cutoff, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
