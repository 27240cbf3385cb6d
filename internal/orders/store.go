package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id),
		customer_id TEXT NOT NULL REFERENCES users(id),
		checkout_session_id TEXT UNIQUE,
		subscription_id TEXT,
		items JSONB NOT NULL,
		currency TEXT NOT NULL,
		subtotal NUMERIC(18,2) NOT NULL,
		shipping_cost NUMERIC(18,2) NOT NULL DEFAULT 0,
		platform_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
		total NUMERIC(18,2) NOT NULL,
		email TEXT NOT NULL,
		shipping_address JSONB,
		shipping_rate_name TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL CHECK (payment_status IN ('paid','refunded','failed')),
		payment_intent_id TEXT,
		fulfillment_status TEXT NOT NULL CHECK (fulfillment_status IN ('unfulfilled','fulfilled','shipped','delivered','cancelled')),
		carrier TEXT NOT NULL DEFAULT '',
		tracking_number TEXT NOT NULL DEFAULT '',
		refund_status TEXT NOT NULL CHECK (refund_status IN ('none','requested','approved','rejected')) DEFAULT 'none',
		refund_reason TEXT NOT NULL DEFAULT '',
		refund_amount NUMERIC(18,2),
		refund_decision_note TEXT NOT NULL DEFAULT '',
		stripe_refund_id TEXT,
		paid_at TIMESTAMPTZ,
		fulfilled_at TIMESTAMPTZ,
		shipped_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_shop_created ON orders (shop_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_created ON orders (customer_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_payment_intent ON orders (payment_intent_id)`,
}

type Store struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]Order
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, memByID: make(map[string]Order)}
}

const orderColumns = `id, shop_id, customer_id, checkout_session_id, subscription_id, items, currency, subtotal, shipping_cost, platform_fee, total,
	email, shipping_address, shipping_rate_name, payment_status, payment_intent_id, fulfillment_status, carrier, tracking_number,
	refund_status, refund_reason, refund_amount, refund_decision_note, stripe_refund_id,
	paid_at, fulfilled_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

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

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.StringFixed(2)
}

func scanOrder(row scanner) (Order, error) {
	var o Order
	var session, sub, pi, refundID sql.NullString
	var items, addr []byte
	var refundAmount decimal.NullDecimal
	var paid, fulfilled, shipped, delivered, cancelled sql.NullTime
	if err := row.Scan(&o.ID, &o.ShopID, &o.CustomerID, &session, &sub, &items, &o.Currency, &o.Subtotal, &o.ShippingCost, &o.PlatformFee, &o.Total,
		&o.Email, &addr, &o.ShippingRateName, &o.PaymentStatus, &pi, &o.FulfillmentStatus, &o.Carrier, &o.TrackingNumber,
		&o.RefundStatus, &o.RefundReason, &refundAmount, &o.RefundDecisionNote, &refundID,
		&paid, &fulfilled, &shipped, &delivered, &cancelled, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.CheckoutSessionID, o.SubscriptionID, o.PaymentIntentID, o.StripeRefundID = session.String, sub.String, pi.String, refundID.String
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, err
	}
	if len(addr) > 0 && string(addr) != "null" {
		o.ShippingAddress = &Address{}
		if err := json.Unmarshal(addr, o.ShippingAddress); err != nil {
			return Order{}, err
		}
	}
	if refundAmount.Valid {
		v := refundAmount.Decimal
		o.RefundAmount = &v
	}
	o.PaidAt, o.FulfilledAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt = timePtr(paid), timePtr(fulfilled), timePtr(shipped), timePtr(delivered), timePtr(cancelled)
	return o, nil
}

func orderArgs(o Order) []any {
	items, _ := json.Marshal(o.Items)
	var addr any
	if o.ShippingAddress != nil {
		b, _ := json.Marshal(o.ShippingAddress)
		addr = string(b)
	}
	return []any{o.ID, o.ShopID, o.CustomerID, db.NilIfEmpty(o.CheckoutSessionID), db.NilIfEmpty(o.SubscriptionID), string(items), o.Currency,
		o.Subtotal.StringFixed(2), o.ShippingCost.StringFixed(2), o.PlatformFee.StringFixed(2), o.Total.StringFixed(2),
		o.Email, addr, o.ShippingRateName, o.PaymentStatus, db.NilIfEmpty(o.PaymentIntentID), o.FulfillmentStatus, o.Carrier, o.TrackingNumber,
		o.RefundStatus, o.RefundReason, decimalArg(o.RefundAmount), o.RefundDecisionNote, db.NilIfEmpty(o.StripeRefundID),
		timeArg(o.PaidAt), timeArg(o.FulfilledAt), timeArg(o.ShippedAt), timeArg(o.DeliveredAt), timeArg(o.CancelledAt), o.CreatedAt, o.UpdatedAt}
}

func (s *Store) Create(ctx context.Context, o Order) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if o.CheckoutSessionID != "" {
			for _, existing := range s.memByID {
				if existing.CheckoutSessionID == o.CheckoutSessionID {
					return apperr.Conflict("order already exists for checkout session")
				}
			}
		}
		s.memByID[o.ID] = o
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)`,
		orderArgs(o)...)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("order already exists for checkout session")
	}
	return err
}

// Update rewrites the mutable state of o.
func (s *Store) Update(ctx context.Context, o Order) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[o.ID]; !ok {
			return apperr.NotFound("order")
		}
		s.memByID[o.ID] = o
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_status=$2, fulfillment_status=$3, carrier=$4, tracking_number=$5,
		refund_status=$6, refund_reason=$7, refund_amount=$8, refund_decision_note=$9, stripe_refund_id=$10,
		fulfilled_at=$11, shipped_at=$12, delivered_at=$13, cancelled_at=$14, updated_at=$15 WHERE id=$1`,
		o.ID, o.PaymentStatus, o.FulfillmentStatus, o.Carrier, o.TrackingNumber,
		o.RefundStatus, o.RefundReason, decimalArg(o.RefundAmount), o.RefundDecisionNote, db.NilIfEmpty(o.StripeRefundID),
		timeArg(o.FulfilledAt), timeArg(o.ShippedAt), timeArg(o.DeliveredAt), timeArg(o.CancelledAt), o.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("order")
	}
	return nil
}

func (s *Store) getWhere(ctx context.Context, col, val string, match func(Order) bool) (Order, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, o := range s.memByID {
			if match(o) {
				return o, nil
			}
		}
		return Order{}, apperr.NotFound("order")
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+col+` = $1 ORDER BY created_at LIMIT 1`, val))
	if err == sql.ErrNoRows {
		return Order{}, apperr.NotFound("order")
	}
	return o, err
}

func (s *Store) Get(ctx context.Context, id string) (Order, error) {
	if s.db == nil {
		s.memMu.RLock()
		o, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return Order{}, apperr.NotFound("order")
		}
		return o, nil
	}
	return s.getWhere(ctx, "id", id, nil)
}

func (s *Store) GetByCheckoutSession(ctx context.Context, sessionID string) (Order, error) {
	return s.getWhere(ctx, "checkout_session_id", sessionID, func(o Order) bool { return o.CheckoutSessionID == sessionID })
}

func (s *Store) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (Order, error) {
	return s.getWhere(ctx, "payment_intent_id", paymentIntentID, func(o Order) bool { return o.PaymentIntentID == paymentIntentID })
}

type ListFilter struct {
	ShopID            string
	CustomerID        string
	FulfillmentStatus string
	PaymentStatus     string
	Cursor            db.Cursor
	Limit             int
}

func (f ListFilter) sql() *db.Filter {
	return db.NewFilter().
		EqIf("shop_id", f.ShopID).
		EqIf("customer_id", f.CustomerID).
		EqIf("fulfillment_status", f.FulfillmentStatus).
		EqIf("payment_status", f.PaymentStatus).
		After(f.Cursor)
}

func (f ListFilter) match(o Order) bool {
	return (f.ShopID == "" || o.ShopID == f.ShopID) &&
		(f.CustomerID == "" || o.CustomerID == f.CustomerID) &&
		(f.FulfillmentStatus == "" || o.FulfillmentStatus == f.FulfillmentStatus) &&
		(f.PaymentStatus == "" || o.PaymentStatus == f.PaymentStatus)
}

func listQuery(flt *db.Filter, limit int) string {
	return `SELECT ` + orderColumns + ` FROM orders WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC LIMIT ` + flt.Arg(limit+1)
}

func (s *Store) List(ctx context.Context, f ListFilter) (db.Page[Order], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Order, 0)
		for _, o := range s.memByID {
			if f.match(o) {
				items = append(items, o)
			}
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, orderKey), nil
	}
	flt := f.sql()
	rows, err := s.db.QueryContext(ctx, listQuery(flt, f.Limit), flt.Args()...)
	if err != nil {
		return db.Page[Order]{}, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return db.Page[Order]{}, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Order]{}, err
	}
	return db.Trim(items, f.Limit, orderKey), nil
}

// ExplainList returns the planner output for the listing query of f.
func (s *Store) ExplainList(ctx context.Context, f ListFilter) (any, error) {
	flt := f.sql()
	return db.Explain(ctx, s.db, listQuery(flt, f.Limit), flt.Args()...)
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		st := Stats{GMV: decimal.Zero, PlatformFee: decimal.Zero}
		s.memMu.RLock()
		for _, o := range s.memByID {
			st.Orders++
			if o.PaymentStatus == PaymentPaid {
				st.GMV = st.GMV.Add(o.Total)
				st.PlatformFee = st.PlatformFee.Add(o.PlatformFee)
			}
		}
		s.memMu.RUnlock()
		return st, nil
	}
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(total) FILTER (WHERE payment_status = 'paid'), 0),
		COALESCE(SUM(platform_fee) FILTER (WHERE payment_status = 'paid'), 0)
		FROM orders`).Scan(&st.Orders, &st.GMV, &st.PlatformFee)
	return st, err
}

// RevenueByShop aggregates orders created in [from, to) per shop, highest
// gross first.
func (s *Store) RevenueByShop(ctx context.Context, from, to time.Time) ([]ShopRevenue, error) {
	var out []ShopRevenue
	if s.db == nil {
		byShop := map[string]*ShopRevenue{}
		s.memMu.RLock()
		for _, o := range s.memByID {
			if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
				continue
			}
			r, ok := byShop[o.ShopID]
			if !ok {
				r = &ShopRevenue{ShopID: o.ShopID, Gross: decimal.Zero, PlatformFee: decimal.Zero, Refunded: decimal.Zero}
				byShop[o.ShopID] = r
			}
			r.Orders++
			if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
				r.Gross = r.Gross.Add(o.Total)
			}
			if o.PaymentStatus == PaymentPaid {
				r.PlatformFee = r.PlatformFee.Add(o.PlatformFee)
			}
			if o.RefundStatus == RefundApproved && o.RefundAmount != nil {
				r.Refunded = r.Refunded.Add(*o.RefundAmount)
			}
		}
		s.memMu.RUnlock()
		for _, r := range byShop {
			out = append(out, *r)
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Gross.Equal(out[j].Gross) {
				return out[i].Gross.GreaterThan(out[j].Gross)
			}
			return out[i].ShopID < out[j].ShopID
		})
	} else {
		rows, err := s.db.QueryContext(ctx, `SELECT shop_id, COUNT(*),
			COALESCE(SUM(total) FILTER (WHERE payment_status IN ('paid','refunded')), 0) AS gross,
			COALESCE(SUM(platform_fee) FILTER (WHERE payment_status = 'paid'), 0),
			COALESCE(SUM(refund_amount) FILTER (WHERE refund_status = 'approved'), 0)
			FROM orders WHERE created_at >= $1 AND created_at < $2
			GROUP BY shop_id ORDER BY gross DESC, shop_id`, from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r ShopRevenue
			if err := rows.Scan(&r.ShopID, &r.Orders, &r.Gross, &r.PlatformFee, &r.Refunded); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	for i := range out {
		out[i].Net = out[i].Gross.Sub(out[i].Refunded).Sub(out[i].PlatformFee)
	}
	if out == nil {
		out = []ShopRevenue{}
	}
	return out, nil
}
