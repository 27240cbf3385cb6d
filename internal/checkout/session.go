// Package checkout runs the three-step checkout: basket, buyer information
// and shipping selection, then payment through Stripe. A session expires
// when it is not paid within its TTL.
package checkout

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
	StatusOpen           = "open"
	StatusPaymentPending = "payment_pending"
	StatusCompleted      = "completed"
	StatusExpired        = "expired"
	StatusCancelled      = "cancelled"
)

const (
	StepItems    = 1
	StepInfo     = 2
	StepShipping = 3
)

type Session struct {
	ID                   string           `json:"id"`
	CustomerID           string           `json:"customer_id"`
	ShopID               string           `json:"shop_id"`
	PurchaseType         string           `json:"purchase_type"`
	Items                []orders.Item    `json:"items"`
	Currency             string           `json:"currency"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	Email                string           `json:"email,omitempty"`
	ShippingAddress      *orders.Address  `json:"shipping_address,omitempty"`
	ShippingRateID       string           `json:"shipping_rate_id,omitempty"`
	ShippingRateName     string           `json:"shipping_rate_name,omitempty"`
	ShippingCost         decimal.Decimal  `json:"shipping_cost"`
	PlatformFeePercent   *decimal.Decimal `json:"platform_fee_percent,omitempty"`
	PlatformFee          decimal.Decimal  `json:"platform_fee"`
	Total                decimal.Decimal  `json:"total"`
	CurrentStep          int              `json:"current_step"`
	Status               string           `json:"status"`
	PaymentIntentID      string           `json:"payment_intent_id,omitempty"`
	StripeSubscriptionID string           `json:"stripe_subscription_id,omitempty"`
	ClientSecret         string           `json:"client_secret,omitempty"`
	PaymentAttempts      int              `json:"payment_attempts"`
	LastError            string           `json:"last_error,omitempty"`
	OrderID              string           `json:"order_id,omitempty"`
	ExpiresAt            time.Time        `json:"expires_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func sessionKey(s Session) (time.Time, string) { return s.CreatedAt, s.ID }

// Mutable reports whether the session still accepts changes.
func (s Session) Mutable() bool {
	return s.Status == StatusOpen || s.Status == StatusPaymentPending
}

// clearPayment forgets the Stripe objects of an earlier attempt. Callers void
// them with Service.voidPayment first.
func (s *Session) clearPayment() {
	s.PaymentIntentID = ""
	s.StripeSubscriptionID = ""
	s.ClientSecret = ""
	s.PlatformFeePercent = nil
	s.PlatformFee = decimal.Zero
}

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES users(id),
		shop_id TEXT NOT NULL REFERENCES shops(id),
		purchase_type TEXT NOT NULL CHECK (purchase_type IN ('one_time','weekly','monthly','yearly')),
		items JSONB NOT NULL,
		currency TEXT NOT NULL,
		subtotal NUMERIC(18,2) NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		shipping_address JSONB,
		shipping_rate_id TEXT,
		shipping_rate_name TEXT NOT NULL DEFAULT '',
		shipping_cost NUMERIC(18,2) NOT NULL DEFAULT 0,
		platform_fee_percent NUMERIC(5,2),
		platform_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
		total NUMERIC(18,2) NOT NULL,
		current_step SMALLINT NOT NULL CHECK (current_step BETWEEN 1 AND 3),
		status TEXT NOT NULL CHECK (status IN ('open','payment_pending','completed','expired','cancelled')),
		payment_intent_id TEXT,
		stripe_subscription_id TEXT,
		client_secret TEXT NOT NULL DEFAULT '',
		payment_attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		order_id TEXT,
		expires_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_customer ON checkout_sessions (customer_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_payment_intent ON checkout_sessions (payment_intent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_subscription ON checkout_sessions (stripe_subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_expiry ON checkout_sessions (status, expires_at)`,
}

type Store struct {
	db    *sql.DB
	memMu sync.RWMutex
	mem   map[string]Session
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, mem: make(map[string]Session)}
}

const sessionColumns = `id, customer_id, shop_id, purchase_type, items, currency, subtotal, email, shipping_address,
	shipping_rate_id, shipping_rate_name, shipping_cost, platform_fee_percent, platform_fee, total, current_step, status,
	payment_intent_id, stripe_subscription_id, client_secret, payment_attempts, last_error, order_id,
	expires_at, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var items, addr []byte
	var rateID, pi, sub, orderID sql.NullString
	var feePct decimal.NullDecimal
	var completed sql.NullTime
	if err := row.Scan(&s.ID, &s.CustomerID, &s.ShopID, &s.PurchaseType, &items, &s.Currency, &s.Subtotal, &s.Email, &addr,
		&rateID, &s.ShippingRateName, &s.ShippingCost, &feePct, &s.PlatformFee, &s.Total, &s.CurrentStep, &s.Status,
		&pi, &sub, &s.ClientSecret, &s.PaymentAttempts, &s.LastError, &orderID,
		&s.ExpiresAt, &completed, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return Session{}, err
	}
	if len(addr) > 0 && string(addr) != "null" {
		s.ShippingAddress = &orders.Address{}
		if err := json.Unmarshal(addr, s.ShippingAddress); err != nil {
			return Session{}, err
		}
	}
	s.ShippingRateID, s.PaymentIntentID, s.StripeSubscriptionID, s.OrderID = rateID.String, pi.String, sub.String, orderID.String
	if feePct.Valid {
		v := feePct.Decimal
		s.PlatformFeePercent = &v
	}
	if completed.Valid {
		t := completed.Time.UTC()
		s.CompletedAt = &t
	}
	return s, nil
}

func sessionArgs(s Session) []any {
	items, _ := json.Marshal(s.Items)
	var addr, feePct, completed any
	if s.ShippingAddress != nil {
		b, _ := json.Marshal(s.ShippingAddress)
		addr = string(b)
	}
	if s.PlatformFeePercent != nil {
		feePct = s.PlatformFeePercent.StringFixed(2)
	}
	if s.CompletedAt != nil {
		completed = *s.CompletedAt
	}
	return []any{s.ID, s.CustomerID, s.ShopID, s.PurchaseType, string(items), s.Currency, s.Subtotal.StringFixed(2), s.Email, addr,
		db.NilIfEmpty(s.ShippingRateID), s.ShippingRateName, s.ShippingCost.StringFixed(2), feePct, s.PlatformFee.StringFixed(2), s.Total.StringFixed(2),
		s.CurrentStep, s.Status, db.NilIfEmpty(s.PaymentIntentID), db.NilIfEmpty(s.StripeSubscriptionID), s.ClientSecret, s.PaymentAttempts,
		s.LastError, db.NilIfEmpty(s.OrderID), s.ExpiresAt, completed, s.CreatedAt, s.UpdatedAt}
}

func (s *Store) Create(ctx context.Context, sess Session) error {
	if s.db == nil {
		s.memMu.Lock()
		s.mem[sess.ID] = sess
		s.memMu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkout_sessions (`+sessionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		sessionArgs(sess)...)
	return err
}

func (s *Store) Update(ctx context.Context, sess Session) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.mem[sess.ID]; !ok {
			return apperr.NotFound("checkout session")
		}
		s.mem[sess.ID] = sess
		return nil
	}
	a := sessionArgs(sess)
	// id, then email through order_id, then completed_at and updated_at.
	args := append(append([]any{a[0]}, a[7:23]...), a[24], a[26])
	res, err := s.db.ExecContext(ctx, `UPDATE checkout_sessions SET email=$2, shipping_address=$3, shipping_rate_id=$4,
		shipping_rate_name=$5, shipping_cost=$6, platform_fee_percent=$7, platform_fee=$8, total=$9, current_step=$10, status=$11,
		payment_intent_id=$12, stripe_subscription_id=$13, client_secret=$14, payment_attempts=$15, last_error=$16, order_id=$17,
		completed_at=$18, updated_at=$19 WHERE id=$1`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("checkout session")
	}
	return nil
}

func (s *Store) find(ctx context.Context, col, val string, match func(Session) bool) (Session, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, sess := range s.mem {
			if match(sess) {
				return sess, nil
			}
		}
		return Session{}, apperr.NotFound("checkout session")
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE `+col+` = $1 LIMIT 1`, val))
	if err == sql.ErrNoRows {
		return Session{}, apperr.NotFound("checkout session")
	}
	return sess, err
}

func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	return s.find(ctx, "id", id, func(sess Session) bool { return sess.ID == id })
}

func (s *Store) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (Session, error) {
	return s.find(ctx, "payment_intent_id", paymentIntentID, func(sess Session) bool { return sess.PaymentIntentID == paymentIntentID })
}

func (s *Store) GetByStripeSubscription(ctx context.Context, subscriptionID string) (Session, error) {
	return s.find(ctx, "stripe_subscription_id", subscriptionID, func(sess Session) bool { return sess.StripeSubscriptionID == subscriptionID })
}

func (s *Store) ListByCustomer(ctx context.Context, customerID, status string, cursor db.Cursor, limit int) (db.Page[Session], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Session, 0)
		for _, sess := range s.mem {
			if sess.CustomerID == customerID && (status == "" || sess.Status == status) {
				items = append(items, sess)
			}
		}
		s.memMu.RUnlock()
		return db.Paginate(items, cursor, limit, sessionKey), nil
	}
	flt := db.NewFilter().Where("customer_id = ?", customerID).EqIf("status", status).After(cursor)
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE `+flt.Clause()+
		` ORDER BY created_at DESC, id DESC LIMIT `+flt.Arg(limit+1), flt.Args()...)
	if err != nil {
		return db.Page[Session]{}, err
	}
	defer rows.Close()
	var items []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return db.Page[Session]{}, err
		}
		items = append(items, sess)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Session]{}, err
	}
	return db.Trim(items, limit, sessionKey), nil
}

// ExpireStale marks open and payment_pending sessions past their expiry as
// expired and returns how many changed.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		n := 0
		for id, sess := range s.mem {
			if sess.Mutable() && now.After(sess.ExpiresAt) {
				sess.Status = StatusExpired
				sess.UpdatedAt = now
				s.mem[id] = sess
				n++
			}
		}
		return n, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE checkout_sessions SET status = 'expired', updated_at = $1
		WHERE status IN ('open','payment_pending') AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
