// Package platform is the platform-admin surface: the dashboard, shop and
// user moderation, fee settings, revenue reports and order disputes.
package platform

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

const (
	DisputeOpen        = "open"
	DisputeUnderReview = "under_review"
	DisputeWon         = "won"
	DisputeLost        = "lost"
	DisputeResolved    = "resolved"
)

const (
	SourceCustomer = "customer"
	SourceStripe   = "stripe"
)

// Closed reports whether status is terminal.
func Closed(status string) bool {
	return status == DisputeWon || status == DisputeLost || status == DisputeResolved
}

type Dispute struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	ShopID          string          `json:"shop_id"`
	CustomerID      string          `json:"customer_id"`
	Source          string          `json:"source"`
	StripeDisputeID string          `json:"stripe_dispute_id,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Reason          string          `json:"reason"`
	Description     string          `json:"description,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Resolution      string          `json:"resolution,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func disputeKey(d Dispute) (time.Time, string) { return d.CreatedAt, d.ID }

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		shop_id TEXT NOT NULL REFERENCES shops(id),
		customer_id TEXT NOT NULL REFERENCES users(id),
		source TEXT NOT NULL CHECK (source IN ('customer','stripe')),
		stripe_dispute_id TEXT UNIQUE,
		payment_intent_id TEXT,
		reason TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC(18,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('open','under_review','won','lost','resolved')),
		resolution TEXT NOT NULL DEFAULT '',
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_created ON disputes (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_order ON disputes (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes (status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_disputes_customer_active ON disputes (order_id)
		WHERE source = 'customer' AND status IN ('open','under_review')`,
}

// DisputeStore persists disputes in Postgres, or in memory when db is nil.
type DisputeStore struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]Dispute
}

func NewDisputeStore(db *sql.DB) *DisputeStore {
	return &DisputeStore{db: db, memByID: make(map[string]Dispute)}
}

const disputeColumns = `id, order_id, shop_id, customer_id, source, stripe_dispute_id, payment_intent_id, reason, description,
	amount, currency, status, resolution, resolved_by, resolved_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDispute(row scanner) (Dispute, error) {
	var d Dispute
	var stripeID, pi, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.OrderID, &d.ShopID, &d.CustomerID, &d.Source, &stripeID, &pi, &d.Reason, &d.Description,
		&d.Amount, &d.Currency, &d.Status, &d.Resolution, &resolvedBy, &resolvedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Dispute{}, err
	}
	d.StripeDisputeID, d.PaymentIntentID, d.ResolvedBy = stripeID.String, pi.String, resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		d.ResolvedAt = &t
	}
	return d, nil
}

func resolvedArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (s *DisputeStore) Create(ctx context.Context, d Dispute) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for _, existing := range s.memByID {
			if d.StripeDisputeID != "" && existing.StripeDisputeID == d.StripeDisputeID {
				return apperr.Conflict("dispute already recorded")
			}
			if activeCustomerDispute(d, existing) {
				return apperr.Conflict("order already has an open dispute")
			}
		}
		s.memByID[d.ID] = d
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO disputes (`+disputeColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		d.ID, d.OrderID, d.ShopID, d.CustomerID, d.Source, db.NilIfEmpty(d.StripeDisputeID), db.NilIfEmpty(d.PaymentIntentID), d.Reason, d.Description,
		d.Amount.StringFixed(2), d.Currency, d.Status, d.Resolution, db.NilIfEmpty(d.ResolvedBy), resolvedArg(d.ResolvedAt), d.CreatedAt, d.UpdatedAt)
	if db.IsUniqueViolation(err) {
		if d.Source == SourceCustomer && d.StripeDisputeID == "" {
			return apperr.Conflict("order already has an open dispute")
		}
		return apperr.Conflict("dispute already recorded")
	}
	return err
}

// activeCustomerDispute mirrors uq_disputes_customer_active for memory mode.
func activeCustomerDispute(d, existing Dispute) bool {
	return d.Source == SourceCustomer && existing.Source == SourceCustomer &&
		d.OrderID == existing.OrderID && !Closed(d.Status) && !Closed(existing.Status)
}

func (s *DisputeStore) Update(ctx context.Context, d Dispute) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[d.ID]; !ok {
			return apperr.NotFound("dispute")
		}
		s.memByID[d.ID] = d
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE disputes SET status=$2, resolution=$3, resolved_by=$4, resolved_at=$5, updated_at=$6 WHERE id=$1`,
		d.ID, d.Status, d.Resolution, db.NilIfEmpty(d.ResolvedBy), resolvedArg(d.ResolvedAt), d.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("dispute")
	}
	return nil
}

func (s *DisputeStore) find(ctx context.Context, where string, arg any, match func(Dispute) bool) (Dispute, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, d := range s.memByID {
			if match(d) {
				return d, nil
			}
		}
		return Dispute{}, apperr.NotFound("dispute")
	}
	d, err := scanDispute(s.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE `+where+` ORDER BY created_at DESC LIMIT 1`, arg))
	if err == sql.ErrNoRows {
		return Dispute{}, apperr.NotFound("dispute")
	}
	return d, err
}

func (s *DisputeStore) Get(ctx context.Context, id string) (Dispute, error) {
	return s.find(ctx, `id = $1`, id, func(d Dispute) bool { return d.ID == id })
}

func (s *DisputeStore) GetByStripeID(ctx context.Context, stripeID string) (Dispute, error) {
	return s.find(ctx, `stripe_dispute_id = $1`, stripeID, func(d Dispute) bool { return d.StripeDisputeID == stripeID })
}

// ActiveForOrder returns the dispute on orderID that is still open or under
// review.
func (s *DisputeStore) ActiveForOrder(ctx context.Context, orderID string) (Dispute, error) {
	return s.find(ctx, `order_id = $1 AND status IN ('open','under_review')`, orderID, func(d Dispute) bool {
		return d.OrderID == orderID && !Closed(d.Status)
	})
}

type DisputeFilter struct {
	Status string
	ShopID string
	Cursor db.Cursor
	Limit  int
}

func (s *DisputeStore) List(ctx context.Context, f DisputeFilter) (db.Page[Dispute], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Dispute, 0)
		for _, d := range s.memByID {
			if f.Status != "" && d.Status != f.Status {
				continue
			}
			if f.ShopID != "" && d.ShopID != f.ShopID {
				continue
			}
			items = append(items, d)
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, disputeKey), nil
	}
	flt := db.NewFilter().EqIf("status", f.Status).EqIf("shop_id", f.ShopID).After(f.Cursor)
	q := `SELECT ` + disputeColumns + ` FROM disputes WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC LIMIT ` + flt.Arg(f.Limit+1)
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[Dispute]{}, err
	}
	defer rows.Close()
	var items []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return db.Page[Dispute]{}, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Dispute]{}, err
	}
	return db.Trim(items, f.Limit, disputeKey), nil
}

// CountOpen counts disputes that are open or under review.
func (s *DisputeStore) CountOpen(ctx context.Context) (int, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		n := 0
		for _, d := range s.memByID {
			if !Closed(d.Status) {
				n++
			}
		}
		return n, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM disputes WHERE status IN ('open','under_review')`).Scan(&n)
	return n, err
}
