// Package shops manages shop tenants, their Stripe Connect accounts and the
// ownership checks every shop-scoped route goes through.
package shops

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRejected  = "rejected"
)

const (
	KYCNotStarted = "not_started"
	KYCPending    = "pending"
	KYCVerified   = "verified"
	KYCRejected   = "rejected"
)

type Shop struct {
	ID                 string           `json:"id"`
	OwnerID            string           `json:"owner_id"`
	Name               string           `json:"name"`
	Slug               string           `json:"slug"`
	Description        string           `json:"description,omitempty"`
	Country            string           `json:"country"`
	Currency           string           `json:"currency"`
	Status             string           `json:"status"`
	StatusReason       string           `json:"status_reason,omitempty"`
	StripeAccountID    string           `json:"stripe_account_id,omitempty"`
	KYCStatus          string           `json:"kyc_status"`
	ChargesEnabled     bool             `json:"charges_enabled"`
	PayoutsEnabled     bool             `json:"payouts_enabled"`
	PlatformFeePercent *decimal.Decimal `json:"platform_fee_percent,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func shopKey(s Shop) (time.Time, string) { return s.CreatedAt, s.ID }

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS shops (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL CHECK (status IN ('pending','active','suspended','rejected')) DEFAULT 'pending',
		status_reason TEXT NOT NULL DEFAULT '',
		stripe_account_id TEXT UNIQUE,
		kyc_status TEXT NOT NULL CHECK (kyc_status IN ('not_started','pending','verified','rejected')) DEFAULT 'not_started',
		charges_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		payouts_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		platform_fee_percent NUMERIC(5,2),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shops_created ON shops (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_shops_owner ON shops (owner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_shops_status ON shops (status, created_at DESC)`,
}

type Store struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]Shop
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, memByID: make(map[string]Shop)}
}

const shopColumns = `id, owner_id, name, slug, description, country, currency, status, status_reason, stripe_account_id, kyc_status, charges_enabled, payouts_enabled, platform_fee_percent, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanShop(row scanner) (Shop, error) {
	var s Shop
	var acct sql.NullString
	var fee decimal.NullDecimal
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Slug, &s.Description, &s.Country, &s.Currency, &s.Status, &s.StatusReason,
		&acct, &s.KYCStatus, &s.ChargesEnabled, &s.PayoutsEnabled, &fee, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Shop{}, err
	}
	s.StripeAccountID = acct.String
	if fee.Valid {
		v := fee.Decimal
		s.PlatformFeePercent = &v
	}
	return s, nil
}

func feeArg(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return p.StringFixed(2)
}

func (s *Store) Create(ctx context.Context, sh Shop) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for _, existing := range s.memByID {
			if existing.Slug == sh.Slug {
				return apperr.Conflict("slug already taken")
			}
		}
		s.memByID[sh.ID] = sh
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO shops (`+shopColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sh.ID, sh.OwnerID, sh.Name, sh.Slug, sh.Description, sh.Country, sh.Currency, sh.Status, sh.StatusReason,
		db.NilIfEmpty(sh.StripeAccountID), sh.KYCStatus, sh.ChargesEnabled, sh.PayoutsEnabled, feeArg(sh.PlatformFeePercent), sh.CreatedAt, sh.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("slug already taken")
	}
	return err
}

func (s *Store) getWhere(ctx context.Context, match func(Shop) bool, where string, arg any) (Shop, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, sh := range s.memByID {
			if match(sh) {
				return sh, nil
			}
		}
		return Shop{}, apperr.NotFound("shop")
	}
	sh, err := scanShop(s.db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE `+where+` = $1`, arg))
	if err == sql.ErrNoRows {
		return Shop{}, apperr.NotFound("shop")
	}
	return sh, err
}

func (s *Store) Get(ctx context.Context, id string) (Shop, error) {
	if s.db == nil {
		s.memMu.RLock()
		sh, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return Shop{}, apperr.NotFound("shop")
		}
		return sh, nil
	}
	return s.getWhere(ctx, nil, "id", id)
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (Shop, error) {
	return s.getWhere(ctx, func(sh Shop) bool { return sh.Slug == slug }, "slug", slug)
}

func (s *Store) GetByStripeAccount(ctx context.Context, accountID string) (Shop, error) {
	return s.getWhere(ctx, func(sh Shop) bool { return sh.StripeAccountID == accountID }, "stripe_account_id", accountID)
}

// Update writes every mutable column of sh.
func (s *Store) Update(ctx context.Context, sh Shop) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[sh.ID]; !ok {
			return apperr.NotFound("shop")
		}
		s.memByID[sh.ID] = sh
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE shops SET name=$2, description=$3, country=$4, currency=$5, status=$6, status_reason=$7,
		stripe_account_id=$8, kyc_status=$9, charges_enabled=$10, payouts_enabled=$11, platform_fee_percent=$12, updated_at=$13 WHERE id=$1`,
		sh.ID, sh.Name, sh.Description, sh.Country, sh.Currency, sh.Status, sh.StatusReason,
		db.NilIfEmpty(sh.StripeAccountID), sh.KYCStatus, sh.ChargesEnabled, sh.PayoutsEnabled, feeArg(sh.PlatformFeePercent), sh.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shop")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[id]; !ok {
			return apperr.NotFound("shop")
		}
		delete(s.memByID, id)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shop")
	}
	return nil
}

type ListFilter struct {
	OwnerID string
	Status  string
	Cursor  db.Cursor
	Limit   int
}

func (s *Store) List(ctx context.Context, f ListFilter) (db.Page[Shop], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Shop, 0, len(s.memByID))
		for _, sh := range s.memByID {
			if f.OwnerID != "" && sh.OwnerID != f.OwnerID {
				continue
			}
			if f.Status != "" && sh.Status != f.Status {
				continue
			}
			items = append(items, sh)
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, shopKey), nil
	}
	flt := db.NewFilter().EqIf("owner_id", f.OwnerID).EqIf("status", f.Status).After(f.Cursor)
	q := `SELECT ` + shopColumns + ` FROM shops WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC LIMIT ` + flt.Arg(f.Limit+1)
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[Shop]{}, err
	}
	defer rows.Close()
	var items []Shop
	for rows.Next() {
		sh, err := scanShop(rows)
		if err != nil {
			return db.Page[Shop]{}, err
		}
		items = append(items, sh)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Shop]{}, err
	}
	return db.Trim(items, f.Limit, shopKey), nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	out := map[string]int{StatusPending: 0, StatusActive: 0, StatusSuspended: 0, StatusRejected: 0}
	if s.db == nil {
		s.memMu.RLock()
		for _, sh := range s.memByID {
			out[sh.Status]++
		}
		s.memMu.RUnlock()
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM shops GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Slugify lower-cases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
