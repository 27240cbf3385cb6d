// Package products is the shop catalog: priced products with optional
// recurring prices, stock, and images.
package products

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Purchase types. Everything but one_time is billed as a subscription.
const (
	PurchaseOneTime = "one_time"
	PurchaseWeekly  = "weekly"
	PurchaseMonthly = "monthly"
	PurchaseYearly  = "yearly"
)

func ValidPurchaseType(pt string) bool {
	switch pt {
	case PurchaseOneTime, PurchaseWeekly, PurchaseMonthly, PurchaseYearly:
		return true
	}
	return false
}

func IsRecurring(pt string) bool {
	return pt == PurchaseWeekly || pt == PurchaseMonthly || pt == PurchaseYearly
}

type Product struct {
	ID           string           `json:"id"`
	ShopID       string           `json:"shop_id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Status       string           `json:"status"`
	Currency     string           `json:"currency"`
	PriceOneTime *decimal.Decimal `json:"price_one_time,omitempty"`
	PriceWeekly  *decimal.Decimal `json:"price_weekly,omitempty"`
	PriceMonthly *decimal.Decimal `json:"price_monthly,omitempty"`
	PriceYearly  *decimal.Decimal `json:"price_yearly,omitempty"`
	Stock        *int             `json:"stock,omitempty"`
	Images       []string         `json:"images"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// PriceFor returns the price of purchaseType, if the product offers it.
func (p Product) PriceFor(purchaseType string) (decimal.Decimal, bool) {
	var price *decimal.Decimal
	switch purchaseType {
	case PurchaseOneTime:
		price = p.PriceOneTime
	case PurchaseWeekly:
		price = p.PriceWeekly
	case PurchaseMonthly:
		price = p.PriceMonthly
	case PurchaseYearly:
		price = p.PriceYearly
	}
	if price == nil {
		return decimal.Decimal{}, false
	}
	return *price, true
}

func productKey(p Product) (time.Time, string) { return p.CreatedAt, p.ID }

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('draft','active','archived')) DEFAULT 'draft',
		currency TEXT NOT NULL,
		price_one_time NUMERIC(18,2) CHECK (price_one_time >= 0),
		price_weekly NUMERIC(18,2) CHECK (price_weekly >= 0),
		price_monthly NUMERIC(18,2) CHECK (price_monthly >= 0),
		price_yearly NUMERIC(18,2) CHECK (price_yearly >= 0),
		stock INT CHECK (stock >= 0),
		images JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_shop_created ON products (shop_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_products_shop_status ON products (shop_id, status)`,
}

type Store struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]Product
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, memByID: make(map[string]Product)}
}

const productColumns = `id, shop_id, name, description, status, currency, price_one_time, price_weekly, price_monthly, price_yearly, stock, images, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func nullPrice(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

func priceArg(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return p.StringFixed(2)
}

func stockArg(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func scanProduct(row scanner) (Product, error) {
	var p Product
	var one, week, month, year decimal.NullDecimal
	var stock sql.NullInt64
	var images []byte
	if err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Description, &p.Status, &p.Currency, &one, &week, &month, &year, &stock, &images, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.PriceOneTime, p.PriceWeekly, p.PriceMonthly, p.PriceYearly = nullPrice(one), nullPrice(week), nullPrice(month), nullPrice(year)
	if stock.Valid {
		n := int(stock.Int64)
		p.Stock = &n
	}
	p.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return Product{}, err
		}
	}
	return p, nil
}

func imagesArg(images []string) string {
	if images == nil {
		images = []string{}
	}
	b, _ := json.Marshal(images)
	return string(b)
}

func (s *Store) Create(ctx context.Context, p Product) error {
	if s.db == nil {
		s.memMu.Lock()
		s.memByID[p.ID] = p
		s.memMu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (`+productColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.ShopID, p.Name, p.Description, p.Status, p.Currency,
		priceArg(p.PriceOneTime), priceArg(p.PriceWeekly), priceArg(p.PriceMonthly), priceArg(p.PriceYearly),
		stockArg(p.Stock), imagesArg(p.Images), p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Product, error) {
	if s.db == nil {
		s.memMu.RLock()
		p, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return Product{}, apperr.NotFound("product")
		}
		return p, nil
	}
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return Product{}, apperr.NotFound("product")
	}
	return p, err
}

func (s *Store) Update(ctx context.Context, p Product) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[p.ID]; !ok {
			return apperr.NotFound("product")
		}
		s.memByID[p.ID] = p
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE products SET name=$2, description=$3, status=$4, currency=$5, price_one_time=$6, price_weekly=$7,
		price_monthly=$8, price_yearly=$9, stock=$10, images=$11, updated_at=$12 WHERE id=$1`,
		p.ID, p.Name, p.Description, p.Status, p.Currency,
		priceArg(p.PriceOneTime), priceArg(p.PriceWeekly), priceArg(p.PriceMonthly), priceArg(p.PriceYearly),
		stockArg(p.Stock), imagesArg(p.Images), p.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("product")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[id]; !ok {
			return apperr.NotFound("product")
		}
		delete(s.memByID, id)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("product")
	}
	return nil
}

type ListFilter struct {
	ShopID string
	Status string
	Cursor db.Cursor
	Limit  int
}

func (s *Store) List(ctx context.Context, f ListFilter) (db.Page[Product], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Product, 0)
		for _, p := range s.memByID {
			if p.ShopID != f.ShopID {
				continue
			}
			if f.Status != "" && p.Status != f.Status {
				continue
			}
			items = append(items, p)
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, productKey), nil
	}
	flt := db.NewFilter(f.ShopID).Where("shop_id = $1").EqIf("status", f.Status).After(f.Cursor)
	q := `SELECT ` + productColumns + ` FROM products WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC LIMIT ` + flt.Arg(f.Limit+1)
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[Product]{}, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return db.Page[Product]{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Product]{}, err
	}
	return db.Trim(items, f.Limit, productKey), nil
}

// ReserveStock decrements stock by qty. Products without a stock figure are
// unlimited.
func (s *Store) ReserveStock(ctx context.Context, id string, qty int) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		p, ok := s.memByID[id]
		if !ok {
			return apperr.NotFound("product")
		}
		if p.Stock == nil {
			return nil
		}
		if *p.Stock < qty {
			return apperr.Newf(apperr.CodeConflict, "insufficient stock for %s", p.Name)
		}
		n := *p.Stock - qty
		p.Stock = &n
		p.UpdatedAt = time.Now().UTC()
		s.memByID[id] = p
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE products SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock IS NOT NULL AND stock >= $2`, id, qty, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Stock == nil {
		return nil
	}
	return apperr.Newf(apperr.CodeConflict, "insufficient stock for %s", p.Name)
}
