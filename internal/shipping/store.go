package shipping

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

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS shipping_zones (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL REFERENCES shops(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		countries JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shipping_zones_shop ON shipping_zones (shop_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS shipping_rates (
		id TEXT PRIMARY KEY,
		zone_id TEXT NOT NULL REFERENCES shipping_zones(id) ON DELETE CASCADE,
		shop_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price NUMERIC(18,2) NOT NULL CHECK (price >= 0),
		min_days INT NOT NULL DEFAULT 0,
		max_days INT NOT NULL DEFAULT 0,
		free_shipping_threshold NUMERIC(18,2),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shipping_rates_zone ON shipping_rates (zone_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_shipping_rates_shop ON shipping_rates (shop_id)`,
}

type Store struct {
	db    *sql.DB
	memMu sync.RWMutex
	zones map[string]Zone
	rates map[string]Rate
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, zones: make(map[string]Zone), rates: make(map[string]Rate)}
}

func zoneKey(z Zone) (time.Time, string) { return z.CreatedAt, z.ID }
func rateKey(r Rate) (time.Time, string) { return r.CreatedAt, r.ID }

type scanner interface {
	Scan(dest ...any) error
}

const zoneColumns = `id, shop_id, name, countries, created_at, updated_at`
const rateColumns = `id, zone_id, shop_id, name, price, min_days, max_days, free_shipping_threshold, created_at, updated_at`

func scanZone(row scanner) (Zone, error) {
	var z Zone
	var countries []byte
	if err := row.Scan(&z.ID, &z.ShopID, &z.Name, &countries, &z.CreatedAt, &z.UpdatedAt); err != nil {
		return Zone{}, err
	}
	if err := json.Unmarshal(countries, &z.Countries); err != nil {
		return Zone{}, err
	}
	return z, nil
}

func scanRate(row scanner) (Rate, error) {
	var r Rate
	var threshold decimal.NullDecimal
	if err := row.Scan(&r.ID, &r.ZoneID, &r.ShopID, &r.Name, &r.Price, &r.MinDays, &r.MaxDays, &threshold, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Rate{}, err
	}
	if threshold.Valid {
		v := threshold.Decimal
		r.FreeShippingThreshold = &v
	}
	return r, nil
}

func thresholdArg(t *decimal.Decimal) any {
	if t == nil {
		return nil
	}
	return t.StringFixed(2)
}

func countriesArg(c []string) string {
	b, _ := json.Marshal(c)
	return string(b)
}

func (s *Store) SaveZone(ctx context.Context, z Zone, create bool) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.zones[z.ID]; !ok && !create {
			return apperr.NotFound("shipping zone")
		}
		s.zones[z.ID] = z
		return nil
	}
	if create {
		_, err := s.db.ExecContext(ctx, `INSERT INTO shipping_zones (`+zoneColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
			z.ID, z.ShopID, z.Name, countriesArg(z.Countries), z.CreatedAt, z.UpdatedAt)
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE shipping_zones SET name=$2, countries=$3, updated_at=$4 WHERE id=$1`,
		z.ID, z.Name, countriesArg(z.Countries), z.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shipping zone")
	}
	return nil
}

func (s *Store) GetZone(ctx context.Context, id string) (Zone, error) {
	if s.db == nil {
		s.memMu.RLock()
		z, ok := s.zones[id]
		s.memMu.RUnlock()
		if !ok {
			return Zone{}, apperr.NotFound("shipping zone")
		}
		return z, nil
	}
	z, err := scanZone(s.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM shipping_zones WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return Zone{}, apperr.NotFound("shipping zone")
	}
	return z, err
}

// DeleteZone removes the zone and its rates.
func (s *Store) DeleteZone(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.zones[id]; !ok {
			return apperr.NotFound("shipping zone")
		}
		delete(s.zones, id)
		for rid, r := range s.rates {
			if r.ZoneID == id {
				delete(s.rates, rid)
			}
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shipping_zones WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shipping zone")
	}
	return nil
}

// ListZones pages a shop's zones. limit <= 0 returns all of them.
func (s *Store) ListZones(ctx context.Context, shopID string, cursor db.Cursor, limit int) (db.Page[Zone], error) {
	if s.db == nil {
		s.memMu.RLock()
		var items []Zone
		for _, z := range s.zones {
			if z.ShopID == shopID {
				items = append(items, z)
			}
		}
		s.memMu.RUnlock()
		if limit <= 0 {
			limit = len(items) + 1
		}
		return db.Paginate(items, cursor, limit, zoneKey), nil
	}
	flt := db.NewFilter(shopID).Where("shop_id = $1").After(cursor)
	q := `SELECT ` + zoneColumns + ` FROM shipping_zones WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ` + flt.Arg(limit+1)
	}
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[Zone]{}, err
	}
	defer rows.Close()
	var items []Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return db.Page[Zone]{}, err
		}
		items = append(items, z)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Zone]{}, err
	}
	if limit <= 0 {
		return db.Page[Zone]{Items: items}, nil
	}
	return db.Trim(items, limit, zoneKey), nil
}

func (s *Store) SaveRate(ctx context.Context, r Rate, create bool) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.rates[r.ID]; !ok && !create {
			return apperr.NotFound("shipping rate")
		}
		s.rates[r.ID] = r
		return nil
	}
	if create {
		_, err := s.db.ExecContext(ctx, `INSERT INTO shipping_rates (`+rateColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			r.ID, r.ZoneID, r.ShopID, r.Name, r.Price.StringFixed(2), r.MinDays, r.MaxDays, thresholdArg(r.FreeShippingThreshold), r.CreatedAt, r.UpdatedAt)
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE shipping_rates SET name=$2, price=$3, min_days=$4, max_days=$5, free_shipping_threshold=$6, updated_at=$7 WHERE id=$1`,
		r.ID, r.Name, r.Price.StringFixed(2), r.MinDays, r.MaxDays, thresholdArg(r.FreeShippingThreshold), r.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shipping rate")
	}
	return nil
}

func (s *Store) GetRate(ctx context.Context, id string) (Rate, error) {
	if s.db == nil {
		s.memMu.RLock()
		r, ok := s.rates[id]
		s.memMu.RUnlock()
		if !ok {
			return Rate{}, apperr.NotFound("shipping rate")
		}
		return r, nil
	}
	r, err := scanRate(s.db.QueryRowContext(ctx, `SELECT `+rateColumns+` FROM shipping_rates WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return Rate{}, apperr.NotFound("shipping rate")
	}
	return r, err
}

func (s *Store) DeleteRate(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.rates[id]; !ok {
			return apperr.NotFound("shipping rate")
		}
		delete(s.rates, id)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shipping_rates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("shipping rate")
	}
	return nil
}

// ListRates returns rates filtered by zone or, with zoneID empty, every rate
// of the shop. limit <= 0 returns all of them.
func (s *Store) ListRates(ctx context.Context, shopID, zoneID string, cursor db.Cursor, limit int) (db.Page[Rate], error) {
	if s.db == nil {
		s.memMu.RLock()
		var items []Rate
		for _, r := range s.rates {
			if r.ShopID != shopID || (zoneID != "" && r.ZoneID != zoneID) {
				continue
			}
			items = append(items, r)
		}
		s.memMu.RUnlock()
		if limit <= 0 {
			limit = len(items) + 1
		}
		return db.Paginate(items, cursor, limit, rateKey), nil
	}
	flt := db.NewFilter(shopID).Where("shop_id = $1").EqIf("zone_id", zoneID).After(cursor)
	q := `SELECT ` + rateColumns + ` FROM shipping_rates WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ` + flt.Arg(limit+1)
	}
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[Rate]{}, err
	}
	defer rows.Close()
	var items []Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return db.Page[Rate]{}, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return db.Page[Rate]{}, err
	}
	if limit <= 0 {
		return db.Page[Rate]{Items: items}, nil
	}
	return db.Trim(items, limit, rateKey), nil
}
