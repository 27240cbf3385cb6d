// Package fees holds the platform commission: the configurable default
// percentage and the fee arithmetic applied at checkout.
package fees

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns round(total * percent / 100, 2).
func Calculate(total, percent decimal.Decimal) decimal.Decimal {
	return total.Mul(percent).Div(hundred).Round(2)
}

func ValidatePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return apperr.Invalid("fee percent must be between 0 and 100")
	}
	return nil
}

// Effective picks the shop override when present, else the platform default.
func Effective(override *decimal.Decimal, platformDefault decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return platformDefault
}

const keyDefaultPercent = "default_fee_percent"

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS platform_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Settings stores the platform default fee. Until an admin sets one the
// configured fallback applies.
type Settings struct {
	db       *sql.DB
	fallback decimal.Decimal
	memMu    sync.RWMutex
	mem      map[string]string
}

func NewSettings(db *sql.DB, fallback float64) *Settings {
	return &Settings{db: db, fallback: decimal.NewFromFloat(fallback).Round(2), mem: make(map[string]string)}
}

func (s *Settings) get(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		s.memMu.RLock()
		v, ok := s.mem[key]
		s.memMu.RUnlock()
		return v, ok, nil
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM platform_settings WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Settings) set(ctx context.Context, key, value string) error {
	if s.db == nil {
		s.memMu.Lock()
		s.mem[key] = value
		s.memMu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO platform_settings (key, value, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, key, value, time.Now().UTC())
	return err
}

func (s *Settings) DefaultPercent(ctx context.Context) (decimal.Decimal, error) {
	raw, ok, err := s.get(ctx, keyDefaultPercent)
	if err != nil || !ok {
		return s.fallback, err
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return s.fallback, nil
	}
	return p, nil
}

func (s *Settings) SetDefaultPercent(ctx context.Context, p decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidatePercent(p); err != nil {
		return decimal.Decimal{}, err
	}
	p = p.Round(2)
	return p, s.set(ctx, keyDefaultPercent, p.StringFixed(2))
}
