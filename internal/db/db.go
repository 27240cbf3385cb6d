// Package db holds the Postgres plumbing shared by every store: connection
// setup, idempotent schema creation, keyset cursors, SQL filter building and
// the per-scope list cache. Stores fall back to memory mode when Connect fails.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

var ErrNotConfigured = errors.New("missing DATABASE_URL or DB_HOST")

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, ErrNotConfigured
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema executes each statement in order; statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func EnsureSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func Mode(db *sql.DB) string {
	if db == nil {
		return "memory"
	}
	return "postgres"
}

// Filter accumulates WHERE clauses with numbered placeholders.
type Filter struct {
	where []string
	args  []any
}

func NewFilter(args ...any) *Filter {
	return &Filter{args: append([]any{}, args...)}
}

// Arg appends v and returns its placeholder.
func (f *Filter) Arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

// Where adds a clause; every "?" in clause is replaced by a placeholder for
// the matching value.
func (f *Filter) Where(clause string, vals ...any) *Filter {
	for _, v := range vals {
		clause = strings.Replace(clause, "?", f.Arg(v), 1)
	}
	f.where = append(f.where, clause)
	return f
}

// EqIf adds "col = value" when value is non-empty.
func (f *Filter) EqIf(col, value string) *Filter {
	if value == "" {
		return f
	}
	return f.Where(col+" = ?", value)
}

// After adds the keyset condition for a (created_at, id) DESC ordering.
func (f *Filter) After(c Cursor) *Filter {
	if c.IsZero() {
		return f
	}
	return f.Where("(created_at, id) < (?, ?)", c.Time, c.ID)
}

func (f *Filter) Clause() string {
	if len(f.where) == 0 {
		return "TRUE"
	}
	return strings.Join(f.where, " AND ")
}

func (f *Filter) Args() []any { return f.args }

// NilIfEmpty maps "" to SQL NULL.
func NilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Explain returns the planner output for query as parsed JSON.
func Explain(ctx context.Context, db *sql.DB, query string, args ...any) (any, error) {
	if db == nil {
		return map[string]any{"mode": "memory", "note": "no SQL plan available"}, nil
	}
	var planRaw []byte
	if err := db.QueryRowContext(ctx, "EXPLAIN (ANALYZE FALSE, FORMAT JSON) "+query, args...).Scan(&planRaw); err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(planRaw, &parsed); err != nil {
		return string(planRaw), nil
	}
	return parsed, nil
}

// IsUniqueViolation reports a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
