// Package auth owns marketplace users, JWT access/refresh tokens and the
// middleware that turns a bearer token into a Principal.
package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

type Role string

const (
	RoleCustomer      Role = "customer"
	RoleShopOwner     Role = "shop_owner"
	RolePlatformAdmin Role = "platform_admin"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleShopOwner, RolePlatformAdmin:
		return r, true
	}
	return "", false
}

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	PasswordHash     string    `json:"-"`
	Role             Role      `json:"role"`
	Status           string    `json:"status"`
	TokenVersion     int       `json:"-"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func userKey(u User) (time.Time, string) { return u.CreatedAt, u.ID }

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('customer','shop_owner','platform_admin')),
		status TEXT NOT NULL CHECK (status IN ('active','suspended')) DEFAULT 'active',
		token_version INT NOT NULL DEFAULT 0,
		stripe_customer_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created ON users (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_users_role ON users (role)`,
}

// Store persists users in Postgres, or in memory when db is nil.
type Store struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]User
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, memByID: make(map[string]User)}
}

const userColumns = `id, email, name, password_hash, role, status, token_version, stripe_customer_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	var customer sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Status, &u.TokenVersion, &customer, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.StripeCustomerID = customer.String
	return u, nil
}

func (s *Store) Create(ctx context.Context, u User) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for _, existing := range s.memByID {
			if existing.Email == u.Email {
				return apperr.Conflict("email already registered")
			}
		}
		s.memByID[u.ID] = u
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.Status, u.TokenVersion, db.NilIfEmpty(u.StripeCustomerID), u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("email already registered")
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (User, error) {
	if s.db == nil {
		s.memMu.RLock()
		u, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return User{}, apperr.NotFound("user")
		}
		return u, nil
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return User{}, apperr.NotFound("user")
	}
	return u, err
}

func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, u := range s.memByID {
			if u.Email == email {
				return u, nil
			}
		}
		return User{}, apperr.NotFound("user")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return User{}, apperr.NotFound("user")
	}
	return u, err
}

// Update writes the mutable columns of u.
func (s *Store) Update(ctx context.Context, u User) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[u.ID]; !ok {
			return apperr.NotFound("user")
		}
		s.memByID[u.ID] = u
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name=$2, password_hash=$3, role=$4, status=$5, token_version=$6, stripe_customer_id=$7, updated_at=$8 WHERE id=$1`,
		u.ID, u.Name, u.PasswordHash, u.Role, u.Status, u.TokenVersion, db.NilIfEmpty(u.StripeCustomerID), u.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

type ListFilter struct {
	Role   string
	Status string
	Cursor db.Cursor
	Limit  int
}

func (s *Store) List(ctx context.Context, f ListFilter) (db.Page[User], error) {
	if s.db == nil {
		s.memMu.RLock()
		items := make([]User, 0, len(s.memByID))
		for _, u := range s.memByID {
			if f.Role != "" && string(u.Role) != f.Role {
				continue
			}
			if f.Status != "" && u.Status != f.Status {
				continue
			}
			items = append(items, u)
		}
		s.memMu.RUnlock()
		return db.Paginate(items, f.Cursor, f.Limit, userKey), nil
	}
	flt := db.NewFilter().EqIf("role", f.Role).EqIf("status", f.Status).After(f.Cursor)
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + flt.Clause() + ` ORDER BY created_at DESC, id DESC LIMIT ` + flt.Arg(f.Limit+1)
	rows, err := s.db.QueryContext(ctx, q, flt.Args()...)
	if err != nil {
		return db.Page[User]{}, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return db.Page[User]{}, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return db.Page[User]{}, err
	}
	return db.Trim(items, f.Limit, userKey), nil
}

// CountByRole returns the number of users per role.
func (s *Store) CountByRole(ctx context.Context) (map[Role]int, error) {
	out := map[Role]int{RoleCustomer: 0, RoleShopOwner: 0, RolePlatformAdmin: 0}
	if s.db == nil {
		s.memMu.RLock()
		for _, u := range s.memByID {
			out[u.Role]++
		}
		s.memMu.RUnlock()
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role Role
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}
