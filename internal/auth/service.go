package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
)

const minPasswordLen = 8

type Session struct {
	User   User `json:"user"`
	Tokens Pair `json:"tokens"`
}

type Service struct {
	users  *Store
	tokens *Tokens
	events events.Publisher
	cost   int
	now    func() time.Time
}

func NewService(users *Store, tokens *Tokens, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{users: users, tokens: tokens, events: pub, cost: bcrypt.DefaultCost, now: time.Now}
}

func (s *Service) Users() *Store { return s.users }

// SetPasswordCost overrides the bcrypt cost (tests use bcrypt.MinCost).
func (s *Service) SetPasswordCost(cost int) { s.cost = cost }

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("valid email is required")
	}
	return email, nil
}

func (s *Service) newUser(in RegisterInput, role Role) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLen {
		return User{}, apperr.Invalid("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	return User{
		ID:           db.NewID("usr"),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: string(hash),
		Role:         role,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Register creates a customer or shop owner. Platform admins only come from
// the seed command.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	role := RoleCustomer
	if strings.TrimSpace(in.Role) != "" {
		r, ok := ParseRole(in.Role)
		if !ok || r == RolePlatformAdmin {
			return Session{}, apperr.Invalid("role must be customer or shop_owner")
		}
		role = r
	}
	u, err := s.newUser(in, role)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return Session{}, err
	}
	pair, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	events.Emit(ctx, s.events, "marketplace.user.registered", u)
	return Session{User: u, Tokens: pair}, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByEmail(ctx, email)
	if apperr.Is(err, apperr.CodeNotFound) {
		return Session{}, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, apperr.Unauthorized("invalid email or password")
	}
	if u.Status != StatusActive {
		return Session{}, apperr.Forbidden("account suspended")
	}
	pair, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. Tokens issued before the
// last logout (older version) are rejected.
func (s *Service) Refresh(ctx context.Context, raw string) (Session, error) {
	c, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.Get(ctx, c.Subject)
	if apperr.Is(err, apperr.CodeNotFound) {
		return Session{}, apperr.Unauthorized("invalid token")
	}
	if err != nil {
		return Session{}, err
	}
	if c.Version != u.TokenVersion {
		return Session{}, apperr.Unauthorized("token revoked")
	}
	if u.Status != StatusActive {
		return Session{}, apperr.Forbidden("account suspended")
	}
	pair, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Tokens: pair}, nil
}

// Logout revokes every outstanding refresh token of the user.
func (s *Service) Logout(ctx context.Context, userID string) error {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	u.TokenVersion++
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.user.logged_out", map[string]string{"id": u.ID})
	return nil
}

func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.users.Get(ctx, userID)
}

// Authenticate resolves an access token to the principal of an active user.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	c, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return Principal{}, err
	}
	u, err := s.users.Get(ctx, c.Subject)
	if apperr.Is(err, apperr.CodeNotFound) {
		return Principal{}, apperr.Unauthorized("invalid token")
	}
	if err != nil {
		return Principal{}, err
	}
	if u.Status != StatusActive {
		return Principal{}, apperr.Forbidden("account suspended")
	}
	return Principal{UserID: u.ID, Role: u.Role, Email: u.Email, Name: u.Name}, nil
}

// SetStatus suspends or reactivates a user. Suspension also revokes refresh
// tokens.
func (s *Service) SetStatus(ctx context.Context, userID, status string) (User, error) {
	if status != StatusActive && status != StatusSuspended {
		return User{}, apperr.Invalid("status must be active or suspended")
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if u.Status == status {
		return u, nil
	}
	u.Status = status
	if status == StatusSuspended {
		u.TokenVersion++
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return User{}, err
	}
	topic := "marketplace.user.reactivated"
	if status == StatusSuspended {
		topic = "marketplace.user.suspended"
	}
	events.Emit(ctx, s.events, topic, u)
	return u, nil
}

// EnsureAdmin creates a platform admin, or promotes and resets the password
// of an existing account with the same email.
func (s *Service) EnsureAdmin(ctx context.Context, email, name, password string) (User, error) {
	u, err := s.newUser(RegisterInput{Email: email, Password: password, Name: name}, RolePlatformAdmin)
	if err != nil {
		return User{}, err
	}
	existing, err := s.users.GetByEmail(ctx, u.Email)
	if apperr.Is(err, apperr.CodeNotFound) {
		return u, s.users.Create(ctx, u)
	}
	if err != nil {
		return User{}, err
	}
	existing.Role = RolePlatformAdmin
	existing.Status = StatusActive
	existing.PasswordHash = u.PasswordHash
	if name != "" {
		existing.Name = u.Name
	}
	existing.UpdatedAt = u.UpdatedAt
	return existing, s.users.Update(ctx, existing)
}

// StripeCustomer returns the user's Stripe customer id, creating the
// customer on first use.
func (s *Service) StripeCustomer(ctx context.Context, gw payments.Gateway, userID string) (string, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	id, err := gw.CreateCustomer(ctx, u.Email, u.Name, u.ID)
	if err != nil {
		return "", err
	}
	u.StripeCustomerID = id
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return "", err
	}
	return id, nil
}
