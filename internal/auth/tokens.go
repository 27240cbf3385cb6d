package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims are the JWT claims of both token kinds; Version is only set on
// refresh tokens.
type Claims struct {
	Role    Role   `json:"role,omitempty"`
	Type    string `json:"typ"`
	Version int    `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Tokens signs and verifies HS256 tokens. Access and refresh tokens use
// separate secrets so one can never be replayed as the other.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

func NewTokens(cfg config.AuthConfig) *Tokens {
	return &Tokens{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
}

func (t *Tokens) Issue(u User) (Pair, error) {
	now := t.now().UTC()
	accessExp := now.Add(t.accessTTL)
	refreshExp := now.Add(t.refreshTTL)

	access, err := t.sign(t.accessSecret, Claims{
		Role: u.Role,
		Type: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return Pair{}, err
	}
	refresh, err := t.sign(t.refreshSecret, Claims{
		Type:    typeRefresh,
		Version: u.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *Tokens) sign(secret []byte, c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

func (t *Tokens) parse(secret []byte, raw, wantType string) (Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperr.Unauthorized("token expired")
		}
		return Claims{}, apperr.Unauthorized("invalid token")
	}
	if c.Type != wantType || c.Subject == "" {
		return Claims{}, apperr.Unauthorized("invalid token type")
	}
	return c, nil
}

func (t *Tokens) ParseAccess(raw string) (Claims, error) {
	return t.parse(t.accessSecret, raw, typeAccess)
}

func (t *Tokens) ParseRefresh(raw string) (Claims, error) {
	return t.parse(t.refreshSecret, raw, typeRefresh)
}
