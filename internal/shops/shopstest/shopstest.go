// Package shopstest wires a memory-mode shops service with a fake gateway
// for tests of shop-scoped packages.
package shopstest

import (
	"context"
	"testing"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments/paymentstest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
)

type Env struct {
	*authtest.Env
	Shops   *shops.Service
	Gateway *paymentstest.Gateway
	Events  *events.Recorder
}

func New() *Env {
	a := authtest.New()
	gw := paymentstest.New()
	rec := &events.Recorder{}
	svc := shops.NewService(shops.Deps{
		Store:   shops.NewStore(nil),
		Users:   a.Service.Users(),
		Gateway: gw,
		Stripe:  config.StripeConfig{ConnectReturnURL: "http://localhost/return", ConnectRefreshURL: "http://localhost/refresh"},
		Events:  rec,
	})
	return &Env{Env: a, Shops: svc, Gateway: gw, Events: rec}
}

// Owned is a shop together with its owner and the owner's access token.
type Owned struct {
	Shop  shops.Shop
	Owner auth.User
	Token string
}

// ActiveShop creates an approved shop whose connected account can take
// charges.
func (e *Env) ActiveShop(t testing.TB, name string) Owned {
	t.Helper()
	ctx := context.Background()
	owner, token := e.User(t, auth.RoleShopOwner)
	p := authtest.Principal(owner)
	sh, err := e.Shops.Create(ctx, p, shops.CreateInput{Name: name, Country: "US", Currency: "USD"})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}
	sh, err = e.Shops.ConnectAccount(ctx, p, sh.ID)
	if err != nil {
		t.Fatalf("connect account: %v", err)
	}
	e.Gateway.Verify(sh.StripeAccountID)
	if _, err := e.Shops.SyncAccount(ctx, p, sh.ID); err != nil {
		t.Fatalf("sync account: %v", err)
	}
	sh, err = e.Shops.SetStatus(ctx, sh.ID, shops.StatusActive, "")
	if err != nil {
		t.Fatalf("activate shop: %v", err)
	}
	return Owned{Shop: sh, Owner: owner, Token: token}
}
