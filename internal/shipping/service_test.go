package shipping_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shipping"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops/shopstest"
)

func TestZoneAndRateLifecycle(t *testing.T) {
	env := shopstest.New()
	svc := shipping.NewService(shipping.NewStore(nil), env.Shops, env.Events)
	owned := env.ActiveShop(t, "Outdoors")
	p := authtest.Principal(owned.Owner)
	ctx := context.Background()

	_, err := svc.CreateZone(ctx, p, owned.Shop.ID, shipping.ZoneInput{Name: "Bad", Countries: []string{"USA"}})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	zone, err := svc.CreateZone(ctx, p, owned.Shop.ID, shipping.ZoneInput{Name: "North America", Countries: []string{"us", "ca", "US"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"US", "CA"}, zone.Countries)

	_, err = svc.CreateRate(ctx, p, owned.Shop.ID, zone.ID, shipping.RateInput{Name: "Slow", Price: decimal.NewFromInt(1), MinDays: 5, MaxDays: 2})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	rate, err := svc.CreateRate(ctx, p, owned.Shop.ID, zone.ID, shipping.RateInput{Name: "Ground", Price: decimal.RequireFromString("7.5"), MinDays: 3, MaxDays: 5})
	require.NoError(t, err)

	opts, err := svc.QuoteRates(ctx, owned.Shop.ID, "ca", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, rate.ID, opts[0].RateID)

	other := env.ActiveShop(t, "Other")
	_, err = svc.UpdateRate(ctx, authtest.Principal(other.Owner), owned.Shop.ID, rate.ID, shipping.RateInput{Name: "x"})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	require.NoError(t, svc.DeleteZone(ctx, p, owned.Shop.ID, zone.ID))
	opts, err = svc.QuoteRates(ctx, owned.Shop.ID, "CA", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Empty(t, opts)
	assert.True(t, env.Events.Has("marketplace.shipping_zone.deleted"))
}

func TestQuoteEndpoint(t *testing.T) {
	env := shopstest.New()
	svc := shipping.NewService(shipping.NewStore(nil), env.Shops, nil)
	mux := http.NewServeMux()
	shipping.NewHandler(svc, env.Middleware).Register(mux)
	owned := env.ActiveShop(t, "Outdoors")
	p := authtest.Principal(owned.Owner)
	ctx := context.Background()

	zone, err := svc.CreateZone(ctx, p, owned.Shop.ID, shipping.ZoneInput{Name: "World", Countries: []string{"*"}})
	require.NoError(t, err)
	threshold := decimal.NewFromInt(100)
	_, err = svc.CreateRate(ctx, p, owned.Shop.ID, zone.ID, shipping.RateInput{Name: "Standard", Price: decimal.NewFromInt(9), MaxDays: 10, FreeShippingThreshold: &threshold})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/shops/"+owned.Shop.ID+"/shipping/quote?country=BR&subtotal=120", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []shipping.Option `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].FreeShipping)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/shops/"+owned.Shop.ID+"/shipping/quote?country=Brazil", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
