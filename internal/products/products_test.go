package products_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/products"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops/shopstest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/storage"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func newService(env *shopstest.Env, images storage.Store) *products.Service {
	return products.NewService(products.NewStore(nil), env.Shops, images, env.Events, time.Minute)
}

func TestCreateValidatesPrices(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	p := authtest.Principal(owned.Owner)
	ctx := context.Background()

	_, err := svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Beans")})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("-1")})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	prod, err := svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("12.499"), PriceMonthly: price("10")})
	require.NoError(t, err)
	assert.Equal(t, products.StatusDraft, prod.Status)
	assert.Equal(t, "USD", prod.Currency)

	got, ok := prod.PriceFor(products.PurchaseOneTime)
	require.True(t, ok)
	assert.Equal(t, "12.50", got.StringFixed(2))
	_, ok = prod.PriceFor(products.PurchaseYearly)
	assert.False(t, ok)
}

func TestOtherOwnersCannotEdit(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	ctx := context.Background()
	prod, err := svc.Create(ctx, authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("5")})
	require.NoError(t, err)

	other := env.ActiveShop(t, "Other")
	_, err = svc.Update(ctx, authtest.Principal(other.Owner), owned.Shop.ID, prod.ID, products.Input{Name: str("Stolen")})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	// a product id from another shop is not found under this shop
	_, err = svc.Update(ctx, authtest.Principal(other.Owner), other.Shop.ID, prod.ID, products.Input{Name: str("Stolen")})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestCatalogCachesAndInvalidates(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	p := authtest.Principal(owned.Owner)
	ctx := context.Background()

	_, err := svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Draft"), PriceOneTime: price("1")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Live"), PriceOneTime: price("1"), Status: str("active")})
	require.NoError(t, err)

	page, err := svc.Catalog(ctx, owned.Shop.ID, db.Cursor{}, 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.Cached)

	page, err = svc.Catalog(ctx, owned.Shop.ID, db.Cursor{}, 50)
	require.NoError(t, err)
	assert.True(t, page.Cached)

	_, err = svc.Create(ctx, p, owned.Shop.ID, products.Input{Name: str("Live 2"), PriceOneTime: price("1"), Status: str("active")})
	require.NoError(t, err)
	page, err = svc.Catalog(ctx, owned.Shop.ID, db.Cursor{}, 50)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Len(t, page.Items, 2)
}

func TestReserveStock(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	ctx := context.Background()
	stock := 3
	prod, err := svc.Create(ctx, authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Mug"), PriceOneTime: price("8"), Stock: &stock})
	require.NoError(t, err)

	require.NoError(t, svc.ReserveStock(ctx, prod.ID, 2))
	err = svc.ReserveStock(ctx, prod.ID, 2)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	got, err := svc.Store().Get(ctx, prod.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *got.Stock)

	unlimited, err := svc.Create(ctx, authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Ebook"), PriceOneTime: price("3")})
	require.NoError(t, err)
	assert.NoError(t, svc.ReserveStock(ctx, unlimited.ID, 1000))
}

func TestPublicGetHidesDrafts(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	ctx := context.Background()
	prod, err := svc.Create(ctx, authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("5")})
	require.NoError(t, err)

	_, err = svc.GetPublic(ctx, prod.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = svc.Update(ctx, authtest.Principal(owned.Owner), owned.Shop.ID, prod.ID, products.Input{Status: str("active")})
	require.NoError(t, err)
	_, err = svc.GetPublic(ctx, prod.ID)
	assert.NoError(t, err)
}

func multipartBody(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.bin")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// smallest valid PNG header plus IHDR chunk start
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 6, 0, 0, 0}

func TestImageUpload(t *testing.T) {
	env := shopstest.New()
	images := storage.NewMemory()
	svc := newService(env, images)
	mux := http.NewServeMux()
	products.NewHandler(svc, env.Middleware).Register(mux)
	owned := env.ActiveShop(t, "Roastery")
	prod, err := svc.Create(context.Background(), authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("5")})
	require.NoError(t, err)
	url := "/v1/shops/" + owned.Shop.ID + "/products/" + prod.ID + "/images"

	body, ct := multipartBody(t, pngBytes)
	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+owned.Token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Item products.Product `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Item.Images, 1)
	assert.Contains(t, resp.Item.Images[0], ".png")
	assert.Len(t, images.Objects, 1)

	body, ct = multipartBody(t, []byte("#!/bin/sh\necho not an image\n"))
	req = httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+owned.Token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImageUploadWithoutStorage(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	owned := env.ActiveShop(t, "Roastery")
	prod, err := svc.Create(context.Background(), authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Beans"), PriceOneTime: price("5")})
	require.NoError(t, err)

	_, err = svc.AddImage(context.Background(), authtest.Principal(owned.Owner), owned.Shop.ID, prod.ID, bytes.NewReader(pngBytes))
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestListHandlerOwnerSeesDrafts(t *testing.T) {
	env := shopstest.New()
	svc := newService(env, nil)
	mux := http.NewServeMux()
	products.NewHandler(svc, env.Middleware).Register(mux)
	owned := env.ActiveShop(t, "Roastery")
	_, err := svc.Create(context.Background(), authtest.Principal(owned.Owner), owned.Shop.ID, products.Input{Name: str("Draft"), PriceOneTime: price("5")})
	require.NoError(t, err)

	count := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/shops/"+owned.Shop.ID+"/products", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Items []products.Product `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return len(resp.Items)
	}
	_, customerToken := env.User(t, auth.RoleCustomer)
	assert.Equal(t, 1, count(owned.Token))
	assert.Equal(t, 0, count(""))
	assert.Equal(t, 0, count(customerToken))
}
