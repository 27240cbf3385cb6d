package products

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/storage"
)

const (
	MaxImageBytes = 5 << 20
	maxImages     = 10
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

type Service struct {
	store   *Store
	shops   *shops.Service
	images  storage.Store
	events  events.Publisher
	catalog *db.ListCache[Product]
	now     func() time.Time
}

// NewService builds the catalog service. images may be nil when no bucket
// is configured; uploads then fail with SERVICE_UNAVAILABLE.
func NewService(store *Store, shopSvc *shops.Service, images storage.Store, pub events.Publisher, cacheTTL time.Duration) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, shops: shopSvc, images: images, events: pub, catalog: db.NewListCache[Product](cacheTTL), now: time.Now}
}

func (s *Service) Store() *Store { return s.store }

type Input struct {
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Status       *string          `json:"status,omitempty"`
	PriceOneTime *decimal.Decimal `json:"price_one_time,omitempty"`
	PriceWeekly  *decimal.Decimal `json:"price_weekly,omitempty"`
	PriceMonthly *decimal.Decimal `json:"price_monthly,omitempty"`
	PriceYearly  *decimal.Decimal `json:"price_yearly,omitempty"`
	Stock        *int             `json:"stock,omitempty"`
	// ClearStock makes stock unlimited.
	ClearStock bool `json:"clear_stock,omitempty"`
	// ClearPrices lists purchase types whose price is removed.
	ClearPrices []string `json:"clear_prices,omitempty"`
}

func (in Input) apply(p *Product) error {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		st := strings.ToLower(strings.TrimSpace(*in.Status))
		if st != StatusDraft && st != StatusActive && st != StatusArchived {
			return apperr.Invalid("status must be draft, active or archived")
		}
		p.Status = st
	}
	for _, pt := range in.ClearPrices {
		switch pt {
		case PurchaseOneTime:
			p.PriceOneTime = nil
		case PurchaseWeekly:
			p.PriceWeekly = nil
		case PurchaseMonthly:
			p.PriceMonthly = nil
		case PurchaseYearly:
			p.PriceYearly = nil
		default:
			return apperr.Invalid("unknown purchase type " + pt)
		}
	}
	set := func(dst **decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			r := v.Round(2)
			*dst = &r
		}
	}
	set(&p.PriceOneTime, in.PriceOneTime)
	set(&p.PriceWeekly, in.PriceWeekly)
	set(&p.PriceMonthly, in.PriceMonthly)
	set(&p.PriceYearly, in.PriceYearly)
	if in.ClearStock {
		p.Stock = nil
	} else if in.Stock != nil {
		n := *in.Stock
		p.Stock = &n
	}
	return validate(*p)
}

func validate(p Product) error {
	if p.Name == "" {
		return apperr.Invalid("name is required")
	}
	priced := false
	for _, price := range []*decimal.Decimal{p.PriceOneTime, p.PriceWeekly, p.PriceMonthly, p.PriceYearly} {
		if price == nil {
			continue
		}
		if price.IsNegative() {
			return apperr.Invalid("prices cannot be negative")
		}
		priced = true
	}
	if !priced {
		return apperr.Invalid("at least one price is required")
	}
	if p.Stock != nil && *p.Stock < 0 {
		return apperr.Invalid("stock cannot be negative")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p auth.Principal, shopID string, in Input) (Product, error) {
	sh, err := s.shops.RequireOwner(ctx, p, shopID)
	if err != nil {
		return Product{}, err
	}
	now := s.now().UTC()
	prod := Product{
		ID:        db.NewID("prd"),
		ShopID:    sh.ID,
		Status:    StatusDraft,
		Currency:  sh.Currency,
		Images:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.apply(&prod); err != nil {
		return Product{}, err
	}
	if err := s.store.Create(ctx, prod); err != nil {
		return Product{}, err
	}
	s.catalog.Invalidate(sh.ID)
	events.Emit(ctx, s.events, "marketplace.product.created", prod)
	return prod, nil
}

// owned loads a product and checks the caller owns its shop.
func (s *Service) owned(ctx context.Context, p auth.Principal, shopID, productID string) (Product, error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return Product{}, err
	}
	prod, err := s.store.Get(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if prod.ShopID != shopID {
		return Product{}, apperr.NotFound("product")
	}
	return prod, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, shopID, productID string) (Product, error) {
	return s.owned(ctx, p, shopID, productID)
}

func (s *Service) Update(ctx context.Context, p auth.Principal, shopID, productID string, in Input) (Product, error) {
	prod, err := s.owned(ctx, p, shopID, productID)
	if err != nil {
		return Product{}, err
	}
	if err := in.apply(&prod); err != nil {
		return Product{}, err
	}
	prod.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, prod); err != nil {
		return Product{}, err
	}
	s.catalog.Invalidate(shopID)
	events.Emit(ctx, s.events, "marketplace.product.updated", prod)
	return prod, nil
}

func (s *Service) Delete(ctx context.Context, p auth.Principal, shopID, productID string) error {
	if _, err := s.owned(ctx, p, shopID, productID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, productID); err != nil {
		return err
	}
	s.catalog.Invalidate(shopID)
	events.Emit(ctx, s.events, "marketplace.product.deleted", map[string]string{"id": productID, "shop_id": shopID})
	return nil
}

func (s *Service) ListOwned(ctx context.Context, p auth.Principal, f ListFilter) (db.Page[Product], error) {
	if _, err := s.shops.RequireOwner(ctx, p, f.ShopID); err != nil {
		return db.Page[Product]{}, err
	}
	return s.store.List(ctx, f)
}

// Catalog lists the active products of an active shop. First pages are
// served from the per-shop cache.
func (s *Service) Catalog(ctx context.Context, shopID string, cursor db.Cursor, limit int) (db.Page[Product], error) {
	if _, err := s.shops.GetActive(ctx, shopID); err != nil {
		return db.Page[Product]{}, err
	}
	key := db.CacheKey(shopID, cursor.String(), limit)
	if cursor.IsZero() {
		if page, ok := s.catalog.Get(key); ok {
			page.Cached = true
			return page, nil
		}
	}
	page, err := s.store.List(ctx, ListFilter{ShopID: shopID, Status: StatusActive, Cursor: cursor, Limit: limit})
	if err != nil {
		return db.Page[Product]{}, err
	}
	if cursor.IsZero() {
		s.catalog.Set(key, page)
	}
	return page, nil
}

// GetPublic returns an active product of an active shop.
func (s *Service) GetPublic(ctx context.Context, productID string) (Product, error) {
	prod, err := s.store.Get(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if prod.Status != StatusActive {
		return Product{}, apperr.NotFound("product")
	}
	if _, err := s.shops.GetActive(ctx, prod.ShopID); err != nil {
		return Product{}, apperr.NotFound("product")
	}
	return prod, nil
}

func (s *Service) ReserveStock(ctx context.Context, productID string, qty int) error {
	prod, err := s.store.Get(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.store.ReserveStock(ctx, productID, qty); err != nil {
		return err
	}
	s.catalog.Invalidate(prod.ShopID)
	return nil
}

// AddImage sniffs the upload, stores it and appends its URL to the product.
func (s *Service) AddImage(ctx context.Context, p auth.Principal, shopID, productID string, body io.Reader) (Product, error) {
	if s.images == nil {
		return Product{}, apperr.New(apperr.CodeUnavailable, "image storage is not configured")
	}
	prod, err := s.owned(ctx, p, shopID, productID)
	if err != nil {
		return Product{}, err
	}
	if len(prod.Images) >= maxImages {
		return Product{}, apperr.Conflict("product already has the maximum number of images")
	}
	data, err := io.ReadAll(io.LimitReader(body, MaxImageBytes+1))
	if err != nil {
		return Product{}, apperr.Wrap(apperr.CodeInvalidInput, "unreadable upload", err)
	}
	if len(data) == 0 {
		return Product{}, apperr.Invalid("empty upload")
	}
	if len(data) > MaxImageBytes {
		return Product{}, apperr.Invalid("image exceeds 5 MiB")
	}
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedImageTypes...) {
		return Product{}, apperr.Invalid("unsupported image type " + mt.String())
	}
	key := "shops/" + shopID + "/products/" + productID + "/" + uuid.NewString() + mt.Extension()
	url, err := s.images.Put(ctx, key, mt.String(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Product{}, apperr.Upstream("image upload failed", err)
	}
	prod.Images = append(prod.Images, url)
	prod.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, prod); err != nil {
		return Product{}, err
	}
	s.catalog.Invalidate(shopID)
	events.Emit(ctx, s.events, "marketplace.product.image_added", prod)
	return prod, nil
}
