package shipping

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
)

var countryRe = regexp.MustCompile(`^[A-Z]{2}$`)

type Service struct {
	store  *Store
	shops  *shops.Service
	events events.Publisher
	now    func() time.Time
}

func NewService(store *Store, shopSvc *shops.Service, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, shops: shopSvc, events: pub, now: time.Now}
}

type ZoneInput struct {
	Name      string   `json:"name"`
	Countries []string `json:"countries"`
}

func (in ZoneInput) normalize() (string, []string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", nil, apperr.Invalid("name is required")
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range in.Countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != RestOfWorld && !countryRe.MatchString(c) {
			return "", nil, apperr.Invalid("countries must be ISO-3166 alpha-2 codes or *")
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "", nil, apperr.Invalid("at least one country is required")
	}
	return name, out, nil
}

type RateInput struct {
	Name                  string           `json:"name"`
	Price                 decimal.Decimal  `json:"price"`
	MinDays               int              `json:"min_days"`
	MaxDays               int              `json:"max_days"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold,omitempty"`
}

func (in RateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if in.Price.IsNegative() {
		return apperr.Invalid("price cannot be negative")
	}
	if in.MinDays < 0 || in.MaxDays < in.MinDays {
		return apperr.Invalid("delivery days must satisfy 0 <= min_days <= max_days")
	}
	if in.FreeShippingThreshold != nil && in.FreeShippingThreshold.IsNegative() {
		return apperr.Invalid("free_shipping_threshold cannot be negative")
	}
	return nil
}

func (s *Service) CreateZone(ctx context.Context, p auth.Principal, shopID string, in ZoneInput) (Zone, error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return Zone{}, err
	}
	name, countries, err := in.normalize()
	if err != nil {
		return Zone{}, err
	}
	now := s.now().UTC()
	z := Zone{ID: db.NewID("zon"), ShopID: shopID, Name: name, Countries: countries, CreatedAt: now, UpdatedAt: now}
	if err := s.store.SaveZone(ctx, z, true); err != nil {
		return Zone{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_zone.created", z)
	return z, nil
}

func (s *Service) zone(ctx context.Context, p auth.Principal, shopID, zoneID string) (Zone, error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return Zone{}, err
	}
	z, err := s.store.GetZone(ctx, zoneID)
	if err != nil {
		return Zone{}, err
	}
	if z.ShopID != shopID {
		return Zone{}, apperr.NotFound("shipping zone")
	}
	return z, nil
}

func (s *Service) UpdateZone(ctx context.Context, p auth.Principal, shopID, zoneID string, in ZoneInput) (Zone, error) {
	z, err := s.zone(ctx, p, shopID, zoneID)
	if err != nil {
		return Zone{}, err
	}
	if z.Name, z.Countries, err = in.normalize(); err != nil {
		return Zone{}, err
	}
	z.UpdatedAt = s.now().UTC()
	if err := s.store.SaveZone(ctx, z, false); err != nil {
		return Zone{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_zone.updated", z)
	return z, nil
}

func (s *Service) DeleteZone(ctx context.Context, p auth.Principal, shopID, zoneID string) error {
	if _, err := s.zone(ctx, p, shopID, zoneID); err != nil {
		return err
	}
	if err := s.store.DeleteZone(ctx, zoneID); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_zone.deleted", map[string]string{"id": zoneID, "shop_id": shopID})
	return nil
}

func (s *Service) ListZones(ctx context.Context, p auth.Principal, shopID string, cursor db.Cursor, limit int) (db.Page[Zone], error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return db.Page[Zone]{}, err
	}
	return s.store.ListZones(ctx, shopID, cursor, limit)
}

func (s *Service) CreateRate(ctx context.Context, p auth.Principal, shopID, zoneID string, in RateInput) (Rate, error) {
	if _, err := s.zone(ctx, p, shopID, zoneID); err != nil {
		return Rate{}, err
	}
	if err := in.validate(); err != nil {
		return Rate{}, err
	}
	now := s.now().UTC()
	r := Rate{ID: db.NewID("rat"), ZoneID: zoneID, ShopID: shopID, CreatedAt: now, UpdatedAt: now}
	in.applyTo(&r)
	if err := s.store.SaveRate(ctx, r, true); err != nil {
		return Rate{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_rate.created", r)
	return r, nil
}

func (in RateInput) applyTo(r *Rate) {
	r.Name = strings.TrimSpace(in.Name)
	r.Price = in.Price.Round(2)
	r.MinDays = in.MinDays
	r.MaxDays = in.MaxDays
	r.FreeShippingThreshold = nil
	if in.FreeShippingThreshold != nil {
		t := in.FreeShippingThreshold.Round(2)
		r.FreeShippingThreshold = &t
	}
}

func (s *Service) rate(ctx context.Context, p auth.Principal, shopID, rateID string) (Rate, error) {
	if _, err := s.shops.RequireOwner(ctx, p, shopID); err != nil {
		return Rate{}, err
	}
	r, err := s.store.GetRate(ctx, rateID)
	if err != nil {
		return Rate{}, err
	}
	if r.ShopID != shopID {
		return Rate{}, apperr.NotFound("shipping rate")
	}
	return r, nil
}

func (s *Service) UpdateRate(ctx context.Context, p auth.Principal, shopID, rateID string, in RateInput) (Rate, error) {
	r, err := s.rate(ctx, p, shopID, rateID)
	if err != nil {
		return Rate{}, err
	}
	if err := in.validate(); err != nil {
		return Rate{}, err
	}
	in.applyTo(&r)
	r.UpdatedAt = s.now().UTC()
	if err := s.store.SaveRate(ctx, r, false); err != nil {
		return Rate{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_rate.updated", r)
	return r, nil
}

func (s *Service) DeleteRate(ctx context.Context, p auth.Principal, shopID, rateID string) error {
	if _, err := s.rate(ctx, p, shopID, rateID); err != nil {
		return err
	}
	if err := s.store.DeleteRate(ctx, rateID); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.shipping_rate.deleted", map[string]string{"id": rateID, "shop_id": shopID})
	return nil
}

func (s *Service) ListRates(ctx context.Context, p auth.Principal, shopID, zoneID string, cursor db.Cursor, limit int) (db.Page[Rate], error) {
	if _, err := s.zone(ctx, p, shopID, zoneID); err != nil {
		return db.Page[Rate]{}, err
	}
	return s.store.ListRates(ctx, shopID, zoneID, cursor, limit)
}

// QuoteRates returns the shipping options of a shop for a destination
// country and basket subtotal.
func (s *Service) QuoteRates(ctx context.Context, shopID, country string, subtotal decimal.Decimal) ([]Option, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if !countryRe.MatchString(country) {
		return nil, apperr.Invalid("country must be an ISO-3166 alpha-2 code")
	}
	if subtotal.IsNegative() {
		return nil, apperr.Invalid("subtotal cannot be negative")
	}
	zones, err := s.store.ListZones(ctx, shopID, db.Cursor{}, 0)
	if err != nil {
		return nil, err
	}
	rates, err := s.store.ListRates(ctx, shopID, "", db.Cursor{}, 0)
	if err != nil {
		return nil, err
	}
	return Quote(zones.Items, rates.Items, country, subtotal), nil
}
