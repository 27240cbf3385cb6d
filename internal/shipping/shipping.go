// Package shipping holds per-shop shipping zones and rates and turns them
// into quotes for a destination country and basket subtotal.
package shipping

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RestOfWorld in a zone's countries matches every country no other zone
// lists explicitly.
const RestOfWorld = "*"

type Zone struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Countries []string  `json:"countries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (z Zone) covers(country string) bool {
	for _, c := range z.Countries {
		if c == country {
			return true
		}
	}
	return false
}

type Rate struct {
	ID                    string           `json:"id"`
	ZoneID                string           `json:"zone_id"`
	ShopID                string           `json:"shop_id"`
	Name                  string           `json:"name"`
	Price                 decimal.Decimal  `json:"price"`
	MinDays               int              `json:"min_days"`
	MaxDays               int              `json:"max_days"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Option is one quoted shipping choice.
type Option struct {
	RateID        string          `json:"rate_id"`
	ZoneID        string          `json:"zone_id"`
	ZoneName      string          `json:"zone_name"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	FreeShipping  bool            `json:"free_shipping"`
	MinDays       int             `json:"min_days"`
	MaxDays       int             `json:"max_days"`
}

// Quote prices every rate of the zones that apply to country. Zones naming
// the country win; only when none does are rest-of-world zones used. A rate
// whose threshold the subtotal reaches is free. Options are sorted by price,
// then name.
func Quote(zones []Zone, rates []Rate, country string, subtotal decimal.Decimal) []Option {
	country = strings.ToUpper(strings.TrimSpace(country))
	applicable := map[string]Zone{}
	for _, z := range zones {
		if z.covers(country) {
			applicable[z.ID] = z
		}
	}
	if len(applicable) == 0 {
		for _, z := range zones {
			if z.covers(RestOfWorld) {
				applicable[z.ID] = z
			}
		}
	}

	out := make([]Option, 0)
	for _, r := range rates {
		z, ok := applicable[r.ZoneID]
		if !ok {
			continue
		}
		opt := Option{
			RateID:        r.ID,
			ZoneID:        z.ID,
			ZoneName:      z.Name,
			Name:          r.Name,
			Price:         r.Price,
			OriginalPrice: r.Price,
			MinDays:       r.MinDays,
			MaxDays:       r.MaxDays,
		}
		if r.FreeShippingThreshold != nil && subtotal.GreaterThanOrEqual(*r.FreeShippingThreshold) {
			opt.Price = decimal.Zero
			opt.FreeShipping = true
		}
		out = append(out, opt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
