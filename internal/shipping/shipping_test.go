package shipping

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestQuoteExplicitZonesWin(t *testing.T) {
	zones := []Zone{
		{ID: "z_us", Name: "Domestic", Countries: []string{"US"}},
		{ID: "z_row", Name: "World", Countries: []string{RestOfWorld}},
	}
	rates := []Rate{
		{ID: "r1", ZoneID: "z_us", Name: "Standard", Price: dec("5.00"), FreeShippingThreshold: decp("50")},
		{ID: "r2", ZoneID: "z_us", Name: "Express", Price: dec("15.00")},
		{ID: "r3", ZoneID: "z_row", Name: "International", Price: dec("25.00")},
	}

	opts := Quote(zones, rates, "us", dec("20"))
	if assert.Len(t, opts, 2) {
		assert.Equal(t, "Standard", opts[0].Name)
		assert.Equal(t, "Express", opts[1].Name)
		assert.False(t, opts[0].FreeShipping)
	}

	opts = Quote(zones, rates, "FR", dec("20"))
	if assert.Len(t, opts, 1) {
		assert.Equal(t, "International", opts[0].Name)
	}
}

func TestQuoteFreeShippingThreshold(t *testing.T) {
	zones := []Zone{{ID: "z", Name: "Domestic", Countries: []string{"US"}}}
	rates := []Rate{
		{ID: "r1", ZoneID: "z", Name: "Standard", Price: dec("5.00"), FreeShippingThreshold: decp("50")},
		{ID: "r2", ZoneID: "z", Name: "Economy", Price: dec("3.00")},
	}

	opts := Quote(zones, rates, "US", dec("50"))
	if assert.Len(t, opts, 2) {
		// free standard now sorts before economy
		assert.Equal(t, "Standard", opts[0].Name)
		assert.True(t, opts[0].Price.IsZero())
		assert.True(t, opts[0].OriginalPrice.Equal(dec("5")))
		assert.True(t, opts[0].FreeShipping)
	}
}

func TestQuoteNoMatchingZone(t *testing.T) {
	zones := []Zone{{ID: "z", Name: "Domestic", Countries: []string{"US"}}}
	rates := []Rate{{ID: "r1", ZoneID: "z", Name: "Standard", Price: dec("5")}}
	assert.Empty(t, Quote(zones, rates, "JP", dec("10")))
}

func TestQuoteTiesSortByName(t *testing.T) {
	zones := []Zone{{ID: "z", Name: "EU", Countries: []string{"DE", "FR"}}}
	rates := []Rate{
		{ID: "r1", ZoneID: "z", Name: "Parcel", Price: dec("4")},
		{ID: "r2", ZoneID: "z", Name: "Letter", Price: dec("4")},
	}
	opts := Quote(zones, rates, "DE", dec("1"))
	assert.Equal(t, "Letter", opts[0].Name)
	assert.Equal(t, "Parcel", opts[1].Name)
}
