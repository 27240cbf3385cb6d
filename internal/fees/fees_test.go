package fees

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateRounds(t *testing.T) {
	cases := []struct{ total, pct, want string }{
		{"100.00", "10", "10"},
		{"19.99", "7.5", "1.5"},
		{"33.33", "12.5", "4.17"},
		{"0", "10", "0"},
	}
	for _, c := range cases {
		got := Calculate(d(c.total), d(c.pct))
		assert.True(t, got.Equal(d(c.want)), "%s * %s%% = %s, want %s", c.total, c.pct, got, c.want)
	}
}

func TestEffectivePrefersOverride(t *testing.T) {
	override := d("5")
	assert.True(t, Effective(&override, d("10")).Equal(d("5")))
	assert.True(t, Effective(nil, d("10")).Equal(d("10")))
}

func TestSettingsDefaultPercent(t *testing.T) {
	s := NewSettings(nil, 10)
	ctx := context.Background()

	p, err := s.DefaultPercent(ctx)
	require.NoError(t, err)
	assert.True(t, p.Equal(d("10")))

	_, err = s.SetDefaultPercent(ctx, d("101"))
	require.Error(t, err)

	_, err = s.SetDefaultPercent(ctx, d("8.255"))
	require.NoError(t, err)
	p, err = s.DefaultPercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8.26", p.StringFixed(2))
}
