package intent

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/exception"
)

func TestResolvePreferenceOrder(t *testing.T) {
	now := time.Now()
	book := NewPriceBook(map[string]Quote{
		"MID":  {Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101), Last: decimal.NewFromInt(95), At: now},
		"LAST": {Last: decimal.NewFromInt(95), At: now},
		"ASK":  {Ask: decimal.NewFromInt(101), At: now},
		"BID":  {Bid: decimal.NewFromInt(99), At: now},
	}, map[string]decimal.Decimal{
		"CLOSE": decimal.NewFromInt(80),
	}, time.Minute)

	for _, tc := range []struct {
		symbol string
		side   schema.OrderSide
		want   string
	}{
		{"MID", schema.SideBuy, "100"},
		{"LAST", schema.SideBuy, "95"},
		{"ASK", schema.SideBuy, "101"},
		{"BID", schema.SideSell, "99"},
		{"CLOSE", schema.SideBuy, "80"},
	} {
		price, err := book.Resolve(tc.symbol, tc.side)
		require.NoError(t, err, tc.symbol)
		assert.True(t, price.Equal(decimal.RequireFromString(tc.want)), "%s: got %s", tc.symbol, price)
	}

	_, err := book.Resolve("MISSING", schema.SideBuy)
	require.ErrorIs(t, err, exception.ErrPriceUnavailable)
}

func TestResolveStaleQuoteFallsBackToClose(t *testing.T) {
	now := time.Now()
	book := NewPriceBook(map[string]Quote{
		"AAA": {Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101), At: now.Add(-2 * time.Minute)},
	}, map[string]decimal.Decimal{
		"AAA": decimal.NewFromInt(80),
	}, time.Minute)

	price, err := book.Resolve("AAA", schema.SideBuy)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(80)))

	// A stale quote with no close fallback is a hard error.
	empty := NewPriceBook(map[string]Quote{
		"BBB": {Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101), At: now.Add(-2 * time.Minute)},
	}, nil, time.Minute)
	_, err = empty.Resolve("BBB", schema.SideBuy)
	require.ErrorIs(t, err, exception.ErrPriceUnavailable)
}

func TestResolveZeroMaxAgeDisablesFreshness(t *testing.T) {
	book := NewPriceBook(map[string]Quote{
		"AAA": {Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101)},
	}, nil, 0)

	price, err := book.Resolve("AAA", schema.SideBuy)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
}
