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

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func freshQuote(bid, ask string) Quote {
	return Quote{Bid: d(bid), Ask: d(ask), At: time.Now()}
}

func TestBuildDeltas(t *testing.T) {
	intents, err := Build(BuildInput{
		RunID: "run-x",
		TargetWeights: map[string]decimal.Decimal{
			"AAA": d("0.5"),
			"BBB": d("0.3"),
		},
		Holdings: map[string]Holding{
			"AAA": {Qty: d("20")},
			"BBB": {Qty: d("60")},
			"CCC": {Qty: d("10"), AvgCost: d("12")},
		},
		Prices: NewPriceBook(map[string]Quote{
			"AAA": freshQuote("89", "91"),
			"BBB": {Last: d("45"), At: time.Now()},
		}, nil, time.Minute),
		Sizing: schema.SizingSpec{
			PortfolioValue:  d("10000"),
			CashBufferRatio: d("0.1"),
		},
	})
	require.NoError(t, err)

	// investable = 10000 * 0.9 = 9000
	// AAA: target 0.5*9000/90 = 50, held 20 -> buy 30
	// BBB: target 0.3*9000/45 = 60, held 60 -> no delta
	// CCC: untargeted -> divest 10 at avg cost
	require.Len(t, intents, 2)

	assert.Equal(t, "CCC", intents[0].Symbol)
	assert.Equal(t, schema.SideSell, intents[0].Side)
	assert.True(t, intents[0].Qty.Equal(d("10")))
	assert.True(t, intents[0].PrimingPrice.Equal(d("12")))
	assert.Equal(t, "run-x-0", intents[0].Tag)
	assert.Equal(t, 0, intents[0].Seq)

	assert.Equal(t, "AAA", intents[1].Symbol)
	assert.Equal(t, schema.SideBuy, intents[1].Side)
	assert.True(t, intents[1].Qty.Equal(d("30")))
	assert.True(t, intents[1].PrimingPrice.Equal(d("90")))
	assert.Equal(t, "run-x-1", intents[1].Tag)
	assert.Equal(t, 1, intents[1].Seq)
}

func TestBuildDeterministicTags(t *testing.T) {
	in := BuildInput{
		RunID:         "run-y",
		TargetWeights: map[string]decimal.Decimal{"AAA": d("0.5"), "BBB": d("0.5")},
		Prices: NewPriceBook(map[string]Quote{
			"AAA": freshQuote("9", "11"),
			"BBB": freshQuote("19", "21"),
		}, nil, time.Minute),
		Sizing: schema.SizingSpec{PortfolioValue: d("1000")},
	}

	first, err := Build(in)
	require.NoError(t, err)
	second, err := Build(in)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Tag, second[i].Tag)
		assert.Equal(t, first[i].Symbol, second[i].Symbol)
		assert.True(t, first[i].Qty.Equal(second[i].Qty))
	}
}

func TestBuildSellsBeforeBuys(t *testing.T) {
	intents, err := Build(BuildInput{
		RunID:         "run-z",
		TargetWeights: map[string]decimal.Decimal{"AAA": d("1")},
		Holdings:      map[string]Holding{"ZZZ": {Qty: d("5"), AvgCost: d("10")}},
		Prices: NewPriceBook(map[string]Quote{
			"AAA": freshQuote("99", "101"),
		}, nil, time.Minute),
		Sizing: schema.SizingSpec{PortfolioValue: d("10000")},
	})
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, schema.SideSell, intents[0].Side)
	assert.Equal(t, schema.SideBuy, intents[1].Side)
}

func TestBuildLotAndMinQty(t *testing.T) {
	testCases := []struct {
		desc    string
		sizing  schema.SizingSpec
		wantQty string
		empty   bool
	}{
		{
			"floors to lot size",
			schema.SizingSpec{PortfolioValue: d("9000"), LotSize: d("10")},
			"60", // 0.5*9000/70 = 64.28 -> 60
			false,
		},
		{
			"below min qty skipped",
			schema.SizingSpec{PortfolioValue: d("9000"), MinQty: d("100")},
			"",
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			intents, err := Build(BuildInput{
				RunID:         "run-l",
				TargetWeights: map[string]decimal.Decimal{"AAA": d("0.5")},
				Prices: NewPriceBook(map[string]Quote{
					"AAA": freshQuote("69", "71"),
				}, nil, time.Minute),
				Sizing: tc.sizing,
			})
			if tc.empty {
				require.ErrorIs(t, err, exception.ErrOrdersEmpty)
				return
			}
			require.NoError(t, err)
			require.Len(t, intents, 1)
			assert.True(t, intents[0].Qty.Equal(d(tc.wantQty)), "qty %s", intents[0].Qty)
		})
	}
}

func TestBuildLimitOrdersCarryPrimingPrice(t *testing.T) {
	intents, err := Build(BuildInput{
		RunID:         "run-m",
		TargetWeights: map[string]decimal.Decimal{"AAA": d("1")},
		Prices: NewPriceBook(map[string]Quote{
			"AAA": freshQuote("49", "51"),
		}, nil, time.Minute),
		Sizing:    schema.SizingSpec{PortfolioValue: d("5000")},
		OrderType: schema.TypeLimit,
	})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	require.NotNil(t, intents[0].LimitPrice)
	assert.True(t, intents[0].LimitPrice.Equal(d("50")))
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(BuildInput{RunID: "run-e"})
	assert.ErrorIs(t, err, exception.ErrOrdersEmpty)

	_, err = Build(BuildInput{
		RunID:         "run-e",
		TargetWeights: map[string]decimal.Decimal{"AAA": d("1")},
		Prices:        NewPriceBook(nil, nil, time.Minute),
	})
	assert.ErrorIs(t, err, exception.ErrPortfolioValueRequired)

	_, err = Build(BuildInput{
		RunID:         "run-e",
		TargetWeights: map[string]decimal.Decimal{"AAA": d("1")},
		Prices:        NewPriceBook(nil, nil, time.Minute),
		Sizing:        schema.SizingSpec{PortfolioValue: d("1000")},
	})
	assert.ErrorIs(t, err, exception.ErrPriceUnavailable)
}
