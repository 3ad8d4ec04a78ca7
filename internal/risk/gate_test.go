package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

type stubGuard struct {
	state HaltState
	err   error
}

func (g stubGuard) Check(context.Context) (HaltState, error) {
	return g.state, g.err
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func proposed(symbol string, side schema.OrderSide, qty, price string) ProposedOrder {
	return ProposedOrder{Symbol: symbol, Side: side, Qty: d(qty), Price: d(price)}
}

func TestGateEvaluate(t *testing.T) {
	limits := Limits{
		MaxOrderNotional:   d("5000"),
		MaxTotalNotional:   d("8000"),
		MaxPositionRatio:   d("0.5"),
		MaxSymbols:         2,
		MinCashBufferRatio: d("0.05"),
	}

	testCases := []struct {
		desc       string
		in         Input
		guard      HaltGuard
		allowed    bool
		wantReason schema.Reason
	}{
		{
			"clean batch passes",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "10", "100")},
				PortfolioValue: d("10000"),
				CashBalance:    d("2000"),
			},
			stubGuard{},
			true,
			schema.ReasonNone,
		},
		{
			"halt guard blocks",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "10", "100")},
				PortfolioValue: d("10000"),
				CashBalance:    d("2000"),
			},
			stubGuard{state: HaltState{Halted: true, Reason: "drawdown"}},
			false,
			schema.ReasonGuardHalted,
		},
		{
			"guard unreachable blocks",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "10", "100")},
				PortfolioValue: d("10000"),
				CashBalance:    d("2000"),
			},
			stubGuard{err: errors.New("read failed")},
			false,
			schema.ReasonBridgeUnreachable,
		},
		{
			"missing portfolio value blocks",
			Input{
				Orders:      []ProposedOrder{proposed("AAA", schema.SideBuy, "10", "100")},
				CashBalance: d("2000"),
			},
			stubGuard{},
			false,
			schema.ReasonMissingInputs,
		},
		{
			"per-order notional exceeded",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "100", "100")},
				PortfolioValue: d("100000"),
				CashBalance:    d("50000"),
			},
			stubGuard{},
			false,
			schema.ReasonOrderNotional,
		},
		{
			"post-trade exposure exceeded",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "40", "100")},
				Holdings:       map[string]decimal.Decimal{"AAA": d("20")},
				PortfolioValue: d("10000"),
				CashBalance:    d("9000"),
			},
			stubGuard{},
			false,
			schema.ReasonExposure,
		},
		{
			"aggregate notional exceeded",
			Input{
				Orders: []ProposedOrder{
					proposed("AAA", schema.SideBuy, "45", "100"),
					proposed("BBB", schema.SideBuy, "45", "100"),
				},
				PortfolioValue: d("100000"),
				CashBalance:    d("50000"),
			},
			stubGuard{},
			false,
			schema.ReasonTotalNotional,
		},
		{
			"symbol count exceeded",
			Input{
				Orders: []ProposedOrder{
					proposed("AAA", schema.SideBuy, "1", "100"),
					proposed("BBB", schema.SideBuy, "1", "100"),
					proposed("CCC", schema.SideBuy, "1", "100"),
				},
				PortfolioValue: d("100000"),
				CashBalance:    d("50000"),
			},
			stubGuard{},
			false,
			schema.ReasonSymbolCount,
		},
		{
			"cash buffer breached",
			Input{
				Orders:         []ProposedOrder{proposed("AAA", schema.SideBuy, "19", "100")},
				PortfolioValue: d("10000"),
				CashBalance:    d("2000"),
			},
			stubGuard{},
			false,
			schema.ReasonCashBuffer,
		},
		{
			"force bypasses limits and guard",
			Input{
				Orders: []ProposedOrder{proposed("AAA", schema.SideBuy, "100", "100")},
				Force:  true,
			},
			stubGuard{state: HaltState{Halted: true}},
			true,
			schema.ReasonNone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			gate := NewGate(limits, tc.guard)
			decision := gate.Evaluate(context.Background(), tc.in)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.wantReason, decision.Reason)
		})
	}
}

func TestGateRateLimitAppliesToForced(t *testing.T) {
	gate := NewGate(Limits{
		OrderRateLimit:  1,
		OrderRateWindow: time.Minute,
	}, stubGuard{})

	in := Input{
		Orders: []ProposedOrder{proposed("AAA", schema.SideBuy, "1", "100")},
		Force:  true,
	}
	first := gate.Evaluate(context.Background(), in)
	require.True(t, first.Allowed)

	second := gate.Evaluate(context.Background(), in)
	assert.False(t, second.Allowed)
	assert.Equal(t, schema.ReasonRateLimited, second.Reason)
	assert.True(t, second.Forced)
}

func TestGateDecisionSnapshot(t *testing.T) {
	gate := NewGate(Limits{}, nil)
	decision := gate.Evaluate(context.Background(), Input{
		Orders: []ProposedOrder{
			proposed("AAA", schema.SideBuy, "10", "100"),
			proposed("BBB", schema.SideSell, "5", "200"),
		},
		PortfolioValue: d("100000"),
	})
	require.True(t, decision.Allowed)
	assert.True(t, decision.TotalNotional.Equal(d("2000")))
	assert.Equal(t, 2, decision.SymbolCount)

	snap := decision.Snapshot()
	assert.True(t, snap.Allowed)
	assert.Equal(t, 2, snap.SymbolCount)
}

func TestRateLimiterWindow(t *testing.T) {
	current := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute).WithClock(func() time.Time { return current })

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	current = current.Add(61 * time.Second)
	assert.True(t, limiter.Allow())

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, unlimited.Allow())
	}
}
