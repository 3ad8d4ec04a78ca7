// Package risk implements the pre-submission gate. Every check blocks
// the run with a specific reason code; nothing here is retried.
package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// Limits are the static gate limits. Zero values disable a check.
type Limits struct {
	MaxOrderNotional   decimal.Decimal
	MaxTotalNotional   decimal.Decimal
	MaxPositionRatio   decimal.Decimal
	MaxSymbols         int
	MinCashBufferRatio decimal.Decimal
	OrderRateLimit     int
	OrderRateWindow    time.Duration
}

// NotionalLimitsConfigured reports whether any notional-based check is
// active, which makes portfolio value a required input.
func (l Limits) NotionalLimitsConfigured() bool {
	return l.MaxOrderNotional.IsPositive() ||
		l.MaxTotalNotional.IsPositive() ||
		l.MaxPositionRatio.IsPositive() ||
		l.MinCashBufferRatio.IsPositive()
}

// ProposedOrder is one order as seen by the gate.
type ProposedOrder struct {
	Symbol string
	Side   schema.OrderSide
	Qty    decimal.Decimal
	Price  decimal.Decimal
}

// Notional returns qty * price.
func (o ProposedOrder) Notional() decimal.Decimal {
	return o.Qty.Mul(o.Price)
}

// Input is everything one gate evaluation needs.
type Input struct {
	Orders         []ProposedOrder
	Holdings       map[string]decimal.Decimal // symbol -> held qty
	PortfolioValue decimal.Decimal
	CashBalance    decimal.Decimal

	// Force bypasses limit checks and the halt guard for manually
	// composed orders. The decision still records what was skipped.
	Force bool
}

// Decision is the reason-coded gate verdict.
type Decision struct {
	Allowed       bool
	Forced        bool
	Reason        schema.Reason
	Detail        string
	TotalNotional decimal.Decimal
	SymbolCount   int
	CheckedAt     time.Time
}

// Snapshot converts the decision into the persisted risk bag.
func (d Decision) Snapshot() schema.RiskSnapshot {
	return schema.RiskSnapshot{
		Allowed:       d.Allowed,
		Forced:        d.Forced,
		Reason:        d.Reason,
		TotalNotional: d.TotalNotional,
		SymbolCount:   d.SymbolCount,
		CheckedAt:     d.CheckedAt,
	}
}

// Gate evaluates pre-submission checks.
type Gate struct {
	limits  Limits
	guard   HaltGuard
	limiter *RateLimiter
	now     func() time.Time
}

// NewGate creates a gate with static limits and an external halt guard.
func NewGate(limits Limits, guard HaltGuard) *Gate {
	return &Gate{
		limits:  limits,
		guard:   guard,
		limiter: NewRateLimiter(limits.OrderRateLimit, limits.OrderRateWindow),
		now:     time.Now,
	}
}

// Evaluate checks one batch of proposed orders. Checks return early on
// the first violation; the order of checks is fixed so reason codes are
// deterministic.
func (g *Gate) Evaluate(ctx context.Context, in Input) Decision {
	decision := Decision{
		Allowed:     true,
		Forced:      in.Force,
		SymbolCount: distinctSymbols(in.Orders),
		CheckedAt:   g.now().UTC(),
	}
	for _, order := range in.Orders {
		decision.TotalNotional = decision.TotalNotional.Add(order.Notional())
	}

	if !g.limiter.Allow() {
		return decision.deny(schema.ReasonRateLimited, "submission rate limit exceeded")
	}

	if in.Force {
		return decision
	}

	if g.guard != nil {
		state, err := g.guard.Check(ctx)
		if err != nil {
			return decision.deny(schema.ReasonBridgeUnreachable, "halt guard unreachable: "+err.Error())
		}
		if state.Halted {
			return decision.deny(schema.ReasonGuardHalted, state.Reason)
		}
	}

	if g.limits.NotionalLimitsConfigured() && !in.PortfolioValue.IsPositive() {
		return decision.deny(schema.ReasonMissingInputs, "portfolio value required for notional limits")
	}

	if g.limits.MaxOrderNotional.IsPositive() {
		for _, order := range in.Orders {
			if order.Notional().GreaterThan(g.limits.MaxOrderNotional) {
				return decision.deny(schema.ReasonOrderNotional, order.Symbol)
			}
		}
	}

	if g.limits.MaxPositionRatio.IsPositive() {
		limit := g.limits.MaxPositionRatio.Mul(in.PortfolioValue)
		for _, order := range in.Orders {
			held := in.Holdings[order.Symbol]
			post := held.Add(order.Qty.Mul(decimal.NewFromInt(order.Side.Sign())))
			if post.Abs().Mul(order.Price).GreaterThan(limit) {
				return decision.deny(schema.ReasonExposure, order.Symbol)
			}
		}
	}

	if g.limits.MaxTotalNotional.IsPositive() && decision.TotalNotional.GreaterThan(g.limits.MaxTotalNotional) {
		return decision.deny(schema.ReasonTotalNotional, "")
	}

	if g.limits.MaxSymbols > 0 && decision.SymbolCount > g.limits.MaxSymbols {
		return decision.deny(schema.ReasonSymbolCount, "")
	}

	if g.limits.MinCashBufferRatio.IsPositive() {
		cash := in.CashBalance
		for _, order := range in.Orders {
			if order.Side == schema.SideBuy {
				cash = cash.Sub(order.Notional())
			} else {
				cash = cash.Add(order.Notional())
			}
		}
		if cash.Div(in.PortfolioValue).LessThan(g.limits.MinCashBufferRatio) {
			return decision.deny(schema.ReasonCashBuffer, "")
		}
	}

	return decision
}

func (d Decision) deny(reason schema.Reason, detail string) Decision {
	d.Allowed = false
	d.Reason = reason
	d.Detail = detail
	return d
}

func distinctSymbols(orders []ProposedOrder) int {
	seen := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		seen[order.Symbol] = struct{}{}
	}
	return len(seen)
}
