// Package intent turns target weights, current holdings and prices into
// signed delta orders.
package intent

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

var one = decimal.NewFromInt(1)

// Holding is the current position used for delta computation.
type Holding struct {
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// Intent is one sized delta order ready for persistence and submission.
type Intent struct {
	// Tag is the deterministic idempotency key: run id + sequence.
	// Re-running the builder for the same run reproduces it exactly.
	Tag          string
	Seq          int
	Symbol       string
	Side         schema.OrderSide
	Qty          decimal.Decimal
	Type         schema.OrderType
	LimitPrice   *decimal.Decimal
	PrimingPrice decimal.Decimal
}

// BuildInput carries everything the builder needs for one run.
type BuildInput struct {
	RunID         string
	TargetWeights map[string]decimal.Decimal
	Holdings      map[string]Holding
	Prices        *PriceBook
	Sizing        schema.SizingSpec
	OrderType     schema.OrderType
}

// Build sizes delta orders from target weights.
//
// target_qty = floor_to_lot(weight * value * (1 - cash_buffer) / price);
// delta = target_qty - held_qty. Positive deltas buy, negative sell,
// symbols held but absent from targets are fully divested. Deltas below
// the minimum quantity or with zero notional are skipped. The result is
// ordered sells first, then by symbol, and tagged deterministically.
func Build(in BuildInput) ([]Intent, error) {
	if len(in.TargetWeights) == 0 && len(in.Holdings) == 0 {
		return nil, exception.ErrOrdersEmpty
	}
	if !in.Sizing.PortfolioValue.IsPositive() {
		return nil, exception.ErrPortfolioValueRequired
	}
	orderType := in.OrderType
	if orderType == "" {
		orderType = schema.TypeMarket
	}

	investable := in.Sizing.PortfolioValue.Mul(one.Sub(in.Sizing.CashBufferRatio))

	symbols := make(map[string]struct{}, len(in.TargetWeights)+len(in.Holdings))
	for symbol := range in.TargetWeights {
		symbols[symbol] = struct{}{}
	}
	for symbol := range in.Holdings {
		symbols[symbol] = struct{}{}
	}

	var intents []Intent
	for symbol := range symbols {
		held := in.Holdings[symbol].Qty
		weight, targeted := in.TargetWeights[symbol]

		var delta decimal.Decimal
		var priming decimal.Decimal
		if targeted {
			price, err := in.Prices.Resolve(symbol, sideForWeight(weight, held))
			if err != nil {
				return nil, fmt.Errorf("resolve price for %s: %w", symbol, err)
			}
			priming = price
			targetQty := floorToLot(weight.Mul(investable).Div(price), in.Sizing.LotSize)
			delta = targetQty.Sub(held)
		} else {
			// Held but not targeted: full divest.
			delta = held.Neg()
			price, err := in.Prices.Resolve(symbol, schema.SideSell)
			if err != nil {
				// Fall back to the position's own cost so a divest is
				// never dropped for lack of a quote.
				price = in.Holdings[symbol].AvgCost
			}
			priming = price
		}

		if delta.IsZero() {
			continue
		}
		qty := delta.Abs()
		if in.Sizing.MinQty.IsPositive() && qty.LessThan(in.Sizing.MinQty) {
			continue
		}
		if qty.Mul(priming).IsZero() {
			continue
		}

		side := schema.SideBuy
		if delta.IsNegative() {
			side = schema.SideSell
		}
		intents = append(intents, Intent{
			Symbol:       symbol,
			Side:         side,
			Qty:          qty,
			Type:         orderType,
			PrimingPrice: priming,
		})
	}

	if len(intents) == 0 {
		return nil, exception.ErrOrdersEmpty
	}

	sort.Slice(intents, func(i, j int) bool {
		if intents[i].Side != intents[j].Side {
			return intents[i].Side == schema.SideSell
		}
		return intents[i].Symbol < intents[j].Symbol
	})
	for i := range intents {
		intents[i].Seq = i
		intents[i].Tag = Tag(in.RunID, i)
		if orderType == schema.TypeLimit {
			price := intents[i].PrimingPrice
			intents[i].LimitPrice = &price
		}
	}
	return intents, nil
}

// Tag derives the deterministic client tag for a run's nth order.
func Tag(runID string, seq int) string {
	return fmt.Sprintf("%s-%d", runID, seq)
}

func floorToLot(qty, lot decimal.Decimal) decimal.Decimal {
	if !lot.IsPositive() {
		return qty.Floor()
	}
	return qty.Div(lot).Floor().Mul(lot)
}

func sideForWeight(weight, held decimal.Decimal) schema.OrderSide {
	// Side is only advisory for price resolution; the real side comes
	// from the signed delta after sizing.
	if weight.IsZero() || held.GreaterThan(decimal.Zero) && weight.IsNegative() {
		return schema.SideSell
	}
	return schema.SideBuy
}
