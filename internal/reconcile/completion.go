package reconcile

import (
	"main/internal/schema"
	"main/internal/store"
)

// Completion computes the run outcome from the order-status multiset.
// It is pure and deterministic: identical orders always produce the
// identical status and summary.
//
// Any non-terminal order means the run is not yet terminal. Otherwise:
// zero fills fail the run; any cancellation/rejection/skip next to at
// least one fill makes it partial; all filled makes it done.
func Completion(orders []*store.Order) (schema.RunStatus, schema.CompletionSummary, bool) {
	var summary schema.CompletionSummary
	fills := 0
	interrupted := 0

	for _, order := range orders {
		if !order.Status.Terminal() {
			return schema.RunRunning, summary, false
		}
		if order.FilledQty.IsPositive() {
			fills++
			summary.FilledNotional = summary.FilledNotional.Add(order.FilledQty.Mul(order.AvgFillPrice))
		}
		switch order.Status {
		case schema.OrderFilled:
			summary.Filled++
		case schema.OrderCanceled:
			summary.Canceled++
			interrupted++
			if order.FilledQty.IsPositive() {
				summary.PartiallyDone++
			}
		case schema.OrderRejected:
			summary.Rejected++
			interrupted++
		case schema.OrderSkipped:
			summary.Skipped++
			interrupted++
		}
	}

	switch {
	case fills == 0:
		return schema.RunFailed, summary, true
	case interrupted > 0:
		return schema.RunPartial, summary, true
	default:
		return schema.RunDone, summary, true
	}
}
