package schema

// RunMode selects the broker account class a run executes against.
type RunMode string

const (
	ModePaper RunMode = "paper"
	ModeLive  RunMode = "live"
)

// Valid reports whether the mode is one of the known account classes.
func (m RunMode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

// RunStatus is the lifecycle status of an execution run.
type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunStalled  RunStatus = "stalled"
	RunBlocked  RunStatus = "blocked"
	RunDone     RunStatus = "done"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// Terminal reports whether no further reconciliation pass may change the
// status without explicit operator action.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunDone, RunPartial, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Active reports whether the run still participates in reconciliation.
// Blocked runs never spent the submission channel, so there is nothing
// to reconcile.
func (s RunStatus) Active() bool {
	switch s {
	case RunQueued, RunRunning, RunStalled:
		return true
	default:
		return false
	}
}

// OrderStatus is the lifecycle status of a child order.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderSkipped   OrderStatus = "SKIPPED"
)

// orderRank orders statuses so that only forward transitions are legal.
var orderRank = map[OrderStatus]int{
	OrderNew:       0,
	OrderSubmitted: 1,
	OrderPartial:   2,
	OrderFilled:    3,
	OrderCanceled:  3,
	OrderRejected:  3,
	OrderSkipped:   3,
}

// Terminal reports whether the order status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderSkipped:
		return true
	default:
		return false
	}
}

// LowConfidence reports whether the status may have been reached purely
// from absence of evidence. Such statuses are eligible for override by
// stronger evidence inside a bounded recency window.
func (s OrderStatus) LowConfidence() bool {
	return s == OrderCanceled || s == OrderSkipped
}

// CanTransition reports whether from -> to is a legal forward transition.
// Low-confidence terminal statuses may be reopened to SUBMITTED or
// advanced to FILLED; every other terminal status is frozen.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		if !from.LowConfidence() {
			return false
		}
		return to == OrderSubmitted || to == OrderPartial || to == OrderFilled
	}
	return orderRank[to] > orderRank[from]
}

// OrderSide is the trade direction.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType is the broker order type requested for an intent.
type OrderType string

const (
	TypeMarket   OrderType = "MKT"
	TypeLimit    OrderType = "LMT"
	TypeAdaptive OrderType = "ADAPTIVE"
)

// Channel identifies the submission path a run used.
type Channel string

const (
	ChannelNone     Channel = ""
	ChannelLeader   Channel = "leader"
	ChannelFallback Channel = "fallback"
)

// FillSource identifies which external signal produced a fill record.
type FillSource string

const (
	FillSourceEventLog FillSource = "event-log"
	FillSourceHoldings FillSource = "holdings"
	FillSourceCommand  FillSource = "command-result"
)
