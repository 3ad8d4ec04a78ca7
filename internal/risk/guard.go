package risk

import (
	"context"

	"main/internal/bridge"
)

// HaltState is the answer of the external risk-halt guard.
type HaltState struct {
	Halted bool
	Reason string
}

// HaltGuard consults the intraday risk-halt guard. One synchronous
// call per gate evaluation.
type HaltGuard interface {
	Check(ctx context.Context) (HaltState, error)
}

// BridgeHaltGuard reads the guard verdict published on the bridge.
type BridgeHaltGuard struct {
	bridge *bridge.Bridge
}

// NewBridgeHaltGuard wraps a bridge handle as a halt guard.
func NewBridgeHaltGuard(b *bridge.Bridge) *BridgeHaltGuard {
	return &BridgeHaltGuard{bridge: b}
}

func (g *BridgeHaltGuard) Check(_ context.Context) (HaltState, error) {
	halt, err := g.bridge.ReadHalt()
	if err != nil {
		return HaltState{}, err
	}
	return HaltState{Halted: halt.Halted(), Reason: halt.Reason}, nil
}
