package bridge

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// OpenOrder is one live order as the broker reports it.
type OpenOrder struct {
	Tag           string `json:"tag"`
	BrokerOrderID string `json:"broker_order_id"`
	Status        string `json:"status"`
}

// OpenOrdersSnapshot lists broker-side live orders keyed by client tag.
type OpenOrdersSnapshot struct {
	RefreshedAt time.Time   `json:"refreshed_at"`
	Stale       bool        `json:"stale"`
	Orders      []OpenOrder `json:"orders"`
}

// Fresh reports whether the snapshot is recent enough to count as
// evidence of absence.
func (s OpenOrdersSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return !s.Stale && !s.RefreshedAt.IsZero() && now.Sub(s.RefreshedAt) <= maxAge
}

// Contains reports whether a client tag is visible in the snapshot.
func (s OpenOrdersSnapshot) Contains(tag string) bool {
	for _, o := range s.Orders {
		if o.Tag == tag {
			return true
		}
	}
	return false
}

// Holding is one broker-reported position.
type Holding struct {
	Symbol  string          `json:"symbol"`
	Qty     decimal.Decimal `json:"qty"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// HoldingsSnapshot is the broker-reported position list.
type HoldingsSnapshot struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Positions   []Holding `json:"positions"`
}

// Fresh reports whether the snapshot may be used for fill inference.
func (s HoldingsSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return !s.Stale && !s.RefreshedAt.IsZero() && now.Sub(s.RefreshedAt) <= maxAge
}

// Position returns the holding for a symbol, if present.
func (s HoldingsSnapshot) Position(symbol string) (Holding, bool) {
	for _, h := range s.Positions {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// ReadOpenOrders loads the open-orders snapshot. A missing file yields
// an empty stale snapshot, never an error: absence of a snapshot is
// absence of evidence.
func (b *Bridge) ReadOpenOrders() (OpenOrdersSnapshot, error) {
	var snap OpenOrdersSnapshot
	if err := readJSON(b.cfg.openOrdersPath(), &snap); err != nil {
		if os.IsNotExist(err) {
			return OpenOrdersSnapshot{Stale: true}, nil
		}
		return OpenOrdersSnapshot{}, err
	}
	return snap, nil
}

// ReadHoldings loads the holdings snapshot, with the same missing-file
// semantics as ReadOpenOrders.
func (b *Bridge) ReadHoldings() (HoldingsSnapshot, error) {
	var snap HoldingsSnapshot
	if err := readJSON(b.cfg.holdingsPath(), &snap); err != nil {
		if os.IsNotExist(err) {
			return HoldingsSnapshot{Stale: true}, nil
		}
		return HoldingsSnapshot{}, err
	}
	return snap, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
