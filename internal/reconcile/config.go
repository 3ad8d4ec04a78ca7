package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultSnapshotMaxAge = 90 * time.Second
	defaultOverrideWindow = 10 * time.Minute
	defaultStallWindow    = 5 * time.Minute
	defaultStallClosed    = 30 * time.Minute
)

var defaultFillTolerance = decimal.New(1, -9)

// PassConfig is the single value object configuring one reconciliation
// pass: freshness thresholds, recency windows and stall bounds.
type PassConfig struct {
	// SnapshotMaxAge bounds how old an open-orders or holdings
	// snapshot may be before it stops counting as evidence.
	SnapshotMaxAge time.Duration

	// OverrideWindow is the grace period inside which a low-confidence
	// CANCELED/SKIPPED order may be reopened by stronger evidence.
	// Empirically tuned in production; keep configurable.
	OverrideWindow time.Duration

	// StallWindow bounds progress while the market is open;
	// StallWindowClosed applies otherwise.
	StallWindow       time.Duration
	StallWindowClosed time.Duration

	// MarketOpen selects which stall window applies.
	MarketOpen bool

	// FillTolerance is the quantity slack inside which an order counts
	// as fully filled.
	FillTolerance decimal.Decimal
}

func (c PassConfig) withDefaults() PassConfig {
	if c.SnapshotMaxAge == 0 {
		c.SnapshotMaxAge = defaultSnapshotMaxAge
	}
	if c.OverrideWindow == 0 {
		c.OverrideWindow = defaultOverrideWindow
	}
	if c.StallWindow == 0 {
		c.StallWindow = defaultStallWindow
	}
	if c.StallWindowClosed == 0 {
		c.StallWindowClosed = defaultStallClosed
	}
	if c.FillTolerance.IsZero() {
		c.FillTolerance = defaultFillTolerance
	}
	return c
}

// Validate checks if the configuration is usable.
func (c PassConfig) Validate() error {
	if c.SnapshotMaxAge < 0 {
		return fmt.Errorf("invalid pass config: SnapshotMaxAge must be >= 0")
	}
	if c.OverrideWindow < 0 {
		return fmt.Errorf("invalid pass config: OverrideWindow must be >= 0")
	}
	if c.StallWindow < 0 || c.StallWindowClosed < 0 {
		return fmt.Errorf("invalid pass config: stall windows must be >= 0")
	}
	return nil
}

func (c PassConfig) stallWindow() time.Duration {
	if c.MarketOpen {
		return c.StallWindow
	}
	return c.StallWindowClosed
}
