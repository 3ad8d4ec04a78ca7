package store

import (
	"context"

	"main/internal/schema"
)

// RunRepository persists execution runs.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	ListActive(ctx context.Context) ([]*Run, error)

	// Update saves the full row.
	Update(ctx context.Context, run *Run) error
	UpdateStatus(ctx context.Context, runID string, status schema.RunStatus, reason schema.Reason, message string) error
}

// OrderRepository persists child orders.
type OrderRepository interface {
	// CreateBatch inserts orders, silently skipping client tags that
	// already exist so re-running the intent builder cannot duplicate.
	CreateBatch(ctx context.Context, orders []*Order) error

	ListByRun(ctx context.Context, runID string) ([]*Order, error)
	GetByTag(ctx context.Context, tag string) (*Order, error)
	Update(ctx context.Context, order *Order) error
}

// FillRepository persists immutable fill records.
type FillRepository interface {
	// Record inserts a fill unless one with the same
	// (order, source, watermark) already exists. Returns whether a row
	// was created.
	Record(ctx context.Context, fill *Fill) (bool, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*Fill, error)
}

// Store bundles the three repositories.
type Store struct {
	Runs   RunRepository
	Orders OrderRepository
	Fills  FillRepository
}
