package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/schema"
	"main/pkg/exception"
)

// NewPostgres builds a Store backed by a gorm postgres connection.
func NewPostgres(db *gorm.DB) *Store {
	return &Store{
		Runs:   &pgRunRepository{db: db},
		Orders: &pgOrderRepository{db: db},
		Fills:  &pgFillRepository{db: db},
	}
}

// AutoMigrate creates or updates the run/order/fill tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Run{}, &Order{}, &Fill{})
}

type pgRunRepository struct {
	db *gorm.DB
}

func (r *pgRunRepository) Create(ctx context.Context, run *Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *pgRunRepository) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *pgRunRepository) ListActive(ctx context.Context) ([]*Run, error) {
	var runs []*Run
	err := r.db.WithContext(ctx).
		Where("status IN ?", []schema.RunStatus{schema.RunQueued, schema.RunRunning, schema.RunStalled}).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}

func (r *pgRunRepository) Update(ctx context.Context, run *Run) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *pgRunRepository) UpdateStatus(ctx context.Context, runID string, status schema.RunStatus, reason schema.Reason, message string) error {
	updates := map[string]any{
		"status":     status,
		"reason":     reason,
		"updated_at": time.Now().UTC(),
	}
	if message != "" {
		updates["message"] = message
	}
	if status.Terminal() {
		updates["ended_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&Run{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}

type pgOrderRepository struct {
	db *gorm.DB
}

func (r *pgOrderRepository) CreateBatch(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_tag"}},
			DoNothing: true,
		}).
		Create(orders).Error
}

func (r *pgOrderRepository) ListByRun(ctx context.Context, runID string) ([]*Order, error) {
	var orders []*Order
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("order_id ASC").
		Find(&orders).Error
	return orders, err
}

func (r *pgOrderRepository) GetByTag(ctx context.Context, tag string) (*Order, error) {
	var order Order
	err := r.db.WithContext(ctx).Where("client_tag = ?", tag).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *pgOrderRepository) Update(ctx context.Context, order *Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

type pgFillRepository struct {
	db *gorm.DB
}

func (r *pgFillRepository) Record(ctx context.Context, fill *Fill) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "source"}, {Name: "watermark"}},
			DoNothing: true,
		}).
		Create(fill)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *pgFillRepository) ListByOrder(ctx context.Context, orderID int64) ([]*Fill, error) {
	var fills []*Fill
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("executed_at ASC").
		Find(&fills).Error
	return fills, err
}
