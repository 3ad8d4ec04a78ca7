package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"
)

// NewMemory builds an in-memory Store. Paper mode and tests use it in
// place of postgres; semantics match the gorm implementation.
func NewMemory() *Store {
	m := &memoryBackend{
		runs:   make(map[string]*Run),
		orders: make(map[string]*Order),
		fills:  make(map[int64][]*Fill),
	}
	return &Store{
		Runs:   &memRunRepository{b: m},
		Orders: &memOrderRepository{b: m},
		Fills:  &memFillRepository{b: m},
	}
}

type memoryBackend struct {
	mu     sync.Mutex
	runs   map[string]*Run
	orders map[string]*Order // keyed by client tag
	fills  map[int64][]*Fill
	nextID uint64
}

func (b *memoryBackend) id() uint64 {
	b.nextID++
	return b.nextID
}

type memRunRepository struct {
	b *memoryBackend
}

func (r *memRunRepository) Create(_ context.Context, run *Run) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	run.ID = r.b.id()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cp := *run
	r.b.runs[run.RunID] = &cp
	return nil
}

func (r *memRunRepository) Get(_ context.Context, runID string) (*Run, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	run, ok := r.b.runs[runID]
	if !ok {
		return nil, exception.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *memRunRepository) ListActive(_ context.Context) ([]*Run, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []*Run
	for _, run := range r.b.runs {
		if run.Status.Active() {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRunRepository) Update(_ context.Context, run *Run) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, ok := r.b.runs[run.RunID]; !ok {
		return exception.ErrRunNotFound
	}
	run.UpdatedAt = time.Now().UTC()
	cp := *run
	r.b.runs[run.RunID] = &cp
	return nil
}

func (r *memRunRepository) UpdateStatus(_ context.Context, runID string, status schema.RunStatus, reason schema.Reason, message string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	run, ok := r.b.runs[runID]
	if !ok {
		return exception.ErrRunNotFound
	}
	run.Status = status
	run.Reason = reason
	if message != "" {
		run.Message = message
	}
	now := time.Now().UTC()
	run.UpdatedAt = now
	if status.Terminal() && run.EndedAt == nil {
		ended := now
		run.EndedAt = &ended
	}
	return nil
}

type memOrderRepository struct {
	b *memoryBackend
}

func (r *memOrderRepository) CreateBatch(_ context.Context, orders []*Order) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for _, order := range orders {
		if _, exists := r.b.orders[order.ClientTag]; exists {
			continue
		}
		order.ID = r.b.id()
		if order.CreatedAt.IsZero() {
			order.CreatedAt = time.Now().UTC()
		}
		cp := *order
		r.b.orders[order.ClientTag] = &cp
	}
	return nil
}

func (r *memOrderRepository) ListByRun(_ context.Context, runID string) ([]*Order, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []*Order
	for _, order := range r.b.orders {
		if order.RunID == runID {
			cp := *order
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (r *memOrderRepository) GetByTag(_ context.Context, tag string) (*Order, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	order, ok := r.b.orders[tag]
	if !ok {
		return nil, exception.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *memOrderRepository) Update(_ context.Context, order *Order) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, ok := r.b.orders[order.ClientTag]; !ok {
		return exception.ErrOrderNotFound
	}
	order.UpdatedAt = time.Now().UTC()
	cp := *order
	r.b.orders[order.ClientTag] = &cp
	return nil
}

type memFillRepository struct {
	b *memoryBackend
}

func (r *memFillRepository) Record(_ context.Context, fill *Fill) (bool, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for _, existing := range r.b.fills[fill.OrderID] {
		if existing.Source == fill.Source && existing.Watermark == fill.Watermark {
			return false, nil
		}
	}
	fill.ID = r.b.id()
	if fill.CreatedAt.IsZero() {
		fill.CreatedAt = time.Now().UTC()
	}
	cp := *fill
	r.b.fills[fill.OrderID] = append(r.b.fills[fill.OrderID], &cp)
	return true, nil
}

func (r *memFillRepository) ListByOrder(_ context.Context, orderID int64) ([]*Fill, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	fills := r.b.fills[orderID]
	out := make([]*Fill, 0, len(fills))
	for _, fill := range fills {
		cp := *fill
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}
