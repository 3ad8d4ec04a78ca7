// Package executor orchestrates the full run lifecycle: intent
// building, risk gating, submission and reconciliation.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bridge"
	"main/internal/dispatch"
	"main/internal/events"
	"main/internal/intent"
	"main/internal/obs"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/exception"
	"main/pkg/lock"
)

const (
	// submissionLock serializes run creation across replicas. One run
	// at a time owns the submission channel.
	submissionLock = "trade-execution"

	lockTTL = 2 * time.Minute
)

// ManualOrder is an operator-composed order that bypasses the weight
// builder. It still passes through persistence and submission.
type ManualOrder struct {
	Symbol     string
	Side       schema.OrderSide
	Qty        decimal.Decimal
	Type       schema.OrderType
	LimitPrice *decimal.Decimal
}

// CreateRunRequest carries everything one run needs at creation.
type CreateRunRequest struct {
	Project string
	Mode    schema.RunMode

	// TargetWeights drive the delta builder. ManualOrders bypass it;
	// exactly one of the two must be non-empty.
	TargetWeights map[string]decimal.Decimal
	ManualOrders  []ManualOrder

	Holdings    map[string]intent.Holding
	Quotes      map[string]intent.Quote
	Closes      map[string]decimal.Decimal
	CashBalance decimal.Decimal

	Sizing    schema.SizingSpec
	OrderType schema.OrderType

	// Force bypasses risk limits and the halt guard.
	Force bool

	// Deadline, when set, fails the run if it is still stalled past it.
	Deadline *time.Time
}

// Service is the orchestration facade over the execution pipeline.
type Service struct {
	st         *store.Store
	bridge     *bridge.Bridge
	gate       *risk.Gate
	dispatcher *dispatch.Dispatcher
	engine     *reconcile.Engine
	locker     lock.Locker
	publisher  *events.Publisher
	metrics    *obs.Metrics
	procs      reconcile.Terminator
	quoteAge   time.Duration
	now        func() time.Time
}

// New wires the service. publisher, metrics and procs may be nil.
func New(st *store.Store, b *bridge.Bridge, gate *risk.Gate, dispatcher *dispatch.Dispatcher, engine *reconcile.Engine, locker lock.Locker, publisher *events.Publisher, metrics *obs.Metrics, procs reconcile.Terminator) (*Service, error) {
	if st == nil {
		return nil, exception.ErrNilStore
	}
	if b == nil {
		return nil, exception.ErrNilBridge
	}
	return &Service{
		st:         st,
		bridge:     b,
		gate:       gate,
		dispatcher: dispatcher,
		engine:     engine,
		locker:     locker,
		publisher:  publisher,
		metrics:    metrics,
		procs:      procs,
		quoteAge:   30 * time.Second,
		now:        time.Now,
	}, nil
}

// WithClock replaces the clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRun sizes, gates, persists and submits one run. Held
// submission locks and already-active runs reject the request instead
// of queueing behind it.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*store.Run, []*store.Order, error) {
	if !req.Mode.Valid() {
		return nil, nil, exception.ErrRunInvalidMode
	}
	if len(req.TargetWeights) == 0 && len(req.ManualOrders) == 0 {
		return nil, nil, exception.ErrRunMissingWeights
	}

	handle, err := s.locker.Acquire(ctx, submissionLock, lockTTL)
	if err != nil {
		if errors.Is(err, exception.ErrLockHeld) {
			s.metrics.IncLockContention()
		}
		return nil, nil, err
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			logs.Warnf("release %s lock: %v", submissionLock, err)
		}
	}()

	active, err := s.st.Runs.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(active) > 0 {
		s.metrics.IncLockContention()
		return nil, nil, errors.Wrapf(exception.ErrLockHeld, "run %s still active", active[0].RunID)
	}

	run := &store.Run{
		RunID:    "run-" + uuid.NewString(),
		Project:  req.Project,
		Mode:     req.Mode,
		Status:   schema.RunQueued,
		Deadline: req.Deadline,
	}
	sizing := req.Sizing
	sizing.TargetWeights = req.TargetWeights
	if err := run.SetSizingSpec(sizing); err != nil {
		return nil, nil, err
	}

	intents, err := s.buildIntents(run.RunID, req)
	if errors.Is(err, exception.ErrOrdersEmpty) {
		// Already at target: record a completed no-op run.
		return s.createNoopRun(ctx, run)
	}
	if err != nil {
		return nil, nil, err
	}

	decision := s.evaluate(ctx, req, intents)
	if err := run.SetRiskSnapshot(decision.Snapshot()); err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		s.metrics.IncBlock(decision.Reason)
		run.Status = schema.RunBlocked
		run.Reason = decision.Reason
		run.Message = decision.Detail
		if err := s.st.Runs.Create(ctx, run); err != nil {
			return nil, nil, err
		}
		s.publisher.RunStatus(run)
		return run, nil, errors.Wrap(exception.ErrRunBlocked, decision.Detail)
	}

	orders := s.toOrders(run, req, intents)
	if err := s.st.Runs.Create(ctx, run); err != nil {
		return nil, nil, err
	}
	if err := s.st.Orders.CreateBatch(ctx, orders); err != nil {
		return nil, nil, err
	}

	submitStart := s.now()
	if err := s.dispatcher.Submit(ctx, run, orders); err != nil {
		run.Status = schema.RunFailed
		run.Reason = schema.ReasonBridgeUnreachable
		run.Message = err.Error()
		ended := s.now().UTC()
		run.EndedAt = &ended
		if uerr := s.st.Runs.Update(ctx, run); uerr != nil {
			logs.Errorf("persist failed run %s: %v", run.RunID, uerr)
		}
		s.publisher.RunStatus(run)
		return run, orders, err
	}
	s.metrics.ObserveSubmit(s.now().Sub(submitStart))
	s.metrics.IncRunCreated()
	s.publisher.RunCreated(run, len(orders))
	logs.Infof("run %s created: %d orders, mode=%s", run.RunID, len(orders), run.Mode)
	return run, orders, nil
}

// GetRun returns the persisted state of a run and its orders.
func (s *Service) GetRun(ctx context.Context, runID string) (*store.Run, []*store.Order, error) {
	run, err := s.st.Runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	orders, err := s.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, orders, nil
}

// Refresh runs one reconciliation pass and returns the refreshed run.
// Fills recorded during the pass and run status changes are published.
func (s *Service) Refresh(ctx context.Context, runID string) (*store.Run, []*store.Order, error) {
	before, err := s.st.Runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	prior, err := s.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	filledBefore := make(map[string]decimal.Decimal, len(prior))
	for _, order := range prior {
		filledBefore[order.ClientTag] = order.FilledQty
	}

	passStart := s.now()
	run, err := s.engine.Reconcile(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != before.Status {
		s.publisher.RunStatus(run)
	}
	orders, err := s.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	s.publishNewFills(ctx, orders, filledBefore, passStart)
	return run, orders, nil
}

func (s *Service) publishNewFills(ctx context.Context, orders []*store.Order, filledBefore map[string]decimal.Decimal, passStart time.Time) {
	if s.publisher == nil {
		return
	}
	for _, order := range orders {
		if !order.FilledQty.GreaterThan(filledBefore[order.ClientTag]) {
			continue
		}
		fills, err := s.st.Fills.ListByOrder(ctx, order.OrderID)
		if err != nil {
			logs.Warnf("list fills for %s: %v", order.ClientTag, err)
			continue
		}
		for _, fill := range fills {
			if fill.CreatedAt.Before(passStart) {
				continue
			}
			s.publisher.OrderFill(order, fill.Qty, fill.Price, fill.Source)
		}
	}
}

// RefreshActive reconciles every non-terminal run. Errors on one run
// never block the rest.
func (s *Service) RefreshActive(ctx context.Context) error {
	runs, err := s.st.Runs.ListActive(ctx)
	if err != nil {
		return err
	}
	passID := s.metrics.NextPassID()
	for _, run := range runs {
		if _, _, err := s.Refresh(ctx, run.RunID); err != nil {
			logs.Errorf("pass %d: refresh run %s: %v", passID, run.RunID, err)
		}
	}
	return nil
}

// Terminate is the operator cancel: it supersedes pending commands,
// closes every non-terminal order and shuts the fallback process down.
func (s *Service) Terminate(ctx context.Context, runID, message string) (*store.Run, error) {
	run, err := s.st.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, exception.ErrRunTerminal
	}
	orders, err := s.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for _, order := range orders {
		if order.CommandID != "" && order.Status == schema.OrderNew {
			if err := s.bridge.Supersede(order.CommandID); err != nil {
				logs.Warnf("supersede %s: %v", order.CommandID, err)
			}
		}
		if order.Status.Terminal() {
			continue
		}
		order.Status = schema.OrderCanceled
		order.RejectReason = schema.ReasonOperatorCancel
		order.LowConfidence = false
		order.StatusChangedAt = now
		if err := s.st.Orders.Update(ctx, order); err != nil {
			return nil, err
		}
	}

	run.Status = schema.RunCanceled
	run.Reason = schema.ReasonOperatorCancel
	run.Message = message
	run.StalledAt = nil
	run.StalledReason = schema.ReasonNone
	run.EndedAt = &now
	if err := s.st.Runs.Update(ctx, run); err != nil {
		return nil, err
	}
	s.stopFallback(run)
	s.publisher.RunStatus(run)
	logs.Infof("run %s canceled by operator", runID)
	return run, nil
}

// Resume escalates a stalled run onto the fallback channel.
func (s *Service) Resume(ctx context.Context, runID string) (*store.Run, error) {
	run, err := s.st.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStalled {
		return nil, exception.ErrRunNotStalled
	}
	orders, err := s.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	escalated, err := s.dispatcher.EscalateStuck(ctx, run, orders)
	if err != nil {
		return nil, err
	}
	if !escalated {
		// Nothing stuck on leader; a fresh pass may still resolve it.
		return s.engine.Reconcile(ctx, runID)
	}
	s.metrics.IncFallback()
	run.Status = schema.RunRunning
	run.StalledAt = nil
	run.StalledReason = schema.ReasonNone
	if err := s.st.Runs.Update(ctx, run); err != nil {
		return nil, err
	}
	s.publisher.RunStatus(run)
	return run, nil
}

func (s *Service) buildIntents(runID string, req CreateRunRequest) ([]intent.Intent, error) {
	start := s.now()
	defer func() {
		s.metrics.ObserveBuild(s.now().Sub(start))
	}()

	if len(req.ManualOrders) > 0 {
		return manualIntents(runID, req.ManualOrders)
	}
	return intent.Build(intent.BuildInput{
		RunID:         runID,
		TargetWeights: req.TargetWeights,
		Holdings:      req.Holdings,
		Prices:        intent.NewPriceBook(req.Quotes, req.Closes, s.quoteAge),
		Sizing:        req.Sizing,
		OrderType:     req.OrderType,
	})
}

func (s *Service) evaluate(ctx context.Context, req CreateRunRequest, intents []intent.Intent) risk.Decision {
	proposed := make([]risk.ProposedOrder, 0, len(intents))
	for _, it := range intents {
		proposed = append(proposed, risk.ProposedOrder{
			Symbol: it.Symbol,
			Side:   it.Side,
			Qty:    it.Qty,
			Price:  it.PrimingPrice,
		})
	}
	held := make(map[string]decimal.Decimal, len(req.Holdings))
	for symbol, holding := range req.Holdings {
		held[symbol] = holding.Qty
	}
	return s.gate.Evaluate(ctx, risk.Input{
		Orders:         proposed,
		Holdings:       held,
		PortfolioValue: req.Sizing.PortfolioValue,
		CashBalance:    req.CashBalance,
		Force:          req.Force,
	})
}

func (s *Service) toOrders(run *store.Run, req CreateRunRequest, intents []intent.Intent) []*store.Order {
	now := s.now().UTC()
	orders := make([]*store.Order, 0, len(intents))
	for _, it := range intents {
		order := &store.Order{
			OrderID:         store.NewID(),
			RunID:           run.RunID,
			ClientTag:       it.Tag,
			Seq:             it.Seq,
			Symbol:          it.Symbol,
			Side:            it.Side,
			Type:            it.Type,
			LimitPrice:      it.LimitPrice,
			RequestedQty:    it.Qty,
			Status:          schema.OrderNew,
			StatusChangedAt: now,
		}
		// Baseline anchors later holdings-delta fill inference. No
		// baseline means inference stays off for this order.
		if holding, ok := req.Holdings[it.Symbol]; ok {
			baseline := holding.Qty
			order.BaselineQty = &baseline
		} else if len(req.Holdings) > 0 {
			baseline := decimal.Zero
			order.BaselineQty = &baseline
		}
		orders = append(orders, order)
	}
	return orders
}

func (s *Service) createNoopRun(ctx context.Context, run *store.Run) (*store.Run, []*store.Order, error) {
	now := s.now().UTC()
	run.Status = schema.RunDone
	run.Message = "portfolio already at target, nothing to trade"
	run.EndedAt = &now
	if err := run.SetCompletionSummary(schema.CompletionSummary{}); err != nil {
		return nil, nil, err
	}
	if err := s.st.Runs.Create(ctx, run); err != nil {
		return nil, nil, err
	}
	s.publisher.RunStatus(run)
	logs.Infof("run %s: no deltas, completed as no-op", run.RunID)
	return run, nil, nil
}

func (s *Service) stopFallback(run *store.Run) {
	if s.procs == nil {
		return
	}
	meta, err := run.SubmissionMeta()
	if err != nil || meta.ProcessID <= 0 || !s.procs.Alive(meta.ProcessID) {
		return
	}
	leaderPID := 0
	if status, err := s.bridge.ReadStatus(); err == nil {
		leaderPID = status.PID
	}
	outcome := s.procs.Terminate(meta.ProcessID, leaderPID)
	logs.Infof("run %s: fallback process %d termination outcome=%s", run.RunID, meta.ProcessID, outcome)
}

func manualIntents(runID string, manual []ManualOrder) ([]intent.Intent, error) {
	intents := make([]intent.Intent, 0, len(manual))
	for i, m := range manual {
		if !m.Qty.IsPositive() {
			continue
		}
		priming := decimal.Zero
		if m.LimitPrice != nil {
			priming = *m.LimitPrice
		}
		intents = append(intents, intent.Intent{
			Tag:          intent.Tag(runID, i),
			Seq:          i,
			Symbol:       m.Symbol,
			Side:         m.Side,
			Qty:          m.Qty,
			Type:         m.Type,
			LimitPrice:   m.LimitPrice,
			PrimingPrice: priming,
		})
	}
	if len(intents) == 0 {
		return nil, exception.ErrOrdersEmpty
	}
	return intents, nil
}
