// Package reconcile merges execution events, open-order snapshots and
// holdings snapshots into persisted order state. Every pass is
// idempotent: unchanged inputs produce unchanged state.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bridge"
	"main/internal/obs"
	"main/internal/proc"
	"main/internal/schema"
	"main/internal/store"
)

// Escalator supersedes stuck leader submissions and launches fallback.
// Implemented by the submission dispatcher.
type Escalator interface {
	EscalateStuck(ctx context.Context, run *store.Run, orders []*store.Order) (bool, error)
}

// Terminator shuts down tracked fallback processes of terminal runs.
type Terminator interface {
	Alive(pid int) bool
	Terminate(pid, leaderPID int) proc.TerminateOutcome
}

// Engine runs reconciliation passes. It has no scheduler of its own:
// progress is pull-based, a pass runs inside whatever call triggered it.
type Engine struct {
	cfg       PassConfig
	st        *store.Store
	bridge    *bridge.Bridge
	escalator Escalator
	procs     Terminator
	metrics   *obs.Metrics
	now       func() time.Time

	lockMu   sync.Mutex
	runLocks map[string]*sync.Mutex
}

// New creates an engine. escalator, procs and metrics may be nil; the
// corresponding steps are skipped.
func New(cfg PassConfig, st *store.Store, b *bridge.Bridge, escalator Escalator, procs Terminator, metrics *obs.Metrics) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		st:        st,
		bridge:    b,
		escalator: escalator,
		procs:     procs,
		metrics:   metrics,
		now:       time.Now,
		runLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// WithClock replaces the clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Reconcile runs one pass for a run and returns its refreshed state.
// Passes for the same run never interleave: concurrent callers
// serialize, so order-status history stays linear and filled quantity
// monotone.
func (e *Engine) Reconcile(ctx context.Context, runID string) (*store.Run, error) {
	mu := e.runLock(runID)
	mu.Lock()
	defer mu.Unlock()

	started := e.now()
	defer func() {
		e.metrics.ObservePass(e.now().Sub(started))
	}()

	run, err := e.st.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	orders, err := e.st.Orders.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Terminal runs are never reopened; the only remaining duty is to
	// shut down a leftover fallback process.
	if run.Status.Terminal() {
		e.cleanupProcess(run)
		return run, nil
	}
	if !run.Status.Active() {
		return run, nil
	}

	openOrders, err := e.bridge.ReadOpenOrders()
	if err != nil {
		return nil, errors.Wrap(err, "read open orders snapshot")
	}
	holdings, err := e.bridge.ReadHoldings()
	if err != nil {
		return nil, errors.Wrap(err, "read holdings snapshot")
	}
	events, err := e.bridge.ReadEvents()
	if err != nil {
		return nil, errors.Wrap(err, "read execution events")
	}
	eventsByTag := groupEvents(events)

	for _, order := range orders {
		// High-confidence terminal orders are settled; only
		// low-confidence ones may still be corrected.
		if order.Status.Terminal() && !order.LowConfidence {
			continue
		}
		if err := e.applyCommandResult(ctx, order); err != nil {
			return nil, err
		}
		if err := e.applyEvents(ctx, order, eventsByTag[order.ClientTag]); err != nil {
			return nil, err
		}
		if err := e.applyAbsence(ctx, order, openOrders); err != nil {
			return nil, err
		}
		if err := e.inferFromHoldings(ctx, order, openOrders, holdings); err != nil {
			return nil, err
		}
		if err := e.settleFromFills(ctx, order); err != nil {
			return nil, err
		}
	}

	if err := e.applyDiagnostics(ctx, run, orders); err != nil {
		return nil, err
	}
	if err := e.checkIntentFile(ctx, run, orders); err != nil {
		return nil, err
	}
	return e.finalize(ctx, run, orders)
}

// applyCommandResult advances pending leader submissions from result
// files: submitted moves NEW to SUBMITTED, any failure rejects.
func (e *Engine) applyCommandResult(ctx context.Context, order *store.Order) error {
	if order.CommandID == "" || order.Status != schema.OrderNew {
		return nil
	}
	result, err := e.bridge.ReadResult(order.CommandID)
	if err != nil {
		// No result yet is no evidence.
		return nil
	}
	if result.BrokerOrderID != "" {
		order.BrokerOrderID = result.BrokerOrderID
	}
	if result.Submitted() {
		return e.setStatus(ctx, order, schema.OrderSubmitted, schema.ReasonNone, "command-result", false)
	}
	order.RejectReason = schema.ReasonCommandFailed
	return e.setStatus(ctx, order, schema.OrderRejected, schema.ReasonCommandFailed, "command-result", false)
}

// applyEvents ingests execution-log records for the order's tag,
// idempotently by event id. The reported filled quantity is cumulative;
// only the increase over persisted state is recorded.
func (e *Engine) applyEvents(ctx context.Context, order *store.Order, events []bridge.ExecutionEvent) error {
	for _, ev := range events {
		if increment := ev.FilledQty.Sub(order.FilledQty); increment.IsPositive() {
			qty := decimal.Min(increment, order.Remaining())
			if err := e.recordFill(ctx, order, qty, ev.Price, decimal.Zero, schema.FillSourceEventLog, ev.ID, ev.Ts); err != nil {
				return err
			}
		}

		switch ev.Status {
		case "submitted":
			if err := e.setStatus(ctx, order, schema.OrderSubmitted, schema.ReasonNone, "event-log", false); err != nil {
				return err
			}
		case "canceled":
			if err := e.setStatus(ctx, order, schema.OrderCanceled, schema.ReasonNone, "event-log", false); err != nil {
				return err
			}
		case "rejected":
			order.RejectReason = schema.ReasonCommandFailed
			if err := e.setStatus(ctx, order, schema.OrderRejected, schema.ReasonCommandFailed, "event-log", false); err != nil {
				return err
			}
		}

		// An execution event is stronger evidence than the absence
		// that produced a low-confidence terminal: reopen while the
		// override window allows.
		if order.LowConfidence && e.withinOverrideWindow(order) {
			reopened := schema.OrderSubmitted
			if order.FilledQty.IsPositive() {
				reopened = schema.OrderPartial
			}
			if err := e.setStatus(ctx, order, reopened, schema.ReasonNone, "event-log", false); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyAbsence marks a low-confidence cancellation when a fresh
// open-orders snapshot does not list an order that predates it.
func (e *Engine) applyAbsence(ctx context.Context, order *store.Order, openOrders bridge.OpenOrdersSnapshot) error {
	now := e.now()
	if !openOrders.Fresh(now, e.cfg.SnapshotMaxAge) {
		return nil
	}
	if openOrders.Contains(order.ClientTag) {
		// Visible at the broker: definitely not canceled. Reopen a
		// low-confidence terminal while the window allows.
		if order.LowConfidence && e.withinOverrideWindow(order) {
			reopened := schema.OrderSubmitted
			if order.FilledQty.IsPositive() {
				reopened = schema.OrderPartial
			}
			return e.setStatus(ctx, order, reopened, schema.ReasonNone, "open-orders", false)
		}
		return nil
	}
	if order.Status != schema.OrderSubmitted && order.Status != schema.OrderPartial {
		return nil
	}
	if !order.CreatedAt.Before(openOrders.RefreshedAt) {
		// The order may simply postdate the snapshot.
		return nil
	}
	if order.StatusChangedAt.After(openOrders.RefreshedAt) {
		// Persisted state is newer than the snapshot; absence proves
		// nothing about it.
		return nil
	}
	order.RejectReason = schema.ReasonAbsentFromBroker
	return e.setStatus(ctx, order, schema.OrderCanceled, schema.ReasonAbsentFromBroker, "open-orders", true)
}

// inferFromHoldings derives fills from the holdings delta against the
// pre-submission baseline. It never runs without a baseline, and never
// for symbols still visible in a fresh open-orders snapshot.
func (e *Engine) inferFromHoldings(ctx context.Context, order *store.Order, openOrders bridge.OpenOrdersSnapshot, holdings bridge.HoldingsSnapshot) error {
	if order.BaselineQty == nil {
		return nil
	}
	now := e.now()
	if !holdings.Fresh(now, e.cfg.SnapshotMaxAge) {
		return nil
	}
	if openOrders.Fresh(now, e.cfg.SnapshotMaxAge) && openOrders.Contains(order.ClientTag) {
		return nil
	}

	holding, _ := holdings.Position(order.Symbol)
	delta := holding.Qty.Sub(*order.BaselineQty).Mul(decimal.NewFromInt(order.Side.Sign()))
	if !delta.IsPositive() {
		return nil
	}
	inferred := decimal.Min(delta, order.RequestedQty)
	if !inferred.GreaterThan(order.FilledQty) {
		return nil
	}

	price := holding.AvgCost
	if !price.IsPositive() {
		price = order.AvgFillPrice
	}
	if !price.IsPositive() && order.LimitPrice != nil {
		price = *order.LimitPrice
	}
	watermark := fmt.Sprintf("%d", holdings.RefreshedAt.UnixNano())
	return e.recordFill(ctx, order, inferred.Sub(order.FilledQty), price, decimal.Zero, schema.FillSourceHoldings, watermark, holdings.RefreshedAt)
}

// settleFromFills promotes order status from accumulated fill state.
func (e *Engine) settleFromFills(ctx context.Context, order *store.Order) error {
	if !order.FilledQty.IsPositive() || order.Status.Terminal() {
		return nil
	}
	if order.FilledWithinTolerance(e.cfg.FillTolerance) {
		return e.setStatus(ctx, order, schema.OrderFilled, schema.ReasonNone, "fills", false)
	}
	return e.setStatus(ctx, order, schema.OrderPartial, schema.ReasonNone, "fills", false)
}

// applyDiagnostics detects terminal-without-evidence conditions from
// the broker-session log and forces affected orders terminal.
func (e *Engine) applyDiagnostics(ctx context.Context, run *store.Run, orders []*store.Order) error {
	if anyEvidence(orders) {
		return nil
	}
	diag, err := e.bridge.ScanSessionLog(run.RunID)
	if err != nil {
		return errors.Wrap(err, "scan session log")
	}

	switch {
	case diag.TargetsAlreadyHeld:
		for _, order := range orders {
			if order.Status.Terminal() {
				continue
			}
			// Target quantity was already in the account, so there was
			// nothing to submit. The baseline proves it for buys.
			if order.Side == schema.SideBuy && order.BaselineQty != nil && order.BaselineQty.GreaterThanOrEqual(order.RequestedQty) {
				if err := e.setStatus(ctx, order, schema.OrderFilled, schema.ReasonTargetsHeld, "session-log", false); err != nil {
					return err
				}
				continue
			}
			order.RejectReason = schema.ReasonTargetsHeld
			if err := e.setStatus(ctx, order, schema.OrderSkipped, schema.ReasonTargetsHeld, "session-log", false); err != nil {
				return err
			}
		}
		run.Reason = schema.ReasonTargetsHeld
	case diag.WarmupRejected:
		for _, order := range orders {
			if order.Status.Terminal() {
				continue
			}
			order.RejectReason = schema.ReasonWarmupRejected
			if err := e.setStatus(ctx, order, schema.OrderRejected, schema.ReasonWarmupRejected, "session-log", false); err != nil {
				return err
			}
		}
		run.Reason = schema.ReasonWarmupRejected
	}
	return nil
}

// checkIntentFile verifies the round-trip of the order-intent file for
// fallback submissions. The expected set is the one recorded at
// submission time: order statuses changing later must not make the
// file on disk look tampered with. A mismatch force-closes the run.
func (e *Engine) checkIntentFile(ctx context.Context, run *store.Run, orders []*store.Order) error {
	meta, err := run.SubmissionMeta()
	if err != nil {
		return err
	}
	if meta.Channel != schema.ChannelFallback || meta.IntentPath == "" {
		return nil
	}
	symbols := meta.IntentSymbols
	if len(symbols) == 0 {
		symbols = make([]string, 0, len(orders))
		for _, order := range orders {
			symbols = append(symbols, order.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}
	if err := e.bridge.MatchSymbols(run.RunID, symbols); err == nil {
		return nil
	}
	logs.Errorf("run %s: intent file symbol set diverged from persisted orders", run.RunID)
	for _, order := range orders {
		if order.Status.Terminal() {
			continue
		}
		order.RejectReason = schema.ReasonIntentMismatch
		if err := e.setStatus(ctx, order, schema.OrderCanceled, schema.ReasonIntentMismatch, "intent-check", false); err != nil {
			return err
		}
	}
	run.Reason = schema.ReasonIntentMismatch
	run.Message = "order-intent file does not match persisted symbol set"
	return nil
}

// finalize recomputes the run status, handles escalation and stall
// bookkeeping, and persists only actual changes.
func (e *Engine) finalize(ctx context.Context, run *store.Run, orders []*store.Order) (*store.Run, error) {
	now := e.now().UTC()
	status, summary, terminal := Completion(orders)

	// A low-confidence terminal inside the override window is still
	// revisable, so the run must not settle on it yet.
	if terminal && e.anyRevisable(orders) {
		terminal = false
		status = schema.RunRunning
	}

	if terminal {
		previous, err := run.CompletionSummary()
		if err != nil {
			return nil, err
		}
		changed := run.Status != status || !summary.Equal(previous)
		// Diagnostic reasons on failed runs survive; any other
		// transition clears the reason.
		if run.Status != status && status != schema.RunFailed {
			run.Reason = schema.ReasonNone
		}
		run.Status = status
		run.StalledAt = nil
		run.StalledReason = schema.ReasonNone
		if run.EndedAt == nil {
			ended := now
			run.EndedAt = &ended
		}
		if changed {
			if err := run.SetCompletionSummary(summary); err != nil {
				return nil, err
			}
			if err := e.st.Runs.Update(ctx, run); err != nil {
				return nil, err
			}
		}
		e.cleanupProcess(run)
		return run, nil
	}

	// Pending-timeout escalation: supersede and fall back before any
	// stall verdict, so a resolved fallback auto-resumes the run.
	if e.escalator != nil {
		escalated, err := e.escalator.EscalateStuck(ctx, run, orders)
		if err != nil {
			return nil, err
		}
		if escalated {
			e.metrics.IncFallback()
			run.Status = schema.RunRunning
			run.StalledAt = nil
			run.StalledReason = schema.ReasonNone
			if err := e.st.Runs.Update(ctx, run); err != nil {
				return nil, err
			}
			return run, nil
		}
	}

	if run.Deadline != nil && now.After(*run.Deadline) && run.Status == schema.RunStalled {
		for _, order := range orders {
			if order.Status.Terminal() {
				continue
			}
			order.RejectReason = schema.ReasonDeadlineElapsed
			if err := e.setStatus(ctx, order, schema.OrderCanceled, schema.ReasonDeadlineElapsed, "deadline", false); err != nil {
				return nil, err
			}
		}
		run.Status = schema.RunFailed
		run.Reason = schema.ReasonDeadlineElapsed
		run.Message = "no progress before caller deadline"
		ended := now
		run.EndedAt = &ended
		if err := e.st.Runs.Update(ctx, run); err != nil {
			return nil, err
		}
		return run, nil
	}

	progressAt := lastProgress(run, orders)
	window := e.cfg.stallWindow()
	switch {
	case now.Sub(progressAt) > window && run.Status != schema.RunStalled:
		stalled := now
		run.Status = schema.RunStalled
		run.StalledAt = &stalled
		run.StalledReason = schema.ReasonNoProgress
		e.metrics.IncStall()
		logs.Warnf("run %s stalled: no progress since %s", run.RunID, progressAt.Format(time.RFC3339))
		if err := e.st.Runs.Update(ctx, run); err != nil {
			return nil, err
		}
	case now.Sub(progressAt) <= window && run.Status == schema.RunStalled:
		run.Status = schema.RunRunning
		run.StalledAt = nil
		run.StalledReason = schema.ReasonNone
		if err := e.st.Runs.Update(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

func (e *Engine) runLock(runID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.runLocks[runID]
	if !ok {
		mu = &sync.Mutex{}
		e.runLocks[runID] = mu
	}
	return mu
}

func (e *Engine) cleanupProcess(run *store.Run) {
	if e.procs == nil {
		return
	}
	meta, err := run.SubmissionMeta()
	if err != nil || meta.ProcessID <= 0 {
		return
	}
	if !e.procs.Alive(meta.ProcessID) {
		return
	}
	leaderPID := 0
	if status, err := e.bridge.ReadStatus(); err == nil {
		leaderPID = status.PID
	}
	outcome := e.procs.Terminate(meta.ProcessID, leaderPID)
	logs.Infof("run %s: fallback process %d termination outcome=%s", run.RunID, meta.ProcessID, outcome)
}

// recordFill persists one incremental fill and folds it into the order.
// Duplicate (order, source, watermark) inserts are no-ops, which keeps
// filled quantity monotone across repeated passes.
func (e *Engine) recordFill(ctx context.Context, order *store.Order, qty, price, commission decimal.Decimal, source schema.FillSource, watermark string, executedAt time.Time) error {
	if !qty.IsPositive() {
		return nil
	}
	created, err := e.st.Fills.Record(ctx, &store.Fill{
		FillID:     store.NewID(),
		OrderID:    order.OrderID,
		Source:     source,
		Watermark:  watermark,
		Qty:        qty,
		Price:      price,
		Commission: commission,
		ExecutedAt: executedAt,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	newFilled := order.FilledQty.Add(qty)
	if price.IsPositive() {
		weighted := order.AvgFillPrice.Mul(order.FilledQty).Add(price.Mul(qty))
		order.AvgFillPrice = weighted.Div(newFilled)
	}
	order.FilledQty = newFilled
	order.StatusChangedAt = e.now().UTC()
	e.metrics.IncFill()
	return e.st.Orders.Update(ctx, order)
}

// setStatus applies a guarded forward transition and persists it.
func (e *Engine) setStatus(ctx context.Context, order *store.Order, status schema.OrderStatus, reason schema.Reason, source string, lowConfidence bool) error {
	if !schema.CanTransition(order.Status, status) {
		return nil
	}
	order.Status = status
	order.LowConfidence = lowConfidence
	order.StatusChangedAt = e.now().UTC()
	prov, err := order.ProvenanceMap()
	if err != nil {
		return err
	}
	if prov == nil {
		prov = schema.Provenance{}
	}
	prov["last_status_source"] = source
	prov["last_status_at"] = order.StatusChangedAt.Format(time.RFC3339Nano)
	if reason != schema.ReasonNone {
		prov["last_status_reason"] = string(reason)
	}
	if err := order.SetProvenance(prov); err != nil {
		return err
	}
	return e.st.Orders.Update(ctx, order)
}

func (e *Engine) anyRevisable(orders []*store.Order) bool {
	for _, order := range orders {
		if order.LowConfidence && e.withinOverrideWindow(order) {
			return true
		}
	}
	return false
}

func (e *Engine) withinOverrideWindow(order *store.Order) bool {
	if order.StatusChangedAt.IsZero() {
		return false
	}
	return e.now().Sub(order.StatusChangedAt) <= e.cfg.OverrideWindow
}

func groupEvents(events []bridge.ExecutionEvent) map[string][]bridge.ExecutionEvent {
	byTag := make(map[string][]bridge.ExecutionEvent, len(events))
	for _, ev := range events {
		byTag[ev.Tag] = append(byTag[ev.Tag], ev)
	}
	return byTag
}

func anyEvidence(orders []*store.Order) bool {
	for _, order := range orders {
		if order.FilledQty.IsPositive() || order.BrokerOrderID != "" {
			return true
		}
		if order.Status == schema.OrderSubmitted || order.Status == schema.OrderPartial {
			return true
		}
	}
	return false
}

func lastProgress(run *store.Run, orders []*store.Order) time.Time {
	progress := run.CreatedAt
	if run.StartedAt != nil && run.StartedAt.After(progress) {
		progress = *run.StartedAt
	}
	for _, order := range orders {
		if order.StatusChangedAt.After(progress) {
			progress = order.StatusChangedAt
		}
	}
	return progress
}
