package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bridge"
	"main/internal/dispatch"
	"main/internal/intent"
	"main/internal/obs"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/exception"
	"main/pkg/lock"
)

type recordingLauncher struct {
	calls int
}

func (l *recordingLauncher) Launch(_ context.Context, _, _, _ string) (int, error) {
	l.calls++
	return 4242, nil
}

type serviceFixture struct {
	st       *store.Store
	bridge   *bridge.Bridge
	launcher *recordingLauncher
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	b, err := bridge.New(bridge.Config{Root: t.TempDir()})
	require.NoError(t, err)

	f := &serviceFixture{
		st:       store.NewMemory(),
		bridge:   b,
		launcher: &recordingLauncher{},
	}
	gate := risk.NewGate(risk.Limits{}, risk.NewBridgeHaltGuard(b))
	dispatcher := dispatch.New(dispatch.Config{}, b, f.launcher, f.st)
	engine, err := reconcile.New(reconcile.PassConfig{}, f.st, b, dispatcher, nil, obs.NewMetrics())
	require.NoError(t, err)

	f.svc, err = New(f.st, b, gate, dispatcher, engine, lock.NewMemoryLocker(), nil, obs.NewMetrics(), nil)
	require.NoError(t, err)
	return f
}

func (f *serviceFixture) healthyLeader(t *testing.T) {
	t.Helper()
	require.NoError(t, f.bridge.WriteStatus(bridge.SessionStatus{
		State:         bridge.SessionConnected,
		LastHeartbeat: time.Now().UTC(),
		PID:           999,
	}))
}

// weightsRequest targets 50% AAA on a 10k portfolio priced at 100, so
// the builder produces a single buy of 50.
func weightsRequest() CreateRunRequest {
	return CreateRunRequest{
		Mode:          schema.ModePaper,
		TargetWeights: map[string]decimal.Decimal{"AAA": decimal.RequireFromString("0.5")},
		Holdings:      map[string]intent.Holding{"AAA": {Qty: decimal.Zero}},
		Quotes: map[string]intent.Quote{
			"AAA": {Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101), At: time.Now()},
		},
		CashBalance: decimal.NewFromInt(10000),
		Sizing: schema.SizingSpec{
			PortfolioValue: decimal.NewFromInt(10000),
		},
	}
}

func TestCreateRunSubmitsViaLeader(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	ctx := context.Background()

	run, orders, err := f.svc.CreateRun(ctx, weightsRequest())
	require.NoError(t, err)
	assert.Equal(t, schema.RunRunning, run.Status)
	require.NotNil(t, run.StartedAt)
	require.Len(t, orders, 1)

	order := orders[0]
	assert.Equal(t, "AAA", order.Symbol)
	assert.Equal(t, schema.SideBuy, order.Side)
	assert.True(t, order.RequestedQty.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, run.RunID+"-0", order.ClientTag)
	require.NotNil(t, order.BaselineQty)
	assert.True(t, order.BaselineQty.IsZero())
	assert.NotEmpty(t, order.CommandID)

	pending, err := f.bridge.PendingCommands()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Zero(t, f.launcher.calls)

	gotRun, gotOrders, err := f.svc.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, gotRun.RunID)
	assert.Len(t, gotOrders, 1)
}

func TestCreateRunNoDeltasCompletesAsNoop(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)

	req := weightsRequest()
	req.Holdings["AAA"] = intent.Holding{Qty: decimal.NewFromInt(50)}

	run, orders, err := f.svc.CreateRun(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, schema.RunDone, run.Status)
	assert.Equal(t, "portfolio already at target, nothing to trade", run.Message)
	require.NotNil(t, run.EndedAt)
}

func TestCreateRunBlockedByHaltGuard(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	require.NoError(t, f.bridge.WriteHalt(bridge.HaltStatus{Status: "halted", Reason: "drawdown limit"}))

	run, orders, err := f.svc.CreateRun(context.Background(), weightsRequest())
	require.ErrorIs(t, err, exception.ErrRunBlocked)
	assert.Empty(t, orders)
	require.NotNil(t, run)
	assert.Equal(t, schema.RunBlocked, run.Status)
	assert.Equal(t, schema.ReasonGuardHalted, run.Reason)

	// The blocked run is persisted for the audit trail, but it never
	// holds the submission channel.
	persisted, err := f.st.Runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunBlocked, persisted.Status)

	f2, _, err := f.svc.CreateRun(context.Background(), weightsRequest())
	require.ErrorIs(t, err, exception.ErrRunBlocked)
	require.NotNil(t, f2)
}

func TestCreateRunValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateRun(ctx, CreateRunRequest{Mode: "weird"})
	require.ErrorIs(t, err, exception.ErrRunInvalidMode)

	_, _, err = f.svc.CreateRun(ctx, CreateRunRequest{Mode: schema.ModePaper})
	require.ErrorIs(t, err, exception.ErrRunMissingWeights)
}

func TestCreateRunRejectsWhileAnotherActive(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateRun(ctx, weightsRequest())
	require.NoError(t, err)

	_, _, err = f.svc.CreateRun(ctx, weightsRequest())
	require.ErrorIs(t, err, exception.ErrLockHeld)
}

func TestCreateRunManualOrders(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	limit := decimal.NewFromInt(42)

	run, orders, err := f.svc.CreateRun(context.Background(), CreateRunRequest{
		Mode: schema.ModePaper,
		ManualOrders: []ManualOrder{
			{Symbol: "AAA", Side: schema.SideBuy, Qty: decimal.NewFromInt(10), Type: schema.TypeLimit, LimitPrice: &limit},
			{Symbol: "BBB", Side: schema.SideSell, Qty: decimal.Zero},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunRunning, run.Status)
	require.Len(t, orders, 1, "non-positive manual quantities are dropped")
	assert.Equal(t, schema.TypeLimit, orders[0].Type)
	require.NotNil(t, orders[0].LimitPrice)
	assert.True(t, orders[0].LimitPrice.Equal(limit))
	assert.Nil(t, orders[0].BaselineQty, "no holdings given, inference stays off")
}

func TestRefreshSettlesRunFromEvents(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	ctx := context.Background()

	run, orders, err := f.svc.CreateRun(ctx, weightsRequest())
	require.NoError(t, err)
	order := orders[0]

	require.NoError(t, f.bridge.WriteResult(bridge.CommandResult{
		CommandID:     order.CommandID,
		Status:        "submitted",
		BrokerOrderID: "brk-1",
	}))
	require.NoError(t, f.bridge.AppendEvent("session", bridge.ExecutionEvent{
		ID:        "ev-1",
		Tag:       order.ClientTag,
		Status:    "filled",
		FilledQty: decimal.NewFromInt(50),
		Price:     decimal.NewFromInt(100),
		Ts:        time.Now().UTC(),
	}))

	refreshed, refreshedOrders, err := f.svc.Refresh(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunDone, refreshed.Status)
	require.Len(t, refreshedOrders, 1)
	assert.Equal(t, schema.OrderFilled, refreshedOrders[0].Status)
	assert.True(t, refreshedOrders[0].FilledQty.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "brk-1", refreshedOrders[0].BrokerOrderID)
}

func TestTerminateCancelsRun(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	ctx := context.Background()

	run, _, err := f.svc.CreateRun(ctx, weightsRequest())
	require.NoError(t, err)

	canceled, err := f.svc.Terminate(ctx, run.RunID, "operator stop")
	require.NoError(t, err)
	assert.Equal(t, schema.RunCanceled, canceled.Status)
	assert.Equal(t, schema.ReasonOperatorCancel, canceled.Reason)
	assert.Equal(t, "operator stop", canceled.Message)
	require.NotNil(t, canceled.EndedAt)

	orders, err := f.st.Orders.ListByRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.OrderCanceled, orders[0].Status)
	assert.Equal(t, schema.ReasonOperatorCancel, orders[0].RejectReason)

	_, err = f.svc.Terminate(ctx, run.RunID, "again")
	require.ErrorIs(t, err, exception.ErrRunTerminal)
}

func TestResumeRequiresStalledRun(t *testing.T) {
	f := newServiceFixture(t)
	f.healthyLeader(t)
	ctx := context.Background()

	run, _, err := f.svc.CreateRun(ctx, weightsRequest())
	require.NoError(t, err)

	_, err = f.svc.Resume(ctx, run.RunID)
	require.ErrorIs(t, err, exception.ErrRunNotStalled)
}
