// Package dispatch submits a run's orders through one of two mutually
// exclusive channels: the shared leader command queue, or a dedicated
// short-lived execution process.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bridge"
	"main/internal/proc"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/exception"
)

const (
	defaultPendingTimeout    = 45 * time.Second
	defaultCommandStaleAfter = 20 * time.Second
	defaultCommandExpiry     = 10 * time.Minute
)

// Config controls channel selection and escalation.
type Config struct {
	// PendingTimeout is how long a leader-submitted order may stay
	// pending without a result before fallback triggers.
	PendingTimeout time.Duration

	// CommandStaleAfter disqualifies the leader channel when any
	// unprocessed command in the shared queue is older than this.
	CommandStaleAfter time.Duration

	// CommandExpiry stamps each command's expires_at.
	CommandExpiry time.Duration

	// CommissionRate and SlippageBps are cost assumptions handed to
	// short-lived execution processes.
	CommissionRate decimal.Decimal
	SlippageBps    int64

	// ManageUnfilled keeps fallback processes resident to manage
	// unfilled orders.
	ManageUnfilled  bool
	UnfilledTimeout time.Duration
	RepriceAfter    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PendingTimeout == 0 {
		c.PendingTimeout = defaultPendingTimeout
	}
	if c.CommandStaleAfter == 0 {
		c.CommandStaleAfter = defaultCommandStaleAfter
	}
	if c.CommandExpiry == 0 {
		c.CommandExpiry = defaultCommandExpiry
	}
	return c
}

// Dispatcher selects a channel and performs submission.
type Dispatcher struct {
	cfg      Config
	bridge   *bridge.Bridge
	launcher proc.Launcher
	st       *store.Store
	now      func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, b *bridge.Bridge, launcher proc.Launcher, st *store.Store) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		bridge:   b,
		launcher: launcher,
		st:       st,
		now:      time.Now,
	}
}

// WithClock replaces the clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// PendingTimeout exposes the configured leader pending timeout.
func (d *Dispatcher) PendingTimeout() time.Duration {
	return d.cfg.PendingTimeout
}

// Choose picks the submission channel. Leader requires a healthy,
// non-stale session and a drained-enough command queue.
func (d *Dispatcher) Choose(_ context.Context) (schema.Channel, error) {
	status, err := d.bridge.ReadStatus()
	if err != nil {
		return schema.ChannelNone, err
	}
	now := d.now()
	if !status.Healthy(now, d.bridge.Config().HeartbeatMaxAge) {
		return schema.ChannelFallback, nil
	}
	age, err := d.bridge.OldestPendingAge(now)
	if err != nil {
		return schema.ChannelNone, err
	}
	if age > d.cfg.CommandStaleAfter {
		return schema.ChannelFallback, nil
	}
	return schema.ChannelLeader, nil
}

// Submit spends the run's submission channel. Orders and run are
// mutated in memory and persisted.
func (d *Dispatcher) Submit(ctx context.Context, run *store.Run, orders []*store.Order) error {
	channel, err := d.Choose(ctx)
	if err != nil {
		return err
	}

	var meta schema.SubmissionMeta
	switch channel {
	case schema.ChannelLeader:
		meta, err = d.submitLeader(ctx, run, orders)
	default:
		meta, err = d.submitFallback(ctx, run, orders, schema.ReasonNone)
	}
	if err != nil {
		return err
	}

	now := d.now().UTC()
	meta.SubmittedAt = &now
	if err := run.SetSubmissionMeta(meta); err != nil {
		return err
	}
	run.Status = schema.RunRunning
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if err := d.st.Runs.Update(ctx, run); err != nil {
		return err
	}
	logs.Infof("run %s submitted via %s channel, orders=%d", run.RunID, meta.Channel, len(orders))
	return nil
}

func (d *Dispatcher) submitLeader(ctx context.Context, run *store.Run, orders []*store.Order) (schema.SubmissionMeta, error) {
	meta := schema.SubmissionMeta{Channel: schema.ChannelLeader}
	now := d.now().UTC()
	for _, order := range orders {
		commandID := fmt.Sprintf("cmd-%d", store.NewID())
		cmd := bridge.Command{
			CommandID: commandID,
			Symbol:    order.Symbol,
			SignedQty: signedQty(order),
			Tag:       order.ClientTag,
			Type:      string(order.Type),
			Limit:     order.LimitPrice,
			Priority:  order.Seq,
			ExpiresAt: now.Add(d.cfg.CommandExpiry),
		}
		if err := d.bridge.WriteCommand(cmd); err != nil && err != exception.ErrBridgeCommandExists {
			return meta, errors.Wrap(err, "write leader command")
		}
		order.CommandID = commandID
		pending := now
		order.PendingAt = &pending
		if err := d.st.Orders.Update(ctx, order); err != nil {
			return meta, err
		}
		meta.CommandIDs = append(meta.CommandIDs, commandID)
	}
	return meta, nil
}

func (d *Dispatcher) submitFallback(ctx context.Context, run *store.Run, orders []*store.Order, reason schema.Reason) (schema.SubmissionMeta, error) {
	meta := schema.SubmissionMeta{Channel: schema.ChannelFallback, FallbackReason: reason}

	entries := make([]bridge.IntentEntry, 0, len(orders))
	for _, order := range orders {
		// Remaining, not requested: a partially filled order handed to
		// the fallback process must not be re-bought in full.
		entries = append(entries, bridge.IntentEntry{
			ID:        order.ClientTag,
			Symbol:    order.Symbol,
			SignedQty: remainingSignedQty(order),
			Type:      string(order.Type),
			Limit:     order.LimitPrice,
		})
		meta.IntentSymbols = append(meta.IntentSymbols, order.Symbol)
	}
	intentPath, err := d.bridge.WriteIntents(run.RunID, entries)
	if err != nil {
		return meta, errors.Wrap(err, "write intent file")
	}

	sizing, err := run.SizingSpec()
	if err != nil {
		return meta, err
	}
	paramsPath, err := d.bridge.WriteParams(run.RunID, bridge.ExecutionParams{
		LotSize:         sizing.LotSize,
		MinQty:          sizing.MinQty,
		CashBufferRatio: sizing.CashBufferRatio,
		CommissionRate:  d.cfg.CommissionRate,
		SlippageBps:     d.cfg.SlippageBps,
		ManageUnfilled:  d.cfg.ManageUnfilled,
		UnfilledTimeout: int64(d.cfg.UnfilledTimeout.Seconds()),
		RepriceAfter:    int64(d.cfg.RepriceAfter.Seconds()),
	})
	if err != nil {
		return meta, errors.Wrap(err, "write params file")
	}

	pid, err := d.launcher.Launch(ctx, run.RunID, intentPath, paramsPath)
	if err != nil {
		return meta, errors.Wrap(err, "launch fallback process")
	}

	meta.IntentPath = intentPath
	meta.ParamsPath = paramsPath
	meta.ProcessID = pid
	return meta, nil
}

// EscalateStuck supersedes leader commands that stayed pending past the
// timeout and launches the fallback process for the run's unfinished
// orders. Returns whether an escalation happened. Superseding is
// idempotent, so a later-healthy leader cannot double-submit.
func (d *Dispatcher) EscalateStuck(ctx context.Context, run *store.Run, orders []*store.Order) (bool, error) {
	meta, err := run.SubmissionMeta()
	if err != nil {
		return false, err
	}
	if meta.Channel != schema.ChannelLeader || meta.Superseded {
		return false, nil
	}

	now := d.now()
	var stuck []*store.Order
	for _, order := range orders {
		if order.Status.Terminal() || order.CommandID == "" || order.PendingAt == nil {
			continue
		}
		if _, err := d.bridge.ReadResult(order.CommandID); err == nil {
			continue
		}
		if now.Sub(*order.PendingAt) >= d.cfg.PendingTimeout {
			stuck = append(stuck, order)
		}
	}
	if len(stuck) == 0 {
		return false, nil
	}

	for _, order := range stuck {
		if err := d.bridge.Supersede(order.CommandID); err != nil {
			return false, errors.Wrap(err, "supersede pending command")
		}
	}
	logs.Warnf("run %s: %d leader commands stuck past %s, falling back", run.RunID, len(stuck), d.cfg.PendingTimeout)

	// Only the superseded orders move to the fallback process. Orders
	// the leader already accepted are live at the broker; handing them
	// over again would double-submit.
	fallbackMeta, err := d.submitFallback(ctx, run, stuck, schema.ReasonCommandSuperseded)
	if err != nil {
		return false, err
	}

	fallbackMeta.CommandIDs = meta.CommandIDs
	fallbackMeta.Superseded = true
	fallbackMeta.SubmittedAt = meta.SubmittedAt
	if err := run.SetSubmissionMeta(fallbackMeta); err != nil {
		return false, err
	}
	if err := d.st.Runs.Update(ctx, run); err != nil {
		return false, err
	}
	return true, nil
}

func signedQty(order *store.Order) decimal.Decimal {
	if order.Side == schema.SideSell {
		return order.RequestedQty.Neg()
	}
	return order.RequestedQty
}

func remainingSignedQty(order *store.Order) decimal.Decimal {
	if order.Side == schema.SideSell {
		return order.Remaining().Neg()
	}
	return order.Remaining()
}
