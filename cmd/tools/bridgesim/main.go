// bridgesim emulates the broker-side leader session against a bridge
// directory: it heartbeats, answers queued commands and fills them over
// a few ticks. Meant for local end-to-end runs without a real broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/bridge"
)

type simOrder struct {
	cmd    bridge.Command
	filled decimal.Decimal
	steps  int
}

func main() {
	root := flag.String("root", "testdata/bridge", "Bridge directory root")
	interval := flag.Duration("interval", 2*time.Second, "Heartbeat and fill tick interval")
	fillSteps := flag.Int("fill-steps", 3, "Ticks to fully fill an order")
	rejectList := flag.String("reject", "", "Comma-separated symbols to reject")
	halted := flag.Bool("halt", false, "Publish a halted account flag")
	flag.Parse()

	if *fillSteps <= 0 {
		log.Fatalf("fill-steps must be > 0")
	}

	b, err := bridge.New(bridge.Config{Root: *root})
	if err != nil {
		log.Fatalf("bridge init failed: %v", err)
	}
	haltStatus := bridge.HaltStatus{Status: "active"}
	if *halted {
		haltStatus = bridge.HaltStatus{Status: "halted", Reason: "halted by simulator flag"}
	}
	if err := b.WriteHalt(haltStatus); err != nil {
		log.Fatalf("write halt failed: %v", err)
	}

	rejected := make(map[string]bool)
	for _, symbol := range strings.Split(*rejectList, ",") {
		if symbol = strings.TrimSpace(symbol); symbol != "" {
			rejected[symbol] = true
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holdings := make(map[string]decimal.Decimal)
	live := make(map[string]*simOrder)
	var eventSeq int

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	fmt.Printf("bridgesim serving %s (pid=%d)\n", *root, os.Getpid())

	for {
		if err := tick(b, rejected, holdings, live, *fillSteps, &eventSeq); err != nil {
			log.Printf("tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func tick(b *bridge.Bridge, rejected map[string]bool, holdings map[string]decimal.Decimal, live map[string]*simOrder, fillSteps int, eventSeq *int) error {
	now := time.Now().UTC()
	if err := b.WriteStatus(bridge.SessionStatus{
		State:         bridge.SessionConnected,
		LastHeartbeat: now,
		PID:           os.Getpid(),
	}); err != nil {
		return err
	}

	pending, err := b.PendingCommands()
	if err != nil {
		return err
	}
	for _, cmd := range pending {
		result := bridge.CommandResult{
			CommandID:     cmd.CommandID,
			Status:        "submitted",
			ProcessedAt:   now,
			BrokerOrderID: "sim-" + cmd.CommandID,
		}
		if rejected[cmd.Symbol] {
			result.Status = "rejected"
			result.BrokerOrderID = ""
			result.Error = "symbol rejected by simulator"
		}
		if err := b.WriteResult(result); err != nil {
			return err
		}
		if result.Submitted() {
			live[cmd.Tag] = &simOrder{cmd: cmd}
		}
	}

	for tag, order := range live {
		order.steps++
		total := order.cmd.SignedQty.Abs()
		filled := total.Mul(decimal.NewFromInt(int64(order.steps))).Div(decimal.NewFromInt(int64(fillSteps)))
		if filled.GreaterThan(total) {
			filled = total
		}
		if filled.GreaterThan(order.filled) {
			order.filled = filled
			*eventSeq++
			event := bridge.ExecutionEvent{
				ID:        fmt.Sprintf("sim-ev-%d", *eventSeq),
				Tag:       tag,
				Status:    "partial",
				FilledQty: filled,
				Price:     simPrice(order.cmd),
				Ts:        now,
			}
			if filled.Equal(total) {
				event.Status = "filled"
			}
			if err := b.AppendEvent("sim", event); err != nil {
				return err
			}
		}
		if order.filled.Equal(total) {
			held := holdings[order.cmd.Symbol]
			if order.cmd.SignedQty.IsNegative() {
				holdings[order.cmd.Symbol] = held.Sub(total)
			} else {
				holdings[order.cmd.Symbol] = held.Add(total)
			}
			delete(live, tag)
		}
	}

	openOrders := bridge.OpenOrdersSnapshot{RefreshedAt: now}
	for tag, order := range live {
		openOrders.Orders = append(openOrders.Orders, bridge.OpenOrder{
			Tag:           tag,
			BrokerOrderID: "sim-" + order.cmd.CommandID,
			Status:        "working",
		})
	}
	if err := b.WriteOpenOrders(openOrders); err != nil {
		return err
	}

	holdingsSnapshot := bridge.HoldingsSnapshot{RefreshedAt: now}
	for symbol, qty := range holdings {
		if qty.IsZero() {
			continue
		}
		holdingsSnapshot.Positions = append(holdingsSnapshot.Positions, bridge.Holding{
			Symbol: symbol,
			Qty:    qty,
		})
	}
	return b.WriteHoldings(holdingsSnapshot)
}

func simPrice(cmd bridge.Command) decimal.Decimal {
	if cmd.Limit != nil {
		return *cmd.Limit
	}
	return decimal.NewFromInt(100)
}
