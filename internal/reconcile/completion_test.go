package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/internal/store"
)

func TestCompletion(t *testing.T) {
	filled := func(qty, price string) *store.Order {
		return &store.Order{
			Status:       schema.OrderFilled,
			FilledQty:    decimal.RequireFromString(qty),
			AvgFillPrice: decimal.RequireFromString(price),
		}
	}
	terminal := func(status schema.OrderStatus) *store.Order {
		return &store.Order{Status: status}
	}

	testCases := []struct {
		desc         string
		orders       []*store.Order
		wantStatus   schema.RunStatus
		wantTerminal bool
		wantNotional string
	}{
		{
			"open order keeps run running",
			[]*store.Order{filled("10", "5"), {Status: schema.OrderSubmitted}},
			schema.RunRunning,
			false,
			"0",
		},
		{
			"all filled is done",
			[]*store.Order{filled("10", "5"), filled("20", "2")},
			schema.RunDone,
			true,
			"90",
		},
		{
			"fill next to cancel is partial",
			[]*store.Order{filled("10", "5"), terminal(schema.OrderCanceled)},
			schema.RunPartial,
			true,
			"50",
		},
		{
			"fill next to reject is partial",
			[]*store.Order{filled("10", "5"), terminal(schema.OrderRejected)},
			schema.RunPartial,
			true,
			"50",
		},
		{
			"no fills at all is failed",
			[]*store.Order{terminal(schema.OrderCanceled), terminal(schema.OrderSkipped)},
			schema.RunFailed,
			true,
			"0",
		},
		{
			"canceled with partial fill counts as partially done",
			[]*store.Order{
				{
					Status:       schema.OrderCanceled,
					FilledQty:    decimal.RequireFromString("4"),
					AvgFillPrice: decimal.RequireFromString("25"),
				},
			},
			schema.RunPartial,
			true,
			"100",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			status, summary, terminal := Completion(tc.orders)
			if status != tc.wantStatus {
				t.Fatalf("status mismatch! should be %s but got %s", tc.wantStatus, status)
			}
			if terminal != tc.wantTerminal {
				t.Fatalf("terminal mismatch! should be %v but got %v", tc.wantTerminal, terminal)
			}
			want := decimal.RequireFromString(tc.wantNotional)
			if tc.wantTerminal && !summary.FilledNotional.Equal(want) {
				t.Fatalf("notional mismatch! should be %s but got %s", want, summary.FilledNotional)
			}
		})
	}
}

func TestCompletionSummaryCounts(t *testing.T) {
	orders := []*store.Order{
		{Status: schema.OrderFilled, FilledQty: decimal.NewFromInt(1), AvgFillPrice: decimal.NewFromInt(10)},
		{Status: schema.OrderCanceled, FilledQty: decimal.NewFromInt(2), AvgFillPrice: decimal.NewFromInt(10)},
		{Status: schema.OrderCanceled},
		{Status: schema.OrderRejected},
		{Status: schema.OrderSkipped},
	}
	_, summary, terminal := Completion(orders)
	if !terminal {
		t.Fatal("run should be terminal")
	}
	if summary.Filled != 1 || summary.Canceled != 2 || summary.Rejected != 1 || summary.Skipped != 1 {
		t.Fatalf("summary counts mismatch: %+v", summary)
	}
	if summary.PartiallyDone != 1 {
		t.Fatalf("partially done should be 1, got %d", summary.PartiallyDone)
	}
}
