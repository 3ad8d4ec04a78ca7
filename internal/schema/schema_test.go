package schema

import "testing"

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		desc string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"new to submitted", OrderNew, OrderSubmitted, true},
		{"new to rejected", OrderNew, OrderRejected, true},
		{"new to filled", OrderNew, OrderFilled, true},
		{"submitted to partial", OrderSubmitted, OrderPartial, true},
		{"submitted to canceled", OrderSubmitted, OrderCanceled, true},
		{"partial to filled", OrderPartial, OrderFilled, true},
		{"same status", OrderPartial, OrderPartial, false},
		{"backwards", OrderPartial, OrderSubmitted, false},
		{"filled is frozen", OrderFilled, OrderCanceled, false},
		{"rejected is frozen", OrderRejected, OrderSubmitted, false},
		{"canceled reopens to submitted", OrderCanceled, OrderSubmitted, true},
		{"canceled reopens to partial", OrderCanceled, OrderPartial, true},
		{"canceled advances to filled", OrderCanceled, OrderFilled, true},
		{"canceled never to rejected", OrderCanceled, OrderRejected, false},
		{"skipped reopens to submitted", OrderSkipped, OrderSubmitted, true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("transition %s -> %s should be %v but got %v", tc.from, tc.to, tc.want, got)
			}
		})
	}
}

func TestRunStatusSets(t *testing.T) {
	terminal := []RunStatus{RunDone, RunPartial, RunFailed, RunCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.Active() {
			t.Fatalf("%s should not be active", s)
		}
	}

	active := []RunStatus{RunQueued, RunRunning, RunStalled}
	for _, s := range active {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.Active() {
			t.Fatalf("%s should be active", s)
		}
	}

	if RunBlocked.Active() || RunBlocked.Terminal() {
		t.Fatal("blocked is neither active nor terminal")
	}
}

func TestSideSign(t *testing.T) {
	if SideBuy.Sign() != 1 {
		t.Fatal("buy sign should be +1")
	}
	if SideSell.Sign() != -1 {
		t.Fatal("sell sign should be -1")
	}
}
