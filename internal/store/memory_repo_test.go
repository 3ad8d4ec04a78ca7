package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/exception"
)

func TestRunLifecycle(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	_, err := st.Runs.Get(ctx, "run-x")
	require.ErrorIs(t, err, exception.ErrRunNotFound)

	run := &Run{RunID: "run-x", Mode: schema.ModePaper, Status: schema.RunQueued}
	require.NoError(t, st.Runs.Create(ctx, run))
	assert.NotZero(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := st.Runs.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, schema.RunQueued, got.Status)

	// Get hands out a copy, not the stored row.
	got.Status = schema.RunFailed
	again, err := st.Runs.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, schema.RunQueued, again.Status)

	require.ErrorIs(t, st.Runs.Update(ctx, &Run{RunID: "run-y"}), exception.ErrRunNotFound)
}

func TestRunUpdateStatusTerminalSetsEndedAt(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Runs.Create(ctx, &Run{RunID: "run-x", Status: schema.RunRunning}))

	require.NoError(t, st.Runs.UpdateStatus(ctx, "run-x", schema.RunStalled, schema.ReasonNoProgress, "no fills"))
	run, err := st.Runs.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Nil(t, run.EndedAt)
	assert.Equal(t, "no fills", run.Message)

	require.NoError(t, st.Runs.UpdateStatus(ctx, "run-x", schema.RunFailed, schema.ReasonDeadlineElapsed, ""))
	run, err = st.Runs.Get(ctx, "run-x")
	require.NoError(t, err)
	require.NotNil(t, run.EndedAt)
	// An empty message leaves the previous one in place.
	assert.Equal(t, "no fills", run.Message)

	first := *run.EndedAt
	require.NoError(t, st.Runs.UpdateStatus(ctx, "run-x", schema.RunCanceled, schema.ReasonOperatorCancel, ""))
	run, err = st.Runs.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, first, *run.EndedAt)
}

func TestListActive(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	for _, tc := range []struct {
		runID  string
		status schema.RunStatus
	}{
		{"run-a", schema.RunQueued},
		{"run-b", schema.RunRunning},
		{"run-c", schema.RunStalled},
		{"run-d", schema.RunDone},
		{"run-e", schema.RunBlocked},
		{"run-f", schema.RunFailed},
	} {
		require.NoError(t, st.Runs.Create(ctx, &Run{RunID: tc.runID, Status: tc.status}))
	}

	active, err := st.Runs.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	ids := []string{active[0].RunID, active[1].RunID, active[2].RunID}
	assert.ElementsMatch(t, []string{"run-a", "run-b", "run-c"}, ids)
}

func TestOrderBatchDedupesByTag(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	orders := []*Order{
		{OrderID: 1, RunID: "run-x", ClientTag: "run-x-0", Symbol: "AAA", Side: schema.SideBuy, Status: schema.OrderNew},
		{OrderID: 2, RunID: "run-x", ClientTag: "run-x-1", Symbol: "BBB", Side: schema.SideSell, Status: schema.OrderNew},
	}
	require.NoError(t, st.Orders.CreateBatch(ctx, orders))

	// A retried batch must not clobber progressed orders.
	progressed, err := st.Orders.GetByTag(ctx, "run-x-0")
	require.NoError(t, err)
	progressed.Status = schema.OrderSubmitted
	require.NoError(t, st.Orders.Update(ctx, progressed))

	retry := []*Order{
		{OrderID: 3, RunID: "run-x", ClientTag: "run-x-0", Symbol: "AAA", Side: schema.SideBuy, Status: schema.OrderNew},
	}
	require.NoError(t, st.Orders.CreateBatch(ctx, retry))

	got, err := st.Orders.GetByTag(ctx, "run-x-0")
	require.NoError(t, err)
	assert.Equal(t, schema.OrderSubmitted, got.Status)
	assert.EqualValues(t, 1, got.OrderID)

	listed, err := st.Orders.ListByRun(ctx, "run-x")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestListByRunOrdersBySeqID(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Orders.CreateBatch(ctx, []*Order{
		{OrderID: 20, RunID: "run-x", ClientTag: "run-x-1", Symbol: "BBB"},
		{OrderID: 10, RunID: "run-x", ClientTag: "run-x-0", Symbol: "AAA"},
		{OrderID: 30, RunID: "run-y", ClientTag: "run-y-0", Symbol: "CCC"},
	}))

	listed, err := st.Orders.ListByRun(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "AAA", listed[0].Symbol)
	assert.Equal(t, "BBB", listed[1].Symbol)
}

func TestFillRecordDedupesByWatermark(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	fill := &Fill{
		OrderID:   7,
		Source:    schema.FillSourceEventLog,
		Watermark: "ev-1",
		Qty:       decimal.NewFromInt(40),
		Price:     decimal.NewFromInt(10),
	}
	created, err := st.Fills.Record(ctx, fill)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *fill
	created, err = st.Fills.Record(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	// Same watermark from a different source is a distinct observation.
	other := &Fill{OrderID: 7, Source: schema.FillSourceHoldings, Watermark: "ev-1", Qty: decimal.NewFromInt(40)}
	created, err = st.Fills.Record(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)

	fills, err := st.Fills.ListByOrder(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}
