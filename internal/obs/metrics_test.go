package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/internal/schema"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncRunCreated()
	m.IncFill()
	m.IncFill()
	m.IncFallback()
	m.IncStall()
	m.IncLockContention()
	m.IncBlock(schema.ReasonOrderNotional)
	m.IncBlock(schema.ReasonOrderNotional)
	m.IncBlock(schema.ReasonGuardHalted)
	m.ObservePass(10 * time.Millisecond)
	m.ObservePass(30 * time.Millisecond)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.RunsCreated)
	assert.EqualValues(t, 2, snap.FillsRecorded)
	assert.EqualValues(t, 1, snap.FallbackLaunch)
	assert.EqualValues(t, 1, snap.StallsDetected)
	assert.EqualValues(t, 1, snap.LockContentions)
	assert.EqualValues(t, 2, snap.BlockCounts[schema.ReasonOrderNotional])
	assert.EqualValues(t, 1, snap.BlockCounts[schema.ReasonGuardHalted])
	assert.EqualValues(t, 2, snap.PassLatency.Count)
	assert.Equal(t, 10*time.Millisecond, snap.PassLatency.Min)
	assert.Equal(t, 30*time.Millisecond, snap.PassLatency.Max)
	assert.Equal(t, 20*time.Millisecond, snap.PassLatency.Avg)
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.IncRunCreated()
	m.IncFill()
	m.IncBlock(schema.ReasonGuardHalted)
	m.ObservePass(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestNextPassIDMonotone(t *testing.T) {
	m := NewMetrics()
	first := m.NextPassID()
	second := m.NextPassID()
	assert.Greater(t, second, first)

	var nilMetrics *Metrics
	assert.Zero(t, nilMetrics.NextPassID())
}
