package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"main/internal/schema"
)

// Metrics collects lightweight counters and latency stats. All methods
// are safe on a nil receiver so callers never guard instrumentation.
type Metrics struct {
	runsCreated     uint64
	passes          uint64
	fillsRecorded   uint64
	fallbackLaunch  uint64
	stallsDetected  uint64
	lockContentions uint64

	blockMu     sync.Mutex
	blockCounts map[schema.Reason]uint64

	passLatency   LatencyStats
	submitLatency LatencyStats
	buildLatency  LatencyStats

	passSeq uint64
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	RunsCreated     uint64
	Passes          uint64
	FillsRecorded   uint64
	FallbackLaunch  uint64
	StallsDetected  uint64
	LockContentions uint64
	BlockCounts     map[schema.Reason]uint64
	PassLatency     LatencySnapshot
	SubmitLatency   LatencySnapshot
	BuildLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{
		blockCounts: make(map[schema.Reason]uint64),
		passSeq:     uint64(time.Now().UTC().UnixNano()),
	}
}

// NextPassID returns a process-unique id for correlating the log lines
// of one refresh sweep.
func (m *Metrics) NextPassID() uint64 {
	if m == nil {
		return 0
	}
	return atomic.AddUint64(&m.passSeq, 1)
}

// IncRunCreated records an accepted run.
func (m *Metrics) IncRunCreated() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.runsCreated, 1)
}

// IncFill records one persisted fill.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fillsRecorded, 1)
}

// IncFallback records an escalation to the fallback channel.
func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fallbackLaunch, 1)
}

// IncStall records a run entering the stalled state.
func (m *Metrics) IncStall() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.stallsDetected, 1)
}

// IncLockContention records a rejected concurrent run attempt.
func (m *Metrics) IncLockContention() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.lockContentions, 1)
}

// IncBlock increments the risk block counter for the given reason.
func (m *Metrics) IncBlock(reason schema.Reason) {
	if m == nil {
		return
	}
	m.blockMu.Lock()
	m.blockCounts[reason]++
	m.blockMu.Unlock()
}

// ObservePass counts a reconciliation pass and its latency.
func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.passes, 1)
	m.passLatency.Observe(d)
}

// ObserveSubmit measures end-to-end submission latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveBuild measures delta-order construction latency.
func (m *Metrics) ObserveBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.buildLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	blocks := make(map[schema.Reason]uint64)
	m.blockMu.Lock()
	for reason, count := range m.blockCounts {
		blocks[reason] = count
	}
	m.blockMu.Unlock()
	return Snapshot{
		RunsCreated:     atomic.LoadUint64(&m.runsCreated),
		Passes:          atomic.LoadUint64(&m.passes),
		FillsRecorded:   atomic.LoadUint64(&m.fillsRecorded),
		FallbackLaunch:  atomic.LoadUint64(&m.fallbackLaunch),
		StallsDetected:  atomic.LoadUint64(&m.stallsDetected),
		LockContentions: atomic.LoadUint64(&m.lockContentions),
		BlockCounts:     blocks,
		PassLatency:     m.passLatency.Snapshot(),
		SubmitLatency:   m.submitLatency.Snapshot(),
		BuildLatency:    m.buildLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
