package proc

import (
	"syscall"
	"time"

	"github.com/yanun0323/logs"
)

// Signaler sends signals to a pid. The default implementation uses the
// OS; tests substitute a fake.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

type osSignaler struct{}

func (osSignaler) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// TerminateOutcome records how a termination attempt ended.
type TerminateOutcome string

const (
	OutcomeNotRunning TerminateOutcome = "not_running"
	OutcomeGraceful   TerminateOutcome = "graceful"
	OutcomeKilled     TerminateOutcome = "killed"
	OutcomeLeader     TerminateOutcome = "leader_protected"
	OutcomeSurvived   TerminateOutcome = "survived_kill"
)

// Manager terminates tracked fallback processes for terminal runs.
type Manager struct {
	grace    time.Duration
	poll     time.Duration
	signaler Signaler
	sleep    func(time.Duration)
}

// NewManager creates a manager with the given grace period before
// escalating to a forced kill.
func NewManager(grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Manager{
		grace:    grace,
		poll:     200 * time.Millisecond,
		signaler: osSignaler{},
		sleep:    time.Sleep,
	}
}

// WithSignaler replaces the signal backend. Test hook.
func (m *Manager) WithSignaler(s Signaler) *Manager {
	m.signaler = s
	return m
}

// Alive reports whether the pid refers to a running process.
func (m *Manager) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return m.signaler.Signal(pid, 0) == nil
}

// Terminate requests graceful shutdown of a tracked process and
// escalates to SIGKILL after the grace period. leaderPID is never
// signaled, whatever the caller tracked.
func (m *Manager) Terminate(pid, leaderPID int) TerminateOutcome {
	if pid <= 0 || !m.Alive(pid) {
		return OutcomeNotRunning
	}
	if leaderPID > 0 && pid == leaderPID {
		logs.Warnf("refusing to terminate leader session pid=%d", pid)
		return OutcomeLeader
	}

	if err := m.signaler.Signal(pid, syscall.SIGTERM); err != nil {
		return OutcomeNotRunning
	}
	deadline := time.Now().Add(m.grace)
	for time.Now().Before(deadline) {
		if !m.Alive(pid) {
			return OutcomeGraceful
		}
		m.sleep(m.poll)
	}

	logs.Warnf("execution process pid=%d ignored SIGTERM, escalating", pid)
	if err := m.signaler.Signal(pid, syscall.SIGKILL); err != nil {
		return OutcomeNotRunning
	}
	m.sleep(m.poll)
	if m.Alive(pid) {
		return OutcomeSurvived
	}
	return OutcomeKilled
}
