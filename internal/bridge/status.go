package bridge

import (
	"encoding/json"
	"os"
	"time"

	"main/pkg/exception"
)

// SessionState is the connection state reported by the leader session.
type SessionState string

const (
	SessionConnected    SessionState = "connected"
	SessionConnecting   SessionState = "connecting"
	SessionDisconnected SessionState = "disconnected"
)

// SessionStatus is the leader session status snapshot.
type SessionStatus struct {
	State         SessionState `json:"state"`
	Stale         bool         `json:"stale"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	PID           int          `json:"pid"`
}

// Healthy reports whether the leader session can accept commands.
func (s SessionStatus) Healthy(now time.Time, heartbeatMaxAge time.Duration) bool {
	if s.State != SessionConnected || s.Stale {
		return false
	}
	return now.Sub(s.LastHeartbeat) <= heartbeatMaxAge
}

// ReadStatus loads the session status snapshot.
func (b *Bridge) ReadStatus() (SessionStatus, error) {
	data, err := os.ReadFile(b.cfg.statusPath())
	if err != nil {
		return SessionStatus{}, exception.ErrBridgeUnreachable
	}
	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return SessionStatus{}, exception.ErrBridgeUnreachable
	}
	return status, nil
}

// HaltStatus is the risk-halt guard snapshot published beside the bridge.
type HaltStatus struct {
	Status string `json:"status"` // active | halted
	Reason string `json:"reason,omitempty"`
}

// Halted reports whether the guard ordered a halt.
func (h HaltStatus) Halted() bool {
	return h.Status == "halted"
}

// ReadHalt loads the risk-halt guard snapshot.
func (b *Bridge) ReadHalt() (HaltStatus, error) {
	data, err := os.ReadFile(b.cfg.haltPath())
	if err != nil {
		if os.IsNotExist(err) {
			return HaltStatus{Status: "active"}, nil
		}
		return HaltStatus{}, err
	}
	var halt HaltStatus
	if err := json.Unmarshal(data, &halt); err != nil {
		return HaltStatus{}, err
	}
	return halt, nil
}
