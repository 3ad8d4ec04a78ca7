package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// The functions below write the broker-session side of the protocol.
// The engine never calls them in production; the session simulator and
// tests do.

// WriteStatus publishes the leader session heartbeat.
func (b *Bridge) WriteStatus(status SessionStatus) error {
	return writeJSON(b.cfg.statusPath(), status)
}

// WriteHalt publishes the account halt flag.
func (b *Bridge) WriteHalt(halt HaltStatus) error {
	return writeJSON(b.cfg.haltPath(), halt)
}

// WriteOpenOrders publishes a broker open-orders snapshot.
func (b *Bridge) WriteOpenOrders(snapshot OpenOrdersSnapshot) error {
	return writeJSON(b.cfg.openOrdersPath(), snapshot)
}

// WriteHoldings publishes a broker holdings snapshot.
func (b *Bridge) WriteHoldings(snapshot HoldingsSnapshot) error {
	return writeJSON(b.cfg.holdingsPath(), snapshot)
}

// WriteResult answers one command from the shared queue.
func (b *Bridge) WriteResult(result CommandResult) error {
	path := filepath.Join(b.cfg.commandsPath(), result.CommandID+resultSuffix)
	return writeJSON(path, result)
}

// AppendEvent appends one execution event to the named log segment.
func (b *Bridge) AppendEvent(segment string, event ExecutionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	path := filepath.Join(b.cfg.eventsPath(), segment+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = fmt.Fprintf(file, "%s\n", data)
	return err
}

// AppendSessionLog appends one line to the broker session log.
func (b *Bridge) AppendSessionLog(line string) error {
	file, err := os.OpenFile(b.cfg.sessionLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = fmt.Fprintf(file, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
	return err
}

// PendingCommands lists queue entries that have neither a result nor a
// supersede marker, ordered by filename.
func (b *Bridge) PendingCommands() ([]Command, error) {
	entries, err := os.ReadDir(b.cfg.commandsPath())
	if err != nil {
		return nil, err
	}
	var pending []Command
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, commandSuffix) || strings.HasSuffix(name, resultSuffix) {
			continue
		}
		commandID := strings.TrimSuffix(name, commandSuffix)
		if b.Superseded(commandID) {
			continue
		}
		if _, err := b.ReadResult(commandID); err == nil {
			continue
		}
		var cmd Command
		if err := readJSON(filepath.Join(b.cfg.commandsPath(), name), &cmd); err != nil {
			continue
		}
		pending = append(pending, cmd)
	}
	return pending, nil
}
