package bridge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"main/pkg/exception"
)

const (
	commandSuffix    = ".json"
	resultSuffix     = ".result.json"
	supersededSuffix = ".superseded"
)

// Command is one leader-channel submission, one file per order.
type Command struct {
	CommandID string           `json:"command_id"`
	Symbol    string           `json:"symbol"`
	SignedQty decimal.Decimal  `json:"signed_qty"`
	Tag       string           `json:"tag"`
	Type      string           `json:"type"`
	Limit     *decimal.Decimal `json:"limit,omitempty"`
	Priority  int              `json:"priority"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// CommandResult is the leader session's answer to one command.
type CommandResult struct {
	CommandID     string    `json:"command_id"`
	Status        string    `json:"status"` // submitted | rejected | parse_error | connection_error
	ProcessedAt   time.Time `json:"processed_at"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Submitted reports whether the leader accepted the command.
func (r CommandResult) Submitted() bool {
	return r.Status == "submitted"
}

// WriteCommand places a new command file into the shared queue.
// The id is embedded in the filename so a second write of the same
// command fails instead of double-submitting.
func (b *Bridge) WriteCommand(cmd Command) error {
	path := filepath.Join(b.cfg.commandsPath(), cmd.CommandID+commandSuffix)
	data, err := json.MarshalIndent(cmd, "", "  ")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return exception.ErrBridgeCommandExists
		}
		return err
	}
	defer file.Close()
	_, err = file.Write(data)
	return err
}

// ReadResult loads the result file for a command, if the leader has
// processed it yet.
func (b *Bridge) ReadResult(commandID string) (CommandResult, error) {
	path := filepath.Join(b.cfg.commandsPath(), commandID+resultSuffix)
	var result CommandResult
	if err := readJSON(path, &result); err != nil {
		if os.IsNotExist(err) {
			return CommandResult{}, exception.ErrBridgeNoResult
		}
		return CommandResult{}, err
	}
	return result, nil
}

// Supersede marks a pending command so a later-healthy leader must not
// submit it. Idempotent: marking twice is not an error.
func (b *Bridge) Supersede(commandID string) error {
	path := filepath.Join(b.cfg.commandsPath(), commandID+supersededSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return file.Close()
}

// Superseded reports whether a command carries the supersede marker.
func (b *Bridge) Superseded(commandID string) bool {
	_, err := os.Stat(filepath.Join(b.cfg.commandsPath(), commandID+supersededSuffix))
	return err == nil
}

// OldestPendingAge returns the age of the oldest command that has
// neither a result nor a supersede marker. Zero when the queue is
// drained. The dispatcher treats an old pending command as a sign the
// leader stopped polling.
func (b *Bridge) OldestPendingAge(now time.Time) (time.Duration, error) {
	entries, err := os.ReadDir(b.cfg.commandsPath())
	if err != nil {
		return 0, err
	}
	var oldest time.Duration
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
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if age := now.Sub(info.ModTime()); age > oldest {
			oldest = age
		}
	}
	return oldest, nil
}
