// Package bridge implements the file-based protocol boundary to the
// broker connectivity subsystem. The engine only ever reads snapshots
// and result files and appends new command/intent files; the broker
// session processes own every other mutation.
package bridge

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	statusFile   = "status.json"
	openOrders   = "open_orders.json"
	holdingsFile = "holdings.json"
	haltFile     = "halt.json"
	sessionLog   = "session.log"
	eventsDir    = "events"
	commandsDir  = "commands"
	intentsDir   = "intents"
	paramsDir    = "params"
)

const (
	defaultSnapshotMaxAge  = 90 * time.Second
	defaultHeartbeatMaxAge = 30 * time.Second
)

// Config locates the bridge directory and bounds snapshot freshness.
type Config struct {
	Root string

	// SnapshotMaxAge bounds how old open-order/holdings snapshots may
	// be before they count as "no evidence".
	SnapshotMaxAge time.Duration

	// HeartbeatMaxAge bounds the leader session heartbeat.
	HeartbeatMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.SnapshotMaxAge == 0 {
		c.SnapshotMaxAge = defaultSnapshotMaxAge
	}
	if c.HeartbeatMaxAge == 0 {
		c.HeartbeatMaxAge = defaultHeartbeatMaxAge
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("invalid bridge config: Root is empty")
	}
	if c.SnapshotMaxAge < 0 {
		return fmt.Errorf("invalid bridge config: SnapshotMaxAge must be >= 0")
	}
	if c.HeartbeatMaxAge < 0 {
		return fmt.Errorf("invalid bridge config: HeartbeatMaxAge must be >= 0")
	}
	return nil
}

func (c Config) statusPath() string { return filepath.Join(c.Root, statusFile) }
func (c Config) openOrdersPath() string { return filepath.Join(c.Root, openOrders) }
func (c Config) holdingsPath() string { return filepath.Join(c.Root, holdingsFile) }
func (c Config) haltPath() string { return filepath.Join(c.Root, haltFile) }
func (c Config) sessionLogPath() string { return filepath.Join(c.Root, sessionLog) }
func (c Config) eventsPath() string { return filepath.Join(c.Root, eventsDir) }
func (c Config) commandsPath() string { return filepath.Join(c.Root, commandsDir) }
func (c Config) intentsPath() string { return filepath.Join(c.Root, intentsDir) }
func (c Config) paramsPath() string { return filepath.Join(c.Root, paramsDir) }
