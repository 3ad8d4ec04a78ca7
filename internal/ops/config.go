// Package ops loads and resolves the JSON runtime configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/bridge"
	"main/internal/dispatch"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout. Durations are expressed
// in seconds.
type FileConfig struct {
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Nats      NatsConfig      `json:"nats"`
	Bridge    BridgeConfig    `json:"bridge"`
	Risk      RiskConfig      `json:"risk"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Proc      ProcConfig      `json:"proc"`
	Profiling ProfilingConfig `json:"profiling"`
	NodeID    int64           `json:"nodeId"`
}

// DatabaseConfig describes the PostgreSQL store. Memory selects the
// in-memory store instead, for paper trading and local runs.
type DatabaseConfig struct {
	Memory   bool   `json:"memory"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// RedisConfig describes the advisory-lock backend. Empty Addr selects
// the in-process locker.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NatsConfig describes the lifecycle event bus. Empty URL disables
// publishing.
type NatsConfig struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// BridgeConfig describes the shared broker-bridge directory.
type BridgeConfig struct {
	Root               string `json:"root"`
	SnapshotMaxAgeSec  int    `json:"snapshotMaxAgeSec"`
	HeartbeatMaxAgeSec int    `json:"heartbeatMaxAgeSec"`
}

// RiskConfig mirrors the pre-submission gate limits.
type RiskConfig struct {
	MaxOrderNotional   decimal.Decimal `json:"maxOrderNotional"`
	MaxTotalNotional   decimal.Decimal `json:"maxTotalNotional"`
	MaxPositionRatio   decimal.Decimal `json:"maxPositionRatio"`
	MaxSymbols         int             `json:"maxSymbols"`
	MinCashBufferRatio decimal.Decimal `json:"minCashBufferRatio"`
	OrderRateLimit     int             `json:"orderRateLimit"`
	OrderRateWindowSec int             `json:"orderRateWindowSec"`
}

// DispatchConfig mirrors submission-channel tuning.
type DispatchConfig struct {
	PendingTimeoutSec    int             `json:"pendingTimeoutSec"`
	CommandStaleAfterSec int             `json:"commandStaleAfterSec"`
	CommandExpirySec     int             `json:"commandExpirySec"`
	CommissionRate       decimal.Decimal `json:"commissionRate"`
	SlippageBps          int64           `json:"slippageBps"`
	ManageUnfilled       bool            `json:"manageUnfilled"`
	UnfilledTimeoutSec   int             `json:"unfilledTimeoutSec"`
	RepriceAfterSec      int             `json:"repriceAfterSec"`
	FallbackExecutable   string          `json:"fallbackExecutable"`
}

// ReconcileConfig mirrors reconciliation-pass tuning.
type ReconcileConfig struct {
	SnapshotMaxAgeSec    int             `json:"snapshotMaxAgeSec"`
	OverrideWindowSec    int             `json:"overrideWindowSec"`
	StallWindowSec       int             `json:"stallWindowSec"`
	StallWindowClosedSec int             `json:"stallWindowClosedSec"`
	MarketOpen           bool            `json:"marketOpen"`
	FillTolerance        decimal.Decimal `json:"fillTolerance"`
}

// ProcConfig mirrors process-manager tuning.
type ProcConfig struct {
	GraceSec int `json:"graceSec"`
}

// ProfilingConfig enables continuous profiling when ServerAddress is
// set.
type ProfilingConfig struct {
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Database           DatabaseConfig
	Postgres           conn.PostgresOption
	Redis              conn.RedisOption
	Nats               conn.NatsOption
	Bridge             bridge.Config
	Risk               risk.Limits
	Dispatch           dispatch.Config
	Reconcile          reconcile.PassConfig
	ProcGrace          time.Duration
	Profiling          ProfilingConfig
	FallbackExecutable string
	NodeID             int64
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Bridge.Root == "" {
		return Loaded{}, fmt.Errorf("bridge root is empty")
	}
	if !cfg.Database.Memory && cfg.Database.Database == "" {
		return Loaded{}, fmt.Errorf("database name is empty")
	}
	nodeID := cfg.NodeID
	if nodeID == 0 {
		nodeID = 1
	}
	return Loaded{
		Database: cfg.Database,
		Postgres: conn.PostgresOption{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		},
		Redis: conn.RedisOption{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Nats: conn.NatsOption{
			URL:  cfg.Nats.URL,
			Name: cfg.Nats.Name,
		},
		Bridge: bridge.Config{
			Root:            cfg.Bridge.Root,
			SnapshotMaxAge:  seconds(cfg.Bridge.SnapshotMaxAgeSec),
			HeartbeatMaxAge: seconds(cfg.Bridge.HeartbeatMaxAgeSec),
		},
		Risk: risk.Limits{
			MaxOrderNotional:   cfg.Risk.MaxOrderNotional,
			MaxTotalNotional:   cfg.Risk.MaxTotalNotional,
			MaxPositionRatio:   cfg.Risk.MaxPositionRatio,
			MaxSymbols:         cfg.Risk.MaxSymbols,
			MinCashBufferRatio: cfg.Risk.MinCashBufferRatio,
			OrderRateLimit:     cfg.Risk.OrderRateLimit,
			OrderRateWindow:    seconds(cfg.Risk.OrderRateWindowSec),
		},
		Dispatch: dispatch.Config{
			PendingTimeout:    seconds(cfg.Dispatch.PendingTimeoutSec),
			CommandStaleAfter: seconds(cfg.Dispatch.CommandStaleAfterSec),
			CommandExpiry:     seconds(cfg.Dispatch.CommandExpirySec),
			CommissionRate:    cfg.Dispatch.CommissionRate,
			SlippageBps:       cfg.Dispatch.SlippageBps,
			ManageUnfilled:    cfg.Dispatch.ManageUnfilled,
			UnfilledTimeout:   seconds(cfg.Dispatch.UnfilledTimeoutSec),
			RepriceAfter:      seconds(cfg.Dispatch.RepriceAfterSec),
		},
		Reconcile: reconcile.PassConfig{
			SnapshotMaxAge:    seconds(cfg.Reconcile.SnapshotMaxAgeSec),
			OverrideWindow:    seconds(cfg.Reconcile.OverrideWindowSec),
			StallWindow:       seconds(cfg.Reconcile.StallWindowSec),
			StallWindowClosed: seconds(cfg.Reconcile.StallWindowClosedSec),
			MarketOpen:        cfg.Reconcile.MarketOpen,
			FillTolerance:     cfg.Reconcile.FillTolerance,
		},
		ProcGrace:          seconds(cfg.Proc.GraceSec),
		Profiling:          cfg.Profiling,
		FallbackExecutable: cfg.Dispatch.FallbackExecutable,
		NodeID:             nodeID,
	}, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
