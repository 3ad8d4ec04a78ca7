package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"

	"main/internal/bridge"
	"main/internal/dispatch"
	"main/internal/events"
	"main/internal/executor"
	"main/internal/intent"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/proc"
	"main/internal/reconcile"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/conn"
	"main/pkg/lock"
)

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}

// requestFile mirrors the JSON run-request layout.
type requestFile struct {
	Project       string                     `json:"project"`
	Mode          schema.RunMode             `json:"mode"`
	TargetWeights map[string]decimal.Decimal `json:"targetWeights"`
	Holdings      map[string]struct {
		Qty     decimal.Decimal `json:"qty"`
		AvgCost decimal.Decimal `json:"avgCost"`
	} `json:"holdings"`
	Quotes map[string]struct {
		Bid  decimal.Decimal `json:"bid"`
		Ask  decimal.Decimal `json:"ask"`
		Last decimal.Decimal `json:"last"`
	} `json:"quotes"`
	Closes          map[string]decimal.Decimal `json:"closes"`
	CashBalance     decimal.Decimal            `json:"cashBalance"`
	PortfolioValue  decimal.Decimal            `json:"portfolioValue"`
	CashBufferRatio decimal.Decimal            `json:"cashBufferRatio"`
	LotSize         decimal.Decimal            `json:"lotSize"`
	MinQty          decimal.Decimal            `json:"minQty"`
	OrderType       schema.OrderType           `json:"orderType"`
	Force           bool                       `json:"force"`
	DeadlineSec     int                        `json:"deadlineSec"`
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	requestPath := flag.String("create", "", "Run request JSON; creates a run before entering the refresh loop")
	statusRun := flag.String("status", "", "Print run state as JSON and exit")
	terminateRun := flag.String("terminate", "", "Cancel the given run and exit")
	resumeRun := flag.String("resume", "", "Escalate the given stalled run and exit")
	refreshInterval := flag.Duration("refresh-interval", 15*time.Second, "Reconciliation interval (0=single pass)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: profileName(loaded.Profiling.ApplicationName),
			ServerAddress:   loaded.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	svc, metrics, err := wire(ctx, loaded)
	if err != nil {
		log.Fatalf("wiring failed: %v", err)
	}

	switch {
	case *statusRun != "":
		run, orders, err := svc.GetRun(ctx, *statusRun)
		if err != nil {
			log.Fatalf("status failed: %v", err)
		}
		printJSON(map[string]any{"run": run, "orders": orders})
		return
	case *terminateRun != "":
		run, err := svc.Terminate(ctx, *terminateRun, "operator terminate via CLI")
		if err != nil {
			log.Fatalf("terminate failed: %v", err)
		}
		printJSON(run)
		return
	case *resumeRun != "":
		run, err := svc.Resume(ctx, *resumeRun)
		if err != nil {
			log.Fatalf("resume failed: %v", err)
		}
		printJSON(run)
		return
	}

	if *requestPath != "" {
		req, err := loadRequest(*requestPath)
		if err != nil {
			log.Fatalf("request load failed: %v", err)
		}
		run, orders, err := svc.CreateRun(ctx, req)
		if err != nil {
			log.Fatalf("create run failed: %v", err)
		}
		fmt.Printf("created %s with %d orders\n", run.RunID, len(orders))
	}

	if err := runLoop(ctx, svc, *refreshInterval); err != nil && ctx.Err() == nil {
		log.Fatalf("refresh loop failed: %v", err)
	}
	snapshot := metrics.Snapshot()
	fmt.Printf("passes=%d fills=%d fallbacks=%d stalls=%d\n",
		snapshot.Passes, snapshot.FillsRecorded, snapshot.FallbackLaunch, snapshot.StallsDetected)
}

func wire(ctx context.Context, loaded ops.Loaded) (*executor.Service, *obs.Metrics, error) {
	if err := store.InitSnowflake(loaded.NodeID); err != nil {
		return nil, nil, err
	}

	var st *store.Store
	if loaded.Database.Memory {
		st = store.NewMemory()
	} else {
		pg, err := conn.NewPostgres(loaded.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := store.AutoMigrate(pg.DB()); err != nil {
			return nil, nil, err
		}
		st = store.NewPostgres(pg.DB())
	}

	b, err := bridge.New(loaded.Bridge)
	if err != nil {
		return nil, nil, err
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if loaded.Redis.Addr != "" {
		client, err := conn.NewRedis(ctx, loaded.Redis)
		if err != nil {
			return nil, nil, err
		}
		locker = lock.NewRedisLocker(client)
	}

	var publisher *events.Publisher
	if loaded.Nats.URL != "" {
		nc, err := conn.NewNats(loaded.Nats)
		if err != nil {
			return nil, nil, err
		}
		publisher = events.NewPublisher(nc)
	}

	metrics := obs.NewMetrics()
	gate := risk.NewGate(loaded.Risk, risk.NewBridgeHaltGuard(b))
	launcher := proc.NewExecLauncher(loaded.FallbackExecutable)
	manager := proc.NewManager(loaded.ProcGrace)
	dispatcher := dispatch.New(loaded.Dispatch, b, launcher, st)
	engine, err := reconcile.New(loaded.Reconcile, st, b, dispatcher, manager, metrics)
	if err != nil {
		return nil, nil, err
	}
	svc, err := executor.New(st, b, gate, dispatcher, engine, locker, publisher, metrics, manager)
	if err != nil {
		return nil, nil, err
	}
	return svc, metrics, nil
}

func runLoop(ctx context.Context, svc *executor.Service, interval time.Duration) error {
	if err := svc.RefreshActive(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.RefreshActive(ctx); err != nil {
				return err
			}
		}
	}
}

func loadRequest(path string) (executor.CreateRunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return executor.CreateRunRequest{}, err
	}
	var file requestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return executor.CreateRunRequest{}, err
	}

	holdings := make(map[string]intent.Holding, len(file.Holdings))
	for symbol, h := range file.Holdings {
		holdings[symbol] = intent.Holding{Qty: h.Qty, AvgCost: h.AvgCost}
	}
	now := time.Now()
	quotes := make(map[string]intent.Quote, len(file.Quotes))
	for symbol, q := range file.Quotes {
		quotes[symbol] = intent.Quote{Bid: q.Bid, Ask: q.Ask, Last: q.Last, At: now}
	}

	req := executor.CreateRunRequest{
		Project:       file.Project,
		Mode:          file.Mode,
		TargetWeights: file.TargetWeights,
		Holdings:      holdings,
		Quotes:        quotes,
		Closes:        file.Closes,
		CashBalance:   file.CashBalance,
		Sizing: schema.SizingSpec{
			PortfolioValue:  file.PortfolioValue,
			CashBufferRatio: file.CashBufferRatio,
			LotSize:         file.LotSize,
			MinQty:          file.MinQty,
		},
		OrderType: file.OrderType,
		Force:     file.Force,
	}
	if file.DeadlineSec > 0 {
		deadline := now.Add(time.Duration(file.DeadlineSec) * time.Second)
		req.Deadline = &deadline
	}
	return req, nil
}

func profileName(name string) string {
	if name == "" {
		return "trade-executor"
	}
	return name
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshal output: %v", err)
	}
	fmt.Println(string(data))
}
