// Command tradewire runs the trading loop against one venue connection.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finbrook/tradewire/config"
	"github.com/finbrook/tradewire/internal/app"
	"github.com/finbrook/tradewire/internal/conn"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/risk"
	"github.com/finbrook/tradewire/internal/strategy"
	"github.com/finbrook/tradewire/internal/trader"
	"github.com/finbrook/tradewire/lib/async"
	"github.com/finbrook/tradewire/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	connectTimeout           = 30 * time.Second
	shutdownTimeout          = 15 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	execWorkers              = 2
	execQueueDepth           = 16
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, "tradewire ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, cfg.Logging.Debug))
	logger.Printf("configuration initialised: env=%s venue=%s simulation=%t",
		cfg.Environment, cfg.Connection.Venue, cfg.Simulation.Enabled)

	providers, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewRecorder(providers, "tradewire"))
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shCancel()
		if err := telemetryShutdown(shCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	manager, err := app.BuildManager(cfg)
	if err != nil {
		logger.Fatalf("build connection manager: %v", err)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	err = manager.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	session := manager.Session()
	logger.Printf("connected: account=%s currency=%s balance=%s virtual=%t",
		session.LoginID, session.Currency, session.Balance, session.IsVirtual)

	pool, err := async.NewPool(execWorkers, execQueueDepth)
	if err != nil {
		logger.Fatalf("initialise execution pool: %v", err)
	}

	bot, err := buildTrader(cfg, manager, pool)
	if err != nil {
		logger.Fatalf("build trader: %v", err)
	}
	if err := bot.Start(ctx); err != nil {
		logger.Fatalf("start trader: %v", err)
	}

	<-ctx.Done()
	logger.Printf("shutdown requested")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := bot.Stop(stopCtx); err != nil {
		logger.Printf("trader stop: %v", err)
	}
	stats := bot.Stats()
	logger.Printf("daily tally: date=%s trades=%d profit=%s", stats.Date, stats.Trades, stats.Profit)
	if err := manager.Disconnect(stopCtx); err != nil {
		logger.Printf("disconnect: %v", err)
	}
	logger.Printf("shutdown complete")
}

func buildTrader(cfg config.AppConfig, manager *conn.Manager, pool *async.Pool) (*trader.Trader, error) {
	signal, err := strategy.NewCrossover(cfg.Strategy.ShortPeriod, cfg.Strategy.MediumPeriod, cfg.Strategy.LongPeriod)
	if err != nil {
		return nil, err
	}
	riskMgr := risk.NewManager(risk.Limits{
		MaxDailyLoss:   decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxDailyTrades: cfg.Risk.MaxDailyTrades,
		RiskFraction:   decimal.NewFromFloat(cfg.Risk.RiskFraction),
		MinStake:       decimal.NewFromFloat(cfg.Risk.MinStake),
		MaxStake:       decimal.NewFromFloat(cfg.Risk.MaxStake),
	})
	return trader.New(trader.Config{
		Symbol:          cfg.Trading.Symbol,
		Currency:        cfg.Trading.Currency,
		ContractType:    cfg.Trading.ContractType,
		Duration:        cfg.Trading.Duration,
		DurationUnit:    cfg.Trading.DurationUnit,
		BaseStake:       decimal.NewFromFloat(cfg.Trading.Stake),
		HistoryCount:    cfg.Trading.HistoryCount,
		SignalThreshold: decimal.NewFromFloat(cfg.Strategy.SignalThreshold),
	}, manager, signal, riskMgr, pool)
}
