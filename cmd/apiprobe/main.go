// Command apiprobe connects to the venue and issues one request, printing the
// raw response frame, or runs the full connection check. Useful for poking at
// the wire format without running the trading loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finbrook/tradewire/config"
	"github.com/finbrook/tradewire/internal/app"
	"github.com/finbrook/tradewire/internal/conn"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
)

const probeTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/app.yaml", "path to the YAML configuration file")
	op := flag.String("op", "ping", "operation to probe: ping, history, portfolio, check")
	symbol := flag.String("symbol", "", "symbol override for history probes")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, "apiprobe ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, cfg.Logging.Debug))

	manager, err := app.BuildManager(cfg)
	if err != nil {
		logger.Fatalf("build connection manager: %v", err)
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
	defer probeCancel()

	if *op == "check" {
		if runCheck(probeCtx, manager, cfg, *symbol) {
			fmt.Println("RESULT: PASS")
			return
		}
		fmt.Println("RESULT: FAIL")
		os.Exit(1)
	}

	req, err := buildRequest(cfg, *op, *symbol)
	if err != nil {
		logger.Fatalf("build request: %v", err)
	}
	if err := manager.Connect(probeCtx); err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := manager.Disconnect(context.Background()); err != nil {
			logger.Printf("disconnect: %v", err)
		}
	}()

	frame, err := manager.Send(probeCtx, req)
	if err != nil {
		logger.Fatalf("%s: %v", *op, err)
	}
	fmt.Println(string(frame.Raw()))
}

// runCheck exercises the connection end to end: connect, account identity,
// ping, market data, then a disconnect/reconnect cycle. Each step reports
// individually; the check passes only if every step does.
func runCheck(ctx context.Context, manager *conn.Manager, cfg config.AppConfig, symbolOverride string) bool {
	symbol := cfg.Trading.Symbol
	if symbolOverride != "" {
		symbol = symbolOverride
	}

	pass := true
	step := func(name string, fn func() error) {
		start := time.Now()
		if err := fn(); err != nil {
			pass = false
			fmt.Printf("FAIL %-16s %v (%s)\n", name, err, time.Since(start).Round(time.Millisecond))
			return
		}
		fmt.Printf("ok   %-16s %s\n", name, time.Since(start).Round(time.Millisecond))
	}

	step("connect", func() error { return manager.Connect(ctx) })
	if !pass {
		return false
	}
	step("account", func() error {
		session := manager.Session()
		if session.LoginID == "" {
			return fmt.Errorf("session carries no account identity")
		}
		fmt.Printf("     account=%s currency=%s balance=%s virtual=%t\n",
			session.LoginID, session.Currency, session.Balance, session.IsVirtual)
		return nil
	})
	step("ping", func() error {
		_, err := manager.Send(ctx, schema.NewPingRequest())
		return err
	})
	step("market data", func() error {
		frame, err := manager.Send(ctx, schema.NewTicksHistoryRequest(symbol, 10))
		if err != nil {
			return err
		}
		var resp schema.HistoryResponse
		if err := frame.DecodePayload(&resp); err != nil {
			return err
		}
		if len(resp.History.Prices) == 0 {
			return fmt.Errorf("history for %s came back empty", symbol)
		}
		return nil
	})
	step("disconnect", func() error { return manager.Disconnect(ctx) })
	step("reconnect", func() error { return manager.Connect(ctx) })
	step("ping again", func() error {
		_, err := manager.Send(ctx, schema.NewPingRequest())
		return err
	})
	step("final teardown", func() error { return manager.Disconnect(ctx) })
	return pass
}

func buildRequest(cfg config.AppConfig, op, symbolOverride string) (schema.Request, error) {
	symbol := cfg.Trading.Symbol
	if symbolOverride != "" {
		symbol = symbolOverride
	}
	switch op {
	case "ping":
		return schema.NewPingRequest(), nil
	case "history":
		return schema.NewTicksHistoryRequest(symbol, cfg.Trading.HistoryCount), nil
	case "portfolio":
		return schema.NewPortfolioRequest(), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}
