// Package trader drives the trading loop: it feeds ticks into the strategy,
// turns signals into priced contracts, and tracks open contracts until they
// settle.
package trader

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/conn"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/risk"
	"github.com/finbrook/tradewire/internal/schema"
	"github.com/finbrook/tradewire/internal/strategy"
	"github.com/finbrook/tradewire/lib/async"
)

// VenueClient is the slice of the connection manager the trader consumes.
type VenueClient interface {
	Send(ctx context.Context, req schema.Request) (*schema.Frame, error)
	Subscribe(ctx context.Context, req schema.Request, sink conn.Sink) (string, *schema.Frame, error)
	Unsubscribe(ctx context.Context, subscriptionID string) (bool, error)
	Session() conn.Session
}

// Config holds the contract parameters for every trade the trader places.
type Config struct {
	Symbol       string
	Currency     string
	ContractType string
	Duration     int
	DurationUnit string
	BaseStake    decimal.Decimal
	HistoryCount int

	// SignalThreshold is the minimum signal strength a crossover must show
	// before it is traded. Zero trades every transition.
	SignalThreshold decimal.Decimal

	// ExecTimeout bounds each proposal/buy round trip.
	ExecTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.HistoryCount <= 0 {
		c.HistoryCount = 100
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
}

// Trader owns one instrument's trading loop.
type Trader struct {
	cfg    Config
	client VenueClient
	signal *strategy.Crossover
	risk   *risk.Manager
	pool   *async.Pool

	mu        sync.Mutex
	balance   decimal.Decimal
	tickSubID string
	inFlight  bool
	stopped   bool
}

// New wires a trader. The pool runs trade execution and contract bookkeeping
// off the dispatch path so tick delivery never blocks on the venue.
func New(cfg Config, client VenueClient, signal *strategy.Crossover, riskMgr *risk.Manager, pool *async.Pool) (*Trader, error) {
	cfg.withDefaults()
	if client == nil || signal == nil || riskMgr == nil || pool == nil {
		return nil, errs.New("trader", errs.CodeInvalid, errs.WithMessage("all collaborators required"))
	}
	if cfg.Symbol == "" || cfg.Currency == "" || cfg.ContractType == "" {
		return nil, errs.New("trader", errs.CodeInvalid, errs.WithMessage("symbol, currency and contractType required"))
	}
	if !cfg.BaseStake.IsPositive() {
		return nil, errs.New("trader", errs.CodeInvalid, errs.WithMessage("baseStake must be > 0"))
	}
	return &Trader{cfg: cfg, client: client, signal: signal, risk: riskMgr, pool: pool}, nil
}

// Start warms the strategy from price history and subscribes to the tick
// feed. The connection must already be live.
func (t *Trader) Start(ctx context.Context) error {
	t.mu.Lock()
	t.balance = t.client.Session().Balance
	t.mu.Unlock()

	if err := t.warmup(ctx); err != nil {
		return err
	}

	subID, _, err := t.client.Subscribe(ctx, schema.NewTicksRequest(t.cfg.Symbol), conn.SinkFunc(t.onTick))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.tickSubID = subID
	t.mu.Unlock()
	observability.Log().Info("trader started",
		observability.F("symbol", t.cfg.Symbol),
		observability.F("subscription_id", subID))
	return nil
}

// Stop cancels the tick feed and waits for in-flight executions.
func (t *Trader) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	subID := t.tickSubID
	t.tickSubID = ""
	t.mu.Unlock()

	if subID != "" {
		if _, err := t.client.Unsubscribe(ctx, subID); err != nil {
			observability.Log().Warn("tick unsubscribe failed",
				observability.F("symbol", t.cfg.Symbol),
				observability.F("error", err))
		}
	}
	return t.pool.Shutdown(ctx)
}

// Stats returns the current day's trade tally.
func (t *Trader) Stats() risk.DayStats { return t.risk.Snapshot() }

// Balance returns the last balance reported by the venue.
func (t *Trader) Balance() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

func (t *Trader) warmup(ctx context.Context) error {
	frame, err := t.client.Send(ctx, schema.NewTicksHistoryRequest(t.cfg.Symbol, t.cfg.HistoryCount))
	if err != nil {
		return err
	}
	var resp schema.HistoryResponse
	if err := frame.DecodePayload(&resp); err != nil {
		return errs.New("trader", errs.CodeProtocol,
			errs.WithMessage("undecodable history response"), errs.WithCause(err))
	}
	t.signal.Warmup(resp.History.Prices)
	observability.Log().Info("strategy warmed up",
		observability.F("symbol", t.cfg.Symbol),
		observability.F("prices", len(resp.History.Prices)))
	return nil
}

// onTick runs on the dispatch path; anything slow is handed to the pool.
func (t *Trader) onTick(frame *schema.Frame) {
	var resp schema.TickResponse
	if err := frame.DecodePayload(&resp); err != nil {
		observability.Log().Warn("undecodable tick", observability.F("error", err))
		return
	}
	sig := t.signal.Observe(resp.Tick.Quote)
	if sig == strategy.SignalNone {
		return
	}
	strength := t.signal.Strength()
	if strength.LessThan(t.cfg.SignalThreshold) {
		observability.Log().Debug("signal below threshold",
			observability.F("symbol", t.cfg.Symbol),
			observability.F("direction", sig.String()),
			observability.F("strength", strength))
		return
	}
	observability.Log().Info("signal",
		observability.F("symbol", t.cfg.Symbol),
		observability.F("direction", sig.String()),
		observability.F("strength", strength))

	t.mu.Lock()
	busy := t.inFlight || t.stopped
	if !busy {
		t.inFlight = true
	}
	t.mu.Unlock()
	if busy {
		return
	}

	if err := t.pool.Submit(context.Background(), func(ctx context.Context) error {
		return t.execute(ctx, sig)
	}); err != nil {
		t.clearInFlight()
		observability.Log().Warn("trade execution not scheduled", observability.F("error", err))
	}
}

func (t *Trader) clearInFlight() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}

// execute prices and buys one contract for the signal, then subscribes to its
// progress. The in-flight flag stays set until the contract settles.
func (t *Trader) execute(ctx context.Context, sig strategy.Signal) error {
	execCtx, cancel := context.WithTimeout(ctx, t.cfg.ExecTimeout)
	defer cancel()

	if err := t.risk.AllowTrade(execCtx); err != nil {
		t.clearInFlight()
		return err
	}

	contractType := t.cfg.ContractType
	if sig == strategy.SignalPut {
		contractType = invertContractType(contractType)
	}
	stake := t.risk.Stake(t.Balance(), t.cfg.BaseStake)

	proposal, err := t.propose(execCtx, contractType, stake)
	if err != nil {
		t.clearInFlight()
		return err
	}
	bought, err := t.buy(execCtx, proposal)
	if err != nil {
		t.clearInFlight()
		return err
	}
	observability.Telemetry().IncCounter("trader.contracts.bought", 1,
		map[string]string{"symbol": t.cfg.Symbol, "type": contractType})

	if err := t.watchContract(execCtx, bought.ContractID); err != nil {
		// The contract still settles venue-side; without a feed the
		// in-flight flag must not wedge the trader.
		t.clearInFlight()
		return err
	}
	return nil
}

func (t *Trader) propose(ctx context.Context, contractType string, stake decimal.Decimal) (*schema.ProposalPayload, error) {
	frame, err := t.client.Send(ctx, schema.NewProposalRequest(schema.ProposalParams{
		ContractType: contractType,
		Symbol:       t.cfg.Symbol,
		Currency:     t.cfg.Currency,
		Amount:       stake,
		Duration:     t.cfg.Duration,
		DurationUnit: t.cfg.DurationUnit,
	}))
	if err != nil {
		return nil, err
	}
	var resp schema.ProposalResponse
	if err := frame.DecodePayload(&resp); err != nil {
		return nil, errs.New("trader", errs.CodeProtocol,
			errs.WithMessage("undecodable proposal response"), errs.WithCause(err))
	}
	return &resp.Proposal, nil
}

func (t *Trader) buy(ctx context.Context, proposal *schema.ProposalPayload) (*schema.BuyPayload, error) {
	frame, err := t.client.Send(ctx, schema.NewBuyRequest(proposal.ID, proposal.AskPrice))
	if err != nil {
		return nil, err
	}
	var resp schema.BuyResponse
	if err := frame.DecodePayload(&resp); err != nil {
		return nil, errs.New("trader", errs.CodeProtocol,
			errs.WithMessage("undecodable buy response"), errs.WithCause(err))
	}
	t.setBalance(resp.Buy.BalanceAfter)
	observability.Log().Info("contract bought",
		observability.F("symbol", t.cfg.Symbol),
		observability.F("contract_id", resp.Buy.ContractID),
		observability.F("price", resp.Buy.BuyPrice),
		observability.F("payout", resp.Buy.Payout))
	return &resp.Buy, nil
}

// watchContract subscribes to settlement updates for the contract.
func (t *Trader) watchContract(ctx context.Context, contractID int64) error {
	_, _, err := t.client.Subscribe(ctx, schema.NewOpenContractRequest(contractID), conn.SinkFunc(t.onContractUpdate))
	return err
}

func (t *Trader) onContractUpdate(frame *schema.Frame) {
	var resp schema.OpenContractResponse
	if err := frame.DecodePayload(&resp); err != nil {
		observability.Log().Warn("undecodable contract update", observability.F("error", err))
		return
	}
	oc := resp.OpenContract
	if oc.IsSold != 1 {
		return
	}

	t.risk.RecordResult(oc.Profit)
	t.setBalance(oc.BalanceAfter)
	t.clearInFlight()
	observability.Log().Info("contract settled",
		observability.F("contract_id", oc.ContractID),
		observability.F("status", oc.Status),
		observability.F("profit", oc.Profit))
	observability.Telemetry().IncCounter("trader.contracts.settled", 1,
		map[string]string{"symbol": t.cfg.Symbol, "status": oc.Status})

	// Unsubscribing from inside the sink would deadlock on the registry's
	// delivery lock, so it runs on the pool.
	subID := frame.SubscriptionID()
	if err := t.pool.Submit(context.Background(), func(ctx context.Context) error {
		_, err := t.client.Unsubscribe(ctx, subID)
		return err
	}); err != nil {
		observability.Log().Warn("contract unsubscribe not scheduled",
			observability.F("subscription_id", subID),
			observability.F("error", err))
	}
}

func (t *Trader) setBalance(balance decimal.Decimal) {
	t.mu.Lock()
	t.balance = balance
	t.mu.Unlock()
}

// invertContractType maps a rise contract to its fall counterpart and back.
func invertContractType(contractType string) string {
	switch contractType {
	case "CALL":
		return "PUT"
	case "PUT":
		return "CALL"
	default:
		return contractType
	}
}
