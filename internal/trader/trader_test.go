package trader_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finbrook/tradewire/internal/conn"
	"github.com/finbrook/tradewire/internal/risk"
	"github.com/finbrook/tradewire/internal/schema"
	"github.com/finbrook/tradewire/internal/strategy"
	"github.com/finbrook/tradewire/internal/trader"
	"github.com/finbrook/tradewire/lib/async"
)

// fakeClient scripts the venue side of the trader's conversation.
type fakeClient struct {
	mu            sync.Mutex
	sinks         map[string]conn.Sink
	nextSub       int
	buys          int
	proposals     int
	unsubscribed  []string
	historyPrices []float64
	balance       decimal.Decimal
}

func newFakeClient(history []float64) *fakeClient {
	return &fakeClient{
		sinks:         make(map[string]conn.Sink),
		historyPrices: history,
		balance:       decimal.NewFromInt(1000),
	}
}

func frameOf(t *testing.T, body map[string]any) *schema.Frame {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	frame, err := schema.DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

func (f *fakeClient) Send(_ context.Context, req schema.Request) (*schema.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch req.Kind() {
	case "ticks_history":
		return f.frame(map[string]any{
			"msg_type": "history",
			"history":  map[string]any{"prices": f.historyPrices},
		})
	case "proposal":
		f.proposals++
		amount, _ := req["amount"].(float64)
		return f.frame(map[string]any{
			"msg_type": "proposal",
			"proposal": map[string]any{"id": "prop-1", "ask_price": amount, "payout": amount * 1.95},
		})
	case "buy":
		f.buys++
		f.balance = f.balance.Sub(decimal.NewFromFloat(10))
		return f.frame(map[string]any{
			"msg_type": "buy",
			"buy": map[string]any{
				"contract_id":   int64(77),
				"buy_price":     10.0,
				"payout":        19.5,
				"balance_after": f.balance,
			},
		})
	default:
		return nil, fmt.Errorf("unexpected request kind %q", req.Kind())
	}
}

func (f *fakeClient) frame(body map[string]any) (*schema.Frame, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return schema.DecodeFrame(data)
}

func (f *fakeClient) Subscribe(_ context.Context, req schema.Request, sink conn.Sink) (string, *schema.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := fmt.Sprintf("%s-sub-%d", req.Kind(), f.nextSub)
	f.sinks[id] = sink
	frame, err := f.frame(map[string]any{
		"msg_type":     req.Kind(),
		"subscription": map[string]any{"id": id},
	})
	return id, frame, err
}

func (f *fakeClient) Unsubscribe(_ context.Context, subscriptionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sinks, subscriptionID)
	f.unsubscribed = append(f.unsubscribed, subscriptionID)
	return true, nil
}

func (f *fakeClient) Session() conn.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conn.Session{LoginID: "VRTC1", Currency: "USD", Balance: f.balance, IsVirtual: true}
}

func (f *fakeClient) sinkFor(prefix string) conn.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sink := range f.sinks {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			return sink
		}
	}
	return nil
}

func (f *fakeClient) counts() (proposals, buys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals, f.buys
}

func newTestTrader(t *testing.T, client *fakeClient) (*trader.Trader, *async.Pool) {
	t.Helper()
	signal, err := strategy.NewCrossover(2, 3, 5)
	require.NoError(t, err)
	pool, err := async.NewPool(2, 8)
	require.NoError(t, err)
	bot, err := trader.New(trader.Config{
		Symbol:       "R_100",
		Currency:     "USD",
		ContractType: "CALL",
		Duration:     5,
		DurationUnit: "m",
		BaseStake:    decimal.NewFromInt(10),
		HistoryCount: 5,
	}, client, signal, risk.NewManager(risk.Limits{}), pool)
	require.NoError(t, err)
	return bot, pool
}

func tick(t *testing.T, quote float64) *schema.Frame {
	t.Helper()
	return frameOf(t, map[string]any{
		"msg_type":     "tick",
		"tick":         map[string]any{"symbol": "R_100", "quote": quote},
		"subscription": map[string]any{"id": "ticks-sub-1"},
	})
}

func TestStartWarmsUpAndSubscribes(t *testing.T) {
	client := newFakeClient([]float64{100, 100, 100, 100, 100})
	bot, _ := newTestTrader(t, client)

	require.NoError(t, bot.Start(context.Background()))
	require.NotNil(t, client.sinkFor("ticks-sub"))
	require.True(t, bot.Balance().Equal(decimal.NewFromInt(1000)))

	require.NoError(t, bot.Stop(context.Background()))
	require.Contains(t, client.unsubscribed, "ticks-sub-1")
}

func TestSignalBuysOneContractAndSettles(t *testing.T) {
	client := newFakeClient([]float64{100, 100, 100, 100, 100})
	bot, _ := newTestTrader(t, client)
	require.NoError(t, bot.Start(context.Background()))

	sink := client.sinkFor("ticks-sub")
	require.NotNil(t, sink)

	// Rising ticks flip the alignment bullish exactly once.
	for _, q := range []float64{101, 103, 106} {
		sink.OnFrame(tick(t, q))
	}

	require.Eventually(t, func() bool {
		_, buys := client.counts()
		return buys == 1
	}, 2*time.Second, 10*time.Millisecond, "signal never produced a buy")

	require.Eventually(t, func() bool {
		return client.sinkFor("proposal_open_contract-sub") != nil
	}, 2*time.Second, 10*time.Millisecond, "no contract watch subscription")

	// Further aligned ticks must not buy again while the contract is open.
	sink.OnFrame(tick(t, 110))
	proposals, buys := client.counts()
	require.Equal(t, 1, proposals)
	require.Equal(t, 1, buys)

	contractSink := client.sinkFor("proposal_open_contract-sub")
	contractSink.OnFrame(frameOf(t, map[string]any{
		"msg_type": "proposal_open_contract",
		"proposal_open_contract": map[string]any{
			"contract_id":   int64(77),
			"is_sold":       1,
			"profit":        9.5,
			"balance_after": 1009.5,
			"status":        "won",
		},
		"subscription": map[string]any{"id": "proposal_open_contract-sub-2"},
	}))

	require.Eventually(t, func() bool {
		stats := bot.Stats()
		return stats.Profit.Equal(decimal.NewFromFloat(9.5))
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, bot.Balance().Equal(decimal.NewFromFloat(1009.5)))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		for _, id := range client.unsubscribed {
			if id == "proposal_open_contract-sub-2" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "settled contract watch never forgotten")

	require.NoError(t, bot.Stop(context.Background()))
}

func TestWeakSignalBelowThresholdIsNotTraded(t *testing.T) {
	client := newFakeClient([]float64{100, 100, 100, 100, 100})
	signal, err := strategy.NewCrossover(2, 3, 5)
	require.NoError(t, err)
	pool, err := async.NewPool(2, 8)
	require.NoError(t, err)
	bot, err := trader.New(trader.Config{
		Symbol:          "R_100",
		Currency:        "USD",
		ContractType:    "CALL",
		Duration:        5,
		DurationUnit:    "m",
		BaseStake:       decimal.NewFromInt(10),
		HistoryCount:    5,
		SignalThreshold: decimal.NewFromFloat(0.5),
	}, client, signal, risk.NewManager(risk.Limits{}), pool)
	require.NoError(t, err)
	require.NoError(t, bot.Start(context.Background()))

	sink := client.sinkFor("ticks-sub")
	require.NotNil(t, sink)

	// The same rising ticks that trade at threshold zero diverge the short
	// and long averages by far less than 50%.
	for _, q := range []float64{101, 103, 106, 110} {
		sink.OnFrame(tick(t, q))
	}

	time.Sleep(100 * time.Millisecond)
	proposals, buys := client.counts()
	require.Zero(t, proposals)
	require.Zero(t, buys)

	require.NoError(t, bot.Stop(context.Background()))
}
