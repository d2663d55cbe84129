package sim

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var (
	baseSpot = decimal.NewFromInt(100)
	spotStep = decimal.NewFromFloat(0.25)
	tickSize = decimal.NewFromFloat(0.01)
)

// newSpot produces a starting price near the base level.
func (t *Transport) newSpot() decimal.Decimal {
	offset := decimal.NewFromInt(t.randomInt(400) - 200).Mul(tickSize)
	return baseSpot.Add(offset)
}

// nextSpot advances a random walk by at most one step in either direction.
func (t *Transport) nextSpot(prev decimal.Decimal) decimal.Decimal {
	delta := decimal.NewFromInt(t.randomInt(51) - 25).Div(decimal.NewFromInt(25)).Mul(spotStep)
	next := prev.Add(delta)
	if next.LessThanOrEqual(decimal.Zero) {
		return prev
	}
	return next
}

// startFeed registers a push generator under the subscription id and runs it
// until cancelled via forget, Interrupt, or Close.
func (t *Transport) startFeed(id string, run func(ctx context.Context)) {
	t.mu.Lock()
	runCtx := t.ctx
	t.mu.Unlock()
	feedCtx, cancel := context.WithCancel(runCtx)
	f := &feed{cancel: cancel, done: make(chan struct{})}
	t.feedsMu.Lock()
	t.feeds[id] = f
	t.feedsMu.Unlock()
	t.wg.Go(func() {
		defer close(f.done)
		run(feedCtx)
	})
}

func (t *Transport) newTickBody(symbol, subID string, spot decimal.Decimal) map[string]any {
	spread := tickSize.Mul(decimal.NewFromInt(2))
	return map[string]any{
		"tick": map[string]any{
			"symbol": symbol,
			"quote":  spot,
			"bid":    spot.Sub(spread),
			"ask":    spot.Add(spread),
			"epoch":  time.Now().Unix(),
			"id":     subID,
		},
	}
}

// startTickFeed pushes a random-walk price stream at the configured cadence,
// jittered so successive runs do not align.
func (t *Transport) startTickFeed(subID, symbol string) {
	t.startFeed(subID, func(ctx context.Context) {
		spot := t.newSpot()
		for {
			interval := t.randomBetween(t.opts.TickInterval/2, t.opts.TickInterval*3/2)
			if !sleepCtx(ctx, interval) {
				return
			}
			spot = t.nextSpot(spot)
			body := t.newTickBody(symbol, subID, spot)
			body["msg_type"] = "tick"
			body["subscription"] = map[string]any{"id": subID}
			t.emitPush(ctx, body)
		}
	})
}

func (t *Transport) newOpenContractBody(c *simContract, spot decimal.Decimal, sold bool, profit, balance decimal.Decimal) map[string]any {
	status := "open"
	isSold := 0
	if sold {
		isSold = 1
		if profit.IsPositive() {
			status = "won"
		} else {
			status = "lost"
		}
	}
	return map[string]any{
		"proposal_open_contract": map[string]any{
			"contract_id":   c.ID,
			"is_sold":       isSold,
			"profit":        profit,
			"balance_after": balance,
			"entry_spot":    c.EntrySpot,
			"exit_spot":     spot,
			"symbol":        c.Symbol,
			"status":        status,
		},
	}
}

// startContractFeed pushes contract progress updates and settles the contract
// on the third push, after which the feed ends.
func (t *Transport) startContractFeed(subID string, contractID int64) {
	t.startFeed(subID, func(ctx context.Context) {
		contract, ok := t.state.lookupContract(contractID)
		if !ok {
			return
		}
		spot := contract.EntrySpot
		for push := 1; ; push++ {
			if !sleepCtx(ctx, t.opts.SlowInterval) {
				return
			}
			spot = t.nextSpot(spot)
			if push < 3 {
				body := t.newOpenContractBody(contract, spot, false, decimal.Zero, t.state.snapshotBalance())
				body["msg_type"] = "proposal_open_contract"
				body["subscription"] = map[string]any{"id": subID}
				t.emitPush(ctx, body)
				continue
			}
			won := spot.GreaterThan(contract.EntrySpot)
			profit, balance := t.state.settle(contractID, won)
			body := t.newOpenContractBody(contract, spot, true, profit, balance)
			body["msg_type"] = "proposal_open_contract"
			body["subscription"] = map[string]any{"id": subID}
			t.emitPush(ctx, body)
			return
		}
	})
}

func (t *Transport) emitPush(ctx context.Context, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		logDroppedRequest("push", err)
		return
	}
	t.emit(ctx, data)
}
