package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finbrook/tradewire/internal/schema"
)

// payoutRatio approximates the venue's payout for a winning contract.
var payoutRatio = decimal.NewFromFloat(1.95)

type simContract struct {
	ID        int64
	Symbol    string
	Stake     decimal.Decimal
	Payout    decimal.Decimal
	EntrySpot decimal.Decimal
	Longcode  string
	BoughtAt  time.Time
}

// accountState is the simulated account ledger. All access goes through its
// mutex because responders run concurrently.
type accountState struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	nextID    int64
	proposals map[string]schema.ProposalParams
	contracts map[int64]*simContract
}

func newAccountState(balance decimal.Decimal) *accountState {
	return &accountState{
		balance:   balance,
		nextID:    1,
		proposals: make(map[string]schema.ProposalParams),
		contracts: make(map[int64]*simContract),
	}
}

func (s *accountState) snapshotBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *accountState) recordProposal(id string, params schema.ProposalParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[id] = params
}

// buy debits the stake and opens a contract. Returns false when the proposal
// id is unknown or the balance cannot cover the price.
func (s *accountState) buy(proposalID string, price, spot decimal.Decimal) (*simContract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params, ok := s.proposals[proposalID]
	if !ok {
		return nil, false
	}
	delete(s.proposals, proposalID)
	if s.balance.LessThan(price) {
		return nil, false
	}
	s.balance = s.balance.Sub(price)
	c := &simContract{
		ID:        s.nextID,
		Symbol:    params.Symbol,
		Stake:     price,
		Payout:    price.Mul(payoutRatio),
		EntrySpot: spot,
		Longcode:  fmt.Sprintf("Win payout if %s is strictly higher than entry spot.", params.Symbol),
		BoughtAt:  time.Now(),
	}
	s.nextID++
	s.contracts[c.ID] = c
	return c, true
}

func (s *accountState) lookupContract(id int64) (*simContract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	return c, ok
}

// settle closes the contract: a win credits the payout, a loss credits
// nothing. Returns profit and the resulting balance.
func (s *accountState) settle(id int64, won bool) (decimal.Decimal, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return decimal.Zero, s.balance
	}
	delete(s.contracts, id)
	if won {
		s.balance = s.balance.Add(c.Payout)
		return c.Payout.Sub(c.Stake), s.balance
	}
	return c.Stake.Neg(), s.balance
}

func (s *accountState) openContracts() []*simContract {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*simContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	return out
}

// respond synthesizes the reply for one request after latency jitter.
func (t *Transport) respond(ctx context.Context, req schema.Request) {
	if !sleepCtx(ctx, t.latency()) {
		return
	}

	kind := req.Kind()
	switch kind {
	case "authorize":
		t.respondAuthorize(ctx, req)
	case "ping":
		t.emitFrame(ctx, req, "ping", map[string]any{"ping": "pong"})
	case "ticks":
		t.respondTicks(ctx, req)
	case "ticks_history":
		t.respondHistory(ctx, req)
	case "proposal":
		t.respondProposal(ctx, req)
	case "buy":
		t.respondBuy(ctx, req)
	case "portfolio":
		t.respondPortfolio(ctx, req)
	case "proposal_open_contract":
		t.respondOpenContract(ctx, req)
	case "forget":
		t.respondForget(ctx, req)
	default:
		t.emitError(ctx, req, kind, "UnrecognisedRequest",
			"the request kind is not supported by the simulated venue")
	}
}

func (t *Transport) respondAuthorize(ctx context.Context, req schema.Request) {
	token, _ := req["authorize"].(string)
	if token == "" || strings.HasPrefix(token, "invalid") {
		t.emitError(ctx, req, "authorize", "InvalidToken", "the token is invalid")
		return
	}
	t.emitFrame(ctx, req, "authorize", map[string]any{
		"authorize": map[string]any{
			"loginid":    "VRTC1000001",
			"email":      "sim@localhost",
			"currency":   "USD",
			"balance":    t.state.snapshotBalance(),
			"is_virtual": 1,
		},
	})
}

func (t *Transport) respondTicks(ctx context.Context, req schema.Request) {
	symbol, _ := req["ticks"].(string)
	if symbol == "" {
		t.emitError(ctx, req, "tick", "InputValidationFailed", "ticks requires a symbol")
		return
	}
	subID := uuid.NewString()
	first := t.newTickBody(symbol, subID, t.newSpot())
	first["subscription"] = map[string]any{"id": subID}
	t.emitFrame(ctx, req, "tick", first)
	t.startTickFeed(subID, symbol)
}

func (t *Transport) respondHistory(ctx context.Context, req schema.Request) {
	count := 100
	if c, ok := req["count"].(float64); ok && c > 0 {
		count = int(c)
	}
	spot := t.newSpot()
	now := time.Now().Unix()
	prices := make([]decimal.Decimal, count)
	times := make([]int64, count)
	for i := 0; i < count; i++ {
		spot = t.nextSpot(spot)
		prices[i] = spot
		times[i] = now - int64(count-i)
	}
	t.emitFrame(ctx, req, "history", map[string]any{
		"history": map[string]any{"prices": prices, "times": times},
	})
}

func (t *Transport) respondProposal(ctx context.Context, req schema.Request) {
	amount, _ := req["amount"].(float64)
	if amount <= 0 {
		t.emitError(ctx, req, "proposal", "InputValidationFailed", "proposal requires a positive amount")
		return
	}
	symbol, _ := req["symbol"].(string)
	contractType, _ := req["contract_type"].(string)
	currency, _ := req["currency"].(string)
	stake := decimal.NewFromFloat(amount)
	id := uuid.NewString()
	t.state.recordProposal(id, schema.ProposalParams{
		ContractType: contractType,
		Symbol:       symbol,
		Currency:     currency,
		Amount:       stake,
	})
	spot := t.newSpot()
	t.emitFrame(ctx, req, "proposal", map[string]any{
		"proposal": map[string]any{
			"id":        id,
			"ask_price": stake,
			"payout":    stake.Mul(payoutRatio),
			"spot":      spot,
			"spot_time": time.Now().Unix(),
			"symbol":    symbol,
		},
	})
}

func (t *Transport) respondBuy(ctx context.Context, req schema.Request) {
	proposalID, _ := req["buy"].(string)
	price, _ := req["price"].(float64)
	contract, ok := t.state.buy(proposalID, decimal.NewFromFloat(price), t.newSpot())
	if !ok {
		t.emitError(ctx, req, "buy", "InvalidContractProposal", "the proposal is unknown or the balance is insufficient")
		return
	}
	t.emitFrame(ctx, req, "buy", map[string]any{
		"buy": map[string]any{
			"contract_id":    contract.ID,
			"transaction_id": contract.ID*10 + 1,
			"buy_price":      contract.Stake,
			"payout":         contract.Payout,
			"balance_after":  t.state.snapshotBalance(),
			"start_time":     contract.BoughtAt.Unix(),
			"longcode":       contract.Longcode,
		},
	})
}

func (t *Transport) respondPortfolio(ctx context.Context, req schema.Request) {
	open := t.state.openContracts()
	contracts := make([]map[string]any, 0, len(open))
	for _, c := range open {
		contracts = append(contracts, map[string]any{
			"contract_id":   c.ID,
			"symbol":        c.Symbol,
			"contract_type": "CALL",
			"buy_price":     c.Stake,
			"payout":        c.Payout,
			"longcode":      c.Longcode,
			"expiry_time":   c.BoughtAt.Add(5 * time.Minute).Unix(),
		})
	}
	t.emitFrame(ctx, req, "portfolio", map[string]any{
		"portfolio": map[string]any{"contracts": contracts},
	})
}

func (t *Transport) respondOpenContract(ctx context.Context, req schema.Request) {
	rawID, _ := req["contract_id"].(float64)
	contractID := int64(rawID)
	contract, ok := t.state.lookupContract(contractID)
	if !ok {
		t.emitError(ctx, req, "proposal_open_contract", "ContractNotFound", "the contract is not open on this account")
		return
	}
	subID := uuid.NewString()
	body := t.newOpenContractBody(contract, contract.EntrySpot, false, decimal.Zero, t.state.snapshotBalance())
	body["subscription"] = map[string]any{"id": subID}
	t.emitFrame(ctx, req, "proposal_open_contract", body)
	if req.Subscribes() {
		t.startContractFeed(subID, contractID)
	}
}

func (t *Transport) respondForget(ctx context.Context, req schema.Request) {
	subID, _ := req["forget"].(string)
	removed := 0
	if t.stopFeed(subID) {
		removed = 1
	}
	t.emitFrame(ctx, req, "forget", map[string]any{"forget": removed})
}

// emitFrame stamps the envelope onto body and delivers it.
func (t *Transport) emitFrame(ctx context.Context, req schema.Request, msgType string, body map[string]any) {
	body["msg_type"] = msgType
	if id := req.ID(); id != "" {
		body[schema.ReqIDKey] = id
	}
	data, err := json.Marshal(body)
	if err != nil {
		logDroppedRequest(msgType, err)
		return
	}
	t.emit(ctx, data)
}

func (t *Transport) emitError(ctx context.Context, req schema.Request, msgType, code, message string) {
	t.emitFrame(ctx, req, msgType, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
