package schema

import (
	"github.com/shopspring/decimal"
)

// AuthorizePayload carries the session fields returned by a successful
// handshake.
type AuthorizePayload struct {
	LoginID   string          `json:"loginid"`
	Email     string          `json:"email"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	IsVirtual int             `json:"is_virtual"`
}

// AuthorizeResponse is the handshake response frame body.
type AuthorizeResponse struct {
	Authorize AuthorizePayload `json:"authorize"`
}

// PingResponse is the keepalive acknowledgement body.
type PingResponse struct {
	Ping string `json:"ping"`
}

// TickPayload is one price observation pushed on a tick feed.
type TickPayload struct {
	Symbol string          `json:"symbol"`
	Quote  decimal.Decimal `json:"quote"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Epoch  int64           `json:"epoch"`
	ID     string          `json:"id"`
}

// TickResponse is a tick frame body.
type TickResponse struct {
	Tick TickPayload `json:"tick"`
}

// HistoryPayload carries historical prices.
type HistoryPayload struct {
	Prices []decimal.Decimal `json:"prices"`
	Times  []int64           `json:"times"`
}

// HistoryResponse is a ticks_history frame body.
type HistoryResponse struct {
	History HistoryPayload `json:"history"`
}

// ProposalPayload is the venue's price quote for a prospective contract.
type ProposalPayload struct {
	ID       string          `json:"id"`
	AskPrice decimal.Decimal `json:"ask_price"`
	Payout   decimal.Decimal `json:"payout"`
	Spot     decimal.Decimal `json:"spot"`
	SpotTime int64           `json:"spot_time"`
	Symbol   string          `json:"symbol"`
}

// ProposalResponse is a proposal frame body.
type ProposalResponse struct {
	Proposal ProposalPayload `json:"proposal"`
}

// BuyPayload confirms a contract purchase.
type BuyPayload struct {
	ContractID    int64           `json:"contract_id"`
	TransactionID int64           `json:"transaction_id"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
	Payout        decimal.Decimal `json:"payout"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	StartTime     int64           `json:"start_time"`
	Longcode      string          `json:"longcode"`
}

// BuyResponse is a buy frame body.
type BuyResponse struct {
	Buy BuyPayload `json:"buy"`
}

// OpenContractPayload tracks a purchased contract until settlement.
type OpenContractPayload struct {
	ContractID   int64           `json:"contract_id"`
	IsSold       int             `json:"is_sold"`
	Profit       decimal.Decimal `json:"profit"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	EntrySpot    decimal.Decimal `json:"entry_spot"`
	ExitSpot     decimal.Decimal `json:"exit_spot"`
	Symbol       string          `json:"symbol"`
	Status       string          `json:"status"`
}

// OpenContractResponse is a proposal_open_contract frame body.
type OpenContractResponse struct {
	OpenContract OpenContractPayload `json:"proposal_open_contract"`
}

// ForgetResponse acknowledges a subscription cancellation; Forget is 1 when
// the subscription existed and was removed.
type ForgetResponse struct {
	Forget int `json:"forget"`
}

// PortfolioContract summarises one open position.
type PortfolioContract struct {
	ContractID   int64           `json:"contract_id"`
	Symbol       string          `json:"symbol"`
	ContractType string          `json:"contract_type"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	Payout       decimal.Decimal `json:"payout"`
	Longcode     string          `json:"longcode"`
	ExpiryTime   int64           `json:"expiry_time"`
}

// PortfolioPayload lists the account's open positions.
type PortfolioPayload struct {
	Contracts []PortfolioContract `json:"contracts"`
}

// PortfolioResponse is a portfolio frame body.
type PortfolioResponse struct {
	Portfolio PortfolioPayload `json:"portfolio"`
}
