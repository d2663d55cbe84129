package schema

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Request is an outbound venue payload. The connection core treats it as
// opaque apart from the correlation id it stamps before sending.
type Request map[string]any

// ReqIDKey is the wire field carrying the correlation identifier.
const ReqIDKey = "req_id"

// operationKeys lists payload keys that name an operation, in the order the
// venue documents them. Kind() checks these rather than ranging over the map
// so the answer is deterministic.
var operationKeys = []string{
	"authorize",
	"ping",
	"ticks",
	"ticks_history",
	"proposal",
	"buy",
	"portfolio",
	"proposal_open_contract",
	"forget",
	"contracts_for",
}

// Kind returns the operation this request performs, or the empty string when
// none of the known operation keys is present.
func (r Request) Kind() string {
	for _, key := range operationKeys {
		if _, ok := r[key]; ok {
			return key
		}
	}
	return ""
}

// WithID returns a copy of the request with the correlation id stamped on.
func (r Request) WithID(id string) Request {
	out := make(Request, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[ReqIDKey] = id
	return out
}

// ID returns the stamped correlation id, if any.
func (r Request) ID() string {
	id, _ := r[ReqIDKey].(string)
	return id
}

// Subscribes reports whether the request opens a standing subscription.
func (r Request) Subscribes() bool {
	if v, ok := r["subscribe"]; ok {
		switch s := v.(type) {
		case int:
			return s == 1
		case float64:
			return s == 1
		case bool:
			return s
		}
	}
	// Bare tick requests subscribe implicitly.
	return r.Kind() == "ticks"
}

// Encode marshals the request for the wire.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}

// DecodeRequest parses raw bytes back into a Request.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewAuthorizeRequest builds the authentication handshake payload.
func NewAuthorizeRequest(token string) Request {
	return Request{"authorize": token}
}

// NewPingRequest builds the keepalive probe payload.
func NewPingRequest() Request {
	return Request{"ping": 1}
}

// NewTicksRequest builds a tick feed subscription for the symbol.
func NewTicksRequest(symbol string) Request {
	return Request{"ticks": symbol, "subscribe": 1}
}

// NewTicksHistoryRequest builds a historical price request.
func NewTicksHistoryRequest(symbol string, count int) Request {
	return Request{
		"ticks_history": symbol,
		"count":         count,
		"end":           "latest",
		"style":         "ticks",
	}
}

// ProposalParams describes a contract pricing request.
type ProposalParams struct {
	ContractType string
	Symbol       string
	Currency     string
	Amount       decimal.Decimal
	Duration     int
	DurationUnit string
}

// NewProposalRequest builds a contract pricing request.
func NewProposalRequest(p ProposalParams) Request {
	return Request{
		"proposal":      1,
		"amount":        p.Amount.InexactFloat64(),
		"basis":         "stake",
		"contract_type": p.ContractType,
		"currency":      p.Currency,
		"duration":      p.Duration,
		"duration_unit": p.DurationUnit,
		"symbol":        p.Symbol,
	}
}

// NewBuyRequest builds a contract purchase referencing a proposal.
func NewBuyRequest(proposalID string, price decimal.Decimal) Request {
	return Request{"buy": proposalID, "price": price.InexactFloat64()}
}

// NewPortfolioRequest builds an open-positions query.
func NewPortfolioRequest() Request {
	return Request{"portfolio": 1}
}

// NewOpenContractRequest builds a contract status subscription.
func NewOpenContractRequest(contractID int64) Request {
	return Request{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
		"subscribe":              1,
	}
}

// NewForgetRequest builds a subscription cancellation.
func NewForgetRequest(subscriptionID string) Request {
	return Request{"forget": subscriptionID}
}
