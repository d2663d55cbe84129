package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finbrook/tradewire/internal/schema"
)

func fastOptions() Options {
	return Options{
		MinLatency:   time.Millisecond,
		MaxLatency:   5 * time.Millisecond,
		TickInterval: 30 * time.Millisecond,
		SlowInterval: 30 * time.Millisecond,
		Balance:      decimal.NewFromInt(1000),
		Seed:         42,
	}
}

func openTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(fastOptions())
	require.NoError(t, tr.Open(context.Background(), "sim://test"))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func roundTrip(t *testing.T, tr *Transport, req schema.Request) *schema.Frame {
	t.Helper()
	data, err := req.WithID("req-1").Encode()
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), data))

	select {
	case raw := <-tr.Frames():
		frame, err := schema.DecodeFrame(raw)
		require.NoError(t, err)
		require.Equal(t, "req-1", frame.ReqID)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no response from responder")
		return nil
	}
}

func TestAuthorizeReturnsVirtualAccount(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewAuthorizeRequest("demo-token"))
	require.Nil(t, frame.Error)

	var resp schema.AuthorizeResponse
	require.NoError(t, frame.DecodePayload(&resp))
	require.Equal(t, "VRTC1000001", resp.Authorize.LoginID)
	require.Equal(t, 1, resp.Authorize.IsVirtual)
	require.True(t, resp.Authorize.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestAuthorizeRejectsInvalidToken(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewAuthorizeRequest("invalid-token"))
	require.NotNil(t, frame.Error)
	require.Equal(t, "InvalidToken", frame.Error.Code)
}

func TestPingAnswersPong(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewPingRequest())
	var resp schema.PingResponse
	require.NoError(t, frame.DecodePayload(&resp))
	require.Equal(t, "pong", resp.Ping)
}

func TestTicksHistoryHonoursCount(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewTicksHistoryRequest("R_100", 25))
	var resp schema.HistoryResponse
	require.NoError(t, frame.DecodePayload(&resp))
	require.Len(t, resp.History.Prices, 25)
	require.Len(t, resp.History.Times, 25)
}

func TestTickSubscriptionPushesUntilForgotten(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewTicksRequest("R_100"))
	subID := frame.SubscriptionID()
	require.NotEmpty(t, subID)

	// At least one unsolicited push follows the confirmation.
	var push *schema.Frame
	select {
	case raw := <-tr.Frames():
		parsed, err := schema.DecodeFrame(raw)
		require.NoError(t, err)
		push = parsed
	case <-time.After(2 * time.Second):
		t.Fatal("no tick push")
	}
	require.Equal(t, "tick", push.MsgType)
	require.Equal(t, subID, push.SubscriptionID())
	require.Empty(t, push.ReqID)

	data, err := schema.NewForgetRequest(subID).WithID("req-2").Encode()
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), data))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-tr.Frames():
			parsed, err := schema.DecodeFrame(raw)
			require.NoError(t, err)
			if parsed.ReqID != "req-2" {
				continue
			}
			var ack schema.ForgetResponse
			require.NoError(t, parsed.DecodePayload(&ack))
			require.Equal(t, 1, ack.Forget)
			return
		case <-deadline:
			t.Fatal("no forget acknowledgement")
		}
	}
}

func TestForgetUnknownSubscriptionReturnsZero(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewForgetRequest("no-such-id"))
	var ack schema.ForgetResponse
	require.NoError(t, frame.DecodePayload(&ack))
	require.Zero(t, ack.Forget)
}

func TestBuyDebitsBalanceAndSettlementFollows(t *testing.T) {
	tr := openTransport(t)

	proposalFrame := roundTrip(t, tr, schema.NewProposalRequest(schema.ProposalParams{
		ContractType: "CALL",
		Symbol:       "R_100",
		Currency:     "USD",
		Amount:       decimal.NewFromInt(10),
		Duration:     5,
		DurationUnit: "m",
	}))
	var proposal schema.ProposalResponse
	require.NoError(t, proposalFrame.DecodePayload(&proposal))
	require.NotEmpty(t, proposal.Proposal.ID)

	buyFrame := roundTrip(t, tr, schema.NewBuyRequest(proposal.Proposal.ID, proposal.Proposal.AskPrice))
	require.Nil(t, buyFrame.Error)
	var buy schema.BuyResponse
	require.NoError(t, buyFrame.DecodePayload(&buy))
	require.True(t, buy.Buy.BalanceAfter.Equal(decimal.NewFromInt(990)))

	ocFrame := roundTrip(t, tr, schema.NewOpenContractRequest(buy.Buy.ContractID))
	require.Nil(t, ocFrame.Error)
	require.NotEmpty(t, ocFrame.SubscriptionID())

	// Settlement arrives on the third push.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw := <-tr.Frames():
			parsed, err := schema.DecodeFrame(raw)
			require.NoError(t, err)
			if parsed.MsgType != "proposal_open_contract" {
				continue
			}
			var update schema.OpenContractResponse
			require.NoError(t, parsed.DecodePayload(&update))
			if update.OpenContract.IsSold != 1 {
				continue
			}
			require.Contains(t, []string{"won", "lost"}, update.OpenContract.Status)
			return
		case <-deadline:
			t.Fatal("contract never settled")
		}
	}
}

func TestBuyUnknownProposalFails(t *testing.T) {
	tr := openTransport(t)
	frame := roundTrip(t, tr, schema.NewBuyRequest("bogus", decimal.NewFromInt(10)))
	require.NotNil(t, frame.Error)
}

func TestInterruptSurfacesErrorAndClosesStream(t *testing.T) {
	tr := openTransport(t)
	frames := tr.Frames()
	errc := tr.Errors()

	tr.Interrupt(nil)

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("no error surfaced")
	}
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("frame stream never closed")
		}
	}
}

func TestReopenAfterClose(t *testing.T) {
	tr := New(fastOptions())
	require.NoError(t, tr.Open(context.Background(), "sim://test"))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Open(context.Background(), "sim://test"))
	defer func() { _ = tr.Close() }()

	frame := roundTrip(t, tr, schema.NewPingRequest())
	var resp schema.PingResponse
	require.NoError(t, frame.DecodePayload(&resp))
	require.Equal(t, "pong", resp.Ping)
}
