package schema

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRequestKindIsDeterministic(t *testing.T) {
	require.Equal(t, "authorize", NewAuthorizeRequest("tok").Kind())
	require.Equal(t, "ping", NewPingRequest().Kind())
	require.Equal(t, "ticks", NewTicksRequest("R_100").Kind())
	require.Equal(t, "buy", NewBuyRequest("prop", decimal.NewFromInt(5)).Kind())
	require.Empty(t, Request{"unknown": 1}.Kind())
}

func TestRequestWithIDDoesNotMutateOriginal(t *testing.T) {
	orig := NewPingRequest()
	stamped := orig.WithID("abc")
	require.Equal(t, "abc", stamped.ID())
	require.Empty(t, orig.ID())
}

func TestRequestSubscribes(t *testing.T) {
	require.True(t, NewTicksRequest("R_100").Subscribes())
	require.True(t, NewOpenContractRequest(1).Subscribes())
	require.False(t, NewPingRequest().Subscribes())
	require.False(t, NewForgetRequest("id").Subscribes())

	// A bare tick request subscribes implicitly.
	require.True(t, Request{"ticks": "R_100"}.Subscribes())
}

func TestRequestEncodeRoundTrip(t *testing.T) {
	data, err := NewTicksHistoryRequest("R_100", 50).WithID("id-1").Encode()
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	require.Equal(t, "ticks_history", decoded.Kind())
	require.Equal(t, "id-1", decoded.ID())
}

func TestDecodeFrameEnvelope(t *testing.T) {
	raw := []byte(`{"req_id":"r1","msg_type":"tick","tick":{"symbol":"R_100","quote":101.25},"subscription":{"id":"s1"}}`)
	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, "r1", frame.ReqID)
	require.Equal(t, "tick", frame.MsgType)
	require.Equal(t, "s1", frame.SubscriptionID())
	require.Equal(t, raw, frame.Raw())

	var resp TickResponse
	require.NoError(t, frame.DecodePayload(&resp))
	require.Equal(t, "R_100", resp.Tick.Symbol)
	require.True(t, resp.Tick.Quote.Equal(decimal.NewFromFloat(101.25)))
}

func TestDecodeFrameError(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"req_id":"r1","msg_type":"authorize","error":{"code":"InvalidToken","message":"bad token"}}`))
	require.NoError(t, err)
	require.NotNil(t, frame.Error)
	require.Equal(t, "InvalidToken", frame.Error.Code)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte(`{not json`))
	require.Error(t, err)
}

func TestIsPushType(t *testing.T) {
	require.True(t, IsPushType("tick"))
	require.True(t, IsPushType("proposal_open_contract"))
	require.False(t, IsPushType("authorize"))
	require.False(t, IsPushType(""))
}
