// Package schema models the venue wire format: request payloads keyed by
// operation name and response frames carrying an optional correlation id.
package schema

import (
	"github.com/goccy/go-json"
)

// WireError is the error object the venue attaches to failed responses.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscriptionMeta identifies the standing subscription a push frame belongs to.
type SubscriptionMeta struct {
	ID string `json:"id"`
}

// Frame is one discrete message received from the venue. The envelope fields
// are decoded eagerly; the payload stays raw so callers decode only the part
// they understand.
type Frame struct {
	ReqID        string            `json:"req_id,omitempty"`
	MsgType      string            `json:"msg_type,omitempty"`
	Error        *WireError        `json:"error,omitempty"`
	Subscription *SubscriptionMeta `json:"subscription,omitempty"`

	raw []byte
}

// DecodeFrame parses the envelope of a raw venue message and retains the
// original bytes for payload decoding.
func DecodeFrame(data []byte) (*Frame, error) {
	frame := new(Frame)
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, err
	}
	frame.raw = append(frame.raw[:0], data...)
	return frame, nil
}

// Raw returns the full frame bytes as received.
func (f *Frame) Raw() []byte {
	if f == nil {
		return nil
	}
	return f.raw
}

// DecodePayload unmarshals the full frame into v so callers can pull the
// payload field keyed by the message type.
func (f *Frame) DecodePayload(v any) error {
	return json.Unmarshal(f.raw, v)
}

// SubscriptionID returns the subscription identifier carried by a push frame,
// or the empty string.
func (f *Frame) SubscriptionID() string {
	if f == nil || f.Subscription == nil {
		return ""
	}
	return f.Subscription.ID
}

// pushTypes lists message types the venue delivers unsolicited to standing
// subscriptions.
var pushTypes = map[string]struct{}{
	"tick":                   {},
	"ohlc":                   {},
	"candle":                 {},
	"proposal_open_contract": {},
}

// IsPushType reports whether msgType belongs to a subscription feed.
func IsPushType(msgType string) bool {
	_, ok := pushTypes[msgType]
	return ok
}
