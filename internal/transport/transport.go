// Package transport moves opaque frames between the process and a venue
// endpoint. The live and simulated implementations share one contract so the
// rest of the stack never branches on mode.
package transport

import "context"

// Transport is a single bidirectional framed channel to a venue.
//
// Open establishes the channel; Send writes one frame; Frames yields inbound
// frames in arrival order until connection loss closes it; Errors reports
// asynchronous transport failures. Close releases the channel and is
// idempotent. A closed transport may be re-opened.
type Transport interface {
	Open(ctx context.Context, endpoint string) error
	Send(ctx context.Context, frame []byte) error
	Frames() <-chan []byte
	Errors() <-chan error
	Close() error
}
