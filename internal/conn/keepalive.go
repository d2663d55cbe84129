package conn

import (
	"context"
	"time"

	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
)

// keepalive probes the connection at a fixed interval while it is live. One
// probe runs at a time; a failed probe reports once and the loop exits, since
// the reconnect path replaces the whole session.
type keepalive struct {
	venue    string
	interval time.Duration
	timeout  time.Duration
	probe    func(ctx context.Context) error
	onFail   func(err error)
}

func (k *keepalive) run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		probeCtx, cancel := context.WithTimeout(ctx, k.timeout)
		err := k.probe(probeCtx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		observability.Log().Warn("keepalive probe failed",
			observability.F("venue", k.venue),
			observability.F("error", err))
		k.onFail(err)
		return
	}
}

// pingProbe issues one keepalive round trip through the given call func and
// validates the acknowledgement body.
func pingProbe(call func(ctx context.Context, req schema.Request) (*schema.Frame, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		frame, err := call(ctx, schema.NewPingRequest())
		if err != nil {
			return err
		}
		var ack schema.PingResponse
		return frame.DecodePayload(&ack)
	}
}
