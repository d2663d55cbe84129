package conn

import (
	"context"
	"sync"
	"time"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
)

// correlator matches response frames to in-flight requests by correlation id.
// Each request registers a single-slot channel; the dispatch loop resolves it
// when a frame with the matching req_id arrives.
type correlator struct {
	venue string

	mu      sync.Mutex
	pending map[string]chan *schema.Frame
}

func newCorrelator(venue string) *correlator {
	return &correlator{
		venue:   venue,
		pending: make(map[string]chan *schema.Frame),
	}
}

// register reserves a slot for the correlation id. Returns the wait channel
// and a release func the caller must invoke once the exchange is over.
func (c *correlator) register(id string) (<-chan *schema.Frame, func(), error) {
	ch := make(chan *schema.Frame, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, nil, errs.New(c.venue, errs.CodeState,
			errs.WithMessage("correlation id already in flight: "+id))
	}
	c.pending[id] = ch
	release := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	return ch, release, nil
}

// resolve delivers a response frame to the registered waiter. Returns false
// when no waiter exists, which the caller treats as a late or stray frame.
func (c *correlator) resolve(frame *schema.Frame) bool {
	c.mu.Lock()
	ch, ok := c.pending[frame.ReqID]
	if ok {
		delete(c.pending, frame.ReqID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	// Single-slot channel; the waiter may already have given up, in which
	// case the buffered send still succeeds and the frame is collected when
	// the channel goes out of scope.
	ch <- frame
	return true
}

// failAll aborts every pending exchange with the given error cause, used when
// the transport drops mid-flight.
func (c *correlator) failAll(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *schema.Frame)
	c.mu.Unlock()
	for id, ch := range pending {
		select {
		case ch <- nil:
		default:
		}
		observability.Log().Debug("aborted in-flight request",
			observability.F("req_id", id),
			observability.F("cause", cause))
	}
}

// await blocks until the exchange resolves, the deadline passes, or ctx ends.
// A nil frame on the channel signals the connection dropped mid-flight.
func (c *correlator) await(ctx context.Context, id string, ch <-chan *schema.Frame, timeout time.Duration) (*schema.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		if frame == nil {
			return nil, errs.New(c.venue, errs.CodeConnection,
				errs.WithMessage("connection lost while awaiting response"))
		}
		return frame, nil
	case <-timer.C:
		observability.Telemetry().IncCounter("conn.request.timeout", 1, map[string]string{"venue": c.venue})
		return nil, errs.New(c.venue, errs.CodeTimeout,
			errs.WithMessage("no response within "+timeout.String()+" for req_id "+id))
	case <-ctx.Done():
		return nil, errs.New(c.venue, errs.CodeConnection, errs.WithCause(ctx.Err()))
	}
}
