// Package sim provides an in-process Transport that synthesizes venue
// responses, for offline operation and tests. It implements the same contract
// as the live websocket transport; swapping the two is the only difference
// between live and simulated runs.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
)

const venueName = "sim"

// Options tunes the simulated venue.
type Options struct {
	// MinLatency/MaxLatency bound the synthetic response delay.
	MinLatency time.Duration
	MaxLatency time.Duration
	// TickInterval is the base cadence for tick-like feeds (jittered ±50%).
	TickInterval time.Duration
	// SlowInterval is the base cadence for every other feed.
	SlowInterval time.Duration
	// Balance seeds the simulated account.
	Balance decimal.Decimal
	// Seed fixes the random source; zero derives one from the clock.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.MinLatency <= 0 {
		o.MinLatency = 100 * time.Millisecond
	}
	if o.MaxLatency < o.MinLatency {
		o.MaxLatency = o.MinLatency + 400*time.Millisecond
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.SlowInterval <= 0 {
		o.SlowInterval = 2 * time.Second
	}
	if o.Balance.IsZero() {
		o.Balance = decimal.NewFromInt(10000)
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Transport is the simulated venue connection.
type Transport struct {
	opts Options

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	open   bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	frames chan []byte
	errc   chan error

	feedsMu sync.Mutex
	feeds   map[string]*feed

	state *accountState
}

type feed struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a simulated transport.
func New(opts Options) *Transport {
	resolved := opts.withDefaults()
	return &Transport{
		opts:  resolved,
		rng:   rand.New(rand.NewSource(resolved.Seed)),
		feeds: make(map[string]*feed),
		state: newAccountState(resolved.Balance),
	}
}

// Open readies the synthetic responder. The endpoint is accepted and ignored.
func (t *Transport) Open(ctx context.Context, endpoint string) error {
	_ = endpoint
	if err := ctx.Err(); err != nil {
		return errs.New(venueName, errs.CodeConnection, errs.WithCause(err))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return errs.New(venueName, errs.CodeState, errs.WithMessage("transport already open"))
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.ctx = runCtx
	t.cancel = cancel
	t.frames = make(chan []byte, 128)
	t.errc = make(chan error, 4)
	t.open = true
	return nil
}

// Send accepts one request frame and schedules a synthetic response after
// latency jitter. Subscription requests additionally start a push feed.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.New(venueName, errs.CodeConnection, errs.WithCause(err))
	}
	req, err := schema.DecodeRequest(frame)
	if err != nil {
		return errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("undecodable request"), errs.WithCause(err))
	}

	// Scheduling under the lock keeps the responder count and Close's Wait
	// consistent.
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errs.New(venueName, errs.CodeConnection, errs.WithMessage("transport not open"))
	}
	runCtx := t.ctx
	t.wg.Go(func() {
		t.respond(runCtx, req)
	})
	return nil
}

// Frames returns the inbound frame channel for the current session.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Errors returns the asynchronous failure channel for the current session.
func (t *Transport) Errors() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errc
}

// Close stops all feeds and pending responders, then closes the frame stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	cancel := t.cancel
	frames := t.frames
	t.mu.Unlock()

	cancel()
	t.stopAllFeeds()
	t.wg.Wait()
	close(frames)
	return nil
}

// Interrupt simulates a mid-session connection failure: feeds stop, an error
// surfaces on Errors, and the frame stream closes.
func (t *Transport) Interrupt(cause error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.open = false
	cancel := t.cancel
	frames := t.frames
	errc := t.errc
	t.mu.Unlock()

	if cause == nil {
		cause = errs.New(venueName, errs.CodeConnection, errs.WithMessage("connection interrupted"))
	}
	select {
	case errc <- cause:
	default:
	}
	cancel()
	t.stopAllFeeds()
	t.wg.Wait()
	close(frames)
}

func (t *Transport) stopAllFeeds() {
	t.feedsMu.Lock()
	feeds := make([]*feed, 0, len(t.feeds))
	for id, f := range t.feeds {
		feeds = append(feeds, f)
		delete(t.feeds, id)
	}
	t.feedsMu.Unlock()
	for _, f := range feeds {
		f.cancel()
		<-f.done
	}
}

func (t *Transport) stopFeed(id string) bool {
	t.feedsMu.Lock()
	f, ok := t.feeds[id]
	if ok {
		delete(t.feeds, id)
	}
	t.feedsMu.Unlock()
	if !ok {
		return false
	}
	f.cancel()
	<-f.done
	return true
}

// emit delivers one synthetic frame unless the session ended.
func (t *Transport) emit(ctx context.Context, data []byte) {
	select {
	case <-ctx.Done():
	case t.frames <- data:
	}
}

func (t *Transport) latency() time.Duration {
	return t.randomBetween(t.opts.MinLatency, t.opts.MaxLatency)
}

func (t *Transport) randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return lo + time.Duration(t.rng.Int63n(int64(hi-lo)))
}

func (t *Transport) randomInt(n int64) int64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Int63n(n)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func logDroppedRequest(kind string, err error) {
	observability.Log().Warn("sim responder dropped request",
		observability.F("kind", kind),
		observability.F("error", err))
}
