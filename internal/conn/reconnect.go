package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
)

// reconnector re-establishes the connection after a transport failure. It
// rotates through the configured endpoints, backs off exponentially between
// attempts, and collapses concurrent triggers into one attempt whose outcome
// all callers share.
type reconnector struct {
	venue       string
	endpoints   []string
	maxAttempts int
	initialWait time.Duration
	maxWait     time.Duration
	connect     func(ctx context.Context, endpoint string) error

	mu       sync.Mutex
	cursor   int
	inflight *reconnectAttempt
}

type reconnectAttempt struct {
	done chan struct{}
	err  error
}

// trigger starts a reconnect cycle, or joins the one already running. It
// returns the shared outcome.
func (r *reconnector) trigger(ctx context.Context) error {
	r.mu.Lock()
	if a := r.inflight; a != nil {
		r.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return errs.New(r.venue, errs.CodeConnection, errs.WithCause(ctx.Err()))
		}
	}
	attempt := &reconnectAttempt{done: make(chan struct{})}
	r.inflight = attempt
	r.mu.Unlock()

	attempt.err = r.run(ctx)
	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()
	close(attempt.done)
	return attempt.err
}

func (r *reconnector) run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialWait
	bo.MaxInterval = r.maxWait

	for attempt := 1; ; attempt++ {
		if r.maxAttempts > 0 && attempt > r.maxAttempts {
			observability.Telemetry().IncCounter("conn.reconnect.exhausted", 1,
				map[string]string{"venue": r.venue})
			return errs.New(r.venue, errs.CodeConnection,
				errs.WithMessage(fmt.Sprintf("gave up after %d reconnect attempts", r.maxAttempts)))
		}
		endpoint := r.currentEndpoint()
		observability.Log().Info("reconnect attempt",
			observability.F("venue", r.venue),
			observability.F("attempt", attempt),
			observability.F("endpoint", endpoint))
		err := r.connect(ctx, endpoint)
		if err == nil {
			r.resetCursor()
			observability.Telemetry().IncCounter("conn.reconnect.success", 1,
				map[string]string{"venue": r.venue})
			return nil
		}
		if ctx.Err() != nil {
			return errs.New(r.venue, errs.CodeConnection, errs.WithCause(ctx.Err()))
		}
		observability.Log().Warn("reconnect attempt failed",
			observability.F("venue", r.venue),
			observability.F("attempt", attempt),
			observability.F("endpoint", endpoint),
			observability.F("error", err))
		r.advanceCursor()
		if !sleepBackoff(ctx, bo.NextBackOff()) {
			return errs.New(r.venue, errs.CodeConnection, errs.WithCause(ctx.Err()))
		}
	}
}

// wait blocks until any in-flight attempt finishes. Callers tearing the
// connection down use it to make sure no attempt is still mid-commit when
// they return.
func (r *reconnector) wait() {
	r.mu.Lock()
	a := r.inflight
	r.mu.Unlock()
	if a != nil {
		<-a.done
	}
}

func (r *reconnector) currentEndpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[r.cursor%len(r.endpoints)]
}

func (r *reconnector) advanceCursor() {
	r.mu.Lock()
	r.cursor = (r.cursor + 1) % len(r.endpoints)
	r.mu.Unlock()
}

func (r *reconnector) resetCursor() {
	r.mu.Lock()
	r.cursor = 0
	r.mu.Unlock()
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
