package conn

import (
	"sync"

	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
)

// Sink receives push frames for one standing subscription. Deliveries are
// serialized per subscription; implementations must not call Unsubscribe for
// their own subscription from inside OnFrame.
type Sink interface {
	OnFrame(frame *schema.Frame)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame *schema.Frame)

func (f SinkFunc) OnFrame(frame *schema.Frame) { f(frame) }

// subscription pairs a sink with a delivery mutex. Holding deliverMu across
// dispatch lets unregister wait out an in-flight callback without blocking
// other subscriptions.
type subscription struct {
	sink      Sink
	deliverMu sync.Mutex
}

// registry routes push frames to subscription sinks by subscription id.
type registry struct {
	venue string

	mu   sync.RWMutex
	subs map[string]*subscription
}

func newRegistry(venue string) *registry {
	return &registry{venue: venue, subs: make(map[string]*subscription)}
}

// add binds a sink to a subscription id. Frames carrying the id route to the
// sink until remove is called.
func (r *registry) add(id string, sink Sink) {
	r.mu.Lock()
	r.subs[id] = &subscription{sink: sink}
	r.mu.Unlock()
}

// remove unbinds the sink. It returns only after any in-flight delivery to
// that sink has finished, so callers can release sink resources immediately.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	sub.deliverMu.Lock()
	sub.deliverMu.Unlock()
	return true
}

// dispatch delivers a push frame to its sink. Returns false when no sink is
// bound to the frame's subscription id.
func (r *registry) dispatch(frame *schema.Frame) bool {
	id := frame.SubscriptionID()
	if id == "" {
		return false
	}
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	// Recheck after acquiring: remove may have won the race.
	r.mu.RLock()
	_, live := r.subs[id]
	r.mu.RUnlock()
	if !live {
		return false
	}
	r.deliver(id, sub, frame)
	return true
}

// deliver invokes the sink, containing panics so one broken subscriber cannot
// kill the dispatch loop or starve its siblings.
func (r *registry) deliver(id string, sub *subscription, frame *schema.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.Log().Error("subscription sink panicked",
				observability.F("venue", r.venue),
				observability.F("subscription_id", id),
				observability.F("panic", rec))
		}
	}()
	sub.sink.OnFrame(frame)
}

// ids snapshots the currently bound subscription ids.
func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for id := range r.subs {
		out = append(out, id)
	}
	return out
}

// clear drops every binding, waiting out in-flight deliveries one by one.
func (r *registry) clear() {
	for _, id := range r.ids() {
		if r.remove(id) {
			observability.Log().Debug("dropped subscription",
				observability.F("venue", r.venue),
				observability.F("subscription_id", id))
		}
	}
}
