// Package conn implements the venue connection core: a single multiplexed
// transport shared by request/response calls and standing subscriptions, with
// keepalive probing and automatic reconnection behind it.
package conn

import (
	"sync"

	"github.com/shopspring/decimal"
)

// State is the lifecycle phase of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateLive
	StateDegraded
	StateReconnecting
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateLive:           "live",
	StateDegraded:       "degraded",
	StateReconnecting:   "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Session holds the account identity returned by the handshake. It is
// replaced wholesale on every successful authorization.
type Session struct {
	LoginID   string
	Email     string
	Currency  string
	Balance   decimal.Decimal
	IsVirtual bool
}

// stateTracker guards the current State and Session behind one mutex so
// observers always see a consistent pair.
type stateTracker struct {
	mu      sync.RWMutex
	state   State
	session Session
}

func (t *stateTracker) set(s State) {
	t.mu.Lock()
	t.state = s
	if s == StateDisconnected {
		t.session = Session{}
	}
	t.mu.Unlock()
}

func (t *stateTracker) setSession(s Session) {
	t.mu.Lock()
	t.session = s
	t.mu.Unlock()
}

func (t *stateTracker) current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *stateTracker) currentSession() Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}
