package conn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finbrook/tradewire/errs"
	"github.com/finbrook/tradewire/internal/observability"
	"github.com/finbrook/tradewire/internal/schema"
	"github.com/finbrook/tradewire/internal/transport"
)

// Config holds the connection parameters. Zero durations fall back to the
// defaults below.
type Config struct {
	Venue     string
	Endpoints []string
	DemoToken string
	RealToken string
	UseReal   bool

	RequestTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	ReconnectMaxAttempts int
	ReconnectInitialWait time.Duration
	ReconnectMaxWait     time.Duration
}

func (c *Config) withDefaults() {
	if c.Venue == "" {
		c.Venue = "venue"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = c.RequestTimeout
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 5
	}
	if c.ReconnectInitialWait <= 0 {
		c.ReconnectInitialWait = time.Second
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = 30 * time.Second
	}
}

// session scopes the background tasks of one connected transport generation.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager composes the transport, correlator, registry, keepalive supervisor
// and reconnector into the venue connection's public surface. One dispatch
// loop owns the inbound stream; any number of callers may issue requests
// concurrently.
type Manager struct {
	cfg     Config
	tr      transport.Transport
	corr    *correlator
	reg     *registry
	recon   *reconnector
	state   stateTracker
	metrics *observability.ConnectionMetrics

	// opMu serializes Connect, Disconnect and SwitchAccount.
	opMu sync.Mutex

	mu            sync.Mutex
	wantConnected bool
	useReal       bool
	sess          *session
	lifeCtx       context.Context
	lifeCancel    context.CancelFunc
}

// NewManager wires a Manager around the given transport.
func NewManager(cfg Config, tr transport.Transport) (*Manager, error) {
	cfg.withDefaults()
	if len(cfg.Endpoints) == 0 {
		return nil, errs.New(cfg.Venue, errs.CodeInvalid, errs.WithMessage("at least one endpoint required"))
	}
	if tr == nil {
		return nil, errs.New(cfg.Venue, errs.CodeInvalid, errs.WithMessage("transport required"))
	}
	m := &Manager{
		cfg:     cfg,
		tr:      tr,
		corr:    newCorrelator(cfg.Venue),
		reg:     newRegistry(cfg.Venue),
		metrics: observability.NewConnectionMetrics(),
		useReal: cfg.UseReal,
	}
	m.recon = &reconnector{
		venue:       cfg.Venue,
		endpoints:   cfg.Endpoints,
		maxAttempts: cfg.ReconnectMaxAttempts,
		initialWait: cfg.ReconnectInitialWait,
		maxWait:     cfg.ReconnectMaxWait,
		connect:     m.reestablish,
	}
	return m, nil
}

// State returns the current lifecycle phase.
func (m *Manager) State() State { return m.state.current() }

// Session returns the identity from the most recent successful handshake.
func (m *Manager) Session() Session { return m.state.currentSession() }

// UseReal reports whether the manager holds real-account credentials active.
func (m *Manager) UseReal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useReal
}

// Metrics returns a snapshot of the connection counters.
func (m *Manager) Metrics() observability.ConnectionMetricsSnapshot {
	return m.metrics.Snapshot()
}

func (m *Manager) token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.useReal {
		return m.cfg.RealToken
	}
	return m.cfg.DemoToken
}

// Connect opens the transport against the primary endpoint, authenticates,
// and starts the dispatch loop and keepalive supervisor.
func (m *Manager) Connect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.state.current() != StateDisconnected {
		return errs.New(m.cfg.Venue, errs.CodeState,
			errs.WithMessage("connect rejected in state "+m.State().String()))
	}
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.wantConnected = true
	m.lifeCtx = lifeCtx
	m.lifeCancel = lifeCancel
	m.mu.Unlock()

	m.state.set(StateConnecting)
	if err := m.establish(ctx, m.cfg.Endpoints[0], lifeCtx); err != nil {
		m.mu.Lock()
		m.wantConnected = false
		m.lifeCtx = nil
		m.lifeCancel = nil
		m.state.set(StateDisconnected)
		m.mu.Unlock()
		lifeCancel()
		return err
	}
	return nil
}

// Disconnect tears the connection down: every pending request resolves with a
// connection-lost error, every subscription is dropped, and the state returns
// to Disconnected. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.disconnectLocked()
	return nil
}

func (m *Manager) disconnectLocked() {
	m.mu.Lock()
	m.wantConnected = false
	sess := m.sess
	m.sess = nil
	lifeCancel := m.lifeCancel
	m.lifeCancel = nil
	m.lifeCtx = nil
	// Flipping wantConnected and entering Disconnected in one critical
	// section; a recovery attempt can no longer commit a session after this.
	m.state.set(StateDisconnected)
	m.mu.Unlock()

	if lifeCancel != nil {
		lifeCancel()
	}
	if sess != nil {
		sess.cancel()
	}
	m.recon.wait()
	_ = m.tr.Close()
	m.corr.failAll(errs.New(m.cfg.Venue, errs.CodeConnection, errs.WithMessage("disconnected")))
	m.reg.clear()
}

// setIfCurrent applies the state transition only while the connection is
// still wanted and life is still the active lifecycle. Recovery goroutines
// from a torn-down or superseded generation become no-ops instead of
// overwriting the user's disconnect.
func (m *Manager) setIfCurrent(life context.Context, s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.wantConnected || m.lifeCtx != life {
		return false
	}
	m.state.set(s)
	return true
}

// establish performs one full connection sequence against the endpoint for
// the given lifecycle. On any failure the transport is closed and the session
// torn down before the error returns.
func (m *Manager) establish(ctx context.Context, endpoint string, life context.Context) error {
	if err := m.tr.Open(ctx, endpoint); err != nil {
		return errs.New(m.cfg.Venue, errs.CodeConnection,
			errs.WithMessage("transport open failed for "+endpoint), errs.WithCause(err))
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{ctx: sessCtx, cancel: cancel}
	frames := m.tr.Frames()
	asyncErrs := m.tr.Errors()
	go m.dispatchLoop(sess, frames, asyncErrs)

	if !m.setIfCurrent(life, StateAuthenticating) {
		cancel()
		_ = m.tr.Close()
		return errs.New(m.cfg.Venue, errs.CodeState, errs.WithMessage("connection no longer wanted"))
	}
	if err := m.authenticate(ctx); err != nil {
		cancel()
		_ = m.tr.Close()
		return err
	}

	// Commit only while this lifecycle is still the active one: Disconnect
	// may have run between the handshake response and this point.
	m.mu.Lock()
	if !m.wantConnected || m.lifeCtx != life {
		m.mu.Unlock()
		cancel()
		_ = m.tr.Close()
		return errs.New(m.cfg.Venue, errs.CodeState, errs.WithMessage("connection no longer wanted"))
	}
	m.sess = sess
	m.state.set(StateLive)
	m.mu.Unlock()

	ka := &keepalive{
		venue:    m.cfg.Venue,
		interval: m.cfg.KeepaliveInterval,
		timeout:  m.cfg.KeepaliveTimeout,
		probe:    pingProbe(m.exchange),
		onFail: func(err error) {
			m.failSession(sess, err)
		},
	}
	go ka.run(sessCtx)

	observability.Log().Info("connection live",
		observability.F("venue", m.cfg.Venue),
		observability.F("endpoint", endpoint),
		observability.F("account", m.Session().LoginID))
	return nil
}

func (m *Manager) authenticate(ctx context.Context) error {
	frame, err := m.exchange(ctx, schema.NewAuthorizeRequest(m.token()))
	if err != nil {
		return err
	}
	if frame.Error != nil {
		return errs.New(m.cfg.Venue, errs.CodeAuth,
			errs.WithRawCode(frame.Error.Code), errs.WithRawMessage(frame.Error.Message))
	}
	var resp schema.AuthorizeResponse
	if err := frame.DecodePayload(&resp); err != nil {
		return errs.New(m.cfg.Venue, errs.CodeProtocol,
			errs.WithMessage("undecodable authorize response"), errs.WithCause(err))
	}
	m.state.setSession(Session{
		LoginID:   resp.Authorize.LoginID,
		Email:     resp.Authorize.Email,
		Currency:  resp.Authorize.Currency,
		Balance:   resp.Authorize.Balance,
		IsVirtual: resp.Authorize.IsVirtual == 1,
	})
	return nil
}

// reestablish is the reconnector's connect hook; ctx is the lifecycle context
// recovery was triggered under. It refuses to proceed once the user has
// disconnected or a later Connect superseded that lifecycle.
func (m *Manager) reestablish(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	wanted := m.wantConnected && m.lifeCtx == ctx
	m.mu.Unlock()
	if !wanted {
		return errs.New(m.cfg.Venue, errs.CodeState, errs.WithMessage("connection no longer wanted"))
	}
	_ = m.tr.Close()
	return m.establish(ctx, endpoint, ctx)
}

// failSession reacts to a dead transport or failed probe. Only the caller
// holding the current session proceeds; stale generations return immediately.
func (m *Manager) failSession(sess *session, cause error) {
	m.mu.Lock()
	if m.sess != sess || !m.wantConnected {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	lifeCtx := m.lifeCtx
	m.mu.Unlock()

	m.setIfCurrent(lifeCtx, StateDegraded)
	observability.Log().Warn("connection degraded",
		observability.F("venue", m.cfg.Venue),
		observability.F("cause", cause))
	sess.cancel()
	_ = m.tr.Close()
	m.corr.failAll(cause)
	m.reg.clear()
	m.metrics.AddReconnects(1)

	go func() {
		if !m.setIfCurrent(lifeCtx, StateReconnecting) {
			return
		}
		if err := m.recon.trigger(lifeCtx); err != nil {
			m.mu.Lock()
			if m.lifeCtx == lifeCtx {
				m.wantConnected = false
				m.state.set(StateDisconnected)
			}
			m.mu.Unlock()
			observability.Log().Error("reconnect abandoned",
				observability.F("venue", m.cfg.Venue),
				observability.F("error", err))
		}
	}()
}

// dispatchLoop is the single reader of the inbound stream. Routing priority:
// a frame carrying a known correlation id resolves its pending request; a
// push-typed frame carrying a subscription id goes to its sink; anything else
// is logged and dropped.
func (m *Manager) dispatchLoop(sess *session, frames <-chan []byte, asyncErrs <-chan error) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case err, ok := <-asyncErrs:
			if !ok {
				asyncErrs = nil
				continue
			}
			m.failSession(sess, err)
			return
		case data, ok := <-frames:
			if !ok {
				m.failSession(sess, errs.New(m.cfg.Venue, errs.CodeConnection,
					errs.WithMessage("inbound stream closed")))
				return
			}
			m.route(data)
		}
	}
}

func (m *Manager) route(data []byte) {
	frame, err := schema.DecodeFrame(data)
	if err != nil {
		m.metrics.AddFramesDropped(1)
		observability.Log().Warn("undecodable frame dropped",
			observability.F("venue", m.cfg.Venue),
			observability.F("error", err))
		return
	}
	if frame.ReqID != "" && m.corr.resolve(frame) {
		m.metrics.AddFramesRouted(1)
		return
	}
	if schema.IsPushType(frame.MsgType) && m.reg.dispatch(frame) {
		m.metrics.AddFramesRouted(1)
		return
	}
	m.metrics.AddFramesDropped(1)
	observability.Log().Debug("unroutable frame dropped",
		observability.F("venue", m.cfg.Venue),
		observability.F("msg_type", frame.MsgType),
		observability.F("req_id", frame.ReqID))
}

// exchange performs one request/response round trip regardless of state. The
// public Send wraps it with the Live-state gate; the handshake and keepalive
// paths call it directly.
func (m *Manager) exchange(ctx context.Context, req schema.Request) (*schema.Frame, error) {
	id := uuid.NewString()
	ch, release, err := m.corr.register(id)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := req.WithID(id).Encode()
	if err != nil {
		return nil, errs.New(m.cfg.Venue, errs.CodeInvalid,
			errs.WithMessage("unencodable request"), errs.WithCause(err))
	}
	if err := m.tr.Send(ctx, data); err != nil {
		return nil, errs.New(m.cfg.Venue, errs.CodeConnection,
			errs.WithMessage("send failed"), errs.WithCause(err))
	}
	frame, err := m.corr.await(ctx, id, ch, m.cfg.RequestTimeout)
	if err != nil {
		if errs.HasCode(err, errs.CodeTimeout) {
			m.metrics.AddRequestTimeouts(1)
		}
		return nil, err
	}
	return frame, nil
}

func (m *Manager) requireLive(op string) error {
	if s := m.state.current(); s != StateLive {
		return errs.New(m.cfg.Venue, errs.CodeState,
			errs.WithMessage(op+" rejected in state "+s.String()))
	}
	return nil
}

// Send issues one request and returns the matching response frame. A frame
// whose body carries a venue error is returned alongside a typed error so
// callers can inspect either.
func (m *Manager) Send(ctx context.Context, req schema.Request) (*schema.Frame, error) {
	if err := m.requireLive("send"); err != nil {
		return nil, err
	}
	frame, err := m.exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if frame.Error != nil {
		return frame, errs.New(m.cfg.Venue, errs.CodeInvalid,
			errs.WithRawCode(frame.Error.Code), errs.WithRawMessage(frame.Error.Message))
	}
	return frame, nil
}

// Subscribe sends a subscription request and binds the sink to the
// server-issued subscription id from the confirmation frame.
func (m *Manager) Subscribe(ctx context.Context, req schema.Request, sink Sink) (string, *schema.Frame, error) {
	if err := m.requireLive("subscribe"); err != nil {
		return "", nil, err
	}
	if sink == nil {
		return "", nil, errs.New(m.cfg.Venue, errs.CodeInvalid, errs.WithMessage("sink required"))
	}
	frame, err := m.exchange(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if frame.Error != nil {
		return "", frame, errs.New(m.cfg.Venue, errs.CodeSubscription,
			errs.WithRawCode(frame.Error.Code), errs.WithRawMessage(frame.Error.Message))
	}
	subID := frame.SubscriptionID()
	if subID == "" {
		return "", frame, errs.New(m.cfg.Venue, errs.CodeProtocol,
			errs.WithMessage("subscription confirmation carries no id"))
	}
	m.reg.add(subID, sink)
	return subID, frame, nil
}

// Unsubscribe cancels the subscription with the venue and unbinds the sink.
// It returns whether the venue acknowledged removal; either way no further
// frames reach the sink once it returns.
func (m *Manager) Unsubscribe(ctx context.Context, subscriptionID string) (bool, error) {
	if err := m.requireLive("unsubscribe"); err != nil {
		return false, err
	}
	frame, err := m.exchange(ctx, schema.NewForgetRequest(subscriptionID))
	if err != nil {
		m.reg.remove(subscriptionID)
		return false, err
	}
	m.reg.remove(subscriptionID)
	if frame.Error != nil {
		return false, errs.New(m.cfg.Venue, errs.CodeSubscription,
			errs.WithRawCode(frame.Error.Code), errs.WithRawMessage(frame.Error.Message))
	}
	var ack schema.ForgetResponse
	if err := frame.DecodePayload(&ack); err != nil {
		return false, errs.New(m.cfg.Venue, errs.CodeProtocol,
			errs.WithMessage("undecodable forget response"), errs.WithCause(err))
	}
	return ack.Forget == 1, nil
}

// SwitchAccount flips between demo and real credentials. A live connection is
// torn down and re-established under the new identity; switching to the mode
// already in use is a no-op.
func (m *Manager) SwitchAccount(ctx context.Context, useReal bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	already := m.useReal == useReal
	m.mu.Unlock()
	if already {
		return nil
	}
	wasConnected := m.state.current() != StateDisconnected
	if wasConnected {
		m.disconnectLocked()
	}
	m.mu.Lock()
	m.useReal = useReal
	m.mu.Unlock()
	if !wasConnected {
		return nil
	}
	return m.connectLocked(ctx)
}
